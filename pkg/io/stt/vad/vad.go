package vad

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
	audioring "github.com/xpanvictor/voicemode/pkg/io/stt/audioRing"
)

// Owner is the arbiter name the VAD acquires the microphone under.
const Owner = "vad"

const tapBuffer = 512

var ErrNotRunning = errors.New("vad is not running")

type session struct {
	stream audio.InputStream
	cancel context.CancelFunc
	det    *Detector
	ring   audioring.FrameRing
	cfg    Config
}

// VAD samples the microphone continuously and reports utterances to its
// listener. Pause and Resume stop and restart analysis while keeping the
// device open; Stop releases it.
type VAD struct {
	arb      *audio.Arbiter
	format   audio.Format
	frameDur time.Duration
	logger   *Logger.Logger

	mu       sync.Mutex
	cfg      Config
	state    State
	sess     *session
	listener Listener
	level    float64
	taps     map[int]chan audio.Frame
	nextTap  int
}

func New(arb *audio.Arbiter, format audio.Format, frameDur time.Duration, cfg Config, logger *Logger.Logger) *VAD {
	return &VAD{
		arb:      arb,
		format:   format,
		frameDur: frameDur,
		cfg:      cfg,
		logger:   logger,
		taps:     make(map[int]chan audio.Frame),
	}
}

// SetListener installs the receiver of detection events.
func (v *VAD) SetListener(l Listener) {
	v.mu.Lock()
	v.listener = l
	v.mu.Unlock()
}

// SetConfig replaces the tuning used by the next Start.
func (v *VAD) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	v.cfg = cfg
	v.mu.Unlock()
	return nil
}

func (v *VAD) Config() Config {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cfg
}

func (v *VAD) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Level is the RMS of the most recently analysed frame.
func (v *VAD) Level() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.level
}

// Start acquires the microphone and begins analysis. Starting a running
// VAD is a no-op.
func (v *VAD) Start(ctx context.Context, deviceID string) error {
	v.mu.Lock()
	if v.state != Stopped {
		v.mu.Unlock()
		return nil
	}
	cfg := v.cfg
	v.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	stream, err := v.arb.Acquire(sctx, Owner, deviceID, v.format)
	if err != nil {
		cancel()
		return err
	}

	s := &session{
		stream: stream,
		cancel: cancel,
		det:    NewDetector(cfg),
		ring:   audioring.New(audioring.SizeFor(v.format, cfg.PreRoll, v.frameDur)),
		cfg:    cfg,
	}

	v.mu.Lock()
	v.sess = s
	v.state = Running
	v.mu.Unlock()

	v.logger.Infof("vad started (threshold=%.3f silence=%s minSpeech=%s)", cfg.Threshold, cfg.SilenceDuration, cfg.MinSpeechDuration)
	go v.loop(s)
	return nil
}

// Pause halts analysis without releasing the stream. An utterance in
// progress is discarded.
func (v *VAD) Pause() {
	v.mu.Lock()
	if v.state != Running {
		v.mu.Unlock()
		return
	}
	v.state = Paused
	wasSpeaking := v.sess.det.Speaking()
	v.sess.det.Reset()
	v.level = 0
	l := v.listener
	v.mu.Unlock()

	v.logger.Debugf("vad paused")
	if wasSpeaking && l != nil {
		go l.SpeechDiscarded()
	}
}

// Resume restarts analysis after Pause.
func (v *VAD) Resume() {
	v.mu.Lock()
	if v.state != Paused {
		v.mu.Unlock()
		return
	}
	v.state = Running
	v.sess.det.Reset()
	v.sess.ring.Reset()
	v.mu.Unlock()
	v.logger.Debugf("vad resumed")
}

// Stop ends the session and releases the microphone. It returns once
// the device is closed; the sampling goroutine exits on its own.
func (v *VAD) Stop() {
	v.mu.Lock()
	s := v.sess
	v.sess = nil
	v.state = Stopped
	v.level = 0
	v.closeTapsLocked()
	v.mu.Unlock()

	if s != nil {
		s.cancel()
		s.stream.Close()
		v.logger.Infof("vad stopped")
	}
}

// Tap subscribes to raw frames, beginning with the pre-roll ring. The
// returned func unsubscribes; the channel is also closed when the VAD stops.
func (v *VAD) Tap() (<-chan audio.Frame, func(), error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sess == nil {
		return nil, nil, ErrNotRunning
	}

	ch := make(chan audio.Frame, tapBuffer)
	for _, f := range v.sess.ring.Snapshot() {
		select {
		case ch <- f:
		default:
		}
	}
	id := v.nextTap
	v.nextTap++
	v.taps[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			if c, ok := v.taps[id]; ok {
				delete(v.taps, id)
				close(c)
			}
			v.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (v *VAD) closeTapsLocked() {
	for id, c := range v.taps {
		close(c)
		delete(v.taps, id)
	}
}

func (v *VAD) loop(s *session) {
	for f := range s.stream.Frames() {
		v.mu.Lock()
		if v.sess != s {
			v.mu.Unlock()
			return
		}
		if err := s.ring.Push(f); err != nil {
			v.logger.Debugf("pre-roll push failed: %v", err)
		}
		for _, c := range v.taps {
			select {
			case c <- f:
			default:
				v.logger.Warnf("vad tap full, dropping frame")
			}
		}
		if v.state != Running {
			v.mu.Unlock()
			continue
		}
		v.level = audio.RMS(f.Samples)
		ev := s.det.Process(v.level, f.Timestamp)
		l := v.listener
		v.mu.Unlock()

		if l != nil {
			dispatch(l, ev)
		}
	}

	err := s.stream.Err()
	v.mu.Lock()
	current := v.sess == s
	if current {
		v.sess = nil
		v.state = Stopped
		v.level = 0
		v.closeTapsLocked()
	}
	l := v.listener
	v.mu.Unlock()

	if !current {
		return
	}
	s.cancel()
	s.stream.Close()
	if err == nil {
		err = audio.ErrDeviceLost
	}
	v.logger.Errorf("vad stream ended: %v", err)
	if l != nil {
		l.DeviceLost(err)
	}
}

func dispatch(l Listener, ev Event) {
	switch ev {
	case SpeechStart:
		l.SpeechStarted()
	case SpeechEnd:
		l.SpeechEnded()
	case SpeechDiscarded:
		l.SpeechDiscarded()
	}
}
