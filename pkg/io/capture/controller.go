package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
)

// Owner is the arbiter name push-to-talk recording acquires the microphone under.
const Owner = "capture"

var ErrAlreadyRecording = errors.New("recording already in progress")

// Recording is a finished capture buffer.
type Recording struct {
	Data     []byte // WAV
	MIME     string
	Format   audio.Format
	Duration time.Duration
	PCMBytes int
}

// Size is the amount of captured audio in bytes, header excluded.
func (r Recording) Size() int { return r.PCMBytes }

// FrameSource is something that already owns the microphone and can share
// its frames, such as the VAD.
type FrameSource interface {
	Tap() (<-chan audio.Frame, func(), error)
}

type take struct {
	deviceID string
	stream   audio.InputStream // nil when recording from a tap
	untap    func()
	done     chan struct{}
	onFault  func(error)

	mu  sync.Mutex
	pcm bytes.Buffer
	err error
}

// Controller buffers microphone audio between a start and a stop.
type Controller struct {
	arb    *audio.Arbiter
	format audio.Format
	logger *Logger.Logger

	mu      sync.Mutex
	cur     *take
	onFault func(error)
}

func New(arb *audio.Arbiter, format audio.Format, logger *Logger.Logger) *Controller {
	return &Controller{arb: arb, format: format, logger: logger}
}

// SetFaultHandler installs a callback for a device that fails while a
// push-to-talk take is running.
func (c *Controller) SetFaultHandler(fn func(error)) {
	c.mu.Lock()
	c.onFault = fn
	c.mu.Unlock()
}

// StartRecording takes the microphone exclusively and begins buffering.
// Device problems come back as *audio.DeviceError.
func (c *Controller) StartRecording(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return ErrAlreadyRecording
	}

	stream, err := c.arb.Acquire(ctx, Owner, deviceID, c.format)
	if err != nil {
		return err
	}
	tk := &take{deviceID: deviceID, stream: stream, done: make(chan struct{}), onFault: c.onFault}
	c.cur = tk
	go tk.collect(stream.Frames(), stream.Err)

	c.logger.Debugf("recording started on %q", deviceID)
	return nil
}

// RecordFrom records silently from a source that already holds the
// device. The source's buffered pre-roll becomes the start of the take.
func (c *Controller) RecordFrom(src FrameSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return ErrAlreadyRecording
	}

	frames, untap, err := src.Tap()
	if err != nil {
		return err
	}
	tk := &take{untap: untap, done: make(chan struct{})}
	c.cur = tk
	go tk.collect(frames, nil)

	c.logger.Debugf("background recording started")
	return nil
}

// StopRecording ends the take and returns it. The bool is false when no
// recording was active.
func (c *Controller) StopRecording() (Recording, bool, error) {
	tk := c.detach()
	if tk == nil {
		return Recording{}, false, nil
	}

	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.err != nil {
		return Recording{}, true, &audio.DeviceError{DeviceID: tk.deviceID, Op: "record", Err: tk.err}
	}

	pcm := tk.pcm.Bytes()
	rec := Recording{
		Data:     audio.EncodeWAV(c.format, pcm),
		MIME:     audio.MIMEWav,
		Format:   c.format,
		Duration: c.format.Duration(len(pcm) / 2),
		PCMBytes: len(pcm),
	}
	c.logger.Debugf("recording stopped: %d bytes, %s", rec.PCMBytes, rec.Duration)
	return rec, true, nil
}

// CancelRecording discards whatever was buffered.
func (c *Controller) CancelRecording() {
	if tk := c.detach(); tk != nil {
		c.logger.Debugf("recording discarded")
	}
}

// Recording reports whether a take is in progress.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// detach closes the active source and waits for the collector to drain.
func (c *Controller) detach() *take {
	c.mu.Lock()
	tk := c.cur
	c.cur = nil
	c.mu.Unlock()
	if tk == nil {
		return nil
	}
	if tk.stream != nil {
		tk.stream.Close()
	}
	if tk.untap != nil {
		tk.untap()
	}
	<-tk.done
	return tk
}

func (tk *take) collect(frames <-chan audio.Frame, errOf func() error) {
	defer close(tk.done)
	for f := range frames {
		tk.mu.Lock()
		tk.pcm.Write(f.Bytes())
		tk.mu.Unlock()
	}
	if errOf != nil {
		if err := errOf(); err != nil {
			tk.mu.Lock()
			tk.err = err
			tk.mu.Unlock()
			if tk.onFault != nil {
				tk.onFault(&audio.DeviceError{DeviceID: tk.deviceID, Op: "record", Err: err})
			}
		}
	}
}
