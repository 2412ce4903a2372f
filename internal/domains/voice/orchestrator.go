package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/xpanvictor/voicemode/internal/constants/prompts"
	"github.com/xpanvictor/voicemode/internal/metrics"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/assistant"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
	"github.com/xpanvictor/voicemode/pkg/io/capture"
	"github.com/xpanvictor/voicemode/pkg/io/stt"
	"github.com/xpanvictor/voicemode/pkg/io/stt/vad"
	"github.com/xpanvictor/voicemode/pkg/io/tts"
)

const (
	inboxSize   = 128
	deviceQueue = 32
)

type inputKind int

const (
	inPress inputKind = iota
	inRelease
	inCancel
	inOpen
	inClose
	inSetMode
	inSpeechOutput
	inResolve
	inVADConfig
	inSpeechStart
	inSpeechEnd
	inSpeechDiscarded
	inDeviceLost
	inTranscribed
	inReplyOpen
	inReplyDelta
	inTurnDone
	inSettled
)

var inputNames = map[inputKind]string{
	inPress: "press", inRelease: "release", inCancel: "cancel", inOpen: "open",
	inClose: "close", inSetMode: "set_mode", inSpeechOutput: "speech_output",
	inResolve: "resolve", inVADConfig: "vad_config", inSpeechStart: "speech_start",
	inSpeechEnd: "speech_end", inSpeechDiscarded: "speech_discarded",
	inDeviceLost: "device_lost", inTranscribed: "transcribed", inReplyOpen: "reply_open",
	inReplyDelta: "reply_delta", inTurnDone: "turn_done", inSettled: "settled",
}

func (k inputKind) String() string { return inputNames[k] }

// input is everything the Run loop reacts to: user commands, device
// callbacks and progress reports from a turn's pipeline.
type input struct {
	kind   inputKind
	turn   uuid.UUID
	seq    uint64
	text   string
	mode   InputMode
	on     bool
	vadCfg vad.Config
	err    error
	reply  chan error
}

// Orchestrator owns the conversation state. All state lives on the
// goroutine running Run; public methods post to its inbox.
type Orchestrator struct {
	cfg     Config
	rec     Recorder
	vad     Detector
	stt     stt.Transcriber
	chat    assistant.ChatStreamer
	synth   tts.Synthesizer
	player  Player
	metrics *metrics.Metrics
	logger  *Logger.Logger

	inbox   chan input
	devices chan input // detector callbacks, drained ahead of inbox
	done    chan struct{}

	// owned by Run
	ctx          context.Context
	machine      *fsm.FSM
	mode         InputMode
	speechOutput bool
	fault        error
	turn         *turn
	history      []assistant.AssistantMessage
	interrupted  bool // push-to-talk cut a reply short, waiting for release
	settleSeq    uint64
	settleTimer  *time.Timer

	subMu   sync.Mutex
	subs    map[uint64]chan Event
	nextSub uint64

	snapMu sync.RWMutex
	snap   Snapshot
	hist   []assistant.AssistantMessage
}

type Deps struct {
	Recorder    Recorder
	VAD         Detector
	Transcriber stt.Transcriber
	Chat        assistant.ChatStreamer
	Synthesizer tts.Synthesizer
	Player      Player
	Metrics     *metrics.Metrics
}

func New(cfg Config, deps Deps, logger *Logger.Logger) *Orchestrator {
	if !cfg.Mode.Valid() {
		cfg.Mode = PushToTalk
	}
	if cfg.SynthesisBuffer <= 0 {
		cfg.SynthesisBuffer = 8
	}
	o := &Orchestrator{
		cfg:          cfg,
		rec:          deps.Recorder,
		vad:          deps.VAD,
		stt:          deps.Transcriber,
		chat:         deps.Chat,
		synth:        deps.Synthesizer,
		player:       deps.Player,
		metrics:      deps.Metrics,
		logger:       logger.Named("voice"),
		inbox:        make(chan input, inboxSize),
		devices:      make(chan input, deviceQueue),
		done:         make(chan struct{}),
		ctx:          context.Background(),
		mode:         cfg.Mode,
		speechOutput: cfg.SpeechOutput,
		subs:         make(map[uint64]chan Event),
	}
	o.machine = newMachine(o.entered)
	o.vad.SetListener(vadEvents{o})
	o.player.SetListener(playbackEvents{o})
	o.metrics.SetState(string(Idle), allStates...)
	o.refresh()
	return o
}

// Run processes commands and pipeline events until ctx ends, then
// releases every device the session holds.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer close(o.done)
	o.logger.Infof("voice session running (mode=%s speech=%t)", o.mode, o.speechOutput)

	for {
		select {
		case in := <-o.devices:
			o.dispatch(in)
			continue
		default:
		}
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case in := <-o.devices:
			o.dispatch(in)
		case in := <-o.inbox:
			o.dispatch(in)
		}
	}
}

func (o *Orchestrator) dispatch(in input) {
	err := o.handle(in)
	o.refresh()
	if in.reply != nil {
		in.reply <- err
	}
}

func (o *Orchestrator) handle(in input) error {
	switch in.kind {
	case inPress:
		return o.press()
	case inRelease:
		return o.release()
	case inCancel:
		o.cancel()
	case inOpen:
		return o.open()
	case inClose:
		o.close()
	case inSetMode:
		return o.setMode(in.mode)
	case inSpeechOutput:
		if o.speechOutput != in.on {
			o.speechOutput = in.on
			o.publish(EventSpeechOutput, uuid.Nil, in.on)
		}
	case inResolve:
		return o.resolve()
	case inVADConfig:
		return o.vad.SetConfig(in.vadCfg)
	case inSpeechStart:
		o.speechStarted()
	case inSpeechEnd:
		o.speechEnded()
	case inSpeechDiscarded:
		if o.mode == VoiceActivated && o.rec.Recording() {
			o.rec.CancelRecording()
		}
	case inDeviceLost:
		o.deviceFault(in.err)
	case inTranscribed:
		o.transcribed(in)
	case inReplyOpen:
		if t := o.current(in.turn); t != nil && t.speech {
			o.to(evSpeak)
		}
	case inReplyDelta:
		o.replyDelta(in)
	case inTurnDone:
		o.turnDone(in)
	case inSettled:
		o.settled(in.seq)
	default:
		o.logger.Warnf("unhandled input %v", in.kind)
	}
	return nil
}

func (o *Orchestrator) press() error {
	if o.fault != nil {
		return ErrDeviceFault
	}
	switch o.state() {
	case Speaking:
		if o.interrupted {
			return nil
		}
		o.logger.Infof("reply interrupted by push-to-talk")
		o.metrics.BargeIns.Inc()
		o.abortTurn()
		o.player.Stop()
		o.interrupted = true
	case Idle:
		if o.mode != PushToTalk {
			return nil
		}
		if err := o.rec.StartRecording(o.ctx, o.cfg.InputDevice); err != nil {
			return o.captureFailed(err)
		}
		o.to(evListen)
	}
	return nil
}

func (o *Orchestrator) release() error {
	switch {
	case o.state() == Listening:
		rec, ok, err := o.rec.StopRecording()
		if err != nil {
			return o.captureFailed(err)
		}
		if !ok || rec.Size() == 0 {
			o.to(evReset)
			return nil
		}
		o.beginTurn(rec)
	case o.interrupted:
		o.interrupted = false
		o.to(evReset)
		o.settle()
	}
	return nil
}

// cancel aborts whatever is in flight and returns to idle. A running
// VAD is paused and re-armed after the settle delay.
func (o *Orchestrator) cancel() {
	busy := o.state() != Idle || o.rec.Recording()
	o.abortAll()
	if o.mode == VoiceActivated {
		o.vad.Pause()
		o.settle()
	}
	o.to(evReset)
	if busy {
		o.metrics.Cancellations.Inc()
		o.logger.Infof("cancelled")
	}
}

func (o *Orchestrator) open() error {
	if o.fault != nil {
		return ErrDeviceFault
	}
	if o.mode == VoiceActivated {
		return o.startVAD()
	}
	return nil
}

func (o *Orchestrator) close() {
	o.abortAll()
	o.vad.Stop()
	o.to(evReset)
}

func (o *Orchestrator) setMode(m InputMode) error {
	if !m.Valid() {
		return ErrInvalidMode
	}
	o.abortAll()
	o.vad.Stop()
	o.to(evReset)
	changed := o.mode != m
	o.mode = m
	if changed {
		o.logger.Infof("input mode switched to %s", m)
		o.publish(EventMode, uuid.Nil, m)
	}
	if m == VoiceActivated && o.fault == nil {
		return o.startVAD()
	}
	return nil
}

func (o *Orchestrator) resolve() error {
	if o.fault == nil {
		return nil
	}
	o.logger.Infof("device fault cleared")
	o.fault = nil
	o.publish(EventDeviceFault, uuid.Nil, "")
	return o.open()
}

func (o *Orchestrator) startVAD() error {
	if err := o.vad.Start(o.ctx, o.cfg.InputDevice); err != nil {
		return o.captureFailed(err)
	}
	return nil
}

// captureFailed turns device errors into a persistent fault. A busy
// microphone is reported but does not disable input.
func (o *Orchestrator) captureFailed(err error) error {
	if errors.Is(err, capture.ErrAlreadyRecording) {
		return nil
	}
	if errors.Is(err, audio.ErrMicBusy) || !audio.IsDeviceError(err) {
		o.logger.Warnf("capture failed: %v", err)
		o.publish(EventNotice, uuid.Nil, Notice{Stage: stageCapture, Message: err.Error()})
		o.to(evReset)
		return err
	}
	o.deviceFault(err)
	return err
}

func (o *Orchestrator) deviceFault(err error) {
	if err == nil {
		err = audio.ErrDeviceLost
	}
	if !audio.IsDeviceError(err) {
		err = &audio.DeviceError{DeviceID: o.cfg.InputDevice, Op: "capture", Err: err}
	}
	if o.fault != nil {
		return
	}
	o.fault = err
	o.metrics.DeviceFaults.Inc()
	o.logger.Errorf("audio device fault: %v", err)
	o.abortAll()
	o.vad.Stop()
	o.to(evReset)
	o.publish(EventDeviceFault, uuid.Nil, err.Error())
}

func (o *Orchestrator) speechStarted() {
	if o.mode != VoiceActivated || o.fault != nil || o.rec.Recording() {
		return
	}
	if s := o.state(); s != Idle && s != Speaking {
		return
	}
	if err := o.rec.RecordFrom(o.vad); err != nil {
		o.logger.Warnf("background recording failed to start: %v", err)
	}
}

func (o *Orchestrator) speechEnded() {
	if o.mode != VoiceActivated || !o.rec.Recording() {
		return
	}
	rec, _, err := o.rec.StopRecording()
	if err != nil {
		o.deviceFault(err)
		return
	}
	if rec.Size() < o.cfg.MinRecordingBytes {
		o.metrics.NoiseDiscarded.Inc()
		o.logger.Debugf("discarding %d byte recording as noise", rec.Size())
		return
	}
	if o.state() == Speaking {
		o.logger.Infof("barge-in")
		o.metrics.BargeIns.Inc()
		o.abortTurn()
		o.player.Stop()
	}
	o.beginTurn(rec)
}

// abortAll stops the turn, the recording and the speaker, and forgets
// any pending VAD re-arm.
func (o *Orchestrator) abortAll() {
	o.settleSeq++
	o.abortTurn()
	o.interrupted = false
	o.rec.CancelRecording()
	o.player.Stop()
}

func (o *Orchestrator) to(t transition) {
	if _, err := fire(o.ctx, o.machine, t); err != nil {
		o.logger.Debugf("ignored %s in %s: %v", t, o.machine.Current(), err)
	}
}

func (o *Orchestrator) state() State {
	return State(o.machine.Current())
}

func (o *Orchestrator) entered(from, to State) {
	o.logger.Debugf("state %s -> %s", from, to)
	o.metrics.SetState(string(to), allStates...)
	var id uuid.UUID
	if o.turn != nil {
		id = o.turn.id
	}
	o.publish(EventState, id, to)
}

// settle re-arms the VAD once the echo of the last reply has died down.
func (o *Orchestrator) settle() {
	if o.mode != VoiceActivated {
		return
	}
	o.settleSeq++
	seq := o.settleSeq
	if o.settleTimer != nil {
		o.settleTimer.Stop()
	}
	o.settleTimer = time.AfterFunc(o.cfg.SettleDelay, func() {
		o.post(input{kind: inSettled, seq: seq})
	})
}

func (o *Orchestrator) settled(seq uint64) {
	if seq != o.settleSeq || o.mode != VoiceActivated || o.fault != nil {
		return
	}
	if s := o.state(); s != Idle {
		return
	}
	o.vad.Resume()
}

func (o *Orchestrator) shutdown() {
	if o.settleTimer != nil {
		o.settleTimer.Stop()
	}
	o.abortAll()
	o.vad.Stop()
	o.to(evReset)
	o.refresh()
	o.logger.Infof("voice session stopped")
}

func (o *Orchestrator) appendHistory(role assistant.Role, text string, incomplete bool) {
	o.history = append(o.history, assistant.AssistantMessage{
		Content:    text,
		CreatedAt:  time.Now(),
		MsgRole:    role,
		Incomplete: incomplete,
	})
	if limit := o.cfg.HistoryLimit; limit > 0 && len(o.history) > limit {
		o.history = append([]assistant.AssistantMessage(nil), o.history[len(o.history)-limit:]...)
	}
}

func (o *Orchestrator) chatInput() assistant.AssistantInput {
	msgs := make([]assistant.AssistantMessage, 0, len(o.history)+1)
	if p := strings.TrimSpace(o.cfg.SystemPrompt); p != "" {
		msgs = append(msgs, prompts.PromptDefinition{Content: p}.ToMessage())
	}
	msgs = append(msgs, o.history...)
	in := assistant.NewAssistantInput(msgs, o.cfg.Model, o.cfg.MaxTokens, o.cfg.Temperature)
	in.Provider = o.cfg.Provider
	in.DisableThinking = o.cfg.DisableThinking
	return in
}

// refresh publishes the state read by Snapshot and History.
func (o *Orchestrator) refresh() {
	s := Snapshot{
		State:        o.state(),
		Mode:         o.mode,
		SpeechOutput: o.speechOutput,
		Recording:    o.rec.Recording(),
		HistoryLen:   len(o.history),
	}
	if o.fault != nil {
		s.DeviceFault = o.fault.Error()
	}
	if o.turn != nil {
		s.TurnID = o.turn.id
	}
	o.snapMu.Lock()
	o.snap = s
	o.hist = append(o.hist[:0:0], o.history...)
	o.snapMu.Unlock()
}

func (o *Orchestrator) post(in input) {
	select {
	case o.inbox <- in:
	case <-o.done:
	}
}

// notify posts without blocking, for callbacks that run on device
// goroutines. Their queue is separate so reply traffic cannot crowd
// out a speech end.
func (o *Orchestrator) notify(in input) {
	select {
	case o.devices <- in:
	default:
		o.logger.Warnf("device event queue full, dropping %v", in.kind)
	}
}

func (o *Orchestrator) call(in input) error {
	in.reply = make(chan error, 1)
	select {
	case o.inbox <- in:
	case <-o.done:
		return ErrClosed
	}
	select {
	case err := <-in.reply:
		return err
	case <-o.done:
		return ErrClosed
	}
}

// Press is the push-to-talk key going down. While a reply is playing it
// interrupts the reply instead of recording.
func (o *Orchestrator) Press() error { return o.call(input{kind: inPress}) }

// Release is the push-to-talk key coming up.
func (o *Orchestrator) Release() error { return o.call(input{kind: inRelease}) }

// Cancel aborts the current turn, recording and playback. It returns
// once the session is idle.
func (o *Orchestrator) Cancel() error { return o.call(input{kind: inCancel}) }

// Open arms the session, starting the VAD in voice-activated mode.
func (o *Orchestrator) Open() error { return o.call(input{kind: inOpen}) }

// Close cancels everything and releases the microphone.
func (o *Orchestrator) Close() error { return o.call(input{kind: inClose}) }

func (o *Orchestrator) SetMode(m InputMode) error {
	return o.call(input{kind: inSetMode, mode: m})
}

// SetSpeechOutput takes effect from the next turn.
func (o *Orchestrator) SetSpeechOutput(on bool) error {
	return o.call(input{kind: inSpeechOutput, on: on})
}

// ResolveDevice clears a device fault and re-arms input.
func (o *Orchestrator) ResolveDevice() error { return o.call(input{kind: inResolve}) }

// SetVADConfig applies detector tuning from the next VAD session.
func (o *Orchestrator) SetVADConfig(cfg vad.Config) error {
	return o.call(input{kind: inVADConfig, vadCfg: cfg})
}

// ReportDeviceFault is the capture controller's fault handler.
func (o *Orchestrator) ReportDeviceFault(err error) {
	o.notify(input{kind: inDeviceLost, err: err})
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// History returns a copy of the conversation so far, oldest first.
func (o *Orchestrator) History() []assistant.AssistantMessage {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return append([]assistant.AssistantMessage(nil), o.hist...)
}
