package voice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voicemode/pkg/assistant"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
	"github.com/xpanvictor/voicemode/pkg/io/capture"
	"github.com/xpanvictor/voicemode/pkg/io/playback"
	"github.com/xpanvictor/voicemode/pkg/io/stt"
	"github.com/xpanvictor/voicemode/pkg/io/tts/stream"
	"golang.org/x/sync/errgroup"
)

const (
	stageCapture       = "capture"
	stageTranscription = "transcription"
	stageChat          = "chat"
	stageSynthesis     = "synthesis"
	stagePlayback      = "playback"
)

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stageErr(stage string, err error) error {
	var se *stageError
	if errors.As(err, &se) {
		return err
	}
	return &stageError{stage: stage, err: err}
}

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return stageChat
}

// turn is one user utterance and the reply to it. Only the Run goroutine
// touches the mutable fields; the pipeline reads the rest.
type turn struct {
	id      uuid.UUID
	ctx     context.Context
	cancel  context.CancelFunc
	speech  bool
	heardAt time.Time
	sink    *playback.Turn

	asked string
	raw   strings.Builder
	shown string
}

func (o *Orchestrator) current(id uuid.UUID) *turn {
	if o.turn == nil || o.turn.id != id {
		return nil
	}
	return o.turn
}

func (o *Orchestrator) beginTurn(rec capture.Recording) {
	ctx, cancel := context.WithCancel(o.ctx)
	t := &turn{
		id:      uuid.New(),
		ctx:     ctx,
		cancel:  cancel,
		speech:  o.speechOutput,
		heardAt: time.Now(),
	}
	o.turn = t
	o.metrics.Turns.Inc()
	o.metrics.RecordingBytes.Observe(float64(rec.Size()))
	o.logger.Infof("turn %s: transcribing %s of audio", t.id, rec.Duration)
	o.to(evProcess)

	go func() {
		start := time.Now()
		tr, err := o.stt.Transcribe(ctx, stt.AudioInput{Data: rec.Data, MIME: rec.MIME, Duration: rec.Duration})
		if err == nil {
			o.metrics.StageLatency.WithLabelValues(stageTranscription).Observe(time.Since(start).Seconds())
		}
		o.post(input{kind: inTranscribed, turn: t.id, text: tr.Text, err: err})
	}()
}

func (o *Orchestrator) transcribed(in input) {
	t := o.current(in.turn)
	if t == nil {
		return
	}
	if in.err != nil {
		o.fail(t, stageErr(stageTranscription, in.err))
		return
	}
	text := strings.TrimSpace(in.text)
	if text == "" {
		o.metrics.EmptyDiscarded.Inc()
		o.logger.Debugf("turn %s: empty transcript discarded", t.id)
		o.endTurn(t)
		return
	}

	t.asked = text
	o.appendHistory(assistant.USER, text, false)
	o.publish(EventTranscript, t.id, text)
	if t.speech {
		t.sink = o.player.Begin()
	}
	req := o.chatInput()
	go func() {
		err := o.reply(t, req)
		o.post(input{kind: inTurnDone, turn: t.id, err: err})
	}()
}

// reply streams the answer and, with speech output on, runs segmentation,
// synthesis and playback as independent stages joined by a bounded
// channel. It returns once the last chunk has played.
func (o *Orchestrator) reply(t *turn, req assistant.AssistantInput) error {
	start := time.Now()
	deltas, err := o.chat.Stream(t.ctx, req)
	if err != nil {
		return stageErr(stageChat, err)
	}
	o.post(input{kind: inReplyOpen, turn: t.id})

	if !t.speech {
		if err := o.pump(t.ctx, t, deltas, nil); err != nil {
			return err
		}
		o.metrics.StageLatency.WithLabelValues(stageChat).Observe(time.Since(start).Seconds())
		return nil
	}

	chunks := make(chan stream.Chunk, o.cfg.SynthesisBuffer)
	g, gctx := errgroup.WithContext(t.ctx)
	g.Go(func() error {
		defer close(chunks)
		if err := o.pump(gctx, t, deltas, chunks); err != nil {
			return err
		}
		o.metrics.StageLatency.WithLabelValues(stageChat).Observe(time.Since(start).Seconds())
		return nil
	})
	g.Go(func() error {
		if err := o.streamer(t).Run(gctx, chunks, t.sink); err != nil {
			var pf *playback.Failure
			if errors.As(err, &pf) {
				return stageErr(stagePlayback, err)
			}
			return stageErr(stageSynthesis, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := t.sink.Wait(t.ctx); err != nil {
		return stageErr(stagePlayback, err)
	}
	return nil
}

// pump forwards deltas to the Run loop and, when chunks is not nil, cuts
// them into speakable chunks.
func (o *Orchestrator) pump(ctx context.Context, t *turn, deltas <-chan assistant.ResponseDelta, chunks chan<- stream.Chunk) error {
	var buf stream.Buffer
	for {
		var (
			d  assistant.ResponseDelta
			ok bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok = <-deltas:
		}
		if !ok {
			break
		}
		if d.Error != nil {
			return stageErr(stageChat, d.Error)
		}
		if d.Content != "" {
			o.post(input{kind: inReplyDelta, turn: t.id, text: d.Content})
			if chunks != nil {
				var out []stream.Chunk
				out, buf = stream.Segment(buf, d.Content)
				if err := o.forward(ctx, t, chunks, out); err != nil {
					return err
				}
			}
		}
		if d.Done {
			break
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if chunks == nil {
		return nil
	}
	out, _ := stream.Flush(buf)
	return o.forward(ctx, t, chunks, out)
}

func (o *Orchestrator) forward(ctx context.Context, t *turn, chunks chan<- stream.Chunk, out []stream.Chunk) error {
	for _, c := range out {
		select {
		case chunks <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
		o.publish(EventChunk, t.id, c)
	}
	return nil
}

func (o *Orchestrator) streamer(t *turn) *stream.Streamer {
	s := stream.New(o.synth, o.logger)
	if o.cfg.SynthesisTimeout > 0 {
		s.Timeout = o.cfg.SynthesisTimeout
	}
	s.Observe = func(c stream.AudioChunk, took time.Duration) {
		o.metrics.ChunksSynthesized.Inc()
		o.metrics.StageLatency.WithLabelValues(stageSynthesis).Observe(took.Seconds())
		if c.Ordinal == 0 {
			o.metrics.FirstAudio.Observe(time.Since(t.heardAt).Seconds())
		}
	}
	return s
}

func (o *Orchestrator) replyDelta(in input) {
	t := o.current(in.turn)
	if t == nil {
		return
	}
	t.raw.WriteString(in.text)
	shown := stream.Visible(t.raw.String())
	if len(shown) > len(t.shown) {
		o.publish(EventReplyDelta, t.id, shown[len(t.shown):])
		t.shown = shown
	}
}

func (o *Orchestrator) turnDone(in input) {
	t := o.current(in.turn)
	if t == nil {
		return
	}
	if audio.IsDeviceError(in.err) {
		o.deviceFault(in.err)
		return
	}
	if in.err != nil {
		o.fail(t, in.err)
		return
	}
	text := strings.TrimSpace(stream.StripThinking(t.raw.String()))
	if text != "" {
		o.appendHistory(assistant.ASSISTANT, text, false)
	}
	o.publish(EventReplyDone, t.id, Reply{Text: text})
	o.logger.Infof("turn %s finished in %s", t.id, time.Since(t.heardAt).Round(time.Millisecond))
	o.endTurn(t)
}

func (o *Orchestrator) endTurn(t *turn) {
	o.turn = nil
	t.cancel()
	o.to(evFinish)
	o.settle()
}

// fail reports a service failure once and keeps what was said so far.
func (o *Orchestrator) fail(t *turn, err error) {
	stage := stageOf(err)
	o.metrics.Failures.WithLabelValues(stage).Inc()
	o.logger.Warnf("turn %s failed: %v", t.id, err)

	o.turn = nil
	t.cancel()
	o.player.Stop()
	o.keepPartial(t)
	o.publish(EventNotice, t.id, Notice{Stage: stage, Message: err.Error()})
	o.to(evReset)
	o.settle()
}

// abortTurn drops the current turn without reporting anything. The caller
// decides what happens to the speaker and the state.
func (o *Orchestrator) abortTurn() {
	t := o.turn
	if t == nil {
		return
	}
	o.turn = nil
	t.cancel()
	o.keepPartial(t)
	o.logger.Debugf("turn %s aborted", t.id)
}

// keepPartial records a reply cut short, marked incomplete.
func (o *Orchestrator) keepPartial(t *turn) {
	if t.asked == "" {
		return
	}
	text := strings.TrimSpace(stream.StripThinking(t.raw.String()))
	if text == "" {
		return
	}
	o.appendHistory(assistant.ASSISTANT, text, true)
	o.publish(EventReplyDone, t.id, Reply{Text: text, Incomplete: true})
}
