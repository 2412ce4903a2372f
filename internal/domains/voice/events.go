package voice

import (
	"time"

	"github.com/google/uuid"
)

const subscriberBuffer = 256

// Subscribe returns a feed of session events and a func to stop it.
// A subscriber that falls behind loses events rather than stalling
// the session.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	return ch, func() {
		o.subMu.Lock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
		o.subMu.Unlock()
	}
}

func (o *Orchestrator) publish(typ EventType, turn uuid.UUID, data any) {
	ev := Event{Type: typ, TurnID: turn, Data: data, Timestamp: time.Now()}
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for id, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			o.logger.Warnf("subscriber %d is full, dropping %s event", id, typ)
		}
	}
}

// vadEvents receives detector callbacks on the sampling goroutine.
type vadEvents struct{ o *Orchestrator }

func (v vadEvents) SpeechStarted()       { v.o.notify(input{kind: inSpeechStart}) }
func (v vadEvents) SpeechEnded()         { v.o.notify(input{kind: inSpeechEnd}) }
func (v vadEvents) SpeechDiscarded()     { v.o.notify(input{kind: inSpeechDiscarded}) }
func (v vadEvents) DeviceLost(err error) { v.o.notify(input{kind: inDeviceLost, err: err}) }

// playbackEvents keeps the VAD deaf while the speaker is busy. The VAD
// is re-armed by the Run loop once the turn has settled.
type playbackEvents struct{ o *Orchestrator }

func (p playbackEvents) PlaybackStarted() { p.o.vad.Pause() }
func (p playbackEvents) PlaybackIdle()    {}
