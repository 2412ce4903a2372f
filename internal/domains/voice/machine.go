package voice

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

type transition string

const (
	evListen  transition = "listen"
	evProcess transition = "process"
	evSpeak   transition = "speak"
	evFinish  transition = "finish"
	evReset   transition = "reset"
)

// newMachine builds the conversation state machine:
//
//	idle -> listening -> processing -> speaking -> idle
//
// with barge-in (speaking -> processing) and reset from anywhere.
func newMachine(onEnter func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: string(evListen), Src: []string{string(Idle)}, Dst: string(Listening)},
			{Name: string(evProcess), Src: []string{string(Idle), string(Listening), string(Speaking)}, Dst: string(Processing)},
			{Name: string(evSpeak), Src: []string{string(Processing)}, Dst: string(Speaking)},
			{Name: string(evFinish), Src: []string{string(Processing), string(Speaking)}, Dst: string(Idle)},
			{Name: string(evReset), Src: allStates, Dst: string(Idle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst))
			},
		},
	)
}

// fire applies t and reports whether the state changed. A transition
// that is not allowed from the current state is returned as an error;
// one that would not move is not.
func fire(ctx context.Context, m *fsm.FSM, t transition) (bool, error) {
	err := m.Event(ctx, string(t))
	if err == nil {
		return true, nil
	}
	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return false, nil
	}
	return false, err
}
