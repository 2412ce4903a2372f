package vad

import (
	"fmt"
	"time"
)

// Config tunes detection. It is copied when a session starts, so edits
// apply to the next Start.
type Config struct {
	// Threshold is the normalised RMS (0..1) above which a frame counts as speech.
	Threshold float64 `json:"threshold"`
	// SilenceDuration of continuous quiet that ends an utterance.
	SilenceDuration time.Duration `json:"silenceDuration"`
	// MinSpeechDuration an utterance must reach to be reported.
	MinSpeechDuration time.Duration `json:"minSpeechDuration"`
	// PreRoll of audio kept before onset and handed to recorders.
	PreRoll time.Duration `json:"preRoll"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:         0.02,
		SilenceDuration:   1200 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
		PreRoll:           300 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("vad threshold must be in (0,1), got %v", c.Threshold)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("vad silence duration must be positive, got %s", c.SilenceDuration)
	}
	if c.MinSpeechDuration < 0 {
		return fmt.Errorf("vad min speech duration must not be negative, got %s", c.MinSpeechDuration)
	}
	if c.PreRoll < 0 {
		return fmt.Errorf("vad pre-roll must not be negative, got %s", c.PreRoll)
	}
	return nil
}

// Event is what a single frame did to the detector.
type Event int

const (
	None Event = iota
	SpeechStart
	SpeechEnd
	// SpeechDiscarded: silence arrived before the minimum speech
	// duration, the utterance is treated as noise.
	SpeechDiscarded
)

func (e Event) String() string {
	switch e {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	case SpeechDiscarded:
		return "speech_discarded"
	}
	return "none"
}

// Listener receives detector output. Calls arrive on the VAD's sampling
// goroutine and must not block.
type Listener interface {
	SpeechStarted()
	SpeechEnded()
	SpeechDiscarded()
	DeviceLost(err error)
}

// Session states.
type State int

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	}
	return "stopped"
}
