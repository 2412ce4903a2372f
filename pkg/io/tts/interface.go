package tts

import (
	"context"
	"errors"
)

var ErrEmptyText = errors.New("empty text")

// Audio is one synthesized clip as returned by the engine.
type Audio struct {
	Data []byte
	MIME string
}

// Synthesizer turns a short piece of text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}
