package stt

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyAudio = errors.New("no audio to transcribe")

// AudioInput is a finished recording handed to a transcriber.
type AudioInput struct {
	Data     []byte
	MIME     string // wav, webm, mp3 or ogg
	Duration time.Duration
}

type Transcript struct {
	Text          string
	Language      string
	AudioDuration time.Duration
	GeneratedAt   time.Time
}

// Transcriber converts speech to text. Implementations must honour ctx
// cancellation and never retry on their own.
type Transcriber interface {
	Transcribe(ctx context.Context, in AudioInput) (Transcript, error)
}
