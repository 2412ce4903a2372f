package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/tts"
)

// AudioChunk is the synthesized form of a Chunk, carrying the same ordinal.
type AudioChunk struct {
	Ordinal int
	Text    string
	Audio   tts.Audio
}

// Sink receives synthesized chunks, typically a playback turn.
type Sink interface {
	Enqueue(ctx context.Context, c AudioChunk) error
}

// Streamer synthesizes text chunks one at a time, in the order they arrive,
// and hands each result to a sink as soon as it is ready. Playback of one
// chunk therefore overlaps synthesis of the next.
type Streamer struct {
	TTS     tts.Synthesizer
	Timeout time.Duration // per chunk

	// Observe, when set, is called after every successful synthesis.
	Observe func(c AudioChunk, took time.Duration)

	logger *Logger.Logger
}

func New(t tts.Synthesizer, logger *Logger.Logger) *Streamer {
	return &Streamer{TTS: t, Timeout: 30 * time.Second, logger: logger}
}

// Run consumes in until it is closed or ctx ends. It returns the first
// synthesis or sink error; a cancelled context returns ctx.Err().
func (s *Streamer) Run(ctx context.Context, in <-chan Chunk, sink Sink) error {
	if s.TTS == nil {
		return errors.New("no TTS client")
	}
	next := 0
	for {
		var (
			c  Chunk
			ok bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok = <-in:
			if !ok {
				return nil
			}
		}
		if c.Ordinal != next {
			return fmt.Errorf("chunk %d arrived out of order, expected %d", c.Ordinal, next)
		}
		next++

		ac, took, err := s.synthesize(ctx, c)
		if err != nil {
			return err
		}
		s.logger.Debugf("chunk %d synthesized in %s (%d bytes)", c.Ordinal, took, len(ac.Audio.Data))
		if s.Observe != nil {
			s.Observe(ac, took)
		}
		if err := sink.Enqueue(ctx, ac); err != nil {
			return err
		}
	}
}

func (s *Streamer) synthesize(ctx context.Context, c Chunk) (AudioChunk, time.Duration, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctxChunk, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	a, err := s.TTS.Synthesize(ctxChunk, c.Text)
	if err != nil {
		if ctx.Err() != nil {
			return AudioChunk{}, 0, ctx.Err()
		}
		return AudioChunk{}, 0, fmt.Errorf("synthesis of chunk %d failed: %w", c.Ordinal, err)
	}
	return AudioChunk{Ordinal: c.Ordinal, Text: c.Text, Audio: a}, time.Since(start), nil
}
