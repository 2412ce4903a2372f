package assistant

import (
	"context"
	"time"
)

func NewAssistantInput(msgs []AssistantMessage, model string, maxTokens int, temperature float64) AssistantInput {
	return AssistantInput{
		Msgs:        msgs,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// DeltaWriter feeds a response channel on behalf of a provider, numbering
// deltas and giving up as soon as the consumer's context ends.
type DeltaWriter struct {
	ch  chan ResponseDelta
	seq uint
}

func NewDeltaWriter(buffer int) *DeltaWriter {
	return &DeltaWriter{ch: make(chan ResponseDelta, buffer)}
}

func (w *DeltaWriter) Chan() <-chan ResponseDelta { return w.ch }

// Text sends a content delta. It reports false once ctx is done.
func (w *DeltaWriter) Text(ctx context.Context, content string) bool {
	if content == "" {
		return ctx.Err() == nil
	}
	w.seq++
	return w.send(ctx, ResponseDelta{Content: content, Index: w.seq, CreatedAt: time.Now()})
}

// Finish sends the terminal delta and closes the channel. A cancelled
// context is not reported as an error.
func (w *DeltaWriter) Finish(ctx context.Context, err error) {
	defer close(w.ch)
	if ctx.Err() != nil {
		return
	}
	final := ResponseDelta{Index: w.seq + 1, CreatedAt: time.Now()}
	if err != nil {
		final.Error = err
	} else {
		final.Done = true
	}
	w.send(ctx, final)
}

func (w *DeltaWriter) send(ctx context.Context, d ResponseDelta) bool {
	select {
	case w.ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream into the full reply text.
func Collect(ch <-chan ResponseDelta) (string, error) {
	var out string
	for d := range ch {
		if d.Error != nil {
			return out, d.Error
		}
		out += d.Content
	}
	return out, nil
}
