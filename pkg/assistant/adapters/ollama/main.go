package ollama

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/assistant"
)

// Chatter is the part of the Ollama provider the adapter needs.
type Chatter interface {
	Chat(ctx context.Context, req api.ChatRequest, fn api.ChatResponseFunc) error
}

type ollamaAdapter struct {
	op     Chatter
	logger *Logger.Logger
}

func (o ollamaAdapter) ConvertMsgs(msgs []assistant.AssistantMessage) []api.Message {
	converted := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		converted = append(converted, api.Message{
			Role:    string(msg.MsgRole),
			Content: msg.Content,
		})
	}
	return converted
}

func (o ollamaAdapter) options(input assistant.AssistantInput) map[string]any {
	opts := map[string]any{"temperature": input.Temperature}
	if input.MaxTokens > 0 {
		opts["num_predict"] = input.MaxTokens
	}
	return opts
}

// Stream implements assistant.ChatStreamer.
func (o ollamaAdapter) Stream(ctx context.Context, input assistant.AssistantInput) (<-chan assistant.ResponseDelta, error) {
	if len(input.Msgs) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	stream := true
	req := api.ChatRequest{
		Model:    input.Model,
		Messages: o.ConvertMsgs(input.Msgs),
		Stream:   &stream,
		Options:  o.options(input),
	}

	w := assistant.NewDeltaWriter(16)
	go func() {
		err := o.op.Chat(ctx, req, func(cr api.ChatResponse) error {
			if !w.Text(ctx, cr.Message.Content) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			o.logger.Warnf("ollama chat failed: %v", err)
			err = fmt.Errorf("ollama chat failed: %w", err)
		}
		w.Finish(ctx, err)
	}()
	return w.Chan(), nil
}

func New(provider Chatter, logger *Logger.Logger) assistant.ChatStreamer {
	return ollamaAdapter{op: provider, logger: logger}
}
