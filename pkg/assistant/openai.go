package assistant

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/xpanvictor/voicemode/pkg/Logger"
)

type OpenAIConfig struct {
	BaseURL string // e.g. "http://localhost:10240/v1"
	APIKey  string
}

type openAIAssistant struct {
	client openai.Client
	logger *Logger.Logger
}

// Stream implements ChatStreamer over an OpenAI-compatible
// /chat/completions endpoint with server-sent events.
func (o openAIAssistant) Stream(ctx context.Context, input AssistantInput) (<-chan ResponseDelta, error) {
	if len(input.Msgs) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	convertedMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(input.Msgs))
	for _, msg := range input.Msgs {
		convertedMsgs = append(convertedMsgs, convertToOpenaiMsg(msg))
	}

	params := openai.ChatCompletionNewParams{
		Messages: convertedMsgs,
		Model:    openai.ChatModel(input.Model),
	}
	if input.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(input.MaxTokens))
	}
	params.Temperature = openai.Float(input.Temperature)

	var opts []option.RequestOption
	if input.DisableThinking {
		opts = append(opts, option.WithJSONSet("extra_body", map[string]any{"enable_thinking": false}))
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	w := NewDeltaWriter(16)
	go func() {
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if !w.Text(ctx, chunk.Choices[0].Delta.Content) {
				break
			}
		}
		err := stream.Err()
		if err != nil && ctx.Err() == nil {
			o.logger.Warnf("chat stream failed: %v", err)
			err = fmt.Errorf("chat stream failed: %w", err)
		}
		w.Finish(ctx, err)
	}()
	return w.Chan(), nil
}

func convertToOpenaiMsg(msg AssistantMessage) openai.ChatCompletionMessageParamUnion {
	switch msg.MsgRole {
	case ASSISTANT:
		return openai.AssistantMessage(msg.Content)
	case USER:
		return openai.UserMessage(msg.Content)
	case SYSTEM:
		return openai.SystemMessage(msg.Content)
	}
	return openai.UserMessage(msg.Content)
}

func NewOpenAIAssistant(cfg OpenAIConfig, logger *Logger.Logger, opts ...option.RequestOption) ChatStreamer {
	key := cfg.APIKey
	if key == "" {
		key = "local"
	}
	base := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	return openAIAssistant{
		client: openai.NewClient(append(base, opts...)...),
		logger: logger,
	}
}
