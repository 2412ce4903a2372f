package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/assistant"
	"github.com/xpanvictor/voicemode/pkg/assistant/providers/gemini"
)

type geminiAdapter struct {
	gp     *gemini.GeminiProvider
	logger *Logger.Logger
}

func New(provider *gemini.GeminiProvider, logger *Logger.Logger) assistant.ChatStreamer {
	return &geminiAdapter{gp: provider, logger: logger}
}

// Stream implements assistant.ChatStreamer.
func (g *geminiAdapter) Stream(ctx context.Context, input assistant.AssistantInput) (<-chan assistant.ResponseDelta, error) {
	system, history, last, err := ConvertMsgs(input.Msgs)
	if err != nil {
		return nil, err
	}

	model := g.gp.GetModel(input.Model)
	model.SetTemperature(float32(input.Temperature))
	if input.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(input.MaxTokens))
	}
	model.SystemInstruction = system

	cs := model.StartChat()
	cs.History = history
	iter := cs.SendMessageStream(ctx, last...)

	w := assistant.NewDeltaWriter(16)
	go func() {
		err := g.gp.Chat(ctx, iter, func(resp *genai.GenerateContentResponse) error {
			if !w.Text(ctx, ConvertMsgBackward(resp)) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			g.logger.Warnf("gemini chat failed: %v", err)
			err = fmt.Errorf("gemini chat failed: %w", err)
		}
		w.Finish(ctx, err)
	}()
	return w.Chan(), nil
}

// ConvertMsgs splits a transcript into Gemini's system instruction, prior
// history and the parts of the final user turn.
func ConvertMsgs(msgs []assistant.AssistantMessage) (*genai.Content, []*genai.Content, []genai.Part, error) {
	var (
		system  *genai.Content
		history []*genai.Content
	)
	for _, msg := range msgs {
		switch msg.MsgRole {
		case assistant.SYSTEM:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, genai.Text(msg.Content))
		case assistant.ASSISTANT:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return nil, nil, nil, fmt.Errorf("conversation must end with a user message")
	}
	last := history[len(history)-1]
	return system, history[:len(history)-1], last.Parts, nil
}

// ConvertMsgBackward extracts the text of the first candidate.
func ConvertMsgBackward(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				text += string(txt)
			}
		}
		break
	}
	return text
}
