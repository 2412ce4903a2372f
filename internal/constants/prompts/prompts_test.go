package prompts

import (
	"testing"

	"github.com/xpanvictor/voicemode/pkg/assistant"
)

func TestCurrentVoicePrompt(t *testing.T) {
	p := VOICE_PROMPT.GetCurrentPrompt()
	if p.Version != VOICE_PROMPT.CurrentVersion || p.Content == "" {
		t.Fatalf("Expected current version %v to be defined, got %+v", VOICE_PROMPT.CurrentVersion, p)
	}

	msg := p.ToMessage()
	if msg.MsgRole != assistant.SYSTEM || msg.Content != p.Content {
		t.Errorf("Expected system message with prompt content, got %+v", msg)
	}

	if _, ok := VOICE_PROMPT.GetVersion(0.1); !ok {
		t.Error("Expected version 0.1 to remain available")
	}
	if _, ok := VOICE_PROMPT.GetVersion(9); ok {
		t.Error("Expected unknown version to be missing")
	}
}
