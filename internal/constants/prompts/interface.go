package prompts

import (
	"github.com/xpanvictor/voicemode/pkg/assistant"
)

type PromptDefinition struct {
	Content string
	Version float32
}

type SYS_PROMPT struct {
	Intent         string
	CurrentVersion float32
	Items          map[float32]PromptDefinition // version-content
}

func (sp *SYS_PROMPT) GetVersion(version float32) (PromptDefinition, bool) {
	i, ok := sp.Items[version]
	return i, ok
}

func (sp *SYS_PROMPT) GetCurrentPrompt() PromptDefinition {
	return sp.Items[sp.CurrentVersion]
}

// ToMessage renders the prompt as the leading system message of a chat.
func (pd PromptDefinition) ToMessage() assistant.AssistantMessage {
	return assistant.AssistantMessage{
		MsgRole: assistant.SYSTEM,
		Content: pd.Content,
	}
}
