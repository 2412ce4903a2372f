package prompts

var (
	VOICE_PROMPT = SYS_PROMPT{
		Intent:         "Voice",
		CurrentVersion: 0.2,
		Items: map[float32]PromptDefinition{
			0.1: {
				Version: 0.1,
				Content: "You are a helpful voice assistant. Answer briefly in plain spoken sentences.",
			},
			0.2: {
				Version: 0.2,
				Content: "You are a helpful voice assistant. Your replies are read aloud, " +
					"so answer briefly in plain spoken sentences. Do not use markdown, " +
					"lists, code blocks or emoji. Spell out symbols a listener would not hear.",
			},
		},
	}
)
