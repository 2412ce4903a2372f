package config

import (
	"errors"
	"fmt"
)

const (
	InputPushToTalk     = "push_to_talk"
	InputVoiceActivated = "voice_activated"
)

func (s *Settings) Validate() error {
	return errors.Join(
		s.Audio.Validate(),
		s.VAD.Detector().Validate(),
		s.Voice.Validate(),
		s.Chat.Validate(),
		s.Synthesis.Validate(),
	)
}

func (a AudioConfig) Validate() error {
	if a.CaptureRate <= 0 || a.PlaybackRate <= 0 {
		return fmt.Errorf("audio sample rates must be positive (capture=%d playback=%d)", a.CaptureRate, a.PlaybackRate)
	}
	if a.FrameMs <= 0 || a.PlaybackBlockMs <= 0 {
		return fmt.Errorf("audio frame and block sizes must be positive")
	}
	return nil
}

func (v VoiceConfig) Validate() error {
	switch v.InputMode {
	case InputPushToTalk, InputVoiceActivated:
	default:
		return fmt.Errorf("voice.input_mode must be %q or %q, got %q", InputPushToTalk, InputVoiceActivated, v.InputMode)
	}
	if v.MinRecordingBytes < 0 {
		return fmt.Errorf("voice.min_recording_bytes must not be negative")
	}
	if v.SettleDelayMs < 0 {
		return fmt.Errorf("voice.settle_delay_ms must not be negative")
	}
	return nil
}

func (c ChatConfig) Validate() error {
	switch c.Provider {
	case "openai":
	case "ollama":
		if len(c.OllamaURLs) == 0 {
			return fmt.Errorf("chat.ollama_urls is required for the ollama provider")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("chat.gemini_api_key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown chat provider %q", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("chat.temperature must be within 0..2, got %v", c.Temperature)
	}
	return nil
}

func (s SynthesisConfig) Validate() error {
	switch s.Engine {
	case "openai":
		if s.Speed <= 0 {
			return fmt.Errorf("synthesis.speed must be positive")
		}
	case "edge":
		if s.EdgeURL == "" {
			return fmt.Errorf("synthesis.edge_url is required for the edge engine")
		}
	default:
		return fmt.Errorf("unknown synthesis engine %q", s.Engine)
	}
	return nil
}
