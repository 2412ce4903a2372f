package handlers

import (
	"github.com/xpanvictor/voicemode/internal/domains/voice"
	"github.com/xpanvictor/voicemode/pkg/assistant"
	"github.com/xpanvictor/voicemode/pkg/io/device"
	"github.com/xpanvictor/voicemode/pkg/io/playback"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// StateResponse carries the session snapshot after a read or a command
type StateResponse struct {
	State voice.Snapshot `json:"state"`
}

type HistoryResponse struct {
	Messages []assistant.AssistantMessage `json:"messages"`
}

type LevelsResponse struct {
	Input  float64         `json:"input"`
	Output playback.Levels `json:"output"`
}

type DevicesResponse struct {
	Devices      []device.Info       `json:"devices"`
	Capabilities device.Capabilities `json:"capabilities"`
}

// ModeRequest switches the input mode
type ModeRequest struct {
	Mode voice.InputMode `json:"mode" binding:"required"`
}

// SpeechOutputRequest toggles synthesized replies
type SpeechOutputRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}
