package websocket

import (
	"time"

	"github.com/xpanvictor/voicemode/internal/domains/voice"
	"github.com/xpanvictor/voicemode/pkg/io/playback"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeInit    MessageType = "init"
	MessageTypeEvent   MessageType = "event"
	MessageTypeLevels  MessageType = "levels"
	MessageTypeCommand MessageType = "command"
	MessageTypeResult  MessageType = "result"
	MessageTypeError   MessageType = "error"
)

// WSMessage represents the structure of WebSocket messages
type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Sequence  int         `json:"sequence,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Command actions accepted from clients.
const (
	ActionPress         = "press"
	ActionRelease       = "release"
	ActionCancel        = "cancel"
	ActionOpen          = "open"
	ActionClose         = "close"
	ActionMode          = "mode"
	ActionSpeechOutput  = "speech_output"
	ActionResolveDevice = "resolve_device"
)

// CommandMessage is sent by clients to drive the voice session.
type CommandMessage struct {
	Action  string          `json:"action"`
	Mode    voice.InputMode `json:"mode,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
}

// CommandEnvelope is the inbound form of WSMessage.
type CommandEnvelope struct {
	Type     MessageType    `json:"type"`
	Data     CommandMessage `json:"data"`
	Sequence int            `json:"sequence,omitempty"`
}

// InitMessage is sent once after the connection is upgraded.
type InitMessage struct {
	SessionID string         `json:"sessionId"`
	State     voice.Snapshot `json:"state"`
}

// LevelsMessage drives the client's visualizer.
type LevelsMessage struct {
	Input  float64         `json:"input"`
	Output playback.Levels `json:"output"`
}

// ResultMessage acknowledges a command.
type ResultMessage struct {
	Action string         `json:"action"`
	State  voice.Snapshot `json:"state"`
}

// ErrorMessage contains error information
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
