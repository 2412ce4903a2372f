package voice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voicemode/pkg/assistant"
	"github.com/xpanvictor/voicemode/pkg/io/capture"
	"github.com/xpanvictor/voicemode/pkg/io/playback"
	"github.com/xpanvictor/voicemode/pkg/io/stt/vad"
)

type State string

const (
	Idle       State = "idle"
	Listening  State = "listening"
	Processing State = "processing"
	Speaking   State = "speaking"
)

var allStates = []string{string(Idle), string(Listening), string(Processing), string(Speaking)}

type InputMode string

const (
	PushToTalk     InputMode = "push_to_talk"
	VoiceActivated InputMode = "voice_activated"
)

func (m InputMode) Valid() bool {
	return m == PushToTalk || m == VoiceActivated
}

var (
	ErrClosed      = errors.New("voice session closed")
	ErrDeviceFault = errors.New("audio device unavailable")
	ErrInvalidMode = errors.New("unknown input mode")
)

// EventType names what a published Event carries.
type EventType string

const (
	EventState        EventType = "state"         // Data: State
	EventMode         EventType = "mode"          // Data: InputMode
	EventSpeechOutput EventType = "speech_output" // Data: bool
	EventTranscript   EventType = "transcript"    // Data: string
	EventReplyDelta   EventType = "reply_delta"   // Data: string, display text only
	EventReplyDone    EventType = "reply_done"    // Data: Reply
	EventChunk        EventType = "chunk"         // Data: stream.Chunk
	EventNotice       EventType = "notice"        // Data: Notice
	EventDeviceFault  EventType = "device_fault"  // Data: string, empty once resolved
)

type Event struct {
	Type      EventType `json:"type"`
	TurnID    uuid.UUID `json:"turnId"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply is the final display text of an assistant turn.
type Reply struct {
	Text       string `json:"text"`
	Incomplete bool   `json:"incomplete"`
}

// Notice is a one-off, non-blocking failure report for the user.
type Notice struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	State        State     `json:"state"`
	Mode         InputMode `json:"mode"`
	SpeechOutput bool      `json:"speechOutput"`
	Recording    bool      `json:"recording"`
	DeviceFault  string    `json:"deviceFault,omitempty"`
	TurnID       uuid.UUID `json:"turnId"`
	HistoryLen   int       `json:"historyLen"`
}

// Config holds per-session behaviour. Chat parameters are copied into
// every request.
type Config struct {
	InputDevice       string
	Mode              InputMode
	SpeechOutput      bool
	MinRecordingBytes int
	SettleDelay       time.Duration
	SystemPrompt      string
	HistoryLimit      int
	SynthesisBuffer   int
	SynthesisTimeout  time.Duration

	Provider        string
	Model           string
	MaxTokens       int
	Temperature     float64
	DisableThinking bool
}

// Recorder is the capture controller.
type Recorder interface {
	StartRecording(ctx context.Context, deviceID string) error
	RecordFrom(src capture.FrameSource) error
	StopRecording() (capture.Recording, bool, error)
	CancelRecording()
	Recording() bool
}

// Detector is the voice activity detector.
type Detector interface {
	capture.FrameSource
	SetListener(l vad.Listener)
	SetConfig(cfg vad.Config) error
	Start(ctx context.Context, deviceID string) error
	Pause()
	Resume()
	Stop()
	State() vad.State
}

// Player is the playback queue.
type Player interface {
	Begin() *playback.Turn
	Stop()
	SetListener(l playback.Listener)
}

// Service is the control surface of a voice session, implemented by
// Orchestrator.
type Service interface {
	Press() error
	Release() error
	Cancel() error
	Open() error
	Close() error
	SetMode(m InputMode) error
	SetSpeechOutput(on bool) error
	ResolveDevice() error
	Snapshot() Snapshot
	History() []assistant.AssistantMessage
	Subscribe() (<-chan Event, func())
}

var _ Service = (*Orchestrator)(nil)

// Meter reports live audio levels for visualizers.
type Meter interface {
	InputLevel() float64
	OutputLevels() playback.Levels
}
