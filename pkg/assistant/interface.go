package assistant

import (
	"context"
	"time"
)

type Role string

const (
	USER      Role = "user"
	ASSISTANT Role = "assistant"
	SYSTEM    Role = "system"
)

type AssistantMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	MsgRole   Role      `json:"role"`
	// Incomplete marks a reply cut short by a failure.
	Incomplete bool `json:"incomplete,omitempty"`
}

type AssistantInput struct {
	Msgs            []AssistantMessage
	Provider        string // empty selects the router default
	Model           string
	MaxTokens       int
	Temperature     float64
	DisableThinking bool
}

// ResponseDelta is one piece of a streamed reply. The final delta on a
// stream has Done set, or Error when the request failed.
type ResponseDelta struct {
	Content   string
	Index     uint
	Done      bool
	Error     error
	CreatedAt time.Time
}

// ChatStreamer starts a streamed chat completion. The returned channel is
// closed after the final delta. Cancelling ctx aborts the request; deltas
// already received stay valid.
type ChatStreamer interface {
	Stream(ctx context.Context, input AssistantInput) (<-chan ResponseDelta, error)
}
