package runtime

import "github.com/loomhq/loomgate/internal/providers"

// TurnEventKind enumerates the events a Runtime emits while driving one
// turn, generalizing the teacher's string-typed agent.AgentEvent into a
// closed Go enum.
type TurnEventKind int

const (
	TurnStarted TurnEventKind = iota
	TurnThought
	TurnAssistantDelta
	TurnToolCall
	TurnToolResult
	TurnRetrying
	TurnFinal
	TurnError
	TurnStopped
)

// TurnEvent is one step of a turn in progress, delivered over the channel
// returned by Runtime.Stream. Only the fields relevant to Kind are set.
type TurnEvent struct {
	Kind TurnEventKind

	RunID   string
	AgentID string

	// TurnAssistantDelta / TurnThought
	Text string

	// TurnToolCall / TurnToolResult
	ToolCallID string
	ToolName   string
	IsError    bool

	// TurnRetrying
	Attempt     int
	MaxAttempts int
	Err         error

	// TurnFinal
	Content    string
	Iterations int
	Usage      *providers.Usage

	// TurnError
	Error error
}
