package domain

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation emitted by the model inside an
// assistant message.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ImagePart is an inline image attached to a message part.
type ImagePart struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// ToolResultPart is the result of a tool invocation, appended as a `tool`
// role message. IsError marks a structured failure that does not abort the
// turn (spec §7: "a failed tool call becomes a tool_result{is_error:true}").
type ToolResultPart struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is one immutable, append-only transcript entry.
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content,omitempty"`
	Images     []ImagePart      `json:"images,omitempty"`
	ToolCalls  []ToolCall       `json:"tool_calls,omitempty"`
	ToolResult *ToolResultPart  `json:"tool_result,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// Usage accumulates token accounting for a single model call or a whole
// turn.
type Usage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	ThinkingTokens      int `json:"thinking_tokens,omitempty"`
}

// Add accumulates u2 into u in place.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
	u.CacheCreationTokens += u2.CacheCreationTokens
	u.CacheReadTokens += u2.CacheReadTokens
	u.ThinkingTokens += u2.ThinkingTokens
}

// Capability describes what a provider adapter can do, used by the router
// to satisfy a role's minimum requirements.
type Capability struct {
	Tools      bool
	Streaming  bool
	JSONMode   bool
	Vision     bool
	MaxWindow  int
	Thinking   bool
}

// Satisfies reports whether c meets the minimums in want.
func (c Capability) Satisfies(want Capability) bool {
	if want.Tools && !c.Tools {
		return false
	}
	if want.Streaming && !c.Streaming {
		return false
	}
	if want.JSONMode && !c.JSONMode {
		return false
	}
	if want.Vision && !c.Vision {
		return false
	}
	if want.Thinking && !c.Thinking {
		return false
	}
	if want.MaxWindow > 0 && c.MaxWindow < want.MaxWindow {
		return false
	}
	return true
}

// Role names used for provider role resolution (spec §4.4).
const (
	RolePlanner   = "planner"
	RoleExecutor  = "executor"
	RoleSummarize = "summarizer"
	RoleEmbedder  = "embedder"
)
