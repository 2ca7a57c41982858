package providers

import "context"

// StreamEvent is one typed event from a streamed chat call. Exactly one
// field is set. Per call_id, events are ordered ToolCallStarted →
// ToolCallDelta* → ToolCallFinished; there is no interleaving constraint
// across distinct call_ids. Exactly one terminal Done or Error is sent per
// stream, and it is always the last event.
type StreamEvent struct {
	Token            *TokenEvent
	ToolCallStarted  *ToolCallStartedEvent
	ToolCallDelta    *ToolCallDeltaEvent
	ToolCallFinished *ToolCallFinishedEvent
	Done             *DoneEvent
	Error            *ErrorEvent
}

// TokenEvent carries one fragment of streamed assistant text (or thinking
// text — Thinking distinguishes the two without adding a second event kind).
type TokenEvent struct {
	Text     string
	Thinking bool
}

// ToolCallStartedEvent announces a tool call the model has begun emitting.
type ToolCallStartedEvent struct {
	CallID   string
	ToolName string
}

// ToolCallDeltaEvent carries a fragment of a tool call's argument JSON.
type ToolCallDeltaEvent struct {
	CallID string
	Delta  string
}

// ToolCallFinishedEvent carries a tool call's fully parsed arguments.
type ToolCallFinishedEvent struct {
	CallID    string
	ToolName  string
	Arguments map[string]interface{}
}

// DoneEvent terminates a stream that completed without error.
type DoneEvent struct {
	Usage        *Usage
	FinishReason string
}

// ErrorEvent terminates a stream that failed.
type ErrorEvent struct {
	Message string
}

// StreamEvents adapts p's callback-based ChatStream into the channel of
// typed StreamEvent values described above. The adapter bodies (anthropic.go,
// anthropic_stream.go, openai.go, dashscope.go) keep their accumulate-and-
// callback shape — SSE line scanning, per-block JSON accumulation — and
// report only Content/Thinking fragments as they arrive; tool call
// boundaries aren't visible until ChatStream returns the final
// ChatResponse, so ToolCallStarted and ToolCallFinished for a given call_id
// are emitted back to back once the full response is known rather than
// incrementally. The channel is closed after exactly one terminal event.
func StreamEvents(ctx context.Context, p Provider, req ChatRequest) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)

		resp, err := p.ChatStream(ctx, req, func(chunk StreamChunk) {
			if chunk.Thinking != "" {
				out <- StreamEvent{Token: &TokenEvent{Text: chunk.Thinking, Thinking: true}}
			}
			if chunk.Content != "" {
				out <- StreamEvent{Token: &TokenEvent{Text: chunk.Content}}
			}
		})
		if err != nil {
			out <- StreamEvent{Error: &ErrorEvent{Message: err.Error()}}
			return
		}

		for _, tc := range resp.ToolCalls {
			out <- StreamEvent{ToolCallStarted: &ToolCallStartedEvent{CallID: tc.ID, ToolName: tc.Name}}
			out <- StreamEvent{ToolCallFinished: &ToolCallFinishedEvent{CallID: tc.ID, ToolName: tc.Name, Arguments: tc.Arguments}}
		}

		var usage *Usage
		if resp.Usage != nil {
			u := *resp.Usage
			usage = &u
		}
		out <- StreamEvent{Done: &DoneEvent{Usage: usage, FinishReason: resp.FinishReason}}
	}()

	return out
}
