package domain

// StreamEventKind enumerates the ordered stream contract a provider
// adapter must emit for a single chat_stream call (spec §4.4).
type StreamEventKind string

const (
	StreamToken            StreamEventKind = "token"
	StreamToolCallStarted  StreamEventKind = "tool_call_started"
	StreamToolCallDelta    StreamEventKind = "tool_call_delta"
	StreamToolCallFinished StreamEventKind = "tool_call_finished"
	StreamDone             StreamEventKind = "done"
	StreamError            StreamEventKind = "error"
)

// StreamEvent is one item of the lazy, ordered, non-restartable sequence a
// provider's ChatStream returns. Ordering within a call_id is
// Started -> Delta* -> Finished; distinct call_ids may interleave; exactly
// one terminal Done or Error closes the stream.
type StreamEvent struct {
	Kind StreamEventKind

	Text string // StreamToken

	CallID    string                 // ToolCallStarted/Delta/Finished
	ToolName  string                 // ToolCallStarted/Finished
	Delta     string                 // ToolCallDelta (raw partial JSON fragment)
	Arguments map[string]interface{} // ToolCallFinished

	Usage        *Usage // Done
	FinishReason string // Done

	Message string // Error
}
