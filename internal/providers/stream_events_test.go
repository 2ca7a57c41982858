package providers

import (
	"context"
	"errors"
	"testing"
)

// fakeStreamProvider drives ChatStream's onChunk callback with scripted
// chunks, then returns resp/err — it stands in for a real HTTP adapter so
// StreamEvents can be tested without a network call.
type fakeStreamProvider struct {
	chunks []StreamChunk
	resp   *ChatResponse
	err    error
}

func (f *fakeStreamProvider) Name() string          { return "fake" }
func (f *fakeStreamProvider) DefaultModel() string  { return "fake-model" }
func (f *fakeStreamProvider) SupportsThinking() bool { return true }

func (f *fakeStreamProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f.resp, f.err
}

func (f *fakeStreamProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.resp, f.err
}

func drain(ch <-chan StreamEvent) []StreamEvent {
	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamEvents_TokensThenDone(t *testing.T) {
	p := &fakeStreamProvider{
		chunks: []StreamChunk{{Content: "hel"}, {Content: "lo"}},
		resp:   &ChatResponse{Content: "hello", FinishReason: "stop", Usage: &Usage{PromptTokens: 10, CompletionTokens: 2}},
	}

	events := drain(StreamEvents(context.Background(), p, ChatRequest{}))

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Token == nil || events[0].Token.Text != "hel" {
		t.Fatalf("event 0 = %+v, want Token{hel}", events[0])
	}
	if events[1].Token == nil || events[1].Token.Text != "lo" {
		t.Fatalf("event 1 = %+v, want Token{lo}", events[1])
	}
	if events[2].Done == nil || events[2].Done.FinishReason != "stop" || events[2].Done.Usage.PromptTokens != 10 {
		t.Fatalf("event 2 = %+v, want terminal Done", events[2])
	}
}

func TestStreamEvents_ThinkingTokenFlagged(t *testing.T) {
	p := &fakeStreamProvider{
		chunks: []StreamChunk{{Thinking: "pondering"}},
		resp:   &ChatResponse{FinishReason: "stop"},
	}

	events := drain(StreamEvents(context.Background(), p, ChatRequest{}))

	if len(events) != 2 || events[0].Token == nil || !events[0].Token.Thinking {
		t.Fatalf("got %+v, want a thinking-flagged Token event first", events)
	}
}

func TestStreamEvents_ToolCallStartedThenFinished(t *testing.T) {
	p := &fakeStreamProvider{
		resp: &ChatResponse{
			FinishReason: "tool_calls",
			ToolCalls: []ToolCall{
				{ID: "c1", Name: "read_file", Arguments: map[string]interface{}{"path": "a.go"}},
			},
		},
	}

	events := drain(StreamEvents(context.Background(), p, ChatRequest{}))

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (started, finished, done): %+v", len(events), events)
	}
	if events[0].ToolCallStarted == nil || events[0].ToolCallStarted.CallID != "c1" || events[0].ToolCallStarted.ToolName != "read_file" {
		t.Fatalf("event 0 = %+v, want ToolCallStarted{c1,read_file}", events[0])
	}
	if events[1].ToolCallFinished == nil || events[1].ToolCallFinished.CallID != "c1" || events[1].ToolCallFinished.Arguments["path"] != "a.go" {
		t.Fatalf("event 1 = %+v, want ToolCallFinished{c1,...}", events[1])
	}
	if events[2].Done == nil {
		t.Fatalf("event 2 = %+v, want terminal Done", events[2])
	}
}

func TestStreamEvents_ErrorIsTerminalAndOnly(t *testing.T) {
	p := &fakeStreamProvider{
		chunks: []StreamChunk{{Content: "partial"}},
		err:    errors.New("connection reset"),
	}

	events := drain(StreamEvents(context.Background(), p, ChatRequest{}))

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (the partial token, then error): %+v", len(events), events)
	}
	last := events[len(events)-1]
	if last.Error == nil || last.Error.Message != "connection reset" {
		t.Fatalf("last event = %+v, want Error{connection reset}", last)
	}
}
