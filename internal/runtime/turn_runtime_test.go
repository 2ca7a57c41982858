package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/providers"
)

type fakeRunner struct {
	result *agent.RunResult
	err    error
	delay  time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestRuntime_StreamEmitsFinal(t *testing.T) {
	runner := &fakeRunner{result: &agent.RunResult{
		Content:    "done",
		RunID:      "r1",
		Iterations: 2,
		Usage:      &providers.Usage{PromptTokens: 10},
	}}
	rt := NewRuntime(runner)

	ch, err := rt.Stream(context.Background(), agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var final *TurnEvent
	for ev := range ch {
		if ev.Kind == TurnFinal {
			e := ev
			final = &e
		}
	}
	if final == nil {
		t.Fatal("expected a TurnFinal event")
	}
	if final.Content != "done" || final.Iterations != 2 {
		t.Fatalf("unexpected final event: %+v", final)
	}
}

func TestRuntime_StreamEmitsError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	rt := NewRuntime(runner)

	ch, err := rt.Stream(context.Background(), agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var last TurnEvent
	for ev := range ch {
		last = ev
	}
	if last.Kind != TurnError {
		t.Fatalf("last event kind = %v, want TurnError", last.Kind)
	}
}

func TestRuntime_CancelSignalsStop(t *testing.T) {
	runner := &fakeRunner{delay: 2 * time.Second}
	rt := NewRuntime(runner)

	ch, err := rt.Stream(context.Background(), agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if !rt.Cancel("s1") {
		t.Fatal("Cancel(s1) should return true while a turn is running")
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel never produced an event after cancel")
	}
}

func TestRuntime_SameSessionSerialized(t *testing.T) {
	runner := &fakeRunner{result: &agent.RunResult{Content: "ok"}, delay: 50 * time.Millisecond}
	rt := NewRuntime(runner)

	ch1, err := rt.Stream(context.Background(), agent.RunRequest{SessionKey: "s1", RunID: "r1"})
	if err != nil {
		t.Fatalf("Stream 1: %v", err)
	}

	start := time.Now()
	ch2, err := rt.Stream(context.Background(), agent.RunRequest{SessionKey: "s1", RunID: "r2"})
	if err != nil {
		t.Fatalf("Stream 2: %v", err)
	}
	for range ch1 {
	}
	for range ch2 {
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("second stream on the same session should have waited for the first to finish")
	}
}
