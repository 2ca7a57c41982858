package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomhq/loomgate/internal/agent"
)

func TestScheduler_RunsThroughLane(t *testing.T) {
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		return &agent.RunResult{Content: "hi " + req.Message}, nil
	})

	out := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "s1", Message: "world"})
	select {
	case o := <-out:
		if o.Err != nil {
			t.Fatalf("unexpected error: %v", o.Err)
		}
		if o.Result.Content != "hi world" {
			t.Fatalf("Content = %q", o.Result.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestScheduler_LaneCeilingLimitsConcurrency(t *testing.T) {
	var inFlight int32
	var maxSeen int32
	block := make(chan struct{})

	s := NewScheduler(
		[]LaneConfig{{Lane: LaneCron, MaxConcurrent: 2}},
		DefaultQueueConfig(),
		func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				prev := atomic.LoadInt32(&maxSeen)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
					break
				}
			}
			<-block
			atomic.AddInt32(&inFlight, -1)
			return &agent.RunResult{}, nil
		},
	)

	var outs []<-chan Outcome
	for i := 0; i < 5; i++ {
		outs = append(outs, s.Schedule(context.Background(), LaneCron, agent.RunRequest{SessionKey: "distinct-" + string(rune('a'+i))}))
	}

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&maxSeen); got > 2 {
		t.Fatalf("max concurrent in-flight = %d, want <= 2", got)
	}
	close(block)

	var wg sync.WaitGroup
	for _, out := range outs {
		wg.Add(1)
		go func(o <-chan Outcome) {
			defer wg.Done()
			<-o
		}(out)
	}
	wg.Wait()
}

func TestScheduler_SameSessionSerialized(t *testing.T) {
	var active int32
	var maxSeen int32

	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		cur := atomic.AddInt32(&active, 1)
		for {
			prev := atomic.LoadInt32(&maxSeen)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &agent.RunResult{}, nil
	})

	out1 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "shared"})
	out2 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "shared"})

	<-out1
	<-out2

	if got := atomic.LoadInt32(&maxSeen); got > 1 {
		t.Fatalf("max concurrent for same session = %d, want 1 (session lock should serialize)", got)
	}
}

func TestScheduler_AdaptiveThrottleFailsFastNearLimit(t *testing.T) {
	release := make(chan struct{})
	s := NewScheduler(DefaultLanes(), DefaultQueueConfig(), func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		<-release
		return &agent.RunResult{}, nil
	})
	s.SetTokenEstimateFunc(func(sessionKey string) (int, int) {
		return 90_000, 100_000 // 90% utilization, above the 0.85 threshold
	})

	out1 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "hot"})
	time.Sleep(20 * time.Millisecond) // let the first caller take the session lock

	out2 := s.Schedule(context.Background(), LaneMain, agent.RunRequest{SessionKey: "hot"})
	select {
	case o := <-out2:
		if o.Err == nil {
			t.Fatal("expected the second caller to fail fast under the adaptive throttle")
		}
	case <-time.After(time.Second):
		t.Fatal("adaptive throttle should fail fast, not queue")
	}

	close(release)
	<-out1
}
