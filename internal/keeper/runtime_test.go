package keeper_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"PerpKeeper/internal/keeper"
)

func TestScheduleRunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	rt := keeper.NewRuntime(testLogger(), nil)
	rt.Schedule(ctx, keeper.Policy{
		Name:     "immediate",
		Enabled:  true,
		Interval: time.Hour,
		Check: func(ctx context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("policy did not run on schedule start")
	}
}

func TestScheduleFiresOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	rt := keeper.NewRuntime(testLogger(), nil)
	rt.Schedule(ctx, keeper.Policy{
		Name:     "ticking",
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 cycles, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulePanicDoesNotKillLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	rt := keeper.NewRuntime(testLogger(), nil)
	rt.Schedule(ctx, keeper.Policy{
		Name:     "panicky",
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				panic("first cycle blows up")
			}
			return nil
		},
	})

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("loop died after panic; got %d cycles", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduleBlockedCheckDoesNotStallCadence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	var started atomic.Int64
	rt := keeper.NewRuntime(testLogger(), nil)
	rt.Schedule(ctx, keeper.Policy{
		Name:     "stuck",
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			if started.Add(1) == 1 {
				// First cycle blocks far past its interval.
				<-release
			}
			return nil
		},
	})

	deadline := time.After(2 * time.Second)
	for started.Load() < 5 {
		select {
		case <-deadline:
			t.Fatalf("cycles stalled behind a blocked check; only %d started", started.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWaitReturnsWhileCheckInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	defer close(release)

	rt := keeper.NewRuntime(testLogger(), nil)
	rt.Schedule(ctx, keeper.Policy{
		Name:     "slow-chain-call",
		Enabled:  true,
		Interval: time.Hour,
		Check: func(ctx context.Context) error {
			<-release
			return nil
		},
	})

	cancel()
	done := make(chan struct{})
	go func() {
		rt.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait blocked on an in-flight check")
	}
}

func TestScheduleSkipsDisabledPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	rt := keeper.NewRuntime(testLogger(), nil)
	rt.Schedule(ctx, keeper.Policy{
		Name:     "disabled",
		Enabled:  false,
		Interval: time.Millisecond,
		Check: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	rt.Schedule(ctx, keeper.Policy{
		Name:     "zero-interval",
		Enabled:  true,
		Interval: 0,
		Check: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Errorf("disabled policies ran %d times", got)
	}
}

func TestWaitReturnsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rt := keeper.NewRuntime(testLogger(), nil)
	rt.Schedule(ctx, keeper.Policy{
		Name:     "stoppable",
		Enabled:  true,
		Interval: 5 * time.Millisecond,
		Check:    func(ctx context.Context) error { return nil },
	})

	cancel()
	done := make(chan struct{})
	go func() {
		rt.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after context cancel")
	}
}
