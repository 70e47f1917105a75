package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crypto-trading/marketmaker/internal/clock"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPollerRunsImmediatelyThenOnTicks(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(1700000000, 0))
	p := NewPoller(vc, testLogger())

	var runs atomic.Int64
	p.Add("book", time.Second, func(ctx context.Context) {
		runs.Add(1)
	})

	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, func() bool { return runs.Load() == 1 }, "first run should fire without waiting a full interval")

	vc.Advance(time.Second)
	waitFor(t, func() bool { return runs.Load() == 2 }, "second run should fire after one interval")

	vc.Advance(3 * time.Second)
	waitFor(t, func() bool { return runs.Load() == 5 }, "one run per elapsed interval")
}

func TestPollerIndependentCadences(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(1700000000, 0))
	p := NewPoller(vc, testLogger())

	var fast, slow atomic.Int64
	p.Add("fast", time.Second, func(ctx context.Context) { fast.Add(1) })
	p.Add("slow", 5*time.Second, func(ctx context.Context) { slow.Add(1) })

	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, func() bool { return fast.Load() == 1 && slow.Load() == 1 }, "both tasks run immediately")

	vc.Advance(5 * time.Second)
	waitFor(t, func() bool { return fast.Load() == 6 && slow.Load() == 2 },
		"cadences advance independently")
}

func TestPollerStopHaltsTasks(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(1700000000, 0))
	p := NewPoller(vc, testLogger())

	var runs atomic.Int64
	p.Add("book", time.Second, func(ctx context.Context) { runs.Add(1) })

	p.Start(context.Background())
	waitFor(t, func() bool { return runs.Load() == 1 }, "task runs once")

	p.Stop()
	after := runs.Load()

	vc.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != after {
		t.Errorf("task ran %d more times after Stop", runs.Load()-after)
	}
}

func TestPollerStopCancelsTaskContext(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(1700000000, 0))
	p := NewPoller(vc, testLogger())

	cancelled := make(chan struct{})
	p.Add("watch", time.Second, func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			close(cancelled)
		}()
	})

	p.Start(context.Background())
	p.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("task context was not cancelled on Stop")
	}
}
