package gateway

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/crypto-trading/marketmaker/internal/clock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimitMonitor_WindowGrowth(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(1700000000, 0))
	m := NewRateLimitMonitor(60, time.Minute, vc, nil, testLogger())

	for i := 0; i < 10; i++ {
		m.Record()
		vc.Advance(time.Second)
	}

	if got := m.WindowLen(); got != 10 {
		t.Errorf("window length = %d, want 10 (all within duration)", got)
	}
}

func TestRateLimitMonitor_PrunesExpired(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(1700000000, 0))
	m := NewRateLimitMonitor(60, time.Minute, vc, nil, testLogger())

	m.Record()
	m.Record()

	vc.Advance(61 * time.Second)
	m.Record()

	if got := m.WindowLen(); got != 1 {
		t.Errorf("window length = %d, want 1 (older entries expired)", got)
	}
}

func TestRateLimitMonitor_BoundaryEntrySurvives(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(1700000000, 0))
	m := NewRateLimitMonitor(60, time.Minute, vc, nil, testLogger())

	m.Record()
	vc.Advance(time.Minute)
	m.Record()

	// An entry aged exactly the window duration is not yet expired.
	if got := m.WindowLen(); got != 2 {
		t.Errorf("window length = %d, want 2", got)
	}

	vc.Advance(time.Nanosecond)
	m.Record()
	if got := m.WindowLen(); got != 2 {
		t.Errorf("window length = %d, want 2 (first entry now expired)", got)
	}
}

func TestRateLimitMonitor_NeverBlocks(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(1700000000, 0))
	m := NewRateLimitMonitor(2, time.Minute, vc, nil, testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Record()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked past the limit; the monitor must stay soft")
	}

	if got := m.WindowLen(); got != 100 {
		t.Errorf("window length = %d, want 100", got)
	}
}
