package clock

import (
	"sync"
	"time"
)

// Clock abstracts the time source so polling cadences and nonce generation
// can be driven by a virtual clock in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type RealClock struct{}

func New() RealClock { return RealClock{} }

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt realTicker) C() <-chan time.Time { return rt.t.C }
func (rt realTicker) Stop()               { rt.t.Stop() }

// VirtualClock only moves when Advance is called. Tickers fire once per
// elapsed interval, delivered synchronously from Advance.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*virtualTicker
}

func NewVirtual(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (vc *VirtualClock) Now() time.Time {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.now
}

func (vc *VirtualClock) NewTicker(d time.Duration) Ticker {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	t := &virtualTicker{
		ch:       make(chan time.Time, 64),
		interval: d,
		next:     vc.now.Add(d),
		clock:    vc,
	}
	vc.tickers = append(vc.tickers, t)
	return t
}

// Advance moves the clock forward and fires any tickers whose deadlines were
// crossed, in deadline order per ticker.
func (vc *VirtualClock) Advance(d time.Duration) {
	vc.mu.Lock()
	vc.now = vc.now.Add(d)
	now := vc.now
	tickers := make([]*virtualTicker, len(vc.tickers))
	copy(tickers, vc.tickers)
	vc.mu.Unlock()

	for _, t := range tickers {
		t.fireUntil(now)
	}
}

type virtualTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
	clock    *VirtualClock
}

func (t *virtualTicker) C() <-chan time.Time { return t.ch }

func (t *virtualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *virtualTicker) fireUntil(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.stopped && !t.next.After(now) {
		select {
		case t.ch <- t.next:
		default:
		}
		t.next = t.next.Add(t.interval)
	}
}
