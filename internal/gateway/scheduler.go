package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crypto-trading/marketmaker/internal/clock"
)

type pollTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// Poller drives gateway refresh operations at independent per-kind cadences.
// Each task runs immediately on Start and then on its own ticker. Stop tears
// down every ticker and waits for in-flight runs to return; results of
// requests already dispatched are simply discarded by their owners.
type Poller struct {
	mu      sync.Mutex
	tasks   []pollTask
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	clock  clock.Clock
	logger *slog.Logger
}

func NewPoller(clk clock.Clock, logger *slog.Logger) *Poller {
	return &Poller{clock: clk, logger: logger}
}

func (p *Poller) Add(name string, interval time.Duration, fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, pollTask{name: name, interval: interval, fn: fn})
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	tasks := make([]pollTask, len(p.tasks))
	copy(tasks, p.tasks)
	p.mu.Unlock()

	for _, task := range tasks {
		p.wg.Add(1)
		go p.run(ctx, task)
	}
}

func (p *Poller) run(ctx context.Context, task pollTask) {
	defer p.wg.Done()

	task.fn(ctx)

	ticker := p.clock.NewTicker(task.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poll task stopped", "task", task.name)
			return
		case <-ticker.C():
			task.fn(ctx)
		}
	}
}

func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}
