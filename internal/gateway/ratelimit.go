package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

// RateLimitMonitor is a soft sliding-window limiter: it counts requests and
// warns when the window overflows, but never blocks or rejects. Exchanges
// enforce the hard limit; this exists so the breach shows up in our logs
// before it shows up as HTTP 429s.
type RateLimitMonitor struct {
	mu          sync.Mutex
	window      []time.Time // oldest first
	maxRequests int
	duration    time.Duration
	clock       clock.Clock
	metrics     *monitor.Metrics
	logger      *slog.Logger
}

func NewRateLimitMonitor(maxRequests int, duration time.Duration, clk clock.Clock, metrics *monitor.Metrics, logger *slog.Logger) *RateLimitMonitor {
	return &RateLimitMonitor{
		maxRequests: maxRequests,
		duration:    duration,
		clock:       clk,
		metrics:     metrics,
		logger:      logger,
	}
}

// Record appends now and prunes expired entries from the front. Callers
// invoke it before every outbound request.
func (m *RateLimitMonitor) Record() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cutoff := now.Add(-m.duration)

	i := 0
	for i < len(m.window) && m.window[i].Before(cutoff) {
		i++
	}
	m.window = m.window[i:]

	m.window = append(m.window, now)

	if len(m.window) > m.maxRequests {
		m.logger.Warn("exceeded rate limit",
			"n_requests", len(m.window),
			"max", m.maxRequests,
			"duration_ms", m.duration.Milliseconds(),
		)
		if m.metrics != nil {
			m.metrics.RateLimitBreach.Inc()
		}
	}
}

// WindowLen reports the current (post-prune) window size.
func (m *RateLimitMonitor) WindowLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.window)
}
