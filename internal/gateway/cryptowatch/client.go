package cryptowatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

// envelope is the aggregator's uniform response wrapper. allowance is the
// remaining API credit; it is logged when it runs low but not enforced
// locally.
type envelope struct {
	Result    json.RawMessage `json:"result"`
	Allowance struct {
		Cost      int64 `json:"cost"`
		Remaining int64 `json:"remaining"`
	} `json:"allowance"`
}

// publicClient is the unauthenticated REST path. The aggregator has no
// private endpoints, so there is nothing to sign.
type publicClient struct {
	baseURL    string
	httpClient *http.Client
	monitor    *gateway.RateLimitMonitor
	metrics    *monitor.Metrics
	clock      clock.Clock
	logger     *slog.Logger
}

func newPublicClient(baseURL string, timeout time.Duration, rl *gateway.RateLimitMonitor, metrics *monitor.Metrics, clk clock.Clock, logger *slog.Logger) *publicClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &publicClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
			},
		},
		monitor: rl,
		metrics: metrics,
		clock:   clk,
		logger:  logger,
	}
}

// get fetches path and unwraps the result envelope, returning the inner
// payload stamped with its capture time.
func (c *publicClient) get(ctx context.Context, path string) (*gateway.Response, error) {
	c.monitor.Record()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.APIRequestTotal.WithLabelValues(http.MethodGet, path).Inc()
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.APIErrorTotal.WithLabelValues(http.MethodGet, path).Inc()
		}
		return nil, fmt.Errorf("do request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.metrics != nil {
			c.metrics.APIErrorTotal.WithLabelValues(http.MethodGet, path).Inc()
		}
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		if c.metrics != nil {
			c.metrics.APIErrorTotal.WithLabelValues(http.MethodGet, path).Inc()
		}
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, path, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse envelope %s: %w", path, err)
	}
	if env.Allowance.Remaining > 0 && env.Allowance.Remaining < env.Allowance.Cost*10 {
		c.logger.Warn("api allowance running low",
			"remaining", env.Allowance.Remaining, "cost", env.Allowance.Cost)
	}

	return &gateway.Response{Body: env.Result, Time: c.clock.Now()}, nil
}
