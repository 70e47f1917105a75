package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

// Response is a timestamped HTTP payload. The capture time is taken when the
// body has been fully read, matching when the data was actually known.
type Response struct {
	Body []byte
	Time time.Time
}

// SignedClient wraps one exchange account's authenticated REST access.
// Reads and writes go through separate connection pools: polling hammers the
// read path, order entry must not queue behind it.
type SignedClient struct {
	baseURL   string
	apiKey    string
	apiSecret string

	readClient  *http.Client
	writeClient *http.Client

	mu        sync.Mutex
	lastNonce int64

	monitor *RateLimitMonitor
	metrics *monitor.Metrics
	clock   clock.Clock
	logger  *slog.Logger
}

type SignedClientConfig struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Timeout       time.Duration
	ReadPoolSize  int
	WritePoolSize int
}

func NewSignedClient(cfg SignedClientConfig, rl *RateLimitMonitor, metrics *monitor.Metrics, clk clock.Clock, logger *slog.Logger) *SignedClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ReadPoolSize == 0 {
		cfg.ReadPoolSize = 10
	}
	if cfg.WritePoolSize == 0 {
		cfg.WritePoolSize = 4
	}
	newClient := func(pool int) *http.Client {
		return &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        pool,
				MaxIdleConnsPerHost: pool,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
			},
		}
	}
	return &SignedClient{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		readClient:  newClient(cfg.ReadPoolSize),
		writeClient: newClient(cfg.WritePoolSize),
		monitor:     rl,
		metrics:     metrics,
		clock:       clk,
		logger:      logger,
	}
}

// Nonce returns a strictly increasing value even when the wall clock is
// frozen or steps backwards: a candidate not greater than the last issued
// nonce falls back to last+1.
func (c *SignedClient) Nonce() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate := c.clock.Now().UnixMilli()
	if candidate <= c.lastNonce {
		candidate = c.lastNonce + 1
	}
	c.lastNonce = candidate
	return candidate
}

// signParams merges nonce and api key into params, canonicalizes them
// (empty values stripped, k=v pairs sorted lexicographically), signs
// METHOD|PATH|sortedParams with HMAC-SHA256, and appends the signature.
func (c *SignedClient) signParams(method, path string, params map[string]string) url.Values {
	merged := make(map[string]string, len(params)+3)
	for k, v := range params {
		if v == "" {
			continue
		}
		merged[k] = v
	}
	merged["tonce"] = strconv.FormatInt(c.Nonce(), 10)
	merged["access_key"] = c.apiKey

	pairs := make([]string, 0, len(merged))
	for k, v := range merged {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	message := method + "|" + path + "|" + strings.Join(pairs, "&")

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(message))
	merged["signature"] = hex.EncodeToString(mac.Sum(nil))

	values := url.Values{}
	for k, v := range merged {
		values.Set(k, v)
	}
	return values
}

func (c *SignedClient) Get(ctx context.Context, path string, params map[string]string) (*Response, error) {
	signed := c.signParams(http.MethodGet, path, params)
	reqURL := c.baseURL + path + "?" + signed.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(c.readClient, req, path)
}

func (c *SignedClient) Post(ctx context.Context, path string, params map[string]string) (*Response, error) {
	signed := c.signParams(http.MethodPost, path, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(signed.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(c.writeClient, req, path)
}

func (c *SignedClient) do(client *http.Client, req *http.Request, path string) (*Response, error) {
	c.monitor.Record()

	start := c.clock.Now()
	resp, err := client.Do(req)
	if c.metrics != nil {
		c.metrics.APIRequestTotal.WithLabelValues(req.Method, path).Inc()
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.APIErrorTotal.WithLabelValues(req.Method, path).Inc()
		}
		return nil, fmt.Errorf("do request %s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.metrics != nil {
			c.metrics.APIErrorTotal.WithLabelValues(req.Method, path).Inc()
		}
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		if c.metrics != nil {
			c.metrics.APIErrorTotal.WithLabelValues(req.Method, path).Inc()
		}
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, path, string(body))
	}

	c.logger.Debug("request complete",
		"method", req.Method,
		"path", path,
		"elapsed_ms", c.clock.Now().Sub(start).Milliseconds(),
	)

	return &Response{Body: body, Time: c.clock.Now()}, nil
}
