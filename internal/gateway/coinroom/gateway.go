package coinroom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/config"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/monitor"
	"github.com/crypto-trading/marketmaker/internal/persistence"
)

// Options carries everything the gateway needs from the composition root.
type Options struct {
	Venue     config.VenueConfig
	Pair      domain.CurrencyPair
	APIKey    string
	APISecret string

	Bus     *eventbus.EventBus
	Store   *persistence.SQLiteStore
	Writer  *persistence.AsyncWriter
	Clock   clock.Clock
	Metrics *monitor.Metrics
	Logger  *slog.Logger
}

// Gateway bundles the venue capabilities behind one connection handle.
type Gateway struct {
	gateway.CombinedGateway

	ws     *wsClient
	cancel context.CancelFunc

	mu     sync.Mutex
	status domain.ConnectivityStatus

	bus    *eventbus.EventBus
	logger *slog.Logger
}

// New validates the configured pair against the venue's market list, then
// assembles the capability gateways. An unknown pair is a fail-fast error;
// quoting a market the venue does not list can only produce rejects.
func New(ctx context.Context, opts Options) (*Gateway, error) {
	symbol := domain.CoinRoomSymbol(opts.Pair)
	logger := opts.Logger.With("gateway", exchangeName)

	rl := gateway.NewRateLimitMonitor(
		opts.Venue.RateLimit.MaxRequests,
		opts.Venue.RateLimit.Duration(),
		opts.Clock, opts.Metrics, logger,
	)
	http := gateway.NewSignedClient(gateway.SignedClientConfig{
		BaseURL:       opts.Venue.RestURL,
		APIKey:        opts.APIKey,
		APISecret:     opts.APISecret,
		Timeout:       opts.Venue.RequestTimeout(),
		ReadPoolSize:  opts.Venue.ReadPoolSize,
		WritePoolSize: opts.Venue.WritePoolSize,
	}, rl, opts.Metrics, opts.Clock, logger)

	if err := validatePair(ctx, http, symbol, opts.Pair); err != nil {
		return nil, err
	}

	g := &Gateway{
		status: domain.Disconnected,
		bus:    opts.Bus,
		logger: logger,
	}

	var orderEntry gateway.OrderEntrySink
	if opts.Venue.OrderDestination {
		oe, err := NewOrderEntryGateway(http, opts.Bus, symbol, opts.Store, opts.Writer, opts.Clock, opts.Metrics, logger)
		if err != nil {
			return nil, fmt.Errorf("order entry gateway: %w", err)
		}
		orderEntry = oe
	}

	g.CombinedGateway = gateway.CombinedGateway{
		MarketData: NewMarketDataGateway(http, opts.Bus, symbol, opts.Metrics, logger),
		OrderEntry: orderEntry,
		Positions:  NewPositionGateway(http, opts.Bus, logger),
		Details:    NewDetails(decimal.New(1, -6), decimal.New(1, -6)),
		ConnectStatus: func() domain.ConnectivityStatus {
			g.mu.Lock()
			defer g.mu.Unlock()
			return g.status
		},
	}

	if opts.Venue.WsURL != "" {
		g.ws = newWSClient(opts.Venue.WsURL, symbol, opts.Bus, g.setStatus, opts.Metrics, logger)
	}

	g.setStatus(domain.Connected)
	return g, nil
}

// Start brings up the websocket stream when one is configured. REST polling
// is driven externally by the poller and needs no start here.
func (g *Gateway) Start(ctx context.Context) error {
	if g.ws == nil {
		return nil
	}
	ctx, g.cancel = context.WithCancel(ctx)
	if err := g.ws.connect(ctx); err != nil {
		return err
	}
	go g.ws.readPump(ctx)
	return nil
}

func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	g.setStatus(domain.Disconnected)
	if g.ws != nil {
		return g.ws.close()
	}
	return nil
}

func (g *Gateway) setStatus(status domain.ConnectivityStatus) {
	g.mu.Lock()
	if g.status == status {
		g.mu.Unlock()
		return
	}
	g.status = status
	g.mu.Unlock()

	g.logger.Info("connectivity changed", "status", string(status))
	g.bus.PublishConnectChanged(eventbus.ConnectChanged{
		Exchange: exchangeName,
		Status:   status,
	})
}

func validatePair(ctx context.Context, http *gateway.SignedClient, symbol string, pair domain.CurrencyPair) error {
	resp, err := http.Get(ctx, "/api/v2/markets", map[string]string{})
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}

	var markets []marketInfo
	if err := json.Unmarshal(resp.Body, &markets); err != nil {
		return fmt.Errorf("parse markets: %w", err)
	}

	for _, m := range markets {
		if m.ID == symbol {
			return nil
		}
	}
	return fmt.Errorf("cannot match pair %s to a CoinRoom market", pair)
}
