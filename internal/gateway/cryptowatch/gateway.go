package cryptowatch

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
)

const exchangeName = "CryptoWatch"

type Details struct {
	minTick decimal.Decimal
}

func NewDetails(minTick decimal.Decimal) *Details {
	return &Details{minTick: minTick}
}

func (d *Details) Name() string     { return exchangeName }
func (d *Details) Exchange() string { return exchangeName }

func (d *Details) MakeFee() decimal.Decimal { return decimal.NewFromFloat(0.001) }
func (d *Details) TakeFee() decimal.Decimal { return decimal.NewFromFloat(0.002) }

func (d *Details) MinTickIncrement() decimal.Decimal { return d.minTick }
func (d *Details) MinLotIncrement() decimal.Decimal  { return d.minTick }

func (d *Details) HasSelfTradePrevention() bool { return false }

type Options struct {
	Venue config.VenueConfig
	Pair  domain.CurrencyPair

	Bus     *eventbus.EventBus
	Clock   clock.Clock
	Metrics *monitor.Metrics
	Logger  *slog.Logger
}

// Gateway is the aggregator's read-only connection: market data and details
// only, no order entry and no positions.
type Gateway struct {
	gateway.CombinedGateway

	mu     sync.Mutex
	status domain.ConnectivityStatus
}

// New verifies that every configured upstream venue actively lists the pair
// before wiring the feed; a stale market would silently poison the merged
// book with dead liquidity.
func New(ctx context.Context, opts Options) (*Gateway, error) {
	symbol := domain.CryptoWatchSymbol(opts.Pair)
	logger := opts.Logger.With("gateway", exchangeName)

	rl := gateway.NewRateLimitMonitor(
		opts.Venue.RateLimit.MaxRequests,
		opts.Venue.RateLimit.Duration(),
		opts.Clock, opts.Metrics, logger,
	)
	http := newPublicClient(opts.Venue.RestURL, opts.Venue.RequestTimeout(), rl, opts.Metrics, opts.Clock, logger)

	for _, venue := range opts.Venue.Markets {
		if err := validateMarket(ctx, http, venue, symbol, opts.Pair); err != nil {
			return nil, err
		}
	}

	g := &Gateway{status: domain.Connected}
	g.CombinedGateway = gateway.CombinedGateway{
		MarketData: NewMarketDataGateway(http, opts.Bus, symbol, opts.Venue.Markets, opts.Metrics, logger),
		Details:    NewDetails(decimal.New(1, -6)),
		ConnectStatus: func() domain.ConnectivityStatus {
			g.mu.Lock()
			defer g.mu.Unlock()
			return g.status
		},
	}

	opts.Bus.PublishConnectChanged(eventbus.ConnectChanged{
		Exchange: exchangeName,
		Status:   domain.Connected,
	})
	return g, nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	g.status = domain.Disconnected
	g.mu.Unlock()
	return nil
}

type marketDetails struct {
	ID       int64  `json:"id"`
	Exchange string `json:"exchange"`
	Pair     string `json:"pair"`
	Active   bool   `json:"active"`
}

func validateMarket(ctx context.Context, http *publicClient, venue, symbol string, pair domain.CurrencyPair) error {
	resp, err := http.get(ctx, fmt.Sprintf("/markets/%s/%s", venue, symbol))
	if err != nil {
		return fmt.Errorf("fetch market details for %s: %w", venue, err)
	}

	var details marketDetails
	if err := json.Unmarshal(resp.Body, &details); err != nil {
		return fmt.Errorf("parse market details for %s: %w", venue, err)
	}
	if !details.Active {
		return fmt.Errorf("configured venue %q does not actively support %s", venue, pair)
	}
	return nil
}
