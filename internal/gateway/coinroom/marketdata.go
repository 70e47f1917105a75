package coinroom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

// venueTag marks book levels originating here so merged composite books
// stay attributable per level.
const venueTag = "CoinR"

const firstTradeLookback = 30

// MarketDataGateway polls the venue book and public trade tape. Trades are
// fetched incrementally from the highest trade id seen so far; the very
// first batch after startup is back-filled history and flagged as such.
type MarketDataGateway struct {
	http   *gateway.SignedClient
	bus    *eventbus.EventBus
	symbol string

	mu          sync.Mutex
	lastTradeID int64
	started     bool

	metrics *monitor.Metrics
	logger  *slog.Logger
}

func NewMarketDataGateway(http *gateway.SignedClient, bus *eventbus.EventBus, symbol string, metrics *monitor.Metrics, logger *slog.Logger) *MarketDataGateway {
	return &MarketDataGateway{
		http:    http,
		bus:     bus,
		symbol:  symbol,
		metrics: metrics,
		logger:  logger,
	}
}

func (g *MarketDataGateway) RefreshBook(ctx context.Context) error {
	resp, err := g.http.Get(ctx, "/api/v2/order_book", map[string]string{
		"market":     g.symbol,
		"asks_limit": "10",
		"bids_limit": "10",
	})
	if err != nil {
		return fmt.Errorf("fetch order book: %w", err)
	}

	var book orderBookResponse
	if err := json.Unmarshal(resp.Body, &book); err != nil {
		return fmt.Errorf("parse order book: %w", err)
	}

	bids, err := convertLevels(book.Bids)
	if err != nil {
		return fmt.Errorf("parse bids: %w", err)
	}
	asks, err := convertLevels(book.Asks)
	if err != nil {
		return fmt.Errorf("parse asks: %w", err)
	}

	if g.metrics != nil {
		g.metrics.BookLevels.WithLabelValues(exchangeName, "bid").Set(float64(len(bids)))
		g.metrics.BookLevels.WithLabelValues(exchangeName, "ask").Set(float64(len(asks)))
	}

	g.bus.PublishMarket(domain.Market{Bids: bids, Asks: asks, Time: resp.Time})
	return nil
}

func convertLevels(levels []bookLevel) ([]domain.MarketSide, error) {
	out := make([]domain.MarketSide, 0, len(levels))
	for _, l := range levels {
		price, err := domain.ParseDecimal(l.Price)
		if err != nil {
			return nil, fmt.Errorf("level price %q: %w", l.Price, err)
		}
		size, err := domain.ParseDecimal(l.Volume)
		if err != nil {
			return nil, fmt.Errorf("level volume %q: %w", l.Volume, err)
		}
		out = append(out, domain.MarketSide{Price: price, Size: size, Venue: venueTag})
	}
	return out, nil
}

func (g *MarketDataGateway) RefreshTrades(ctx context.Context) error {
	g.mu.Lock()
	from := g.lastTradeID
	first := !g.started
	g.mu.Unlock()

	params := map[string]string{"market": g.symbol}
	if from > 0 {
		params["from"] = strconv.FormatInt(from, 10)
	} else {
		params["limit"] = strconv.Itoa(firstTradeLookback)
	}

	resp, err := g.http.Get(ctx, "/api/v2/trades", params)
	if err != nil {
		return fmt.Errorf("fetch trades: %w", err)
	}

	var trades []marketTradeResponse
	if err := json.Unmarshal(resp.Body, &trades); err != nil {
		return fmt.Errorf("parse trades: %w", err)
	}

	// Oldest first so the watermark only moves forward.
	sort.Slice(trades, func(i, j int) bool { return trades[i].ID < trades[j].ID })

	maxID := from
	for _, t := range trades {
		if t.ID > maxID {
			maxID = t.ID
		}
		g.bus.PublishMarketTrade(domain.MarketTrade{
			Price:             decimal.NewFromFloat(t.Price),
			Size:              decimal.NewFromFloat(t.Volume),
			Time:              time.UnixMilli(t.CreatedAt).UTC(),
			FirstSinceStartup: first,
			Side:              decodeSide(t.Side),
		})
		if g.metrics != nil {
			g.metrics.TradesEmittedTotal.WithLabelValues(exchangeName).Inc()
		}
	}

	g.mu.Lock()
	g.lastTradeID = maxID
	g.started = true
	g.mu.Unlock()

	return nil
}
