package cryptowatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

const levelsPerVenue = 10

type cachedBook struct {
	bids []domain.MarketSide
	asks []domain.MarketSide
}

// MarketDataGateway aggregates books from several venues behind one market
// feed. Each venue refresh replaces that venue's cached book and republishes
// the merged composite; levels keep their venue tag so consumers can see
// where liquidity sits. Trade side is unreported by the aggregator and
// always Unknown.
type MarketDataGateway struct {
	http   *publicClient
	bus    *eventbus.EventBus
	symbol string
	venues []string

	mu      sync.Mutex
	books   map[string]cachedBook
	started bool

	metrics *monitor.Metrics
	logger  *slog.Logger
}

func NewMarketDataGateway(http *publicClient, bus *eventbus.EventBus, symbol string, venues []string, metrics *monitor.Metrics, logger *slog.Logger) *MarketDataGateway {
	return &MarketDataGateway{
		http:    http,
		bus:     bus,
		symbol:  symbol,
		venues:  venues,
		books:   make(map[string]cachedBook, len(venues)),
		metrics: metrics,
		logger:  logger,
	}
}

// wire levels and trades are positional arrays: [price, qty] and
// [id, unix_seconds, price, qty].
type wireLevel [2]float64
type wireTrade [4]float64

func (g *MarketDataGateway) RefreshBook(ctx context.Context) error {
	var firstErr error
	for _, venue := range g.venues {
		if err := g.refreshVenueBook(ctx, venue); err != nil {
			g.logger.Error("venue book refresh failed", "venue", venue, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (g *MarketDataGateway) refreshVenueBook(ctx context.Context, venue string) error {
	resp, err := g.http.get(ctx, fmt.Sprintf("/markets/%s/%s/orderbook", venue, g.symbol))
	if err != nil {
		return fmt.Errorf("fetch book: %w", err)
	}

	var book struct {
		Bids []wireLevel `json:"bids"`
		Asks []wireLevel `json:"asks"`
	}
	if err := json.Unmarshal(resp.Body, &book); err != nil {
		return fmt.Errorf("parse book: %w", err)
	}

	bids := convertLevels(venue, book.Bids)
	asks := convertLevels(venue, book.Asks)

	g.mu.Lock()
	g.books[venue] = cachedBook{bids: bids, asks: asks}
	merged := g.mergeLocked()
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.BookLevels.WithLabelValues(exchangeName, "bid").Set(float64(len(merged.Bids)))
		g.metrics.BookLevels.WithLabelValues(exchangeName, "ask").Set(float64(len(merged.Asks)))
	}

	merged.Time = resp.Time
	g.bus.PublishMarket(merged)
	return nil
}

func convertLevels(venue string, levels []wireLevel) []domain.MarketSide {
	if len(levels) > levelsPerVenue {
		levels = levels[:levelsPerVenue]
	}
	out := make([]domain.MarketSide, 0, len(levels))
	for _, l := range levels {
		out = append(out, domain.MarketSide{
			Price: decimal.NewFromFloat(l[0]),
			Size:  decimal.NewFromFloat(l[1]),
			Venue: venue,
		})
	}
	return out
}

// mergeLocked concatenates every cached venue book and re-sorts both sides,
// bids best (highest) first and asks best (lowest) first. Equal prices from
// different venues both survive as separate levels.
func (g *MarketDataGateway) mergeLocked() domain.Market {
	var bids, asks []domain.MarketSide
	for _, book := range g.books {
		bids = append(bids, book.bids...)
		asks = append(asks, book.asks...)
	}

	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	return domain.Market{Bids: bids, Asks: asks}
}

func (g *MarketDataGateway) RefreshTrades(ctx context.Context) error {
	g.mu.Lock()
	first := !g.started
	g.mu.Unlock()

	var firstErr error
	for _, venue := range g.venues {
		if err := g.refreshVenueTrades(ctx, venue, first); err != nil {
			g.logger.Error("venue trade refresh failed", "venue", venue, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	g.mu.Lock()
	g.started = true
	g.mu.Unlock()
	return firstErr
}

func (g *MarketDataGateway) refreshVenueTrades(ctx context.Context, venue string, first bool) error {
	resp, err := g.http.get(ctx, fmt.Sprintf("/markets/%s/%s/trades", venue, g.symbol))
	if err != nil {
		return fmt.Errorf("fetch trades: %w", err)
	}

	var trades []wireTrade
	if err := json.Unmarshal(resp.Body, &trades); err != nil {
		return fmt.Errorf("parse trades: %w", err)
	}

	for _, t := range trades {
		g.bus.PublishMarketTrade(domain.MarketTrade{
			Price:             decimal.NewFromFloat(t[2]),
			Size:              decimal.NewFromFloat(t[3]),
			Time:              time.Unix(int64(t[1]), 0).UTC(),
			FirstSinceStartup: first,
			Side:              domain.SideUnknown,
		})
		if g.metrics != nil {
			g.metrics.TradesEmittedTotal.WithLabelValues(exchangeName).Inc()
		}
	}
	return nil
}
