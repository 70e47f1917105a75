package simulated

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

const exchangeName = "Simulated"

type Details struct {
	minTick decimal.Decimal
	minLot  decimal.Decimal
}

func (d *Details) Name() string     { return exchangeName }
func (d *Details) Exchange() string { return exchangeName }

func (d *Details) MakeFee() decimal.Decimal { return decimal.Zero }
func (d *Details) TakeFee() decimal.Decimal { return decimal.Zero }

func (d *Details) MinTickIncrement() decimal.Decimal { return d.minTick }
func (d *Details) MinLotIncrement() decimal.Decimal  { return d.minLot }

func (d *Details) HasSelfTradePrevention() bool { return false }

type Options struct {
	Pair       domain.CurrencyPair
	StartPrice decimal.Decimal
	Seed       int64

	Bus     *eventbus.EventBus
	Clock   clock.Clock
	Metrics *monitor.Metrics
	Logger  *slog.Logger
}

type restingOrder struct {
	clientID string
	side     domain.Side
	price    decimal.Decimal
	quantity decimal.Decimal
}

// Gateway is a self-contained venue for dry runs: it synthesizes a random
// walk book, rests submitted orders in memory, and fills them when the
// walk crosses their price. No network anywhere.
type Gateway struct {
	gateway.CombinedGateway

	pair domain.CurrencyPair

	mu     sync.Mutex
	mid    decimal.Decimal
	tick   decimal.Decimal
	orders map[string]restingOrder
	nextID int64
	base   decimal.Decimal
	quote  decimal.Decimal
	rng    *rand.Rand

	bus     *eventbus.EventBus
	clock   clock.Clock
	metrics *monitor.Metrics
	logger  *slog.Logger
}

func New(opts Options) *Gateway {
	if opts.StartPrice.IsZero() {
		opts.StartPrice = decimal.NewFromInt(100)
	}
	g := &Gateway{
		pair:    opts.Pair,
		mid:     opts.StartPrice,
		tick:    decimal.New(1, -2),
		orders:  make(map[string]restingOrder),
		base:    decimal.NewFromInt(10),
		quote:   opts.StartPrice.Mul(decimal.NewFromInt(10)),
		rng:     rand.New(rand.NewSource(opts.Seed)),
		bus:     opts.Bus,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("gateway", exchangeName),
	}
	g.CombinedGateway = gateway.CombinedGateway{
		MarketData: g,
		OrderEntry: g,
		Positions:  g,
		Details:    &Details{minTick: g.tick, minLot: decimal.New(1, -4)},
		ConnectStatus: func() domain.ConnectivityStatus {
			return domain.Connected
		},
	}
	return g
}

// RefreshBook steps the random walk, publishes a five-level synthetic book
// around the new mid, and fills any resting order the move crossed.
func (g *Gateway) RefreshBook(ctx context.Context) error {
	g.mu.Lock()
	step := g.tick.Mul(decimal.NewFromInt(int64(g.rng.Intn(5) - 2)))
	g.mid = g.mid.Add(step)
	mid := g.mid

	halfSpread := g.tick
	var bids, asks []domain.MarketSide
	for i := 1; i <= 5; i++ {
		offset := halfSpread.Mul(decimal.NewFromInt(int64(i)))
		size := decimal.NewFromInt(int64(g.rng.Intn(9) + 1))
		bids = append(bids, domain.MarketSide{Price: mid.Sub(offset), Size: size, Venue: exchangeName})
		asks = append(asks, domain.MarketSide{Price: mid.Add(offset), Size: size, Venue: exchangeName})
	}
	fills := g.crossedOrdersLocked(bids[0].Price, asks[0].Price)
	g.mu.Unlock()

	g.bus.PublishMarket(domain.Market{Bids: bids, Asks: asks, Time: g.clock.Now()})
	for _, fill := range fills {
		g.publishFill(fill)
	}
	return nil
}

func (g *Gateway) crossedOrdersLocked(bestBid, bestAsk decimal.Decimal) []restingOrder {
	var fills []restingOrder
	for id, order := range g.orders {
		crossed := (order.side == domain.SideBid && bestAsk.LessThanOrEqual(order.price)) ||
			(order.side == domain.SideAsk && bestBid.GreaterThanOrEqual(order.price))
		if crossed {
			fills = append(fills, order)
			delete(g.orders, id)
		}
	}
	return fills
}

func (g *Gateway) publishFill(order restingOrder) {
	g.logger.Info("simulated fill",
		"order_id", order.clientID, "side", string(order.side), "price", order.price.String())
	g.bus.PublishOrderUpdate(domain.OrderStatusReport{
		OrderID:        order.clientID,
		Side:           order.side,
		OrderStatus:    domain.OrderStatusComplete,
		LastPrice:      order.price,
		LastQuantity:   order.quantity,
		CumQuantity:    order.quantity,
		AveragePrice:   order.price,
		LeavesQuantity: decimal.Zero,
		Quantity:       order.quantity,
		Time:           g.clock.Now(),
	})
}

func (g *Gateway) RefreshTrades(ctx context.Context) error { return nil }

func (g *Gateway) SupportsCancelAllOpenOrders() bool { return true }
func (g *Gateway) CancelsByClientOrderID() bool      { return true }

func (g *Gateway) GenerateClientOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (g *Gateway) SendOrder(ctx context.Context, order domain.OrderStatusReport) {
	g.mu.Lock()
	g.nextID++
	exchangeID := "sim-" + strconv.FormatInt(g.nextID, 10)
	g.orders[order.OrderID] = restingOrder{
		clientID: order.OrderID,
		side:     order.Side,
		price:    order.Price,
		quantity: order.Quantity,
	}
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.OrderSubmitTotal.WithLabelValues(exchangeName, string(order.Side)).Inc()
	}

	g.bus.PublishOrderUpdate(domain.OrderStatusReport{
		OrderID:              order.OrderID,
		ComputationalLatency: g.clock.Now().Sub(order.Time),
	})
	g.bus.PublishOrderUpdate(domain.OrderStatusReport{
		OrderID:     order.OrderID,
		ExchangeID:  exchangeID,
		OrderStatus: domain.OrderStatusWorking,
		Time:        g.clock.Now(),
	})
}

func (g *Gateway) CancelOrder(ctx context.Context, cancel domain.OrderStatusReport) {
	g.mu.Lock()
	_, existed := g.orders[cancel.OrderID]
	delete(g.orders, cancel.OrderID)
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.OrderCancelTotal.WithLabelValues(exchangeName).Inc()
	}

	status := domain.OrderStatusCancelled
	if !existed {
		status = domain.OrderStatusOther
	}
	g.bus.PublishOrderUpdate(domain.OrderStatusReport{
		OrderID:     cancel.OrderID,
		OrderStatus: status,
		Time:        g.clock.Now(),
	})
}

func (g *Gateway) ReplaceOrder(ctx context.Context, replace domain.OrderStatusReport) {
	g.CancelOrder(ctx, replace)
	g.SendOrder(ctx, replace)
}

func (g *Gateway) CancelAllOpenOrders(ctx context.Context) (int, error) {
	g.mu.Lock()
	cancelled := make([]restingOrder, 0, len(g.orders))
	for id, order := range g.orders {
		cancelled = append(cancelled, order)
		delete(g.orders, id)
	}
	g.mu.Unlock()

	for _, order := range cancelled {
		g.bus.PublishOrderUpdate(domain.OrderStatusReport{
			OrderID:        order.clientID,
			OrderStatus:    domain.OrderStatusCancelled,
			LeavesQuantity: order.quantity,
			Time:           g.clock.Now(),
		})
	}
	return len(cancelled), nil
}

func (g *Gateway) DownloadTradeStatuses(ctx context.Context) error { return nil }

func (g *Gateway) RefreshPositions(ctx context.Context) error {
	g.mu.Lock()
	base, quote := g.base, g.quote
	g.mu.Unlock()

	g.bus.PublishPosition(domain.CurrencyPosition{
		Amount: base, HeldAmount: decimal.Zero, Currency: g.pair.Base,
	})
	g.bus.PublishPosition(domain.CurrencyPosition{
		Amount: quote, HeldAmount: decimal.Zero, Currency: g.pair.Quote,
	})
	return nil
}

// OpenOrderCount is a test hook.
func (g *Gateway) OpenOrderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}
