package coinroom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/monitor"
	"github.com/crypto-trading/marketmaker/internal/persistence"
)

// OrderEntryGateway submits and cancels orders over the venue REST API.
// Every command publishes an immediate latency-only report before the wire
// round-trip, then a second report when the acknowledgement arrives. Fill
// reconciliation runs off the private trade tape with a persisted watermark
// so restarts do not replay fills.
type OrderEntryGateway struct {
	http   *gateway.SignedClient
	bus    *eventbus.EventBus
	symbol string

	mu            sync.Mutex
	myLastTradeID int64

	writer  *persistence.AsyncWriter
	clock   clock.Clock
	metrics *monitor.Metrics
	logger  *slog.Logger
}

func NewOrderEntryGateway(http *gateway.SignedClient, bus *eventbus.EventBus, symbol string, store *persistence.SQLiteStore, writer *persistence.AsyncWriter, clk clock.Clock, metrics *monitor.Metrics, logger *slog.Logger) (*OrderEntryGateway, error) {
	g := &OrderEntryGateway{
		http:    http,
		bus:     bus,
		symbol:  symbol,
		writer:  writer,
		clock:   clk,
		metrics: metrics,
		logger:  logger,
	}

	if store != nil {
		watermark, err := store.LoadWatermark(exchangeName, symbol)
		if err != nil {
			return nil, fmt.Errorf("load trade watermark: %w", err)
		}
		g.myLastTradeID = watermark
		if watermark > 0 {
			logger.Info("resuming trade reconciliation from watermark",
				"symbol", symbol, "last_trade_id", watermark)
		}
	}

	return g, nil
}

func (g *OrderEntryGateway) SupportsCancelAllOpenOrders() bool { return true }
func (g *OrderEntryGateway) CancelsByClientOrderID() bool      { return false }

func (g *OrderEntryGateway) GenerateClientOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SendOrder reports local dispatch latency at once and completes the
// acknowledgement asynchronously so the caller never blocks on the network.
func (g *OrderEntryGateway) SendOrder(ctx context.Context, order domain.OrderStatusReport) {
	go g.submit(ctx, order)

	g.bus.PublishOrderUpdate(domain.OrderStatusReport{
		OrderID:              order.OrderID,
		ComputationalLatency: g.clock.Now().Sub(order.Time),
	})
}

func (g *OrderEntryGateway) submit(ctx context.Context, order domain.OrderStatusReport) {
	start := g.clock.Now()
	resp, err := g.http.Post(ctx, "/api/v2/orders", map[string]string{
		"market": g.symbol,
		"volume": order.Quantity.String(),
		"price":  order.Price.String(),
		"side":   encodeSide(order.Side),
	})
	if err != nil {
		g.logger.Error("order submit failed", "order_id", order.OrderID, "error", err)
		if g.metrics != nil {
			g.metrics.OrderRejectTotal.WithLabelValues(exchangeName, "submit_error").Inc()
		}
		g.bus.PublishOrderUpdate(domain.OrderStatusReport{
			OrderID:     order.OrderID,
			OrderStatus: domain.OrderStatusRejected,
			Time:        g.clock.Now(),
		})
		return
	}

	var ack newOrderResponse
	if err := json.Unmarshal(resp.Body, &ack); err != nil {
		g.logger.Error("order ack parse failed", "order_id", order.OrderID, "error", err)
		g.bus.PublishOrderUpdate(domain.OrderStatusReport{
			OrderID:     order.OrderID,
			OrderStatus: domain.OrderStatusRejected,
			Time:        resp.Time,
		})
		return
	}

	if g.metrics != nil {
		g.metrics.OrderSubmitTotal.WithLabelValues(exchangeName, string(order.Side)).Inc()
		g.metrics.OrderAckLatency.WithLabelValues(exchangeName).
			Observe(float64(resp.Time.Sub(start).Milliseconds()))
	}

	g.logger.Info("order acknowledged", "order_id", order.OrderID, "exchange_id", ack.ID)
	g.bus.PublishOrderUpdate(domain.OrderStatusReport{
		OrderID:     order.OrderID,
		ExchangeID:  ack.ID,
		OrderStatus: domain.OrderStatusNew,
		Time:        resp.Time,
	})
}

func (g *OrderEntryGateway) CancelOrder(ctx context.Context, cancel domain.OrderStatusReport) {
	go g.requestCancel(ctx, cancel)

	g.bus.PublishOrderUpdate(domain.OrderStatusReport{
		OrderID:              cancel.OrderID,
		ComputationalLatency: g.clock.Now().Sub(cancel.Time),
	})
}

func (g *OrderEntryGateway) requestCancel(ctx context.Context, cancel domain.OrderStatusReport) {
	resp, err := g.http.Post(ctx, "/api/v2/order/delete", map[string]string{
		"id": cancel.ExchangeID,
	})
	if err != nil {
		g.logger.Error("order cancel failed",
			"order_id", cancel.OrderID, "exchange_id", cancel.ExchangeID, "error", err)
		return
	}

	var status orderStatusResponse
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		g.logger.Error("cancel ack parse failed", "order_id", cancel.OrderID, "error", err)
		return
	}

	if g.metrics != nil {
		g.metrics.OrderCancelTotal.WithLabelValues(exchangeName).Inc()
	}

	g.bus.PublishOrderUpdate(domain.OrderStatusReport{
		OrderID:     cancel.OrderID,
		OrderStatus: decodeOrderStatus(status.State),
		Time:        resp.Time,
	})
}

// ReplaceOrder is cancel-then-send: the venue has no native amend.
func (g *OrderEntryGateway) ReplaceOrder(ctx context.Context, replace domain.OrderStatusReport) {
	g.CancelOrder(ctx, replace)
	g.SendOrder(ctx, replace)
}

// CancelAllOpenOrders clears every resting order on the account and
// publishes a terminal-or-leaves update for each one, returning the count.
func (g *OrderEntryGateway) CancelAllOpenOrders(ctx context.Context) (int, error) {
	resp, err := g.http.Post(ctx, "/api/v2/orders/clear", map[string]string{})
	if err != nil {
		return 0, fmt.Errorf("clear orders: %w", err)
	}

	var cleared []orderStatusResponse
	if err := json.Unmarshal(resp.Body, &cleared); err != nil {
		return 0, fmt.Errorf("parse cleared orders: %w", err)
	}

	for _, order := range cleared {
		leaves, err := domain.ParseDecimal(order.RemainingVolume)
		if err != nil {
			g.logger.Warn("bad remaining volume in clear response",
				"exchange_id", order.ID, "value", order.RemainingVolume)
			continue
		}
		g.bus.PublishOrderUpdate(domain.OrderStatusReport{
			ExchangeID:     order.ID,
			OrderStatus:    decodeOrderStatus(order.State),
			LeavesQuantity: leaves,
			Time:           resp.Time,
		})
	}

	return len(cleared), nil
}

// DownloadTradeStatuses reconciles fills from the private trade tape. Each
// new trade triggers a lookup of its parent order for the authoritative
// state; the watermark only advances past trades whose order completed, so
// partial fills are re-checked on the next poll.
func (g *OrderEntryGateway) DownloadTradeStatuses(ctx context.Context) error {
	g.mu.Lock()
	from := g.myLastTradeID
	g.mu.Unlock()

	params := map[string]string{"market": g.symbol}
	if from > 0 {
		params["from"] = fmt.Sprintf("%d", from)
	}

	resp, err := g.http.Get(ctx, "/api/v2/trades/my", params)
	if err != nil {
		return fmt.Errorf("fetch my trades: %w", err)
	}

	var trades []myTradeResponse
	if err := json.Unmarshal(resp.Body, &trades); err != nil {
		return fmt.Errorf("parse my trades: %w", err)
	}

	for _, t := range trades {
		if err := g.reconcileTrade(ctx, t); err != nil {
			g.logger.Error("trade reconciliation failed",
				"trade_id", t.ID, "order_id", t.OrderID, "error", err)
		}
	}

	return nil
}

func (g *OrderEntryGateway) reconcileTrade(ctx context.Context, t myTradeResponse) error {
	resp, err := g.http.Get(ctx, "/api/v2/order", map[string]string{
		"id":     t.OrderID,
		"market": g.symbol,
	})
	if err != nil {
		return fmt.Errorf("fetch order %s: %w", t.OrderID, err)
	}

	var order orderStatusResponse
	if err := json.Unmarshal(resp.Body, &order); err != nil {
		return fmt.Errorf("parse order %s: %w", t.OrderID, err)
	}

	status := decodeOrderStatus(order.State)
	if status == domain.OrderStatusComplete {
		g.advanceWatermark(t.ID)
	}

	report := domain.OrderStatusReport{
		ExchangeID:  t.OrderID,
		OrderStatus: status,
		Time:        resp.Time,
	}
	if report.LastPrice, err = domain.ParseDecimal(t.Price); err != nil {
		return fmt.Errorf("trade price %q: %w", t.Price, err)
	}
	if report.LastQuantity, err = domain.ParseDecimal(t.Volume); err != nil {
		return fmt.Errorf("trade volume %q: %w", t.Volume, err)
	}
	if report.AveragePrice, err = domain.ParseDecimal(order.AvgPrice); err != nil {
		return fmt.Errorf("avg price %q: %w", order.AvgPrice, err)
	}
	if report.LeavesQuantity, err = domain.ParseDecimal(order.RemainingVolume); err != nil {
		return fmt.Errorf("remaining volume %q: %w", order.RemainingVolume, err)
	}
	if report.CumQuantity, err = domain.ParseDecimal(order.ExecutedVolume); err != nil {
		return fmt.Errorf("executed volume %q: %w", order.ExecutedVolume, err)
	}
	if report.Quantity, err = domain.ParseDecimal(order.Volume); err != nil {
		return fmt.Errorf("order volume %q: %w", order.Volume, err)
	}

	g.bus.PublishOrderUpdate(report)
	return nil
}

func (g *OrderEntryGateway) advanceWatermark(tradeID int64) {
	g.mu.Lock()
	if tradeID <= g.myLastTradeID {
		g.mu.Unlock()
		return
	}
	g.myLastTradeID = tradeID
	g.mu.Unlock()

	if g.writer != nil {
		g.writer.Write(persistence.WriteRequest{
			Type: persistence.WriteTypeWatermark,
			Watermark: persistence.WatermarkUpdate{
				Exchange:    exchangeName,
				Symbol:      g.symbol,
				LastTradeID: tradeID,
			},
		})
	}
}
