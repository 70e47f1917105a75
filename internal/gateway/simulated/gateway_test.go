package simulated

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
)

func newTestGateway(t *testing.T) (*Gateway, *eventbus.EventBus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(64, logger)
	g := New(Options{
		Pair:       domain.CurrencyPair{Base: "BTC", Quote: "USDT"},
		StartPrice: decimal.NewFromInt(100),
		Seed:       1,
		Bus:        bus,
		Clock:      clock.New(),
		Logger:     logger,
	})
	return g, bus
}

func TestSendOrderAcksAndRests(t *testing.T) {
	g, bus := newTestGateway(t)

	updates, sub := bus.SubscribeOrderUpdate()
	defer sub.Unsubscribe()

	g.SendOrder(context.Background(), domain.OrderStatusReport{
		OrderID:  "q-1",
		Side:     domain.SideBid,
		Price:    decimal.NewFromInt(90),
		Quantity: decimal.NewFromInt(1),
		Time:     time.Now(),
	})

	latency := <-updates
	if latency.OrderStatus != "" {
		t.Errorf("first update status = %v, want latency-only", latency.OrderStatus)
	}
	ack := <-updates
	if ack.OrderStatus != domain.OrderStatusWorking || ack.ExchangeID == "" {
		t.Errorf("ack = %+v, want Working with exchange id", ack)
	}
	if g.OpenOrderCount() != 1 {
		t.Errorf("open orders = %d, want 1", g.OpenOrderCount())
	}
}

func TestAggressiveBidFills(t *testing.T) {
	g, bus := newTestGateway(t)
	ctx := context.Background()

	updates, sub := bus.SubscribeOrderUpdate()
	defer sub.Unsubscribe()

	// A bid far above the walk's range must cross on the first book refresh.
	g.SendOrder(ctx, domain.OrderStatusReport{
		OrderID:  "q-1",
		Side:     domain.SideBid,
		Price:    decimal.NewFromInt(1000),
		Quantity: decimal.NewFromInt(1),
		Time:     time.Now(),
	})
	<-updates // latency
	<-updates // ack

	if err := g.RefreshBook(ctx); err != nil {
		t.Fatalf("RefreshBook: %v", err)
	}

	fill := <-updates
	if fill.OrderStatus != domain.OrderStatusComplete {
		t.Fatalf("status = %v, want Complete", fill.OrderStatus)
	}
	if !fill.LeavesQuantity.IsZero() || !fill.CumQuantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("fill quantities = leaves %s cum %s, want 0 and 1",
			fill.LeavesQuantity, fill.CumQuantity)
	}
	if g.OpenOrderCount() != 0 {
		t.Errorf("open orders after fill = %d, want 0", g.OpenOrderCount())
	}
}

func TestCancelAllOpenOrders(t *testing.T) {
	g, bus := newTestGateway(t)
	ctx := context.Background()

	updates, sub := bus.SubscribeOrderUpdate()
	defer sub.Unsubscribe()

	for _, id := range []string{"q-1", "q-2", "q-3"} {
		g.SendOrder(ctx, domain.OrderStatusReport{
			OrderID:  id,
			Side:     domain.SideAsk,
			Price:    decimal.NewFromInt(500),
			Quantity: decimal.NewFromInt(1),
			Time:     time.Now(),
		})
		<-updates
		<-updates
	}

	n, err := g.CancelAllOpenOrders(ctx)
	if err != nil {
		t.Fatalf("CancelAllOpenOrders: %v", err)
	}
	if n != 3 {
		t.Errorf("cancelled %d, want 3", n)
	}
	for i := 0; i < 3; i++ {
		u := <-updates
		if u.OrderStatus != domain.OrderStatusCancelled {
			t.Errorf("status = %v, want Cancelled", u.OrderStatus)
		}
	}
	if g.OpenOrderCount() != 0 {
		t.Errorf("open orders = %d, want 0", g.OpenOrderCount())
	}
}

func TestCancelUnknownOrderReportsOther(t *testing.T) {
	g, bus := newTestGateway(t)

	updates, sub := bus.SubscribeOrderUpdate()
	defer sub.Unsubscribe()

	g.CancelOrder(context.Background(), domain.OrderStatusReport{
		OrderID: "never-sent",
		Time:    time.Now(),
	})

	u := <-updates
	if u.OrderStatus != domain.OrderStatusOther {
		t.Errorf("status = %v, want Other for unknown order", u.OrderStatus)
	}
}

func TestPositionsSnapshotBothCurrencies(t *testing.T) {
	g, bus := newTestGateway(t)

	positions, sub := bus.SubscribePosition()
	defer sub.Unsubscribe()

	if err := g.RefreshPositions(context.Background()); err != nil {
		t.Fatalf("RefreshPositions: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		p := <-positions
		seen[p.Currency] = true
	}
	if !seen["BTC"] || !seen["USDT"] {
		t.Errorf("currencies = %v, want BTC and USDT", seen)
	}
}
