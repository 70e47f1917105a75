package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/monitor"
	"github.com/crypto-trading/marketmaker/internal/persistence"
)

type orderRecord struct {
	clientID   string
	exchangeID string
	side       domain.Side
	price      decimal.Decimal
	quantity   decimal.Decimal
	source     domain.OrderSource
	status     domain.OrderStatus

	// A cancel that arrived before the exchange ack. Parked here and
	// dispatched the moment the exchange id is learned.
	cancelPending bool
	cancelTime    time.Time
}

// Broker sits between the quoter and the order-destination exchange. It
// assigns client order ids, keeps the clientID/exchangeID correspondence,
// and forwards gateway order updates to its subscribers with the client id
// resolved; callers never see a report keyed only by exchange id. Commands
// and updates are also journaled for post-mortem audit.
type Broker struct {
	mu         sync.Mutex
	byClientID map[string]*orderRecord
	byExchange map[string]string

	subMu  sync.RWMutex
	subs   map[int]chan domain.OrderStatusReport
	nextID int

	gw      *gateway.CombinedGateway
	busSub  eventbus.Subscription
	updates <-chan domain.OrderStatusReport

	writer  *persistence.AsyncWriter
	clock   clock.Clock
	metrics *monitor.Metrics
	logger  *slog.Logger
}

func NewBroker(gw *gateway.CombinedGateway, bus *eventbus.EventBus, writer *persistence.AsyncWriter, clk clock.Clock, metrics *monitor.Metrics, logger *slog.Logger) *Broker {
	updates, sub := bus.SubscribeOrderUpdate()
	return &Broker{
		byClientID: make(map[string]*orderRecord),
		byExchange: make(map[string]string),
		subs:       make(map[int]chan domain.OrderStatusReport),
		gw:         gw,
		busSub:     sub,
		updates:    updates,
		writer:     writer,
		clock:      clk,
		metrics:    metrics,
		logger:     logger,
	}
}

// Subscribe returns the broker's resolved order update stream.
func (b *Broker) Subscribe() (<-chan domain.OrderStatusReport, func()) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan domain.OrderStatusReport, 64)
	b.subs[id] = ch
	return ch, func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Run consumes gateway order updates until the bus subscription closes.
func (b *Broker) Run() {
	for report := range b.updates {
		b.handleUpdate(report)
	}
}

func (b *Broker) Stop() {
	b.busSub.Unsubscribe()
}

// SendOrder assigns a client order id, journals the intent, and hands the
// order to the gateway. The returned id is the caller's handle for every
// later update and cancel.
func (b *Broker) SendOrder(ctx context.Context, cmd domain.SubmitNewOrder) (domain.SentOrder, error) {
	if b.gw.OrderEntry == nil {
		return domain.SentOrder{}, fmt.Errorf("no order entry capability on %s", b.gw.Details.Exchange())
	}
	if !b.gw.Connected() {
		return domain.SentOrder{}, fmt.Errorf("exchange %s not connected", b.gw.Details.Exchange())
	}

	clientID := b.gw.OrderEntry.GenerateClientOrderID()

	b.mu.Lock()
	b.byClientID[clientID] = &orderRecord{
		clientID: clientID,
		side:     cmd.Side,
		price:    cmd.Price,
		quantity: cmd.Quantity,
		source:   cmd.Source,
		status:   domain.OrderStatusNew,
	}
	b.mu.Unlock()

	b.journal(clientID, "", cmd.Side, cmd.Price, cmd.Quantity, domain.OrderStatusNew, cmd.Source)

	b.gw.OrderEntry.SendOrder(ctx, domain.OrderStatusReport{
		OrderID:     clientID,
		Side:        cmd.Side,
		Price:       cmd.Price,
		Quantity:    cmd.Quantity,
		OrderStatus: domain.OrderStatusNew,
		Time:        cmd.Time,
	})

	return domain.SentOrder{ClientID: clientID}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, cancel domain.OrderCancel) error {
	if b.gw.OrderEntry == nil {
		return fmt.Errorf("no order entry capability on %s", b.gw.Details.Exchange())
	}

	if cancel.Time.IsZero() {
		cancel.Time = b.clock.Now()
	}

	b.mu.Lock()
	exchangeID := cancel.ExchangeID
	rec, known := b.byClientID[cancel.OrderID]
	if exchangeID == "" && known {
		exchangeID = rec.exchangeID
	}
	if exchangeID == "" && !b.gw.OrderEntry.CancelsByClientOrderID() {
		if !known {
			b.mu.Unlock()
			return fmt.Errorf("unknown order %s", cancel.OrderID)
		}
		// The venue has not acked yet, so there is nothing to key the
		// cancel by. Park it on the record; handleUpdate dispatches it
		// when the ack delivers the exchange id.
		rec.cancelPending = true
		rec.cancelTime = cancel.Time
		b.mu.Unlock()
		b.logger.Info("cancel parked until exchange ack", "order_id", cancel.OrderID)
		return nil
	}
	b.mu.Unlock()

	b.gw.OrderEntry.CancelOrder(ctx, domain.OrderStatusReport{
		OrderID:    cancel.OrderID,
		ExchangeID: exchangeID,
		Time:       cancel.Time,
	})
	return nil
}

// CancelAllOpenOrders is the shutdown path: flatten everything resting on
// the venue, not just orders this process remembers.
func (b *Broker) CancelAllOpenOrders(ctx context.Context) (int, error) {
	if b.gw.OrderEntry == nil {
		return 0, nil
	}
	if !b.gw.OrderEntry.SupportsCancelAllOpenOrders() {
		return 0, fmt.Errorf("exchange %s cannot bulk cancel", b.gw.Details.Exchange())
	}
	return b.gw.OrderEntry.CancelAllOpenOrders(ctx)
}

func (b *Broker) handleUpdate(report domain.OrderStatusReport) {
	b.mu.Lock()

	if report.OrderID == "" && report.ExchangeID != "" {
		if clientID, ok := b.byExchange[report.ExchangeID]; ok {
			report.OrderID = clientID
		}
	}

	var snapshot orderRecord
	var parkedCancel *domain.OrderStatusReport
	rec, known := b.byClientID[report.OrderID]
	if known {
		if report.ExchangeID != "" && rec.exchangeID == "" {
			rec.exchangeID = report.ExchangeID
			b.byExchange[report.ExchangeID] = rec.clientID
			if rec.cancelPending && !report.OrderStatus.IsTerminal() {
				rec.cancelPending = false
				parkedCancel = &domain.OrderStatusReport{
					OrderID:    rec.clientID,
					ExchangeID: rec.exchangeID,
					Time:       rec.cancelTime,
				}
			}
		}
		if report.OrderStatus != "" {
			rec.status = report.OrderStatus
		}
		// Fill in fields the venue omitted from a partial update.
		if report.Side == "" {
			report.Side = rec.side
		}
		if report.Price.IsZero() {
			report.Price = rec.price
		}
		if report.Quantity.IsZero() {
			report.Quantity = rec.quantity
		}
		snapshot = *rec
		if report.OrderStatus.IsTerminal() {
			delete(b.byClientID, rec.clientID)
			if rec.exchangeID != "" {
				delete(b.byExchange, rec.exchangeID)
			}
		}
	}
	b.mu.Unlock()

	if parkedCancel != nil {
		b.gw.OrderEntry.CancelOrder(context.Background(), *parkedCancel)
	}

	if known && report.OrderStatus != "" {
		b.journal(snapshot.clientID, snapshot.exchangeID, snapshot.side, snapshot.price, snapshot.quantity, report.OrderStatus, snapshot.source)
	}
	if report.OrderStatus == domain.OrderStatusRejected && b.metrics != nil {
		b.metrics.OrderRejectTotal.WithLabelValues(b.gw.Details.Exchange(), "venue_reject").Inc()
	}

	b.forward(report)
}

func (b *Broker) forward(report domain.OrderStatusReport) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- report:
		default:
			b.logger.Warn("broker subscriber channel full, dropping update",
				"order_id", report.OrderID, "status", string(report.OrderStatus))
		}
	}
}

// OpenOrders reports the ids of orders the broker still considers live.
func (b *Broker) OpenOrders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.byClientID))
	for id := range b.byClientID {
		ids = append(ids, id)
	}
	return ids
}

func (b *Broker) journal(clientID, exchangeID string, side domain.Side, price, quantity decimal.Decimal, status domain.OrderStatus, source domain.OrderSource) {
	if b.writer == nil {
		return
	}
	b.writer.Write(persistence.WriteRequest{
		Type: persistence.WriteTypeOrderLog,
		OrderLog: persistence.OrderLogEntry{
			ClientID:   clientID,
			ExchangeID: exchangeID,
			Exchange:   b.gw.Details.Exchange(),
			Side:       string(side),
			Price:      price.String(),
			Quantity:   quantity.String(),
			Status:     string(status),
			Source:     string(source),
		},
	})
}
