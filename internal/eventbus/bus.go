package eventbus

import (
	"log/slog"
	"sync"

	"github.com/crypto-trading/marketmaker/internal/domain"
)

// ConnectChanged carries a per-exchange connectivity transition.
type ConnectChanged struct {
	Exchange string
	Status   domain.ConnectivityStatus
}

// EventBus fans gateway emissions out to subscribers. Publishing is
// non-blocking: a full subscriber channel drops the event with a warning
// rather than stalling the publishing gateway.
type EventBus struct {
	mu sync.RWMutex

	marketSubs   map[int]chan domain.Market
	tradeSubs    map[int]chan domain.MarketTrade
	orderSubs    map[int]chan domain.OrderStatusReport
	positionSubs map[int]chan domain.CurrencyPosition
	connectSubs  map[int]chan ConnectChanged
	nextID       int
	closed       bool

	bufferSize int
	logger     *slog.Logger
}

func New(bufferSize int, logger *slog.Logger) *EventBus {
	return &EventBus{
		marketSubs:   make(map[int]chan domain.Market),
		tradeSubs:    make(map[int]chan domain.MarketTrade),
		orderSubs:    make(map[int]chan domain.OrderStatusReport),
		positionSubs: make(map[int]chan domain.CurrencyPosition),
		connectSubs:  make(map[int]chan ConnectChanged),
		bufferSize:   bufferSize,
		logger:       logger,
	}
}

// Subscription identifies one subscriber channel for later removal.
// Unsubscribe is safe to call during teardown and after Close.
type Subscription struct {
	cancel func()
}

func (s Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// A closed bus hands out an already-closed channel so a late subscriber
// unblocks immediately instead of waiting on a channel nothing will ever
// close.
func closedChan[T any]() chan T {
	ch := make(chan T)
	close(ch)
	return ch
}

func (eb *EventBus) SubscribeMarket() (<-chan domain.Market, Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return closedChan[domain.Market](), Subscription{}
	}
	id := eb.nextID
	eb.nextID++
	ch := make(chan domain.Market, eb.bufferSize)
	eb.marketSubs[id] = ch
	return ch, Subscription{cancel: func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if c, ok := eb.marketSubs[id]; ok {
			delete(eb.marketSubs, id)
			close(c)
		}
	}}
}

func (eb *EventBus) PublishMarket(m domain.Market) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.marketSubs {
		select {
		case ch <- m:
		default:
			eb.logger.Warn("market subscriber channel full, dropping event",
				"bids", len(m.Bids), "asks", len(m.Asks))
		}
	}
}

func (eb *EventBus) SubscribeMarketTrade() (<-chan domain.MarketTrade, Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return closedChan[domain.MarketTrade](), Subscription{}
	}
	id := eb.nextID
	eb.nextID++
	ch := make(chan domain.MarketTrade, eb.bufferSize)
	eb.tradeSubs[id] = ch
	return ch, Subscription{cancel: func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if c, ok := eb.tradeSubs[id]; ok {
			delete(eb.tradeSubs, id)
			close(c)
		}
	}}
}

func (eb *EventBus) PublishMarketTrade(t domain.MarketTrade) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.tradeSubs {
		select {
		case ch <- t:
		default:
			eb.logger.Warn("market trade subscriber channel full, dropping event",
				"price", t.Price.String())
		}
	}
}

func (eb *EventBus) SubscribeOrderUpdate() (<-chan domain.OrderStatusReport, Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return closedChan[domain.OrderStatusReport](), Subscription{}
	}
	id := eb.nextID
	eb.nextID++
	ch := make(chan domain.OrderStatusReport, eb.bufferSize)
	eb.orderSubs[id] = ch
	return ch, Subscription{cancel: func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if c, ok := eb.orderSubs[id]; ok {
			delete(eb.orderSubs, id)
			close(c)
		}
	}}
}

func (eb *EventBus) PublishOrderUpdate(r domain.OrderStatusReport) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.orderSubs {
		select {
		case ch <- r:
		default:
			eb.logger.Warn("order update subscriber channel full, dropping event",
				"order_id", r.OrderID, "status", string(r.OrderStatus))
		}
	}
}

func (eb *EventBus) SubscribePosition() (<-chan domain.CurrencyPosition, Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return closedChan[domain.CurrencyPosition](), Subscription{}
	}
	id := eb.nextID
	eb.nextID++
	ch := make(chan domain.CurrencyPosition, eb.bufferSize)
	eb.positionSubs[id] = ch
	return ch, Subscription{cancel: func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if c, ok := eb.positionSubs[id]; ok {
			delete(eb.positionSubs, id)
			close(c)
		}
	}}
}

func (eb *EventBus) PublishPosition(p domain.CurrencyPosition) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.positionSubs {
		select {
		case ch <- p:
		default:
			eb.logger.Warn("position subscriber channel full, dropping event",
				"currency", p.Currency)
		}
	}
}

func (eb *EventBus) SubscribeConnectChanged() (<-chan ConnectChanged, Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return closedChan[ConnectChanged](), Subscription{}
	}
	id := eb.nextID
	eb.nextID++
	ch := make(chan ConnectChanged, eb.bufferSize)
	eb.connectSubs[id] = ch
	return ch, Subscription{cancel: func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if c, ok := eb.connectSubs[id]; ok {
			delete(eb.connectSubs, id)
			close(c)
		}
	}}
}

func (eb *EventBus) PublishConnectChanged(c ConnectChanged) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.connectSubs {
		select {
		case ch <- c:
		default:
			eb.logger.Warn("connectivity subscriber channel full, dropping event",
				"exchange", c.Exchange, "status", string(c.Status))
		}
	}
}

func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for id, ch := range eb.marketSubs {
		delete(eb.marketSubs, id)
		close(ch)
	}
	for id, ch := range eb.tradeSubs {
		delete(eb.tradeSubs, id)
		close(ch)
	}
	for id, ch := range eb.orderSubs {
		delete(eb.orderSubs, id)
		close(ch)
	}
	for id, ch := range eb.positionSubs {
		delete(eb.positionSubs, id)
		close(ch)
	}
	for id, ch := range eb.connectSubs {
		delete(eb.connectSubs, id)
		close(ch)
	}
}
