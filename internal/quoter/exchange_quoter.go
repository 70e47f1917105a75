package quoter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/config"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

// QuotePlacement is one logical quote expanded into a ladder, addressed by
// the client order ids of its still-live children.
type QuotePlacement struct {
	Quote    domain.Quote
	OrderIDs map[string]struct{}
}

func (p *QuotePlacement) has(orderID string) bool {
	_, ok := p.OrderIDs[orderID]
	return ok
}

// ExchangeQuoter is the per-side state machine: no active placement, or
// exactly one. A modify is always expressed as cancel-everything then
// start-fresh, so the venue never holds two generations of the same quote.
type ExchangeQuoter struct {
	mu sync.Mutex

	broker OrderBroker
	conn   *gateway.CombinedGateway
	side   domain.Side

	depth        int
	sizeFraction decimal.Decimal

	active *QuotePlacement
	sent   []*QuotePlacement

	metrics *monitor.Metrics
	logger  *slog.Logger
}

func NewExchangeQuoter(broker OrderBroker, conn *gateway.CombinedGateway, side domain.Side, cfg config.QuotingConfig, metrics *monitor.Metrics, logger *slog.Logger) *ExchangeQuoter {
	return &ExchangeQuoter{
		broker:       broker,
		conn:         conn,
		side:         side,
		depth:        cfg.LadderDepth,
		sizeFraction: decimal.NewFromFloat(cfg.SizeFraction),
		metrics:      metrics,
		logger:       logger.With("side", string(side)),
	}
}

// ApplyConfig swaps in reloaded quoting parameters. The active placement is
// untouched; the next ladder is built with the new depth and fraction.
func (q *ExchangeQuoter) ApplyConfig(cfg config.QuotingConfig) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.depth = cfg.LadderDepth
	q.sizeFraction = decimal.NewFromFloat(cfg.SizeFraction)
}

// UpdateQuote replaces the side's quote. Disconnected venues produce
// UnableToSend with no side effects; callers retry when connectivity
// returns.
func (q *ExchangeQuoter) UpdateQuote(ctx context.Context, quote domain.Timestamped[domain.Quote]) domain.QuoteSent {
	if !q.conn.Connected() {
		return domain.QuoteSentUnableToSend
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil {
		q.stopLocked(ctx, quote.Time)
		q.startLocked(ctx, quote)
		q.countAction("modify")
		return domain.QuoteSentModify
	}

	q.startLocked(ctx, quote)
	q.countAction("first")
	return domain.QuoteSentFirst
}

// CancelQuote is the connectivity-gated wrapper around stop.
func (q *ExchangeQuoter) CancelQuote(ctx context.Context, t time.Time) domain.QuoteSent {
	if !q.conn.Connected() {
		return domain.QuoteSentUnableToSend
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopAndCount(ctx, t)
}

func (q *ExchangeQuoter) stopAndCount(ctx context.Context, t time.Time) domain.QuoteSent {
	result := q.stopLocked(ctx, t)
	if result == domain.QuoteSentDelete {
		q.countAction("delete")
	}
	return result
}

// startLocked expands the quote into its ladder, deepest level first. Child
// prices step one tick per level away from the touch; each child carries
// the configured fraction of the logical size.
func (q *ExchangeQuoter) startLocked(ctx context.Context, quote domain.Timestamped[domain.Quote]) {
	tick := q.conn.Details.MinTickIncrement()
	childQty := quote.Data.Size.Mul(q.sizeFraction)

	placement := &QuotePlacement{
		Quote:    quote.Data,
		OrderIDs: make(map[string]struct{}, q.depth),
	}

	for level := q.depth; level >= 1; level-- {
		offset := tick.Mul(decimal.NewFromInt(int64(level)))
		price := quote.Data.Price.Sub(offset)
		if q.side == domain.SideAsk {
			price = quote.Data.Price.Add(offset)
		}

		sent, err := q.broker.SendOrder(ctx, domain.SubmitNewOrder{
			Side:     q.side,
			Quantity: childQty,
			Price:    price,
			Type:     domain.OrderTypeLimit,
			TIF:      domain.TIFGoodTillCancel,
			Exchange: q.conn.Details.Exchange(),
			Time:     quote.Time,
			PostOnly: true,
			Source:   domain.OrderSourceQuote,
		})
		if err != nil {
			q.logger.Error("child order send failed",
				"level", level, "price", price.String(), "error", err)
			continue
		}
		placement.OrderIDs[sent.ClientID] = struct{}{}
	}

	q.sent = append(q.sent, placement)
	q.active = placement
	q.gaugeOpen()
}

func (q *ExchangeQuoter) stopLocked(ctx context.Context, t time.Time) domain.QuoteSent {
	if q.active == nil {
		return domain.QuoteSentUnsentDelete
	}

	for orderID := range q.active.OrderIDs {
		if err := q.broker.CancelOrder(ctx, domain.OrderCancel{
			OrderID:  orderID,
			Exchange: q.conn.Details.Exchange(),
			Time:     t,
		}); err != nil {
			q.logger.Error("child order cancel failed", "order_id", orderID, "error", err)
		}
	}

	q.active = nil
	q.gaugeOpen()
	return domain.QuoteSentDelete
}

// HandleOrderUpdate retires terminal children. Non-terminal transitions and
// fills never mutate placement membership; a working order stays owned until
// the venue says it is gone. Terminal updates for already-retired orders are
// harmless no-ops.
func (q *ExchangeQuoter) HandleOrderUpdate(report domain.OrderStatusReport) {
	if !report.OrderStatus.IsTerminal() {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil && q.active.has(report.OrderID) {
		delete(q.active.OrderIDs, report.OrderID)
		if len(q.active.OrderIDs) == 0 {
			q.active = nil
		}
		q.gaugeOpen()
	}

	kept := q.sent[:0]
	for _, placement := range q.sent {
		if !placement.has(report.OrderID) {
			kept = append(kept, placement)
		}
	}
	q.sent = kept
}

// QuotesSent returns a snapshot of the sent-quotes log.
func (q *ExchangeQuoter) QuotesSent() []QuotePlacement {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QuotePlacement, 0, len(q.sent))
	for _, placement := range q.sent {
		ids := make(map[string]struct{}, len(placement.OrderIDs))
		for id := range placement.OrderIDs {
			ids[id] = struct{}{}
		}
		out = append(out, QuotePlacement{Quote: placement.Quote, OrderIDs: ids})
	}
	return out
}

func (q *ExchangeQuoter) countAction(action string) {
	if q.metrics != nil {
		q.metrics.QuoteActionTotal.WithLabelValues(string(q.side), action).Inc()
	}
}

func (q *ExchangeQuoter) gaugeOpen() {
	if q.metrics == nil {
		return
	}
	n := 0
	if q.active != nil {
		n = len(q.active.OrderIDs)
	}
	q.metrics.OpenChildOrders.WithLabelValues(string(q.side)).Set(float64(n))
}
