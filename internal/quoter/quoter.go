// Package quoter turns one-sided logical quotes into ladders of resting
// child orders and keeps them addressable as a single cancel/replace unit.
package quoter

import (
	"context"
	"log/slog"

	"github.com/crypto-trading/marketmaker/internal/config"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

// OrderBroker is the command surface the quoter drives. It never talks to
// an exchange connection directly.
type OrderBroker interface {
	SendOrder(ctx context.Context, cmd domain.SubmitNewOrder) (domain.SentOrder, error)
	CancelOrder(ctx context.Context, cancel domain.OrderCancel) error
}

// Quoter owns one ExchangeQuoter per side and fans broker order updates out
// to both. The two sides are fully independent state machines.
type Quoter struct {
	bid *ExchangeQuoter
	ask *ExchangeQuoter

	updates <-chan domain.OrderStatusReport
	unsub   func()
}

// UpdateSubscriber hands out the broker's resolved order update stream.
type UpdateSubscriber interface {
	Subscribe() (<-chan domain.OrderStatusReport, func())
}

func New(broker OrderBroker, subs UpdateSubscriber, conn *gateway.CombinedGateway, cfg config.QuotingConfig, metrics *monitor.Metrics, logger *slog.Logger) *Quoter {
	updates, unsub := subs.Subscribe()
	return &Quoter{
		bid:     NewExchangeQuoter(broker, conn, domain.SideBid, cfg, metrics, logger),
		ask:     NewExchangeQuoter(broker, conn, domain.SideAsk, cfg, metrics, logger),
		updates: updates,
		unsub:   unsub,
	}
}

func (q *Quoter) UpdateQuote(ctx context.Context, quote domain.Timestamped[domain.Quote], side domain.Side) domain.QuoteSent {
	switch side {
	case domain.SideAsk:
		return q.ask.UpdateQuote(ctx, quote)
	case domain.SideBid:
		return q.bid.UpdateQuote(ctx, quote)
	}
	return domain.QuoteSentUnableToSend
}

func (q *Quoter) CancelQuote(ctx context.Context, side domain.Timestamped[domain.Side]) domain.QuoteSent {
	switch side.Data {
	case domain.SideAsk:
		return q.ask.CancelQuote(ctx, side.Time)
	case domain.SideBid:
		return q.bid.CancelQuote(ctx, side.Time)
	}
	return domain.QuoteSentUnableToSend
}

// QuotesSent reports the historical placements for one side that still have
// at least one live order.
func (q *Quoter) QuotesSent(side domain.Side) []QuotePlacement {
	switch side {
	case domain.SideAsk:
		return q.ask.QuotesSent()
	case domain.SideBid:
		return q.bid.QuotesSent()
	}
	return nil
}

// Run consumes order updates until the broker subscription closes. Both
// sides see every update; each ignores orders it does not own.
// ApplyConfig pushes reloaded quoting parameters to both sides.
func (q *Quoter) ApplyConfig(cfg config.QuotingConfig) {
	q.bid.ApplyConfig(cfg)
	q.ask.ApplyConfig(cfg)
}

func (q *Quoter) Run() {
	for report := range q.updates {
		q.bid.HandleOrderUpdate(report)
		q.ask.HandleOrderUpdate(report)
	}
}

func (q *Quoter) Stop() {
	q.unsub()
}
