package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBid     Side = "BID"
	SideAsk     Side = "ASK"
	SideUnknown Side = "UNKNOWN"
)

// Opposite returns the other quoting side; Unknown maps to itself.
func (s Side) Opposite() Side {
	switch s {
	case SideBid:
		return SideAsk
	case SideAsk:
		return SideBid
	}
	return SideUnknown
}

type ConnectivityStatus string

const (
	Connected    ConnectivityStatus = "CONNECTED"
	Disconnected ConnectivityStatus = "DISCONNECTED"
)

type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusWorking   OrderStatus = "WORKING"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusComplete  OrderStatus = "COMPLETE"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusOther     OrderStatus = "OTHER"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusComplete ||
		s == OrderStatusRejected || s == OrderStatusOther
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
)

type OrderSource string

const (
	OrderSourceQuote  OrderSource = "QUOTE"
	OrderSourceManual OrderSource = "MANUAL"
)

// QuoteSent reports the action a quoter actually took, which may diverge
// from what the caller requested (e.g. UnsentDelete for a redundant stop).
type QuoteSent int

const (
	QuoteSentFirst QuoteSent = iota
	QuoteSentModify
	QuoteSentDelete
	QuoteSentUnsentDelete
	QuoteSentUnableToSend
)

func (q QuoteSent) String() string {
	switch q {
	case QuoteSentFirst:
		return "First"
	case QuoteSentModify:
		return "Modify"
	case QuoteSentDelete:
		return "Delete"
	case QuoteSentUnsentDelete:
		return "UnsentDelete"
	case QuoteSentUnableToSend:
		return "UnableToSend"
	}
	return "Unknown"
}

// Timestamped pairs a value with its capture time.
type Timestamped[T any] struct {
	Data T
	Time time.Time
}

func NewTimestamped[T any](data T, t time.Time) Timestamped[T] {
	return Timestamped[T]{Data: data, Time: t}
}

// MarketSide is one price level of an order book, tagged with the venue it
// came from so merged composite books stay attributable.
type MarketSide struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Venue string
}

// Market is a book snapshot. After a composite merge bids are sorted best
// (highest) first and asks best (lowest) first; raw single-venue output
// carries whatever order the exchange returned.
type Market struct {
	Bids []MarketSide
	Asks []MarketSide
	Time time.Time
}

func (m *Market) BestBid() (MarketSide, bool) {
	if len(m.Bids) == 0 {
		return MarketSide{}, false
	}
	return m.Bids[0], true
}

func (m *Market) BestAsk() (MarketSide, bool) {
	if len(m.Asks) == 0 {
		return MarketSide{}, false
	}
	return m.Asks[0], true
}

// MarketTrade is a public trade observed on a venue. FirstSinceStartup marks
// trades in the first batch fetched after the gateway came up, so consumers
// can avoid treating back-filled history as fresh activity.
type MarketTrade struct {
	Price             decimal.Decimal
	Size              decimal.Decimal
	Time              time.Time
	FirstSinceStartup bool
	Side              Side
}

// Quote is a one-sided logical price/size intent. It is not itself a resting
// order; the quoter expands it into a ladder of child orders.
type Quote struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderStatusReport is the canonical order snapshot emitted on every order
// lifecycle transition. Partial updates leave untouched fields zero-valued;
// latency-only reports carry early local telemetry before the network
// round-trip completes.
type OrderStatusReport struct {
	OrderID              string
	ExchangeID           string
	Side                 Side
	Price                decimal.Decimal
	Quantity             decimal.Decimal
	LastPrice            decimal.Decimal
	LastQuantity         decimal.Decimal
	LeavesQuantity       decimal.Decimal
	CumQuantity          decimal.Decimal
	AveragePrice         decimal.Decimal
	OrderStatus          OrderStatus
	Time                 time.Time
	ComputationalLatency time.Duration
}

// SubmitNewOrder is the command the quoter hands to the order broker.
type SubmitNewOrder struct {
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Type     OrderType
	TIF      TimeInForce
	Exchange string
	Time     time.Time
	PostOnly bool
	Source   OrderSource
}

type OrderCancel struct {
	OrderID    string
	ExchangeID string
	Exchange   string
	Time       time.Time
}

// SentOrder acknowledges a broker send with the assigned client order id.
type SentOrder struct {
	ClientID string
}

// CurrencyPosition is a full replacement snapshot for one currency.
// HeldAmount is the portion locked in open orders.
type CurrencyPosition struct {
	Amount     decimal.Decimal
	HeldAmount decimal.Decimal
	Currency   string
}

type CurrencyPair struct {
	Base  string
	Quote string
}

func (p CurrencyPair) String() string {
	return p.Base + "/" + p.Quote
}
