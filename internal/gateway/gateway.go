package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/domain"
)

// The four exchange capabilities. One variant per venue implements each;
// a CombinedGateway bundles exactly one of each into a connection handle.

type MarketDataSource interface {
	RefreshBook(ctx context.Context) error
	RefreshTrades(ctx context.Context) error
}

type OrderEntrySink interface {
	SendOrder(ctx context.Context, report domain.OrderStatusReport)
	CancelOrder(ctx context.Context, report domain.OrderStatusReport)
	ReplaceOrder(ctx context.Context, report domain.OrderStatusReport)
	CancelAllOpenOrders(ctx context.Context) (int, error)
	DownloadTradeStatuses(ctx context.Context) error
	SupportsCancelAllOpenOrders() bool
	CancelsByClientOrderID() bool
	GenerateClientOrderID() string
}

type PositionSource interface {
	RefreshPositions(ctx context.Context) error
}

type ExchangeDetails interface {
	Name() string
	Exchange() string
	MakeFee() decimal.Decimal
	TakeFee() decimal.Decimal
	MinTickIncrement() decimal.Decimal
	MinLotIncrement() decimal.Decimal
	HasSelfTradePrevention() bool
}

// CombinedGateway is one exchange connection: exactly one of each capability
// plus connectivity state. Market-data-only venues carry a nil OrderEntry and
// PositionSource.
type CombinedGateway struct {
	MarketData MarketDataSource
	OrderEntry OrderEntrySink
	Positions  PositionSource
	Details    ExchangeDetails

	ConnectStatus func() domain.ConnectivityStatus
}

func (g *CombinedGateway) Connected() bool {
	return g.ConnectStatus != nil && g.ConnectStatus() == domain.Connected
}
