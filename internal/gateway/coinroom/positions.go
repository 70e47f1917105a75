package coinroom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/gateway"
)

// PositionGateway polls account balances. Each refresh publishes a full
// replacement snapshot per currency; consumers overwrite, never accumulate.
type PositionGateway struct {
	http   *gateway.SignedClient
	bus    *eventbus.EventBus
	logger *slog.Logger
}

func NewPositionGateway(http *gateway.SignedClient, bus *eventbus.EventBus, logger *slog.Logger) *PositionGateway {
	return &PositionGateway{http: http, bus: bus, logger: logger}
}

func (g *PositionGateway) RefreshPositions(ctx context.Context) error {
	resp, err := g.http.Get(ctx, "/api/v2/members/me", map[string]string{})
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}

	var account accountResponse
	if err := json.Unmarshal(resp.Body, &account); err != nil {
		return fmt.Errorf("parse account: %w", err)
	}

	for _, acct := range account.Accounts {
		amount, err := domain.ParseDecimal(acct.Balance)
		if err != nil {
			g.logger.Warn("bad balance in account response",
				"currency", acct.Currency, "value", acct.Balance)
			continue
		}
		held, err := domain.ParseDecimal(acct.Locked)
		if err != nil {
			g.logger.Warn("bad locked amount in account response",
				"currency", acct.Currency, "value", acct.Locked)
			continue
		}
		g.bus.PublishPosition(domain.CurrencyPosition{
			Amount:     amount,
			HeldAmount: held,
			Currency:   acct.Currency,
		})
	}

	return nil
}
