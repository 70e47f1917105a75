package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// Venue symbol conventions: both CoinRoom and CryptoWatch address markets by
// the lowercased concatenation of the pair ("btcusdt").
func CoinRoomSymbol(pair CurrencyPair) string {
	return strings.ToLower(pair.Base) + strings.ToLower(pair.Quote)
}

func CryptoWatchSymbol(pair CurrencyPair) string {
	return strings.ToLower(pair.Base) + strings.ToLower(pair.Quote)
}
