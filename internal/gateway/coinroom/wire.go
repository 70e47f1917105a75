package coinroom

import "github.com/crypto-trading/marketmaker/internal/domain"

// Raw REST payloads. Numeric fields arrive as strings except public trade
// prices and volumes, which the venue serializes as JSON numbers.

type bookLevel struct {
	Price     string `json:"price"`
	Volume    string `json:"volume"`
	CreatedAt string `json:"created_at"`
}

type orderBookResponse struct {
	Asks []bookLevel `json:"asks"`
	Bids []bookLevel `json:"bids"`
}

type marketTradeResponse struct {
	ID        int64   `json:"id"`
	CreatedAt int64   `json:"created_at"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Side      string  `json:"side"`
}

type newOrderResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type orderStatusResponse struct {
	ID              string `json:"id"`
	Market          string `json:"market"`
	Price           string `json:"price"`
	AvgPrice        string `json:"avg_price"`
	Side            string `json:"side"`
	OrdType         string `json:"ord_type"`
	State           string `json:"state"`
	ExecutedVolume  string `json:"executed_volume"`
	RemainingVolume string `json:"remaining_volume"`
	Volume          string `json:"volume"`
	Message         string `json:"message"`
}

type myTradeResponse struct {
	ID        int64  `json:"id"`
	Price     string `json:"price"`
	Volume    string `json:"volume"`
	CreatedAt int64  `json:"created_at"`
	Side      string `json:"side"`
	Market    string `json:"market"`
	OrderID   string `json:"order_id"`
}

type accountItem struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Locked   string `json:"locked"`
}

type accountResponse struct {
	SN       string        `json:"sn"`
	Name     string        `json:"name"`
	Email    string        `json:"email"`
	Accounts []accountItem `json:"accounts"`
}

type marketInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BaseUnit  string `json:"base_unit"`
	QuoteUnit string `json:"quote_unit"`
}

func decodeSide(side string) domain.Side {
	switch side {
	case "buy":
		return domain.SideBid
	case "sell":
		return domain.SideAsk
	}
	return domain.SideUnknown
}

func encodeSide(side domain.Side) string {
	switch side {
	case domain.SideBid:
		return "buy"
	case domain.SideAsk:
		return "sell"
	}
	return ""
}

// decodeOrderStatus maps venue order states onto canonical statuses. Any
// state outside the documented three is reported as Other rather than
// guessed at.
func decodeOrderStatus(state string) domain.OrderStatus {
	switch state {
	case "wait":
		return domain.OrderStatusWorking
	case "done":
		return domain.OrderStatusComplete
	case "cancel":
		return domain.OrderStatusCancelled
	}
	return domain.OrderStatusOther
}
