package coinroom

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string) *gateway.SignedClient {
	t.Helper()
	logger := testLogger()
	clk := clock.New()
	rl := gateway.NewRateLimitMonitor(1000, time.Minute, clk, nil, logger)
	return gateway.NewSignedClient(gateway.SignedClientConfig{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		APISecret: "test-secret",
	}, rl, nil, clk, logger)
}

func TestDecodeOrderStatus(t *testing.T) {
	cases := []struct {
		state string
		want  domain.OrderStatus
	}{
		{"wait", domain.OrderStatusWorking},
		{"done", domain.OrderStatusComplete},
		{"cancel", domain.OrderStatusCancelled},
		{"rejected", domain.OrderStatusOther},
		{"", domain.OrderStatusOther},
	}
	for _, tc := range cases {
		if got := decodeOrderStatus(tc.state); got != tc.want {
			t.Errorf("decodeOrderStatus(%q) = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestDecodeSide(t *testing.T) {
	if decodeSide("buy") != domain.SideBid {
		t.Error("buy should decode to bid")
	}
	if decodeSide("sell") != domain.SideAsk {
		t.Error("sell should decode to ask")
	}
	if decodeSide("weird") != domain.SideUnknown {
		t.Error("unrecognized side should decode to unknown")
	}
}

func TestMarketDataGateway_RefreshBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/order_book" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("market"); got != "btcusdt" {
			t.Errorf("market = %q, want btcusdt", got)
		}
		w.Write([]byte(`{
			"bids": [{"price": "100.0", "volume": "5"}, {"price": "99.5", "volume": "2"}],
			"asks": [{"price": "100.5", "volume": "1"}]
		}`))
	}))
	defer srv.Close()

	bus := eventbus.New(16, testLogger())
	g := NewMarketDataGateway(newTestClient(t, srv.URL), bus, "btcusdt", nil, testLogger())

	books, sub := bus.SubscribeMarket()
	defer sub.Unsubscribe()

	if err := g.RefreshBook(context.Background()); err != nil {
		t.Fatalf("RefreshBook: %v", err)
	}

	book := <-books
	if len(book.Bids) != 2 || len(book.Asks) != 1 {
		t.Fatalf("got %d bids %d asks, want 2 and 1", len(book.Bids), len(book.Asks))
	}
	if book.Bids[0].Venue != venueTag {
		t.Errorf("bid venue = %q, want %q", book.Bids[0].Venue, venueTag)
	}
	if !book.Bids[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("best bid = %s, want 100", book.Bids[0].Price)
	}
}

func TestMarketDataGateway_TradeWatermark(t *testing.T) {
	var gotParams []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if from := q.Get("from"); from != "" {
			gotParams = append(gotParams, "from="+from)
			w.Write([]byte(`[]`))
			return
		}
		gotParams = append(gotParams, "limit="+q.Get("limit"))
		w.Write([]byte(`[
			{"id": 7, "created_at": 1700000000000, "price": 100.5, "volume": 0.3, "side": "buy"},
			{"id": 5, "created_at": 1699999999000, "price": 100.0, "volume": 1.0, "side": "sell"}
		]`))
	}))
	defer srv.Close()

	bus := eventbus.New(16, testLogger())
	g := NewMarketDataGateway(newTestClient(t, srv.URL), bus, "btcusdt", nil, testLogger())

	trades, sub := bus.SubscribeMarketTrade()
	defer sub.Unsubscribe()

	if err := g.RefreshTrades(context.Background()); err != nil {
		t.Fatalf("first RefreshTrades: %v", err)
	}

	// Oldest first regardless of response order, all flagged as startup
	// back-fill.
	first := <-trades
	second := <-trades
	if !first.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("first emitted trade price = %s, want 100 (oldest)", first.Price)
	}
	if !first.FirstSinceStartup || !second.FirstSinceStartup {
		t.Error("first batch must be flagged FirstSinceStartup")
	}
	if first.Side != domain.SideAsk || second.Side != domain.SideBid {
		t.Errorf("sides = %v, %v", first.Side, second.Side)
	}

	if err := g.RefreshTrades(context.Background()); err != nil {
		t.Fatalf("second RefreshTrades: %v", err)
	}

	if len(gotParams) != 2 {
		t.Fatalf("got %d requests, want 2", len(gotParams))
	}
	if gotParams[0] != "limit=30" {
		t.Errorf("first request %q, want limit=30", gotParams[0])
	}
	if gotParams[1] != "from=7" {
		t.Errorf("second request %q, want from=7 (highest seen id)", gotParams[1])
	}
}

func TestOrderEntryGateway_SendOrderAckFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("side"); got != "buy" {
			t.Errorf("side = %q, want buy", got)
		}
		if got := r.PostForm.Get("volume"); got != "2" {
			t.Errorf("volume = %q, want 2", got)
		}
		w.Write([]byte(`{"id": "ex-42"}`))
	}))
	defer srv.Close()

	bus := eventbus.New(16, testLogger())
	g, err := NewOrderEntryGateway(newTestClient(t, srv.URL), bus, "btcusdt", nil, nil, clock.New(), nil, testLogger())
	if err != nil {
		t.Fatalf("NewOrderEntryGateway: %v", err)
	}

	updates, sub := bus.SubscribeOrderUpdate()
	defer sub.Unsubscribe()

	g.SendOrder(context.Background(), domain.OrderStatusReport{
		OrderID:  "client-1",
		Side:     domain.SideBid,
		Price:    decimal.NewFromInt(100),
		Quantity: decimal.NewFromInt(2),
		Time:     time.Now(),
	})

	// Latency-only report arrives before the network ack.
	latency := <-updates
	if latency.OrderID != "client-1" || latency.OrderStatus != "" {
		t.Errorf("first update = %+v, want latency-only for client-1", latency)
	}
	if latency.ExchangeID != "" {
		t.Error("latency-only report must not carry an exchange id")
	}

	ack := <-updates
	if ack.OrderStatus != domain.OrderStatusNew {
		t.Errorf("ack status = %v, want New", ack.OrderStatus)
	}
	if ack.ExchangeID != "ex-42" {
		t.Errorf("ack exchange id = %q, want ex-42", ack.ExchangeID)
	}
}

func TestOrderEntryGateway_SendOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "insufficient balance"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	bus := eventbus.New(16, testLogger())
	g, err := NewOrderEntryGateway(newTestClient(t, srv.URL), bus, "btcusdt", nil, nil, clock.New(), nil, testLogger())
	if err != nil {
		t.Fatalf("NewOrderEntryGateway: %v", err)
	}

	updates, sub := bus.SubscribeOrderUpdate()
	defer sub.Unsubscribe()

	g.SendOrder(context.Background(), domain.OrderStatusReport{
		OrderID: "client-2", Side: domain.SideAsk,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
		Time: time.Now(),
	})

	<-updates // latency-only
	rejected := <-updates
	if rejected.OrderStatus != domain.OrderStatusRejected {
		t.Errorf("status = %v, want Rejected", rejected.OrderStatus)
	}
}

func TestOrderEntryGateway_CancelAllOpenOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/orders/clear" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"id": "o-1", "state": "cancel", "remaining_volume": "1.5"},
			{"id": "o-2", "state": "cancel", "remaining_volume": "0.25"}
		]`))
	}))
	defer srv.Close()

	bus := eventbus.New(16, testLogger())
	g, err := NewOrderEntryGateway(newTestClient(t, srv.URL), bus, "btcusdt", nil, nil, clock.New(), nil, testLogger())
	if err != nil {
		t.Fatalf("NewOrderEntryGateway: %v", err)
	}

	updates, sub := bus.SubscribeOrderUpdate()
	defer sub.Unsubscribe()

	n, err := g.CancelAllOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("CancelAllOpenOrders: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled %d, want 2", n)
	}

	u1 := <-updates
	if u1.OrderStatus != domain.OrderStatusCancelled {
		t.Errorf("status = %v, want Cancelled", u1.OrderStatus)
	}
	if !u1.LeavesQuantity.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("leaves = %s, want 1.5", u1.LeavesQuantity)
	}
}

func TestValidatePair_UnknownMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": "ethusdt", "base_unit": "eth", "quote_unit": "usdt"}]`))
	}))
	defer srv.Close()

	pair := domain.CurrencyPair{Base: "BTC", Quote: "USDT"}
	err := validatePair(context.Background(), newTestClient(t, srv.URL), domain.CoinRoomSymbol(pair), pair)
	if err == nil {
		t.Fatal("expected error for unlisted pair")
	}
}
