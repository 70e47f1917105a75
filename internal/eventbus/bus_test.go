package eventbus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanOutDeliversInOrder(t *testing.T) {
	bus := New(16, testLogger())
	defer bus.Close()

	ch1, sub1 := bus.SubscribeMarketTrade()
	defer sub1.Unsubscribe()
	ch2, sub2 := bus.SubscribeMarketTrade()
	defer sub2.Unsubscribe()

	for i := int64(1); i <= 3; i++ {
		bus.PublishMarketTrade(domain.MarketTrade{Price: decimal.NewFromInt(i)})
	}

	for _, ch := range []<-chan domain.MarketTrade{ch1, ch2} {
		for i := int64(1); i <= 3; i++ {
			got := <-ch
			if !got.Price.Equal(decimal.NewFromInt(i)) {
				t.Errorf("got trade %s, want %d (in publish order)", got.Price, i)
			}
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(16, testLogger())
	defer bus.Close()

	ch, sub := bus.SubscribeOrderUpdate()
	sub.Unsubscribe()

	bus.PublishOrderUpdate(domain.OrderStatusReport{OrderID: "x"})

	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	bus := New(16, testLogger())
	defer bus.Close()

	_, sub := bus.SubscribeMarket()
	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestUnsubscribeAfterCloseIsSafe(t *testing.T) {
	bus := New(16, testLogger())

	_, sub := bus.SubscribePosition()
	bus.Close()
	sub.Unsubscribe()
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	bus := New(16, testLogger())
	bus.Close()

	ch, sub := bus.SubscribeOrderUpdate()
	if _, open := <-ch; open {
		t.Error("channel from a closed bus should already be closed")
	}
	sub.Unsubscribe()

	mch, _ := bus.SubscribeMarket()
	if _, open := <-mch; open {
		t.Error("market channel from a closed bus should already be closed")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := New(1, testLogger())
	defer bus.Close()

	ch, sub := bus.SubscribeMarket()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.PublishMarket(domain.Market{Time: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// Exactly the buffered event survives.
	<-ch
	select {
	case <-ch:
		t.Error("expected overflow events to be dropped, not queued")
	default:
	}
}

func TestConnectChangedCarriesExchange(t *testing.T) {
	bus := New(4, testLogger())
	defer bus.Close()

	ch, sub := bus.SubscribeConnectChanged()
	defer sub.Unsubscribe()

	bus.PublishConnectChanged(ConnectChanged{Exchange: "CoinRoom", Status: domain.Disconnected})

	got := <-ch
	if got.Exchange != "CoinRoom" || got.Status != domain.Disconnected {
		t.Errorf("got %+v, want CoinRoom/Disconnected", got)
	}
}
