package persistence

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWatermarkRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveWatermark("CoinRoom", "btcusdt", 42); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}

	got, err := store.LoadWatermark("CoinRoom", "btcusdt")
	if err != nil {
		t.Fatalf("LoadWatermark: %v", err)
	}
	if got != 42 {
		t.Errorf("watermark = %d, want 42", got)
	}
}

func TestWatermarkUpsert(t *testing.T) {
	store := newTestStore(t)

	store.SaveWatermark("CoinRoom", "btcusdt", 10)
	if err := store.SaveWatermark("CoinRoom", "btcusdt", 99); err != nil {
		t.Fatalf("second SaveWatermark: %v", err)
	}

	got, _ := store.LoadWatermark("CoinRoom", "btcusdt")
	if got != 99 {
		t.Errorf("watermark = %d, want the replacement 99", got)
	}
}

func TestWatermarkAbsentIsZero(t *testing.T) {
	store := newTestStore(t)

	got, err := store.LoadWatermark("CoinRoom", "ethusdt")
	if err != nil {
		t.Fatalf("LoadWatermark: %v", err)
	}
	if got != 0 {
		t.Errorf("watermark = %d, want 0 for unseen market", got)
	}
}

func TestWatermarksAreKeyedPerMarket(t *testing.T) {
	store := newTestStore(t)

	store.SaveWatermark("CoinRoom", "btcusdt", 5)
	store.SaveWatermark("CoinRoom", "ethusdt", 7)

	btc, _ := store.LoadWatermark("CoinRoom", "btcusdt")
	eth, _ := store.LoadWatermark("CoinRoom", "ethusdt")
	if btc != 5 || eth != 7 {
		t.Errorf("watermarks = %d, %d, want 5 and 7", btc, eth)
	}
}

func TestOrderLogUpsertKeepsExchangeID(t *testing.T) {
	store := newTestStore(t)

	err := store.WriteOrderLog(OrderLogEntry{
		ClientID: "c-1", ExchangeID: "ex-1", Exchange: "CoinRoom",
		Side: "BID", Price: "100", Quantity: "2", Status: "WORKING", Source: "QUOTE",
	})
	if err != nil {
		t.Fatalf("WriteOrderLog: %v", err)
	}

	// Later updates often lack the exchange id; the stored one must survive.
	err = store.WriteOrderLog(OrderLogEntry{
		ClientID: "c-1", Exchange: "CoinRoom",
		Side: "BID", Price: "100", Quantity: "2", Status: "COMPLETE", Source: "QUOTE",
	})
	if err != nil {
		t.Fatalf("second WriteOrderLog: %v", err)
	}

	var exchangeID, status string
	err = store.db.QueryRow(
		"SELECT exchange_id, status FROM order_log WHERE client_id = ?", "c-1",
	).Scan(&exchangeID, &status)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if exchangeID != "ex-1" {
		t.Errorf("exchange_id = %q, want ex-1 preserved", exchangeID)
	}
	if status != "COMPLETE" {
		t.Errorf("status = %q, want COMPLETE", status)
	}
}

func TestAsyncWriterPersistsWatermarks(t *testing.T) {
	store := newTestStore(t)
	w := NewAsyncWriter(store, 8, testLogger())
	w.Run()

	w.Write(WriteRequest{
		Type:      WriteTypeWatermark,
		Watermark: WatermarkUpdate{Exchange: "CoinRoom", Symbol: "btcusdt", LastTradeID: 77},
	})
	w.Stop()

	got, err := store.LoadWatermark("CoinRoom", "btcusdt")
	if err != nil {
		t.Fatalf("LoadWatermark: %v", err)
	}
	if got != 77 {
		t.Errorf("watermark = %d, want 77 after writer drain", got)
	}
}

func TestCleanupOldOrdersKeepsRecent(t *testing.T) {
	store := newTestStore(t)

	store.WriteOrderLog(OrderLogEntry{ClientID: "c-1", Exchange: "CoinRoom", Status: "WORKING"})
	if err := store.CleanupOldOrders(24 * time.Hour); err != nil {
		t.Fatalf("CleanupOldOrders: %v", err)
	}

	var n int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM order_log").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1 (fresh row survives cleanup)", n)
	}
}
