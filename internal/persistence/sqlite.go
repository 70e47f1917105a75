package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore holds the trade-reconciliation watermarks and a local order
// audit log. Watermarks survive restarts so the order gateway never replays
// already-confirmed fills.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trade_watermarks (
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			last_trade_id INTEGER NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (exchange, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS order_log (
			client_id TEXT PRIMARY KEY,
			exchange_id TEXT,
			exchange TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SaveWatermark(exchange, symbol string, lastTradeID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO trade_watermarks (exchange, symbol, last_trade_id, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(exchange, symbol) DO UPDATE SET
		   last_trade_id = excluded.last_trade_id,
		   updated_at = CURRENT_TIMESTAMP`,
		exchange, symbol, lastTradeID,
	)
	return err
}

// LoadWatermark returns 0 when no watermark has been recorded yet.
func (s *SQLiteStore) LoadWatermark(exchange, symbol string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT last_trade_id FROM trade_watermarks WHERE exchange = ? AND symbol = ?",
		exchange, symbol,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return id, nil
}

type OrderLogEntry struct {
	ClientID   string
	ExchangeID string
	Exchange   string
	Side       string
	Price      string
	Quantity   string
	Status     string
	Source     string
}

func (s *SQLiteStore) WriteOrderLog(e OrderLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO order_log (client_id, exchange_id, exchange, side, price, quantity, status, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET
		   exchange_id = CASE WHEN excluded.exchange_id != '' THEN excluded.exchange_id ELSE order_log.exchange_id END,
		   status = excluded.status,
		   updated_at = CURRENT_TIMESTAMP`,
		e.ClientID, e.ExchangeID, e.Exchange, e.Side, e.Price, e.Quantity, e.Status, e.Source,
	)
	return err
}

func (s *SQLiteStore) CleanupOldOrders(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	_, err := s.db.Exec(
		"DELETE FROM order_log WHERE updated_at < ?",
		cutoff,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
