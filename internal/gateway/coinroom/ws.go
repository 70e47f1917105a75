package coinroom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/monitor"
)

// wsClient streams book snapshots and trades over the venue websocket,
// complementing the REST poll with lower-latency updates. Both paths feed
// the same bus topics; consumers treat every book event as a snapshot so
// interleaving is harmless.
type wsClient struct {
	url    string
	symbol string
	conn   *websocket.Conn
	mu     sync.Mutex

	bus     *eventbus.EventBus
	onState func(domain.ConnectivityStatus)

	reconnectBase time.Duration
	reconnectMax  time.Duration
	maxFailures   int

	metrics *monitor.Metrics
	logger  *slog.Logger
}

func newWSClient(url, symbol string, bus *eventbus.EventBus, onState func(domain.ConnectivityStatus), metrics *monitor.Metrics, logger *slog.Logger) *wsClient {
	return &wsClient{
		url:           url,
		symbol:        symbol,
		bus:           bus,
		onState:       onState,
		reconnectBase: 100 * time.Millisecond,
		reconnectMax:  30 * time.Second,
		maxFailures:   5,
		metrics:       metrics,
		logger:        logger,
	}
}

func (ws *wsClient) connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, ws.url, nil)
	if err != nil {
		return fmt.Errorf("websocket connect to %s: %w", ws.url, err)
	}
	ws.conn = conn

	sub := map[string]interface{}{
		"event":    "subscribe",
		"channels": []string{"orderbook", "trades"},
		"market":   ws.symbol,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		ws.conn = nil
		return fmt.Errorf("websocket subscribe: %w", err)
	}

	ws.logger.Info("websocket connected", "url", ws.url, "market", ws.symbol)
	return nil
}

func (ws *wsClient) reconnect(ctx context.Context) error {
	if ws.onState != nil {
		ws.onState(domain.Disconnected)
	}

	delay := ws.reconnectBase
	for i := 0; i < ws.maxFailures; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if ws.metrics != nil {
			ws.metrics.WSReconnectTotal.WithLabelValues(exchangeName).Inc()
		}
		if err := ws.connect(ctx); err != nil {
			ws.logger.Warn("reconnect attempt failed", "attempt", i+1, "error", err)
			delay *= 2
			if delay > ws.reconnectMax {
				delay = ws.reconnectMax
			}
			continue
		}
		if ws.onState != nil {
			ws.onState(domain.Connected)
		}
		return nil
	}
	return fmt.Errorf("failed to reconnect after %d attempts", ws.maxFailures)
}

func (ws *wsClient) readPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ws.mu.Lock()
		conn := ws.conn
		ws.mu.Unlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			ws.logger.Error("websocket read error", "error", err)
			if reconnErr := ws.reconnect(ctx); reconnErr != nil {
				ws.logger.Error("reconnection failed permanently", "error", reconnErr)
				return
			}
			continue
		}

		ws.handleMessage(message)
	}
}

type wsBookMessage struct {
	Channel string      `json:"channel"`
	Market  string      `json:"market"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

type wsTradeMessage struct {
	Channel   string  `json:"channel"`
	Market    string  `json:"market"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	CreatedAt int64   `json:"created_at"`
	Side      string  `json:"side"`
}

func (ws *wsClient) handleMessage(msg []byte) {
	var envelope struct {
		Channel string `json:"channel"`
		Market  string `json:"market"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		ws.logger.Warn("failed to parse websocket message", "error", err)
		return
	}
	if envelope.Market != ws.symbol {
		return
	}

	switch envelope.Channel {
	case "orderbook":
		ws.handleBookMessage(msg)
	case "trades":
		ws.handleTradeMessage(msg)
	}
}

func (ws *wsClient) handleBookMessage(msg []byte) {
	var book wsBookMessage
	if err := json.Unmarshal(msg, &book); err != nil {
		ws.logger.Warn("failed to parse book message", "error", err)
		return
	}

	bids, err := convertLevels(book.Bids)
	if err != nil {
		ws.logger.Warn("bad bid levels in stream", "error", err)
		return
	}
	asks, err := convertLevels(book.Asks)
	if err != nil {
		ws.logger.Warn("bad ask levels in stream", "error", err)
		return
	}

	ws.bus.PublishMarket(domain.Market{Bids: bids, Asks: asks, Time: time.Now().UTC()})
}

func (ws *wsClient) handleTradeMessage(msg []byte) {
	var trade wsTradeMessage
	if err := json.Unmarshal(msg, &trade); err != nil {
		ws.logger.Warn("failed to parse trade message", "error", err)
		return
	}

	ws.bus.PublishMarketTrade(domain.MarketTrade{
		Price: decimal.NewFromFloat(trade.Price),
		Size:  decimal.NewFromFloat(trade.Volume),
		Time:  time.UnixMilli(trade.CreatedAt).UTC(),
		Side:  decodeSide(trade.Side),
	})
	if ws.metrics != nil {
		ws.metrics.TradesEmittedTotal.WithLabelValues(exchangeName).Inc()
	}
}

func (ws *wsClient) close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn != nil {
		return ws.conn.Close()
	}
	return nil
}
