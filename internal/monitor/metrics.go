package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	APIRequestTotal  *prometheus.CounterVec
	APIErrorTotal    *prometheus.CounterVec
	RateLimitBreach  prometheus.Counter
	WSReconnectTotal *prometheus.CounterVec

	OrderSubmitTotal *prometheus.CounterVec
	OrderCancelTotal *prometheus.CounterVec
	OrderRejectTotal *prometheus.CounterVec
	OrderAckLatency  *prometheus.HistogramVec

	QuoteActionTotal   *prometheus.CounterVec
	OpenChildOrders    *prometheus.GaugeVec
	BookLevels         *prometheus.GaugeVec
	TradesEmittedTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		APIRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_request_total",
			Help: "Total outbound exchange API requests",
		}, []string{"method", "path"}),

		APIErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_error_total",
			Help: "Total failed exchange API requests",
		}, []string{"method", "path"}),

		RateLimitBreach: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_breach_total",
			Help: "Times the soft request-rate window was exceeded",
		}),

		WSReconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_reconnect_total",
			Help: "Total websocket reconnections",
		}, []string{"exchange"}),

		OrderSubmitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_submit_total",
			Help: "Total order submissions",
		}, []string{"exchange", "side"}),

		OrderCancelTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_cancel_total",
			Help: "Total order cancellations",
		}, []string{"exchange"}),

		OrderRejectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_reject_total",
			Help: "Total order rejections",
		}, []string{"exchange", "reason"}),

		OrderAckLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "order_ack_latency_ms",
			Help:    "Latency from order dispatch to exchange acknowledgement",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"exchange"}),

		QuoteActionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quote_action_total",
			Help: "Quote actions taken per side",
		}, []string{"side", "action"}),

		OpenChildOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "open_child_orders",
			Help: "Live child orders belonging to the active quote placement",
		}, []string{"side"}),

		BookLevels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "book_levels",
			Help: "Levels in the last emitted market snapshot",
		}, []string{"exchange", "side"}),

		TradesEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_trades_emitted_total",
			Help: "Canonical market trade events emitted",
		}, []string{"exchange"}),
	}

	reg.MustRegister(
		m.APIRequestTotal,
		m.APIErrorTotal,
		m.RateLimitBreach,
		m.WSReconnectTotal,
		m.OrderSubmitTotal,
		m.OrderCancelTotal,
		m.OrderRejectTotal,
		m.OrderAckLatency,
		m.QuoteActionTotal,
		m.OpenChildOrders,
		m.BookLevels,
		m.TradesEmittedTotal,
	)

	return m
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
