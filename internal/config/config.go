package config

import (
	"time"
)

type Config struct {
	System      SystemConfig           `mapstructure:"system" validate:"required"`
	Runtime     RuntimeConfig          `mapstructure:"runtime"`
	Pair        PairConfig             `mapstructure:"pair" validate:"required"`
	Venues      map[string]VenueConfig `mapstructure:"venues" validate:"required,dive"`
	Quoting     QuotingConfig          `mapstructure:"quoting" validate:"required"`
	Monitoring  MonitoringConfig       `mapstructure:"monitoring"`
	Persistence PersistenceConfig      `mapstructure:"persistence" validate:"required"`
}

type SystemConfig struct {
	InstanceID string `mapstructure:"instance_id" validate:"required"`
	DryRun     bool   `mapstructure:"dry_run"`
	LogLevel   string `mapstructure:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
}

type RuntimeConfig struct {
	GoMaxProcs int `mapstructure:"gomaxprocs" validate:"gte=0"`
	GOGC       int `mapstructure:"gogc" validate:"gte=0"`
}

type PairConfig struct {
	Base  string `mapstructure:"base" validate:"required"`
	Quote string `mapstructure:"quote" validate:"required"`
}

type VenueConfig struct {
	Enabled          bool            `mapstructure:"enabled"`
	RestURL          string          `mapstructure:"rest_url" validate:"required_if=Enabled true,omitempty,url"`
	WsURL            string          `mapstructure:"ws_url" validate:"omitempty,url"`
	OrderDestination bool            `mapstructure:"order_destination"`
	Markets          []string        `mapstructure:"markets"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
	Polling          PollingConfig   `mapstructure:"polling"`
	RequestTimeoutMs int             `mapstructure:"request_timeout_ms" validate:"gte=0"`
	ReadPoolSize     int             `mapstructure:"read_pool_size" validate:"gte=0"`
	WritePoolSize    int             `mapstructure:"write_pool_size" validate:"gte=0"`
}

func (c VenueConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

type RateLimitConfig struct {
	MaxRequests     int `mapstructure:"max_requests" validate:"required,gt=0"`
	DurationSeconds int `mapstructure:"duration_seconds" validate:"required,gt=0"`
}

func (c RateLimitConfig) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// Per-kind polling cadences; each can be tuned without affecting the others.
type PollingConfig struct {
	MarketDataMs  int `mapstructure:"market_data_ms" validate:"required,gt=0"`
	TradesMs      int `mapstructure:"trades_ms" validate:"required,gt=0"`
	OrderStatusMs int `mapstructure:"order_status_ms" validate:"gte=0"`
	PositionsMs   int `mapstructure:"positions_ms" validate:"gte=0"`
}

func (c PollingConfig) MarketDataInterval() time.Duration {
	return time.Duration(c.MarketDataMs) * time.Millisecond
}

func (c PollingConfig) TradesInterval() time.Duration {
	return time.Duration(c.TradesMs) * time.Millisecond
}

func (c PollingConfig) OrderStatusInterval() time.Duration {
	return time.Duration(c.OrderStatusMs) * time.Millisecond
}

func (c PollingConfig) PositionsInterval() time.Duration {
	return time.Duration(c.PositionsMs) * time.Millisecond
}

type QuotingConfig struct {
	LadderDepth  int     `mapstructure:"ladder_depth" validate:"required,gt=0"`
	SizeFraction float64 `mapstructure:"size_fraction" validate:"required,gt=0,lte=1"`
}

type MonitoringConfig struct {
	MetricsAddr   string   `mapstructure:"metrics_addr"`
	AlertChannels []string `mapstructure:"alert_channels"`
}

type PersistenceConfig struct {
	CheckpointDB string `mapstructure:"checkpoint_db" validate:"required"`
}
