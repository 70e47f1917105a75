package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/crypto-trading/marketmaker/internal/clock"
	"github.com/crypto-trading/marketmaker/internal/config"
	"github.com/crypto-trading/marketmaker/internal/domain"
	"github.com/crypto-trading/marketmaker/internal/eventbus"
	"github.com/crypto-trading/marketmaker/internal/gateway"
	"github.com/crypto-trading/marketmaker/internal/gateway/coinroom"
	"github.com/crypto-trading/marketmaker/internal/gateway/cryptowatch"
	"github.com/crypto-trading/marketmaker/internal/gateway/simulated"
	"github.com/crypto-trading/marketmaker/internal/monitor"
	"github.com/crypto-trading/marketmaker/internal/order"
	"github.com/crypto-trading/marketmaker/internal/persistence"
	"github.com/crypto-trading/marketmaker/internal/quoter"
)

const orderLogRetention = 7 * 24 * time.Hour

// venue pairs a connection handle with its lifecycle hooks, so shutdown can
// walk every gateway uniformly regardless of variant.
type venue struct {
	name    string
	gw      *gateway.CombinedGateway
	polling config.PollingConfig
	start   func(ctx context.Context) error
	close   func() error
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	confirmLive := flag.Bool("confirm-live", false, "Confirm live order submission")
	flag.Parse()

	logger := initLogger("INFO")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = initLogger(cfg.System.LogLevel)
	logger.Info("configuration loaded",
		"instance_id", cfg.System.InstanceID,
		"dry_run", cfg.System.DryRun,
	)

	if !cfg.System.DryRun {
		if !*confirmLive {
			logger.Error("LIVE order submission requires --confirm-live flag")
			os.Exit(1)
		}
		logger.Warn("=== LIVE ORDER SUBMISSION ACTIVE ===")
	}

	configureRuntime(cfg.Runtime, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	metrics := monitor.NewMetrics(prometheus.DefaultRegisterer)

	tracerShutdown, err := monitor.InitTracer(cfg.System.InstanceID, logger)
	if err != nil {
		logger.Warn("failed to initialize tracer", "error", err)
	}

	alertMgr := monitor.NewAlertManager(cfg.Monitoring.AlertChannels, logger)

	bus := eventbus.New(1024, logger)

	store, err := persistence.NewSQLiteStore(cfg.Persistence.CheckpointDB, logger)
	if err != nil {
		logger.Error("failed to initialize SQLite store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	writer := persistence.NewAsyncWriter(store, 10000, logger)
	writer.Run()

	clk := clock.New()
	pair := domain.CurrencyPair{Base: cfg.Pair.Base, Quote: cfg.Pair.Quote}

	venues, err := buildVenues(ctx, cfg, pair, bus, store, writer, clk, metrics, logger)
	if err != nil {
		logger.Error("failed to build venue gateways", "error", err)
		os.Exit(1)
	}
	if len(venues) == 0 {
		logger.Error("no venues enabled")
		os.Exit(1)
	}

	orderGW := findOrderDestination(venues)
	if orderGW == nil {
		logger.Error("no order destination venue configured")
		os.Exit(1)
	}

	broker := order.NewBroker(orderGW, bus, writer, clk, metrics, logger)
	go broker.Run()

	quotingEngine := quoter.New(broker, broker, orderGW, cfg.Quoting, metrics, logger)
	go quotingEngine.Run()

	go watchConnectivity(ctx, bus, alertMgr)

	for _, v := range venues {
		if v.start == nil {
			continue
		}
		if err := v.start(ctx); err != nil {
			logger.Error("failed to start venue gateway", "venue", v.name, "error", err)
			os.Exit(1)
		}
		logger.Info("venue started", "venue", v.name)
	}

	pollers := startPollers(ctx, venues, clk, logger)

	go runOrderLogJanitor(ctx, store, clk, logger)

	go startMetricsServer(cfg.Monitoring.MetricsAddr, logger)

	if err := config.WatchAndReload(*configPath, func(newCfg *config.Config) {
		quotingEngine.ApplyConfig(newCfg.Quoting)
		logger.Info("configuration reloaded")
	}); err != nil {
		logger.Warn("config hot-reload setup failed", "error", err)
	}

	logger.Info("market maker started",
		"instance_id", cfg.System.InstanceID,
		"pair", pair.String(),
		"venues", len(venues),
	)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, p := range pollers {
		p.Stop()
	}

	quotingEngine.Stop()

	if n, err := broker.CancelAllOpenOrders(shutdownCtx); err != nil {
		logger.Error("failed to cancel open orders on shutdown", "error", err)
	} else if n > 0 {
		logger.Info("cancelled open orders on shutdown", "count", n)
	}

	for _, v := range venues {
		if v.close == nil {
			continue
		}
		if err := v.close(); err != nil {
			logger.Error("failed to close venue gateway", "venue", v.name, "error", err)
		}
	}

	broker.Stop()
	bus.Close()
	writer.Stop()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracer", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func initLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func configureRuntime(cfg config.RuntimeConfig, logger *slog.Logger) {
	if cfg.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.GoMaxProcs)
	}
	if cfg.GOGC > 0 {
		debug.SetGCPercent(cfg.GOGC)
	}
	logger.Info("runtime configured",
		"GOMAXPROCS", runtime.GOMAXPROCS(0),
		"GOGC", cfg.GOGC,
	)
}

func buildVenues(
	ctx context.Context,
	cfg *config.Config,
	pair domain.CurrencyPair,
	bus *eventbus.EventBus,
	store *persistence.SQLiteStore,
	writer *persistence.AsyncWriter,
	clk clock.Clock,
	metrics *monitor.Metrics,
	logger *slog.Logger,
) ([]*venue, error) {
	if cfg.System.DryRun {
		gw := simulated.New(simulated.Options{
			Pair:       pair,
			StartPrice: decimal.NewFromInt(100),
			Seed:       time.Now().UnixNano(),
			Bus:        bus,
			Clock:      clk,
			Metrics:    metrics,
			Logger:     logger,
		})
		return []*venue{{
			name: "simulated",
			gw:   &gw.CombinedGateway,
			polling: config.PollingConfig{
				MarketDataMs: 500,
				TradesMs:     1000,
				PositionsMs:  5000,
			},
		}}, nil
	}

	var venues []*venue
	for venueName, venueCfg := range cfg.Venues {
		if !venueCfg.Enabled {
			continue
		}

		apiKey := os.Getenv(fmt.Sprintf("%s_API_KEY", venueName))
		apiSecret := os.Getenv(fmt.Sprintf("%s_API_SECRET", venueName))

		switch venueName {
		case "coinroom":
			gw, err := coinroom.New(ctx, coinroom.Options{
				Venue:     venueCfg,
				Pair:      pair,
				APIKey:    apiKey,
				APISecret: apiSecret,
				Bus:       bus,
				Store:     store,
				Writer:    writer,
				Clock:     clk,
				Metrics:   metrics,
				Logger:    logger,
			})
			if err != nil {
				return nil, fmt.Errorf("coinroom gateway: %w", err)
			}
			venues = append(venues, &venue{
				name:    venueName,
				gw:      &gw.CombinedGateway,
				polling: venueCfg.Polling,
				start:   gw.Start,
				close:   gw.Close,
			})
		case "cryptowatch":
			gw, err := cryptowatch.New(ctx, cryptowatch.Options{
				Venue:   venueCfg,
				Pair:    pair,
				Bus:     bus,
				Clock:   clk,
				Metrics: metrics,
				Logger:  logger,
			})
			if err != nil {
				return nil, fmt.Errorf("cryptowatch gateway: %w", err)
			}
			venues = append(venues, &venue{
				name:    venueName,
				gw:      &gw.CombinedGateway,
				polling: venueCfg.Polling,
				close:   gw.Close,
			})
		default:
			logger.Warn("unknown venue, skipping", "venue", venueName)
		}
	}

	return venues, nil
}

func findOrderDestination(venues []*venue) *gateway.CombinedGateway {
	for _, v := range venues {
		if v.gw.OrderEntry != nil {
			return v.gw
		}
	}
	return nil
}

func startPollers(ctx context.Context, venues []*venue, clk clock.Clock, logger *slog.Logger) []*gateway.Poller {
	var pollers []*gateway.Poller
	for _, v := range venues {
		v := v
		p := gateway.NewPoller(clk, logger)

		p.Add(v.name+".book", v.polling.MarketDataInterval(), func(ctx context.Context) {
			if err := v.gw.MarketData.RefreshBook(ctx); err != nil {
				logger.Warn("book refresh failed", "venue", v.name, "error", err)
			}
		})
		p.Add(v.name+".trades", v.polling.TradesInterval(), func(ctx context.Context) {
			if err := v.gw.MarketData.RefreshTrades(ctx); err != nil {
				logger.Warn("trade refresh failed", "venue", v.name, "error", err)
			}
		})
		if v.gw.OrderEntry != nil && v.polling.OrderStatusMs > 0 {
			p.Add(v.name+".order_status", v.polling.OrderStatusInterval(), func(ctx context.Context) {
				if err := v.gw.OrderEntry.DownloadTradeStatuses(ctx); err != nil {
					logger.Warn("trade status download failed", "venue", v.name, "error", err)
				}
			})
		}
		if v.gw.Positions != nil && v.polling.PositionsMs > 0 {
			p.Add(v.name+".positions", v.polling.PositionsInterval(), func(ctx context.Context) {
				if err := v.gw.Positions.RefreshPositions(ctx); err != nil {
					logger.Warn("position refresh failed", "venue", v.name, "error", err)
				}
			})
		}

		p.Start(ctx)
		pollers = append(pollers, p)
	}
	return pollers
}

// watchConnectivity raises a P1 alert whenever a venue drops. Reconnects are
// handled inside the gateways; the alert exists so a stuck reconnect loop
// gets human eyes.
func watchConnectivity(ctx context.Context, bus *eventbus.EventBus, alertMgr *monitor.AlertManager) {
	events, sub := bus.SubscribeConnectChanged()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			name := "venue_disconnected." + ev.Exchange
			if ev.Status == domain.Disconnected {
				alertMgr.Fire(monitor.AlertLevelP1, name,
					fmt.Sprintf("lost connectivity to %s", ev.Exchange),
					"quoting is suspended until the venue reconnects")
			} else {
				alertMgr.Resolve(name)
			}
		}
	}
}

func runOrderLogJanitor(ctx context.Context, store *persistence.SQLiteStore, clk clock.Clock, logger *slog.Logger) {
	ticker := clk.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := store.CleanupOldOrders(orderLogRetention); err != nil {
				logger.Warn("order log cleanup failed", "error", err)
			}
		}
	}
}

func startMetricsServer(addr string, logger *slog.Logger) {
	if addr == "" {
		addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", monitor.MetricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Info("metrics server starting", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "error", err)
	}
}
