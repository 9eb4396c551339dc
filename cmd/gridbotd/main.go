// Command gridbotd is the grid-trading-bot daemon: it wires together
// configuration, persistence, the exchange gateway, the bot lifecycle
// manager, the health sweep, and the Chat-interface HTTP surface, then
// runs until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridcore/internal/api"
	"gridcore/internal/botmanager"
	"gridcore/internal/config"
	"gridcore/internal/corelog"
	"gridcore/internal/credentials"
	"gridcore/internal/exchange"
	"gridcore/internal/exchange/fake"
	"gridcore/internal/exchange/mexcspot"
	"gridcore/internal/health"
	"gridcore/internal/infrastructure/httpapi"
	"gridcore/internal/notify"
	"gridcore/internal/store"
	"gridcore/internal/store/postgres"
	"gridcore/internal/store/sqlite"
	"gridcore/internal/strategy"
	"gridcore/pkg/concurrency"
	"gridcore/pkg/telemetry"

	"github.com/robfig/cron/v3"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "gridbotd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := corelog.New(cfg.App.LogLevel, "gridbotd")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	tel, err := telemetry.Setup("gridbotd")
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	gw := openGateway(cfg.Exchange, logger)

	sealer, err := config.NewSealer(cfg.App.EncryptionKey)
	if err != nil {
		return fmt.Errorf("build sealer: %w", err)
	}
	creds := credentials.NewResolver(st, sealer)

	hub := notify.NewHub(logger)
	hub.AddSink(notify.NewLogSink(logger, st))
	if cfg.Notify.WebhookURL != "" {
		timeout := time.Duration(cfg.Notify.WebhookTimeout) * time.Second
		hub.AddSink(notify.NewWebhookSink(cfg.Notify.WebhookURL, timeout))
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "gridbotd", MaxWorkers: 10, MaxCapacity: 200}, logger)
	defer pool.Stop()

	strat := strategy.New(gw, st, hub, logger, pool)
	manager := botmanager.New(gw, st, strat, hub, creds, logger, pool)
	checker := health.New(gw, st, hub, creds, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.RestoreAfterRestart(ctx); err != nil {
		logger.Error("restore after restart failed", "error", err.Error())
	}

	scheduler := cron.New()
	healthInterval := time.Duration(cfg.Timing.HealthCheckIntervalSeconds) * time.Second
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", healthInterval), func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), healthInterval)
		defer cancel()
		if err := checker.Sweep(sweepCtx); err != nil {
			logger.Error("health sweep failed", "error", err.Error())
		}
	}); err != nil {
		return fmt.Errorf("schedule health sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	svc := api.New(manager, st, gw, sealer, creds, cfg.Grid, logger)
	httpServer := httpapi.New(cfg.App.HTTPAddr, svc, logger)
	httpServer.Start()

	logger.Info("gridbotd started", "http_addr", cfg.App.HTTPAddr, "exchange", cfg.Exchange.Name, "store", cfg.Store.Driver)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err.Error())
	}
	return nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(context.Background(), cfg.DSN)
	default:
		return sqlite.Open(cfg.DSN)
	}
}

func openGateway(cfg config.ExchangeConfig, logger corelog.Logger) exchange.Gateway {
	if cfg.Name == "fake" {
		return fake.New()
	}
	return mexcspot.New(cfg.BaseURL, cfg.RequestsPerSecond, logger)
}
