// Live engine — wires the Risk Validator, Exchange Gateway, and Order
// Manager into a running process: resumes any orders persisted from a
// prior run, starts the reconciliation loop, and serves until a shutdown
// signal arrives. Mirrors the teacher's cmd/bot/main.go: load config,
// build the orchestrator, start it, wait for SIGINT/SIGTERM, stop it.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quanttrade/internal/config"
	"quanttrade/internal/eventbus"
	"quanttrade/internal/gateway"
	"quanttrade/internal/ordermanager"
	"quanttrade/internal/risk"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("QT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	limits := risk.RiskLimits{
		MaxPositionQty:      cfg.Risk.MaxPositionQtyDecimal(),
		MaxPortfolioValue:   cfg.Risk.MaxPortfolioValueDecimal(),
		MaxLeverage:         cfg.Risk.MaxLeverageDecimal(),
		DailyLossLimit:      cfg.Risk.DailyLossLimitDecimal(),
		MaxConcentrationPct: cfg.Risk.MaxConcentrationPctDecimal(),
		MaxOpenPositions:    cfg.Risk.MaxOpenPositions,
		MinMarginRatio:      cfg.Risk.MinMarginRatioDecimal(),
	}
	if err := limits.Validate(); err != nil {
		logger.Error("invalid risk configuration", "error", err)
		os.Exit(1)
	}
	validator := risk.NewValidator(limits)

	rl := gateway.NewRateLimiter()
	gw := gateway.NewRESTGateway(gateway.RESTConfig{
		BaseURL: cfg.Gateway.BaseURL,
		Auth:    gateway.HMACAuth{APIKey: cfg.Gateway.APIKey, Secret: cfg.Gateway.APISecret},
		DryRun:  cfg.DryRun,
		Timeout: cfg.Gateway.Timeout,
	}, rl, logger)

	hub := eventbus.NewHub(cfg.OrderMgr.EventBufferSize, logger)

	var store *ordermanager.Store
	if cfg.OrderMgr.DataDir != "" {
		store, err = ordermanager.OpenStore(cfg.OrderMgr.DataDir)
		if err != nil {
			logger.Error("failed to open order store", "error", err, "dir", cfg.OrderMgr.DataDir)
			os.Exit(1)
		}
	}

	mgrCfg := ordermanager.Config{
		OrderTimeout:           time.Duration(cfg.OrderMgr.OrderTimeoutSec) * time.Second,
		ReconciliationInterval: time.Duration(cfg.OrderMgr.ReconciliationIntervalSec) * time.Second,
		MaxSubmitRetries:       cfg.OrderMgr.MaxSubmitRetries,
		RetryBackoff:           cfg.OrderMgr.RetryBackoff,
		EventBufferSize:        cfg.OrderMgr.EventBufferSize,
	}
	mgr := ordermanager.New(mgrCfg, gw, validator, hub, store, logger)

	if store != nil {
		if err := mgr.Resume(); err != nil {
			logger.Error("failed to resume persisted orders", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := mgr.RunReconciliation(ctx); err != nil && err != context.Canceled {
			logger.Error("reconciliation loop exited", "error", err)
		}
	}()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("live engine started",
		"base_url", cfg.Gateway.BaseURL,
		"order_timeout", mgrCfg.OrderTimeout,
		"reconciliation_interval", mgrCfg.ReconciliationInterval,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	stats := mgr.GetStats()
	logger.Info("shutdown complete", "active_orders", stats.ActiveOrders, "dropped_events", stats.DroppedEvents)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
