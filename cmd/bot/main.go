// Polymarket Market Maker — an automated market-making bot for Polymarket
// binary prediction markets, quoting both outcome legs around the book mid
// price with an inventory-scaled spread and size.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the engine, handles signals
//	internal/engine          — orchestrator: single goroutine driving discovery/scan/backfill
//	internal/strategy        — quote generation with inventory skew
//	internal/market          — discovery (Gamma API), order book store, market registry
//	internal/exchange        — CLOB REST client, L1/L2 auth, WebSocket market feed
//	internal/execution       — order placement/cancellation/reconciliation, durable state reload
//	internal/risk            — exposure, daily-loss, and consecutive-loss circuit breaker
//	internal/store           — SQLite persistence for orders, positions, fills, and events
//	internal/api              — dashboard HTTP/WS status server
//
// How it makes money:
//
//	The bot posts a bid below and an ask above the mid price on both legs
//	of a binary market. When both sides fill, it earns the spread. As
//	inventory accumulates, the spread widens and order size shrinks on both
//	sides, slowing the build-up of directional exposure.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-mm/internal/api"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
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

	eng, err := engine.New(*cfg, cfgPath, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "addr", cfg.Dashboard.Addr)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("polymarket market maker started",
		"markets_max", cfg.Strategy.MaxMarkets,
		"order_size_usdc", cfg.Strategy.OrderSizeUSDC,
		"max_total_exposure_usdc", cfg.Risk.MaxTotalExposureUSDC,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}

// newLogger builds the root slog logger. File is honored as the write
// target (stdout if empty); the repo has no text/json format knob, so
// output is always the text handler, matching the teacher's default.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	out := os.Stdout
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			out = f
		}
	}
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	return slog.New(slog.NewTextHandler(out, opts))
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
