package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rhbachi/bybit-bot/internal/engine"
	"github.com/rhbachi/bybit-bot/internal/engine/engineobs"
	"github.com/rhbachi/bybit-bot/internal/feed"
	"github.com/rhbachi/bybit-bot/internal/gateway/paper"
	"github.com/rhbachi/bybit-bot/internal/interfaces"
	"github.com/rhbachi/bybit-bot/internal/logger"
	"github.com/rhbachi/bybit-bot/internal/notify"
	"github.com/rhbachi/bybit-bot/internal/risk"
	"github.com/rhbachi/bybit-bot/internal/store"
	"github.com/rhbachi/bybit-bot/internal/strategy"
	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/trace"
	"github.com/rhbachi/bybit-bot/internal/tradelog"
)

// initializeSystem sets up the logger and tracer.
func initializeSystem() error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// compressOldLogs gzips old signal/trade files when retention is configured.
func compressOldLogs(ctx context.Context) {
	v := os.Getenv("BOT_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Invalid BOT_LOG_RETENTION_DAYS", "value", v)
		return
	}
	if err := tradelog.CompressOlder(n); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}

// buildGateway selects the venue implementation for the configured mode.
// This build ships the simulated gateway only; LIVE requires a venue binding.
func buildGateway(ctx context.Context, cfg *store.Config) (interfaces.Gateway, error) {
	switch cfg.Mode {
	case "PAPER":
		logger.Warn(ctx, "Running in PAPER mode - orders are simulated")
		return paper.New(cfg.Capital, cfg.FeeRate), nil
	case "LIVE":
		return nil, fmt.Errorf("LIVE mode requires a venue gateway; this build ships the paper gateway only")
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// buildEngine wires the strategy, governor, sink, and market data into the
// trading engine, wrapped with the observability middleware.
func buildEngine(ctx context.Context, cfg *store.Config, gw interfaces.Gateway, history *feed.History) (interfaces.Engine, error) {
	strat := strategy.Build(cfg.Strategy.Mode, strategy.Params{
		TrendFastEMA: cfg.Strategy.TrendFastEMA,
		TrendSlowEMA: cfg.Strategy.TrendSlowEMA,
		ZoneEMA:      cfg.Strategy.ZoneEMA,
		MinEMASlope:  cfg.Strategy.MinEMASlope,
		ScoreMin:     cfg.Strategy.ScoreMin,
		FibEntryMin:  cfg.Strategy.FibEntryMin,
		FibEntryMax:  cfg.Strategy.FibEntryMax,
		BandTouchPct: cfg.Strategy.BandTouchPct,
		MinBodyPct:   cfg.Strategy.MinBodyPct,
	})
	logger.Info(ctx, "Strategy selected", "strategy", strat.Name(), "mode", cfg.Strategy.Mode)

	gov := risk.NewGovernor(risk.Config{
		Capital:              cfg.Capital,
		MaxDailyLossFrac:     cfg.Risk.MaxDailyLossPct,
		MaxTradesPerDay:      cfg.Risk.MaxTradesPerDay,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		MaxPositions:         cfg.Risk.MaxPositions,
		Cooldown:             time.Duration(cfg.Risk.CooldownSeconds) * time.Second,
		CooldownStart:        cfg.Risk.CooldownStart,
		ResetStreakOnDay:     cfg.Risk.ResetStreakOnDay,
	}, nil)

	sink := notify.NewSink(notify.NewTelegramFromEnv())

	eng := engine.New(engine.Config{
		Symbols:            cfg.Symbols,
		Timeframe:          cfg.Timeframe,
		Capital:            cfg.Capital,
		RiskFrac:           cfg.RiskPerTrade,
		StopFrac:           cfg.StopLossPct,
		RR:                 cfg.RRMultiplier,
		Leverage:           cfg.Leverage,
		FeeRate:            cfg.FeeRate,
		SafetyMargin:       cfg.Risk.SafetyMargin,
		Inverted:           cfg.Protection == "inverted",
		ScoreMin:           cfg.Strategy.ScoreMin,
		TrailingActivation: cfg.Trailing.Activation,
		TrailingDistance:   cfg.Trailing.Distance,
		BreakerPause:       time.Duration(cfg.Risk.BreakerPauseSeconds) * time.Second,
	}, gw, strat, gov, sink, history, ta.Params{
		RSIPeriod:  cfg.Indicators.RSIPeriod,
		MACDFast:   cfg.Indicators.MACDFast,
		MACDSlow:   cfg.Indicators.MACDSlow,
		MACDSignal: cfg.Indicators.MACDSignal,
		StochK:     cfg.Indicators.StochK,
		StochD:     cfg.Indicators.StochD,
		BBWindow:   cfg.Indicators.BBWindow,
		BBStdDev:   cfg.Indicators.BBStdDev,
		ATRPeriod:  cfg.Indicators.ATRPeriod,
	})

	for _, sym := range cfg.Symbols {
		if err := gw.SetLeverage(ctx, sym, cfg.Leverage); err != nil {
			return nil, fmt.Errorf("set leverage for %s: %w", sym, err)
		}
	}
	if err := eng.Reconcile(ctx); err != nil {
		return nil, err
	}
	return engineobs.Wrap(eng), nil
}
