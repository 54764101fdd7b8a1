package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rhbachi/bybit-bot/internal/feed"
	"github.com/rhbachi/bybit-bot/internal/interfaces"
	"github.com/rhbachi/bybit-bot/internal/logger"
	"github.com/rhbachi/bybit-bot/internal/metrics"
	"github.com/rhbachi/bybit-bot/internal/store"
	"github.com/rhbachi/bybit-bot/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		os.Exit(1)
	}

	compressOldLogs(ctx)

	gw, err := buildGateway(ctx, cfg)
	must(err)

	history := feed.NewHistory(500)
	eng, err := buildEngine(ctx, cfg, gw, history)
	must(err)

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer srv.Close()
		logger.Info(ctx, "Metrics endpoint started", "addr", cfg.MetricsAddr)
	}

	if os.Getenv("KLINE_STREAM") == "true" {
		stream := feed.NewStream(cfg.Symbols, cfg.Timeframe, history)
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				logger.ErrorWithErr(ctx, "Kline stream stopped", err)
			}
		}()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	poll := time.Duration(cfg.PollSeconds) * time.Second

	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode, "symbols", len(cfg.Symbols),
		"timeframe", cfg.Timeframe, "poll_seconds", cfg.PollSeconds)

	// first cycle immediately, then on the poll interval; cycles never
	// overlap, and a tripped breaker stretches the wait to its pause window
	runCycle(ctx, eng, poll)
	for {
		wait := poll
		if until := eng.PauseUntil(); time.Until(until) > wait {
			wait = time.Until(until)
			logger.Warn(ctx, "Breaker pause active, sleeping",
				"resume_at", until.Format(time.RFC3339))
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			runCycle(ctx, eng, poll)
		case <-sigc:
			timer.Stop()
			logger.Info(ctx, "Shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = trace.Shutdown(shutdownCtx)
			shutdownCancel()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// runCycle runs one engine tick under a bounded deadline; a failed cycle is
// already logged by the observability wrapper and the loop keeps going. A
// panicking cycle is recovered here so the process survives it.
func runCycle(ctx context.Context, eng interfaces.Engine, timeout time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Recovered from panic in trading cycle",
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = eng.Tick(cctx)
}
