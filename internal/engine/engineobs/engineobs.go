// Package engineobs wraps the trading engine with observability: a span per
// cycle, timing, and cycle metrics.
package engineobs

import (
	"context"
	"time"

	"github.com/rhbachi/bybit-bot/internal/interfaces"
	"github.com/rhbachi/bybit-bot/internal/logger"
	"github.com/rhbachi/bybit-bot/internal/metrics"
	"github.com/rhbachi/bybit-bot/internal/trace"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) PauseUntil() time.Time { return oe.engine.PauseUntil() }

func (oe *observableEngine) Tick(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.Tick")
	defer span.End()

	start := time.Now()
	logger.Debug(ctx, "Starting trading cycle")

	if err := oe.engine.Tick(ctx); err != nil {
		metrics.CycleErrorsTotal.Inc()
		logger.ErrorWithErr(ctx, "Trading cycle failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}

	metrics.CyclesTotal.Inc()
	logger.Info(ctx, "Trading cycle completed",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
