// Package engine drives the trade lifecycle: it refreshes market data,
// evaluates the strategy per symbol, sizes and opens positions through the
// gateway, manages trailing stops, and settles closed trades into the risk
// governor and the event sink.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rhbachi/bybit-bot/internal/feed"
	"github.com/rhbachi/bybit-bot/internal/interfaces"
	"github.com/rhbachi/bybit-bot/internal/logger"
	"github.com/rhbachi/bybit-bot/internal/metrics"
	"github.com/rhbachi/bybit-bot/internal/risk"
	"github.com/rhbachi/bybit-bot/internal/strategy"
	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// positionState is the engine's lifecycle phase for one symbol.
type positionState int

const (
	noPosition positionState = iota
	opening
	stateOpen
)

// tracked is the engine-side record of one live position. Exchange state is
// authoritative for quantity; this record carries what the exchange does not
// report back: protective levels, the favorable extreme for trailing, and
// the open timestamp.
type tracked struct {
	state    positionState
	side     types.Side
	qty      float64
	entry    float64
	prot     types.Protection
	openedAt time.Time
	best     float64 // most favorable mark seen since open
	trailing bool    // trailing armed after the activation threshold
}

// Config carries the engine's trading parameters, already validated by the
// config layer.
type Config struct {
	Symbols     []string
	Timeframe   string
	CandleLimit int

	Capital      float64
	RiskFrac     float64
	StopFrac     float64
	RR           float64
	Leverage     float64
	FeeRate      float64
	SafetyMargin float64
	Inverted     bool // SL/TP orientation swapped (mean-reversion variant)
	ScoreMin     int

	TrailingActivation float64
	TrailingDistance   float64

	// BreakerPause is the long sleep after a daily-loss or loss-streak
	// breaker trips; zero disables pausing.
	BreakerPause time.Duration
}

// Engine implements interfaces.Engine over a gateway, a strategy, and the
// risk governor. It is single-goroutine: Tick is never called concurrently.
type Engine struct {
	cfg      Config
	gw       interfaces.Gateway
	strat    strategy.Strategy
	gov      *risk.Governor
	sink     interfaces.EventSink
	history  *feed.History
	taParams ta.Params
	now      func() time.Time

	positions   map[string]*tracked
	stratStates map[string]*strategy.State
	pausedUntil time.Time
}

func New(cfg Config, gw interfaces.Gateway, strat strategy.Strategy, gov *risk.Governor,
	sink interfaces.EventSink, history *feed.History, taParams ta.Params) *Engine {
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 200
	}
	taParams.EMAPeriods = strat.EMAPeriods()
	return &Engine{
		cfg:         cfg,
		gw:          gw,
		strat:       strat,
		gov:         gov,
		sink:        sink,
		history:     history,
		taParams:    taParams,
		now:         time.Now,
		positions:   map[string]*tracked{},
		stratStates: map[string]*strategy.State{},
	}
}

// WithClock injects a clock, used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Reconcile adopts positions already open on the exchange, so a restart does
// not orphan them. Adopted positions get fresh protective levels computed
// from their entry price.
func (e *Engine) Reconcile(ctx context.Context) error {
	infos, err := e.gw.FetchPositions(ctx, e.cfg.Symbols)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, info := range infos {
		if info.OpenQty == 0 {
			continue
		}
		side := types.Long
		if info.OpenQty < 0 {
			side = types.Short
		}
		prot := risk.ProtectivePrices(info.EntryPrice, side, e.cfg.StopFrac, e.cfg.RR, e.cfg.Inverted)
		e.positions[info.Symbol] = &tracked{
			state:    stateOpen,
			side:     side,
			qty:      math.Abs(info.OpenQty),
			entry:    info.EntryPrice,
			prot:     prot,
			openedAt: e.now(),
			best:     info.EntryPrice,
		}
		if err := e.gw.SetProtectiveOrders(ctx, info.Symbol, prot); err != nil {
			logger.ErrorWithErr(ctx, "Failed to re-arm protection on adopted position", err,
				"symbol", info.Symbol)
		}
		logger.Info(ctx, "Adopted existing position",
			"symbol", info.Symbol, "side", string(side),
			"qty", math.Abs(info.OpenQty), "entry", info.EntryPrice)
	}
	return nil
}

// PauseUntil reports when a tripped breaker allows cycles to resume. The
// zero time means no pause is active; the scheduler stretches its wait to
// cover the pause window.
func (e *Engine) PauseUntil() time.Time { return e.pausedUntil }

// Tick runs one full evaluation cycle. Per-symbol failures are logged and
// skipped; Tick only errors when the cycle cannot proceed at all.
func (e *Engine) Tick(ctx context.Context) error {
	e.rollover(ctx)

	// a tripped breaker means a long sleep, not a cheaper cycle: no data
	// refresh, no evaluation, no state mutation until the window passes
	if e.now().Before(e.pausedUntil) {
		logger.Debug(ctx, "Breaker pause active, skipping cycle",
			"resume_at", e.pausedUntil.Format(time.RFC3339))
		return nil
	}

	if err := e.refreshCandles(ctx); err != nil {
		return err
	}

	infos, err := e.gw.FetchPositions(ctx, e.cfg.Symbols)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	byExchange := map[string]types.PositionInfo{}
	for _, info := range infos {
		byExchange[info.Symbol] = info
	}

	e.detectCloses(ctx, byExchange)
	e.manageTrailing(ctx, byExchange)
	e.scanEntries(ctx)

	metrics.OpenPositions.Set(float64(e.openCount()))
	return nil
}

func (e *Engine) rollover(ctx context.Context) {
	summary, ok := e.gov.Rollover()
	if !ok {
		return
	}
	// breakers reset with the day, so any pause they caused ends too
	e.pausedUntil = time.Time{}
	day := summary.Day.Format("2006-01-02")
	logger.Info(ctx, "Trading day rolled over",
		"day", day, "trades", summary.Trades, "daily_loss", summary.DailyLoss)
	for sym, st := range summary.PerSymbol {
		logger.Info(ctx, "Daily symbol stats",
			"day", day, "symbol", sym, "trades", st.Trades, "wins", st.Wins, "pnl", st.Pnl)
	}
	e.sink.Notify(fmt.Sprintf("📊 day %s closed: %d trades, realized loss %.4f",
		day, summary.Trades, summary.DailyLoss))
}

func (e *Engine) refreshCandles(ctx context.Context) error {
	failures := 0
	for _, symbol := range e.cfg.Symbols {
		candles, err := e.gw.FetchCandles(ctx, symbol, e.cfg.Timeframe, e.cfg.CandleLimit)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to fetch candles", err, "symbol", symbol)
			failures++
			continue
		}
		e.history.Merge(symbol, e.cfg.Timeframe, candles)
	}
	if failures == len(e.cfg.Symbols) {
		return fmt.Errorf("candle refresh failed for all %d symbols", failures)
	}
	return nil
}

func (e *Engine) openCount() int {
	n := 0
	for _, p := range e.positions {
		if p.state == stateOpen || p.state == opening {
			n++
		}
	}
	return n
}

func (e *Engine) stateFor(symbol string) *strategy.State {
	st, ok := e.stratStates[symbol]
	if !ok {
		st = &strategy.State{}
		e.stratStates[symbol] = st
	}
	return st
}
