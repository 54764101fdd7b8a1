package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhbachi/bybit-bot/internal/feed"
	"github.com/rhbachi/bybit-bot/internal/risk"
	"github.com/rhbachi/bybit-bot/internal/strategy"
	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// fakeGateway scripts exchange responses and records every order.
type fakeGateway struct {
	candles   []types.Candle
	balance   types.Balance
	limits    types.InstrumentLimits
	positions []types.PositionInfo
	fills     []types.Fill

	orders      []types.OrderReq
	protCalls   []types.Protection
	protErr     error
	orderErr    error
	candleCalls int
}

func (g *fakeGateway) FetchCandles(context.Context, string, string, int) ([]types.Candle, error) {
	g.candleCalls++
	return g.candles, nil
}
func (g *fakeGateway) FetchBalance(context.Context) (types.Balance, error) {
	return g.balance, nil
}
func (g *fakeGateway) FetchPositions(context.Context, []string) ([]types.PositionInfo, error) {
	return g.positions, nil
}
func (g *fakeGateway) FetchFills(context.Context, string, time.Time) ([]types.Fill, error) {
	return g.fills, nil
}
func (g *fakeGateway) InstrumentLimits(context.Context, string) (types.InstrumentLimits, error) {
	return g.limits, nil
}
func (g *fakeGateway) SubmitMarketOrder(_ context.Context, req types.OrderReq) (types.OrderResp, error) {
	if g.orderErr != nil && !req.ReduceOnly {
		return types.OrderResp{}, g.orderErr
	}
	g.orders = append(g.orders, req)
	return types.OrderResp{OrderID: "ord-1", Status: "filled"}, nil
}
func (g *fakeGateway) SetLeverage(context.Context, string, float64) error { return nil }
func (g *fakeGateway) SetProtectiveOrders(_ context.Context, _ string, prot types.Protection) error {
	if g.protErr != nil {
		return g.protErr
	}
	g.protCalls = append(g.protCalls, prot)
	return nil
}

// recordSink captures everything the engine emits.
type recordSink struct {
	signals []types.SignalRecord
	trades  []types.TradeRecord
	notes   []string
}

func (s *recordSink) LogSignal(rec types.SignalRecord) { s.signals = append(s.signals, rec) }
func (s *recordSink) LogTrade(rec types.TradeRecord)   { s.trades = append(s.trades, rec) }
func (s *recordSink) Notify(text string)               { s.notes = append(s.notes, text) }

// stubStrategy fires a fixed signal on every evaluation.
type stubStrategy struct{ sig types.Signal }

func (s *stubStrategy) Name() string      { return "stub" }
func (s *stubStrategy) MinCandles() int   { return 1 }
func (s *stubStrategy) EMAPeriods() []int { return nil }
func (s *stubStrategy) Evaluate(*strategy.State, []types.Candle, *ta.Frame) types.Signal {
	return s.sig
}

func flatCandles(n int, close float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		out[i] = types.Candle{
			Ts: int64(i * 300), Open: close, High: close, Low: close, Close: close, Vol: 1,
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		Symbols:            []string{"BTCUSDT"},
		Timeframe:          "5m",
		Capital:            1000,
		RiskFrac:           0.05,
		StopFrac:           0.01,
		RR:                 2,
		Leverage:           2,
		FeeRate:            0.001,
		SafetyMargin:       0.95,
		ScoreMin:           2,
		TrailingActivation: 0.01,
		TrailingDistance:   0.005,
	}
}

func testGovernor() (*risk.Governor, *testClock) {
	clock := &testClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	gov := risk.NewGovernor(risk.Config{
		Capital:              1000,
		MaxDailyLossFrac:     0.05,
		MaxTradesPerDay:      8,
		MaxConsecutiveLosses: 3,
		MaxPositions:         1,
	}, clock.now)
	return gov, clock
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(gw *fakeGateway, gov *risk.Governor, sink *recordSink, sig types.Signal, clock *testClock) *Engine {
	e := New(testConfig(), gw, &stubStrategy{sig: sig}, gov, sink, feed.NewHistory(500), ta.Params{})
	return e.WithClock(clock.now)
}

func longSignal() types.Signal {
	return types.Signal{Direction: types.LongDir, Strength: 3, Reason: "test entry"}
}

func TestEntryOpensWithProtection(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
	}
	gov, clock := testGovernor()
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)

	require.NoError(t, e.Tick(context.Background()))

	require.Len(t, gw.orders, 1)
	order := gw.orders[0]
	assert.Equal(t, types.Long, order.Side)
	assert.False(t, order.ReduceOnly)
	assert.NotEmpty(t, order.LinkID)
	// risk notional 5000 capped by margin 2000 -> qty 20, clamped to
	// free-balance margin 950*2/100 = 19
	assert.InDelta(t, 19.0, order.Qty, 1e-9)

	require.Len(t, gw.protCalls, 1)
	assert.InDelta(t, 99.0, gw.protCalls[0].StopLoss, 1e-9)
	assert.InDelta(t, 102.0, gw.protCalls[0].TakeProfit, 1e-9)

	assert.Equal(t, 1, gov.Budget().TradesToday)
	require.NotEmpty(t, sink.signals)
	assert.True(t, sink.signals[len(sink.signals)-1].Executed)
}

func TestProtectiveFailureFlattensAndDoesNotCount(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
		protErr: errors.New("venue rejected trigger"),
	}
	gov, clock := testGovernor()
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)

	require.NoError(t, e.Tick(context.Background()))

	// entry order plus the emergency reduce-only close
	require.Len(t, gw.orders, 2)
	flatten := gw.orders[1]
	assert.True(t, flatten.ReduceOnly)
	assert.Equal(t, types.Short, flatten.Side)
	assert.Equal(t, gw.orders[0].Qty, flatten.Qty)

	assert.Equal(t, 0, gov.Budget().TradesToday, "a flattened entry must not count")
	assert.Empty(t, e.positions)
	require.NotEmpty(t, sink.notes, "operator must be alerted")
	last := sink.signals[len(sink.signals)-1]
	assert.False(t, last.Executed)
	assert.Contains(t, last.Skipped, "protective orders failed")
}

func TestCloseDetectionSettlesTrade(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
	}
	gov, clock := testGovernor()
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)

	require.NoError(t, e.Tick(context.Background()))
	require.Len(t, gw.orders, 1)
	qty := gw.orders[0].Qty

	// next cycle: exchange reports the position gone, price ran through TP
	gw.positions = nil
	gw.candles = flatCandles(31, 103)
	clock.advance(10 * time.Minute)
	require.NoError(t, e.Tick(context.Background()))

	require.Len(t, sink.trades, 1)
	rec := sink.trades[0]
	assert.Equal(t, types.Win, rec.Result)
	assert.Equal(t, "take profit", rec.Reason)
	assert.InDelta(t, 102.0, rec.Exit, 1e-9, "exit pinned to the trigger price")
	wantGross := (102.0 - 100.0) * qty
	wantFees := (100.0 + 102.0) * qty * 0.001
	assert.InDelta(t, wantGross-wantFees, rec.Pnl, 1e-9)
	assert.Equal(t, 10*time.Minute, rec.Duration)
	assert.Equal(t, 0, gov.Budget().ConsecutiveLosses)
}

func TestCloseUsesFillPriceWhenReported(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
	}
	gov, clock := testGovernor()
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)

	require.NoError(t, e.Tick(context.Background()))
	require.Len(t, gw.orders, 1)
	qty := gw.orders[0].Qty

	// exchange reports the closing fill between the protective levels
	gw.positions = nil
	gw.fills = []types.Fill{{
		Symbol: "BTCUSDT", Side: types.Short, Qty: qty, Price: 101.7,
		Ts: clock.t.Add(5 * time.Minute),
	}}
	clock.advance(10 * time.Minute)
	require.NoError(t, e.Tick(context.Background()))

	require.Len(t, sink.trades, 1)
	rec := sink.trades[0]
	assert.InDelta(t, 101.7, rec.Exit, 1e-9, "fill price is authoritative")
	assert.Equal(t, "closed on exchange", rec.Reason)
	assert.Equal(t, types.Win, rec.Result)
}

func TestTrailingStopOnlyTightens(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
	}
	gov, clock := testGovernor()
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)

	require.NoError(t, e.Tick(context.Background()))
	require.Len(t, gw.orders, 1)
	qty := gw.orders[0].Qty

	mark := func(px float64) {
		gw.positions = []types.PositionInfo{{
			Symbol: "BTCUSDT", OpenQty: qty, EntryPrice: 100, MarkPrice: px,
		}}
	}

	// below activation: stop stays at the initial level
	mark(100.5)
	require.NoError(t, e.Tick(context.Background()))
	p := e.positions["BTCUSDT"]
	require.NotNil(t, p)
	assert.InDelta(t, 99.0, p.prot.StopLoss, 1e-9)

	// 1.5% favorable move arms trailing and lifts the stop
	mark(101.5)
	require.NoError(t, e.Tick(context.Background()))
	lifted := e.positions["BTCUSDT"].prot.StopLoss
	assert.InDelta(t, 101.5*0.995, lifted, 1e-9)

	// pullback must never loosen the stop
	mark(100.8)
	require.NoError(t, e.Tick(context.Background()))
	assert.Equal(t, lifted, e.positions["BTCUSDT"].prot.StopLoss)

	// new high tightens again
	mark(103)
	require.NoError(t, e.Tick(context.Background()))
	assert.InDelta(t, 103*0.995, e.positions["BTCUSDT"].prot.StopLoss, 1e-9)
}

func TestDailyLossBreakerBlocksEntry(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
	}
	gov, clock := testGovernor()
	gov.NoteClose(types.TradeRecord{Symbol: "BTCUSDT", Side: types.Long, Pnl: -50, Result: types.Loss})
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)

	require.NoError(t, e.Tick(context.Background()))

	assert.Empty(t, gw.orders, "breaker must block the entry")
	require.NotEmpty(t, sink.signals)
	last := sink.signals[len(sink.signals)-1]
	assert.False(t, last.Executed)
	assert.Contains(t, last.Skipped, "daily loss")
}

func TestEntryUsesFillPrice(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
		// the venue fills slightly above the signal-time close
		fills: []types.Fill{{
			OrderID: "ord-1", Symbol: "BTCUSDT", Side: types.Long, Price: 100.4,
		}},
	}
	gov, clock := testGovernor()
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)

	require.NoError(t, e.Tick(context.Background()))

	p := e.positions["BTCUSDT"]
	require.NotNil(t, p)
	assert.InDelta(t, 100.4, p.entry, 1e-9, "tracked entry follows the fill")
	require.Len(t, gw.protCalls, 1)
	assert.InDelta(t, 100.4*0.99, gw.protCalls[0].StopLoss, 1e-9, "protection re-anchored on the fill")
	assert.InDelta(t, 100.4*1.02, gw.protCalls[0].TakeProfit, 1e-9)
	last := sink.signals[len(sink.signals)-1]
	assert.True(t, last.Executed)
	assert.InDelta(t, 100.4, last.Price, 1e-9)
}

func TestBreakerPauseSkipsCycles(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
	}
	gov, clock := testGovernor()
	gov.NoteClose(types.TradeRecord{Symbol: "BTCUSDT", Side: types.Long, Pnl: -50, Result: types.Loss})
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)
	e.cfg.BreakerPause = time.Hour

	require.NoError(t, e.Tick(context.Background()))
	assert.Empty(t, gw.orders)
	assert.Equal(t, clock.t.Add(time.Hour), e.PauseUntil())
	fetches := gw.candleCalls
	signals := len(sink.signals)

	// inside the pause window a cycle does no work at all
	clock.advance(5 * time.Minute)
	require.NoError(t, e.Tick(context.Background()))
	assert.Equal(t, fetches, gw.candleCalls, "paused cycle must not fetch candles")
	assert.Len(t, sink.signals, signals, "paused cycle must not evaluate the strategy")

	// once the window passes the engine evaluates again, and the still
	// tripped breaker re-arms the pause
	clock.advance(56 * time.Minute)
	require.NoError(t, e.Tick(context.Background()))
	assert.Greater(t, gw.candleCalls, fetches)
	assert.Equal(t, clock.t.Add(time.Hour), e.PauseUntil())
}

func TestCooldownBlocksEntry(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		balance: types.Balance{Free: 1000, Total: 1000},
		limits:  types.InstrumentLimits{QtyStep: 0.001},
	}
	clock := &testClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	gov := risk.NewGovernor(risk.Config{
		Capital: 1000, MaxPositions: 1, Cooldown: 15 * time.Minute, CooldownStart: "open",
	}, clock.now)
	gov.NoteOpen("BTCUSDT") // recent trade on this symbol
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, longSignal(), clock)

	require.NoError(t, e.Tick(context.Background()))
	assert.Empty(t, gw.orders)
	last := sink.signals[len(sink.signals)-1]
	assert.Contains(t, last.Skipped, "cooldown")

	// after the window the entry goes through
	clock.advance(16 * time.Minute)
	require.NoError(t, e.Tick(context.Background()))
	assert.Len(t, gw.orders, 1)
}

func TestReconcileAdoptsExchangePositions(t *testing.T) {
	gw := &fakeGateway{
		candles: flatCandles(30, 100),
		positions: []types.PositionInfo{{
			Symbol: "BTCUSDT", OpenQty: -2, EntryPrice: 105, MarkPrice: 104,
		}},
	}
	gov, clock := testGovernor()
	sink := &recordSink{}
	e := newTestEngine(gw, gov, sink, types.Signal{Direction: types.None, Reason: "idle"}, clock)

	require.NoError(t, e.Reconcile(context.Background()))
	p := e.positions["BTCUSDT"]
	require.NotNil(t, p)
	assert.Equal(t, types.Short, p.side)
	assert.InDelta(t, 2.0, p.qty, 1e-9)
	assert.InDelta(t, 105.0, p.entry, 1e-9)
	require.Len(t, gw.protCalls, 1, "adopted positions get protection re-armed")
}
