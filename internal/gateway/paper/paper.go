// Package paper is a simulated exchange gateway. It serves synthetic candles
// from a deterministic per-symbol walk, fills market orders at the last
// price, and triggers protective orders against candle extremes, so the full
// trade lifecycle can run without touching a venue.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhbachi/bybit-bot/internal/types"
)

type position struct {
	side     types.Side
	qty      float64
	entry    float64
	prot     types.Protection
	hasProt  bool
	openedAt time.Time
}

type walk struct {
	rng    *rand.Rand
	price  float64
	lastTs int64
}

// Gateway is the paper implementation of the exchange boundary.
type Gateway struct {
	mu        sync.Mutex
	balance   float64
	feeRate   float64
	leverage  map[string]float64
	positions map[string]*position
	walks     map[string]*walk
	fills     []types.Fill
	limits    types.InstrumentLimits
	now       func() time.Time
}

// New builds a paper gateway with the given starting balance and taker fee
// rate. Candle walks are seeded per symbol so runs are reproducible.
func New(startBalance, feeRate float64) *Gateway {
	return &Gateway{
		balance:   startBalance,
		feeRate:   feeRate,
		leverage:  map[string]float64{},
		positions: map[string]*position{},
		walks:     map[string]*walk{},
		limits:    types.InstrumentLimits{QtyStep: 0.001, MinQty: 0.001, MinNotional: 5},
		now:       time.Now,
	}
}

// WithClock injects a clock, used by tests.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// WithLimits overrides the synthetic instrument limits.
func (g *Gateway) WithLimits(l types.InstrumentLimits) *Gateway {
	g.limits = l
	return g
}

func (g *Gateway) walkFor(symbol string) *walk {
	w, ok := g.walks[symbol]
	if !ok {
		h := fnv.New64a()
		_, _ = h.Write([]byte(symbol))
		seed := int64(h.Sum64())
		w = &walk{rng: rand.New(rand.NewSource(seed)), price: 1000 + float64(seed%7000)}
		if w.price < 1 {
			w.price = 1000
		}
		g.walks[symbol] = w
	}
	return w
}

func timeframeSeconds(timeframe string) int64 {
	switch timeframe {
	case "1m":
		return 60
	case "5m":
		return 300
	case "15m":
		return 900
	case "1h":
		return 3600
	case "4h":
		return 14400
	case "1d":
		return 86400
	default:
		return 300
	}
}

// FetchCandles extends the symbol's walk up to now and returns the most
// recent candles. Each new candle is also checked against the open position's
// protective levels, closing the position when a level is inside the candle
// range.
func (g *Gateway) FetchCandles(_ context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if limit <= 0 {
		limit = 200
	}
	step := timeframeSeconds(timeframe)
	w := g.walkFor(symbol)
	nowTs := g.now().Unix() / step * step

	if w.lastTs == 0 {
		w.lastTs = nowTs - int64(limit)*step
	}

	var out []types.Candle
	for ts := w.lastTs; ts <= nowTs; ts += step {
		c := w.nextCandle(ts)
		g.checkProtection(symbol, c)
		out = append(out, c)
	}
	w.lastTs = nowTs + step

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (w *walk) nextCandle(ts int64) types.Candle {
	open := w.price
	drift := (w.rng.Float64() - 0.5) * 0.006
	last := open * (1 + drift)
	hi := open * (1 + w.rng.Float64()*0.004)
	lo := open * (1 - w.rng.Float64()*0.004)
	if last > hi {
		hi = last
	}
	if last < lo {
		lo = last
	}
	w.price = last
	return types.Candle{
		Ts:    ts,
		Open:  open,
		High:  hi,
		Low:   lo,
		Close: last,
		Vol:   100 + w.rng.Float64()*900,
	}
}

// checkProtection closes the symbol position at the protective price when the
// candle range crosses it. Stop-loss wins when both levels sit inside the
// same candle, the conservative assumption.
func (g *Gateway) checkProtection(symbol string, c types.Candle) {
	p, ok := g.positions[symbol]
	if !ok || !p.hasProt {
		return
	}
	var exit float64
	if p.side == types.Long {
		switch {
		case p.prot.StopLoss > 0 && c.Low <= p.prot.StopLoss:
			exit = p.prot.StopLoss
		case p.prot.TakeProfit > 0 && c.High >= p.prot.TakeProfit:
			exit = p.prot.TakeProfit
		}
	} else {
		switch {
		case p.prot.StopLoss > 0 && c.High >= p.prot.StopLoss:
			exit = p.prot.StopLoss
		case p.prot.TakeProfit > 0 && c.Low <= p.prot.TakeProfit:
			exit = p.prot.TakeProfit
		}
	}
	if exit > 0 {
		g.settle(symbol, p, exit)
	}
}

func (g *Gateway) settle(symbol string, p *position, exit float64) {
	var pnl float64
	if p.side == types.Long {
		pnl = (exit - p.entry) * p.qty
	} else {
		pnl = (p.entry - exit) * p.qty
	}
	// entry fee was charged at open; only the exit leg is due here
	fee := exit * p.qty * g.feeRate
	g.balance += pnl - fee
	g.fills = append(g.fills, types.Fill{
		OrderID: uuid.NewString(),
		Symbol:  symbol,
		Side:    p.side.Opposite(),
		Qty:     p.qty,
		Price:   exit,
		Fee:     fee,
		Ts:      g.now(),
	})
	delete(g.positions, symbol)
}

func (g *Gateway) FetchBalance(_ context.Context) (types.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	used := 0.0
	for sym, p := range g.positions {
		lev := g.leverage[sym]
		if lev < 1 {
			lev = 1
		}
		used += p.qty * p.entry / lev
	}
	free := g.balance - used
	if free < 0 {
		free = 0
	}
	return types.Balance{Free: free, Used: used, Total: g.balance}, nil
}

func (g *Gateway) FetchPositions(_ context.Context, symbols []string) ([]types.PositionInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.PositionInfo
	for _, sym := range symbols {
		p, ok := g.positions[sym]
		if !ok {
			continue
		}
		mark := g.walks[sym].price
		qty := p.qty
		var unreal float64
		if p.side == types.Long {
			unreal = (mark - p.entry) * p.qty
		} else {
			unreal = (p.entry - mark) * p.qty
			qty = -qty
		}
		out = append(out, types.PositionInfo{
			Symbol:        sym,
			OpenQty:       qty,
			EntryPrice:    p.entry,
			MarkPrice:     mark,
			UnrealizedPnl: unreal,
		})
	}
	return out, nil
}

func (g *Gateway) InstrumentLimits(_ context.Context, _ string) (types.InstrumentLimits, error) {
	return g.limits, nil
}

// SubmitMarketOrder fills at the symbol's last walk price. Reduce-only
// orders close or shrink the open position; regular orders open one.
func (g *Gateway) SubmitMarketOrder(_ context.Context, req types.OrderReq) (types.OrderResp, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.Qty <= 0 {
		return types.OrderResp{}, fmt.Errorf("paper: qty must be positive, got %v", req.Qty)
	}
	w := g.walkFor(req.Symbol)
	price := w.price

	p, open := g.positions[req.Symbol]
	if req.ReduceOnly {
		if !open {
			return types.OrderResp{}, fmt.Errorf("paper: no position to reduce for %s", req.Symbol)
		}
		if req.Side == p.side {
			return types.OrderResp{}, fmt.Errorf("paper: reduce-only side must oppose the position")
		}
		qty := req.Qty
		if qty >= p.qty {
			g.settle(req.Symbol, p, price)
		} else {
			partial := &position{side: p.side, qty: qty, entry: p.entry}
			p.qty -= qty
			g.settle(req.Symbol, partial, price) // realize the closed slice only
			g.positions[req.Symbol] = p          // remainder stays open
		}
		return types.OrderResp{OrderID: uuid.NewString(), Status: "filled"}, nil
	}

	if open {
		return types.OrderResp{}, fmt.Errorf("paper: position already open for %s", req.Symbol)
	}
	fee := req.Qty * price * g.feeRate
	g.balance -= fee
	g.positions[req.Symbol] = &position{
		side:     req.Side,
		qty:      req.Qty,
		entry:    price,
		openedAt: g.now(),
	}
	id := uuid.NewString()
	g.fills = append(g.fills, types.Fill{
		OrderID: id,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Qty:     req.Qty,
		Price:   price,
		Fee:     fee,
		Ts:      g.now(),
	})
	return types.OrderResp{OrderID: id, Status: "filled"}, nil
}

// FetchFills returns the recorded fills for a symbol at or after since.
func (g *Gateway) FetchFills(_ context.Context, symbol string, since time.Time) ([]types.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Fill
	for _, f := range g.fills {
		if f.Symbol == symbol && !f.Ts.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (g *Gateway) SetLeverage(_ context.Context, symbol string, leverage float64) error {
	if leverage < 1 || leverage > 100 {
		return fmt.Errorf("paper: leverage %.1f out of range", leverage)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage[symbol] = leverage
	return nil
}

func (g *Gateway) SetProtectiveOrders(_ context.Context, symbol string, prot types.Protection) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[symbol]
	if !ok {
		return fmt.Errorf("paper: no open position for %s", symbol)
	}
	p.prot = prot
	p.hasProt = true
	return nil
}

// LastPrice exposes the walk price, used by tests to build protective levels.
func (g *Gateway) LastPrice(symbol string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.walkFor(symbol).price
}

// SetPrice pins the walk price, used by tests.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.walkFor(symbol).price = price
}
