package engine

import (
	"context"
	"fmt"

	"github.com/rhbachi/bybit-bot/internal/logger"
	"github.com/rhbachi/bybit-bot/internal/metrics"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// detectCloses compares tracked positions against the exchange view. A
// tracked position the exchange no longer reports was closed by a protective
// trigger (or manually); it gets settled into a TradeRecord.
func (e *Engine) detectCloses(ctx context.Context, byExchange map[string]types.PositionInfo) {
	for symbol, p := range e.positions {
		if p.state != stateOpen {
			continue
		}
		info, present := byExchange[symbol]
		if present && info.OpenQty != 0 {
			continue
		}
		exit, reason := e.inferExit(ctx, symbol, p)
		e.settleClose(ctx, symbol, p, exit, reason)
	}
}

// inferExit determines the fill price of an exchange-side close. The fill
// history is authoritative when available; otherwise, when the last price ran
// through a protective level the trigger price is the best estimate, and the
// last known price is the fallback.
func (e *Engine) inferExit(ctx context.Context, symbol string, p *tracked) (float64, string) {
	if fills, err := e.gw.FetchFills(ctx, symbol, p.openedAt); err == nil {
		for i := len(fills) - 1; i >= 0; i-- {
			if f := fills[i]; f.Side == p.side.Opposite() && f.Price > 0 {
				return f.Price, classifyExit(p, f.Price)
			}
		}
	}
	last := e.history.LastPrice(symbol, e.cfg.Timeframe)
	if last == 0 {
		return p.entry, "closed at unknown price"
	}
	switch reason := classifyExit(p, last); reason {
	case "stop loss":
		return p.prot.StopLoss, reason
	case "take profit":
		return p.prot.TakeProfit, reason
	default:
		return last, reason
	}
}

// classifyExit names the close cause from an exit price and the armed levels.
func classifyExit(p *tracked, exit float64) string {
	if p.side == types.Long {
		if p.prot.StopLoss > 0 && exit <= p.prot.StopLoss {
			return "stop loss"
		}
		if p.prot.TakeProfit > 0 && exit >= p.prot.TakeProfit {
			return "take profit"
		}
	} else {
		if p.prot.StopLoss > 0 && exit >= p.prot.StopLoss {
			return "stop loss"
		}
		if p.prot.TakeProfit > 0 && exit <= p.prot.TakeProfit {
			return "take profit"
		}
	}
	return "closed on exchange"
}

// settleClose turns a finished position into a TradeRecord, feeds the
// governor, and emits it through the sink.
func (e *Engine) settleClose(ctx context.Context, symbol string, p *tracked, exit float64, reason string) {
	var gross float64
	if p.side == types.Long {
		gross = (exit - p.entry) * p.qty
	} else {
		gross = (p.entry - exit) * p.qty
	}
	fees := (p.entry + exit) * p.qty * e.cfg.FeeRate
	pnl := gross - fees

	result := types.Loss
	if pnl > 0 {
		result = types.Win
	}
	rec := types.TradeRecord{
		Symbol:   symbol,
		Side:     p.side,
		Qty:      p.qty,
		Entry:    p.entry,
		Exit:     exit,
		Pnl:      pnl,
		Fees:     fees,
		Duration: e.now().Sub(p.openedAt),
		Result:   result,
		Reason:   reason,
	}
	e.gov.NoteClose(rec)
	e.sink.LogTrade(rec)
	e.stateFor(symbol).Reset()
	delete(e.positions, symbol)

	metrics.TradesClosed.WithLabelValues(symbol, string(result)).Inc()
	metrics.RealizedPnl.WithLabelValues(symbol).Add(pnl)
	logger.Trade(ctx, symbol, string(p.side.Opposite()), p.qty, exit,
		"event", "POSITION_CLOSED", "entry", p.entry, "pnl", pnl,
		"fees", fees, "result", string(result), "reason", reason)
}

// manageTrailing tightens the stop of open positions once the trailing
// activation threshold is reached. The stop only ever moves in the
// position's favor; a failed exchange update keeps the local level unchanged
// so it is retried next cycle.
func (e *Engine) manageTrailing(ctx context.Context, byExchange map[string]types.PositionInfo) {
	if e.cfg.TrailingActivation <= 0 || e.cfg.TrailingDistance <= 0 {
		return
	}
	for symbol, p := range e.positions {
		if p.state != stateOpen || p.entry <= 0 {
			continue
		}
		mark := e.markPrice(symbol, byExchange)
		if mark <= 0 {
			continue
		}

		if p.side == types.Long {
			if mark > p.best {
				p.best = mark
			}
			gain := (p.best - p.entry) / p.entry
			if !p.trailing && gain >= e.cfg.TrailingActivation {
				p.trailing = true
				logger.Info(ctx, "Trailing stop armed", "symbol", symbol, "gain", gain)
			}
			if !p.trailing {
				continue
			}
			candidate := p.best * (1 - e.cfg.TrailingDistance)
			if candidate > p.prot.StopLoss {
				e.moveStop(ctx, symbol, p, candidate)
			}
		} else {
			if p.best == 0 || mark < p.best {
				p.best = mark
			}
			gain := (p.entry - p.best) / p.entry
			if !p.trailing && gain >= e.cfg.TrailingActivation {
				p.trailing = true
				logger.Info(ctx, "Trailing stop armed", "symbol", symbol, "gain", gain)
			}
			if !p.trailing {
				continue
			}
			candidate := p.best * (1 + e.cfg.TrailingDistance)
			if p.prot.StopLoss == 0 || candidate < p.prot.StopLoss {
				e.moveStop(ctx, symbol, p, candidate)
			}
		}
	}
}

func (e *Engine) markPrice(symbol string, byExchange map[string]types.PositionInfo) float64 {
	if info, ok := byExchange[symbol]; ok && info.MarkPrice > 0 {
		return info.MarkPrice
	}
	return e.history.LastPrice(symbol, e.cfg.Timeframe)
}

func (e *Engine) moveStop(ctx context.Context, symbol string, p *tracked, newStop float64) {
	next := types.Protection{StopLoss: newStop, TakeProfit: p.prot.TakeProfit}
	if err := e.gw.SetProtectiveOrders(ctx, symbol, next); err != nil {
		logger.ErrorWithErr(ctx, "Failed to move trailing stop", err,
			"symbol", symbol, "stop", fmt.Sprintf("%.4f", newStop))
		return
	}
	old := p.prot.StopLoss
	p.prot = next
	logger.Info(ctx, "Trailing stop moved",
		"symbol", symbol, "old_stop", old, "new_stop", newStop, "best", p.best)
}
