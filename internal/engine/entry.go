package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rhbachi/bybit-bot/internal/logger"
	"github.com/rhbachi/bybit-bot/internal/metrics"
	"github.com/rhbachi/bybit-bot/internal/risk"
	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// scanEntries evaluates the strategy on every flat symbol, applies the
// governor gates, ranks the surviving opportunities, and opens as many as
// the concurrency cap allows. Every evaluated signal is recorded through the
// sink whether or not it executed.
func (e *Engine) scanEntries(ctx context.Context) {
	open := e.openCount()
	verdict := e.gov.CheckGlobal(open)
	if verdict.Action == risk.PauseLong {
		metrics.BreakerActive.Set(1)
		if e.cfg.BreakerPause > 0 {
			e.pausedUntil = e.now().Add(e.cfg.BreakerPause)
			logger.Warn(ctx, "Breaker tripped, pausing cycles",
				"reason", verdict.Reason, "resume_at", e.pausedUntil.Format(time.RFC3339))
			e.sink.Notify(fmt.Sprintf("⛔ breaker tripped (%s), pausing until %s",
				verdict.Reason, e.pausedUntil.UTC().Format("15:04 MST")))
		}
	} else {
		metrics.BreakerActive.Set(0)
	}

	var candidates []risk.Opportunity
	for _, symbol := range e.cfg.Symbols {
		if p, ok := e.positions[symbol]; ok && p.state != noPosition {
			continue
		}

		candles := e.history.Candles(symbol, e.cfg.Timeframe)
		if len(candles) == 0 {
			continue
		}
		frame := ta.Compute(candles, e.taParams)
		sig := e.strat.Evaluate(e.stateFor(symbol), candles, frame)
		price := candles[len(candles)-1].Close

		metrics.SignalsTotal.WithLabelValues(symbol, string(sig.Direction)).Inc()
		logger.Signal(ctx, symbol, string(sig.Direction), sig.Reason, sig.Strength, "price", price)

		if sig.Direction == types.None {
			e.recordSignal(symbol, sig, price, false, "")
			continue
		}
		if sig.Strength < e.cfg.ScoreMin {
			e.recordSignal(symbol, sig, price, false,
				fmt.Sprintf("momentum score %d below minimum %d", sig.Strength, e.cfg.ScoreMin))
			continue
		}
		// breaker gates outrank the per-symbol cooldown; the concurrency
		// cap is checked last so the skip reason names the tightest gate
		if verdict.Action != risk.Proceed && verdict.Action != risk.ManageOnly {
			e.recordSignal(symbol, sig, price, false, verdict.Reason)
			logger.Risk(ctx, symbol, "ENTRY_BLOCKED", "reason", verdict.Reason)
			continue
		}
		if remaining, under := e.gov.UnderCooldown(symbol); under {
			e.recordSignal(symbol, sig, price, false,
				fmt.Sprintf("cooldown active for %s", remaining))
			logger.Risk(ctx, symbol, "COOLDOWN_ACTIVE", "remaining", remaining.String())
			continue
		}
		if verdict.Action != risk.Proceed {
			e.recordSignal(symbol, sig, price, false, verdict.Reason)
			logger.Risk(ctx, symbol, "ENTRY_BLOCKED", "reason", verdict.Reason)
			continue
		}

		side := sig.Direction.Side()
		prot := risk.ProtectivePrices(price, side, e.cfg.StopFrac, e.cfg.RR, e.cfg.Inverted)
		atrPct := 0.0
		if atr := ta.Last(frame.ATR); !math.IsNaN(atr) && price > 0 {
			atrPct = atr / price
		}
		rr := risk.RRRatio(price, prot.StopLoss, prot.TakeProfit, side)
		candidates = append(candidates, risk.Opportunity{
			Symbol: symbol,
			Signal: sig,
			Price:  price,
			Prot:   prot,
			ATRPct: atrPct,
			RR:     rr,
			Score:  risk.ScoreOpportunity(rr, atrPct, ta.Last(frame.RSI)),
		})
	}

	if len(candidates) == 0 {
		return
	}
	ops := risk.Rank(candidates)

	slots := e.gov.SlotsFree(open)
	for _, opp := range ops {
		if slots <= 0 {
			e.recordSignal(opp.Symbol, opp.Signal, opp.Price, false, "no position slots free")
			continue
		}
		if e.openPosition(ctx, opp) {
			slots--
		}
	}
}

// openPosition sizes and executes one entry. A position only counts as open
// once its protective orders are in place; when arming protection fails the
// exposure is closed immediately with a reduce-only market order and the
// trade is not counted against the daily budget.
func (e *Engine) openPosition(ctx context.Context, opp risk.Opportunity) bool {
	symbol := opp.Symbol
	side := opp.Signal.Direction.Side()

	balance, err := e.gw.FetchBalance(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch balance", err, "symbol", symbol)
		e.recordSignal(symbol, opp.Signal, opp.Price, false, "balance unavailable")
		return false
	}
	limits, err := e.gw.InstrumentLimits(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch instrument limits", err, "symbol", symbol)
		e.recordSignal(symbol, opp.Signal, opp.Price, false, "instrument limits unavailable")
		return false
	}

	qty := risk.Size(risk.SizeInput{
		Capital:      e.cfg.Capital,
		RiskFrac:     e.cfg.RiskFrac,
		StopFrac:     e.cfg.StopFrac,
		Price:        opp.Price,
		Leverage:     e.cfg.Leverage,
		Limits:       limits,
		FreeBalance:  balance.Free,
		SafetyMargin: e.cfg.SafetyMargin,
	})
	if qty == 0 {
		e.recordSignal(symbol, opp.Signal, opp.Price, false, "sizer rejected: no tradable quantity")
		logger.Risk(ctx, symbol, "SIZER_REJECTED", "price", opp.Price, "free_balance", balance.Free)
		return false
	}

	linkID := uuid.NewString()
	e.positions[symbol] = &tracked{state: opening, side: side}

	resp, err := e.gw.SubmitMarketOrder(ctx, types.OrderReq{
		Symbol: symbol, Side: side, Qty: qty, LinkID: linkID,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to place entry order", err,
			"symbol", symbol, "side", string(side), "qty", qty)
		e.recordSignal(symbol, opp.Signal, opp.Price, false, "order rejected: "+err.Error())
		delete(e.positions, symbol)
		return false
	}
	metrics.OrdersTotal.WithLabelValues(symbol, string(side)).Inc()

	// the venue's fill price is authoritative; the signal-time close is
	// only the fallback, and the protective levels re-anchor on the fill
	entry, prot := opp.Price, opp.Prot
	if fill := e.entryFill(ctx, symbol, resp.OrderID); fill > 0 && fill != entry {
		entry = fill
		prot = risk.ProtectivePrices(entry, side, e.cfg.StopFrac, e.cfg.RR, e.cfg.Inverted)
	}
	logger.Trade(ctx, symbol, string(side), qty, entry,
		"order_id", resp.OrderID, "link_id", linkID,
		"stop_loss", prot.StopLoss, "take_profit", prot.TakeProfit)

	if err := e.gw.SetProtectiveOrders(ctx, symbol, prot); err != nil {
		// naked exposure is not acceptable: flatten immediately
		logger.ErrorWithErr(ctx, "Failed to arm protective orders, flattening", err,
			"symbol", symbol, "event", "PROTECTIVE_FAILURE")
		if _, cerr := e.gw.SubmitMarketOrder(ctx, types.OrderReq{
			Symbol: symbol, Side: side.Opposite(), Qty: qty, ReduceOnly: true, LinkID: uuid.NewString(),
		}); cerr != nil {
			logger.ErrorWithErr(ctx, "Emergency close failed, manual intervention required", cerr,
				"symbol", symbol)
			e.sink.Notify(fmt.Sprintf("🚨 %s: protective orders AND emergency close failed: %v", symbol, cerr))
		} else {
			e.sink.Notify(fmt.Sprintf("⚠️ %s: protective orders failed, position flattened", symbol))
		}
		e.recordSignal(symbol, opp.Signal, opp.Price, false, "protective orders failed")
		delete(e.positions, symbol)
		return false
	}

	e.positions[symbol] = &tracked{
		state:    stateOpen,
		side:     side,
		qty:      qty,
		entry:    entry,
		prot:     prot,
		openedAt: e.now(),
		best:     entry,
	}
	e.gov.NoteOpen(symbol)
	e.recordSignal(symbol, opp.Signal, entry, true, "")
	return true
}

// entryFill looks up the fill price of a just-placed order. Zero means the
// venue reported nothing usable.
func (e *Engine) entryFill(ctx context.Context, symbol, orderID string) float64 {
	fills, err := e.gw.FetchFills(ctx, symbol, e.now().Add(-time.Minute))
	if err != nil {
		return 0
	}
	for i := len(fills) - 1; i >= 0; i-- {
		if fills[i].OrderID == orderID && fills[i].Price > 0 {
			return fills[i].Price
		}
	}
	return 0
}

func (e *Engine) recordSignal(symbol string, sig types.Signal, price float64, executed bool, skipped string) {
	e.sink.LogSignal(types.SignalRecord{
		Symbol:   symbol,
		Signal:   sig,
		Price:    price,
		Executed: executed,
		Skipped:  skipped,
		Ts:       e.now(),
	})
}
