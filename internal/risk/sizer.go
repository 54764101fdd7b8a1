// Package risk holds position sizing and the portfolio risk governor.
package risk

import (
	"math"

	"github.com/rhbachi/bybit-bot/internal/types"
)

// DefaultSafetyMargin is the fraction of the free balance usable as margin
// when clamping a position to fit the account.
const DefaultSafetyMargin = 0.95

// SizeInput carries everything the sizer needs for one quantity decision.
type SizeInput struct {
	Capital      float64 // reference equity in quote currency
	RiskFrac     float64 // fraction of capital risked per trade, (0,1]
	StopFrac     float64 // stop distance as a fraction of price, (0,1]
	Price        float64
	Leverage     float64 // [1,100]
	Limits       types.InstrumentLimits
	FreeBalance  float64 // available margin balance; 0 disables the clamp
	SafetyMargin float64 // defaults to DefaultSafetyMargin when 0
}

// Size converts the risk budget into an exchange-legal order quantity.
// It returns 0 as an explicit rejection for out-of-range input or when the
// margin clamp leaves nothing tradable; it never errors.
//
// The steps run in a fixed order: risk notional, margin-cap notional, the
// smaller of the two becomes the target; quantity is rounded to instrument
// precision, raised to the minimum quantity and minimum notional, and
// finally clamped down if the required margin exceeds the usable balance.
func Size(in SizeInput) float64 {
	if in.Capital <= 0 || in.Price <= 0 {
		return 0
	}
	if in.RiskFrac <= 0 || in.RiskFrac > 1 {
		return 0
	}
	if in.StopFrac <= 0 || in.StopFrac > 1 {
		return 0
	}
	if in.Leverage < 1 || in.Leverage > 100 {
		return 0
	}
	safety := in.SafetyMargin
	if safety <= 0 {
		safety = DefaultSafetyMargin
	}

	riskAmount := in.Capital * in.RiskFrac
	notionalFromRisk := riskAmount / in.StopFrac
	notionalFromMarginCap := in.Capital * in.Leverage
	targetNotional := math.Min(notionalFromRisk, notionalFromMarginCap)

	qty := roundToStep(targetNotional/in.Price, in.Limits.QtyStep)

	if in.Limits.MinQty > 0 && qty < in.Limits.MinQty {
		qty = in.Limits.MinQty
	}
	if in.Limits.MinNotional > 0 && qty*in.Price < in.Limits.MinNotional {
		qty = ceilToStep(in.Limits.MinNotional/in.Price, in.Limits.QtyStep)
	}

	if in.FreeBalance > 0 {
		requiredMargin := qty * in.Price / in.Leverage
		usable := in.FreeBalance * safety
		if requiredMargin > usable {
			qty = floorToStep(usable*in.Leverage/in.Price, in.Limits.QtyStep)
		}
	}

	if qty <= 0 {
		return 0
	}
	if in.Limits.MinQty > 0 && qty < in.Limits.MinQty {
		return 0
	}
	if in.Limits.MinNotional > 0 && qty*in.Price < in.Limits.MinNotional {
		return 0
	}
	return qty
}

func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Round(qty/step) * step
}

func floorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}

func ceilToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Ceil(qty/step) * step
}

// ProtectivePrices computes the stop-loss and take-profit for an entry:
// the stop sits stopFrac away from entry and the target rr times further.
// With inverted=true the two roles are swapped, the orientation the zone
// mean-reversion configuration runs with (price is expected to come back, so
// the near level is the target and the far level is the protection).
func ProtectivePrices(entry float64, side types.Side, stopFrac, rr float64, inverted bool) types.Protection {
	var sl, tp float64
	if side == types.Long {
		sl = entry * (1 - stopFrac)
		tp = entry * (1 + stopFrac*rr)
	} else {
		sl = entry * (1 + stopFrac)
		tp = entry * (1 - stopFrac*rr)
	}
	if inverted {
		sl, tp = tp, sl
	}
	return types.Protection{StopLoss: sl, TakeProfit: tp}
}

// RRRatio returns the reward:risk ratio of a protective pair, 0 when the
// risk side is degenerate.
func RRRatio(entry, sl, tp float64, side types.Side) float64 {
	var reward, riskDist float64
	if side == types.Long {
		riskDist = entry - sl
		reward = tp - entry
	} else {
		riskDist = sl - entry
		reward = entry - tp
	}
	if riskDist <= 0 {
		return 0
	}
	return reward / riskDist
}
