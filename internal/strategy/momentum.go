package strategy

import (
	"math"

	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// thresholds are the overbought/oversold cutoffs used by the momentum score,
// widened in volatile markets and tightened in quiet ones.
type thresholds struct {
	rsiOB, rsiOS     float64
	stochOB, stochOS float64
}

// adaptiveThresholds buckets the current ATR as a fraction of price:
// above 2 percent widens the cutoffs by 5 points, between 1 and 2 percent
// keeps the base values, below 1 percent tightens by 5.
func adaptiveThresholds(frame *ta.Frame, price float64) thresholds {
	base := thresholds{rsiOB: 70, rsiOS: 30, stochOB: 80, stochOS: 20}
	atr := ta.Last(frame.ATR)
	if math.IsNaN(atr) || price <= 0 {
		return base
	}
	atrPct := atr / price
	switch {
	case atrPct > 0.02:
		return thresholds{rsiOB: base.rsiOB + 5, rsiOS: base.rsiOS - 5, stochOB: base.stochOB + 5, stochOS: base.stochOS - 5}
	case atrPct > 0.01:
		return base
	default:
		return thresholds{rsiOB: base.rsiOB - 5, rsiOS: base.rsiOS + 5, stochOB: base.stochOB - 5, stochOS: base.stochOS + 5}
	}
}

// momentumScore counts how many of {MACD vs signal line, RSI mid-band,
// Stochastic %K vs %D} agree with the proposed direction. Range 0..3.
func momentumScore(frame *ta.Frame, dir types.Direction, price float64) int {
	th := adaptiveThresholds(frame, price)
	macd, sig := ta.Last(frame.MACD), ta.Last(frame.MACDSig)
	rsi := ta.Last(frame.RSI)
	k, d := ta.Last(frame.StochK), ta.Last(frame.StochD)

	score := 0
	switch dir {
	case types.LongDir:
		if macd > sig {
			score++
		}
		if rsi > 50 && rsi < th.rsiOB {
			score++
		}
		if k > d && k < th.stochOB {
			score++
		}
	case types.ShortDir:
		if macd < sig {
			score++
		}
		if rsi < 50 && rsi > th.rsiOS {
			score++
		}
		if k < d && k > th.stochOS {
			score++
		}
	}
	return score
}
