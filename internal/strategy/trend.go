package strategy

import (
	"fmt"
	"math"

	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// TrendFollowing emits an immediate signal on a fast/slow EMA crossover
// filtered by an RSI band. It keeps no cross-cycle state.
type TrendFollowing struct {
	fast, slow int
}

func NewTrendFollowing(params Params) *TrendFollowing {
	return &TrendFollowing{fast: params.TrendFastEMA, slow: params.TrendSlowEMA}
}

func (t *TrendFollowing) Name() string      { return "TrendFollowing" }
func (t *TrendFollowing) MinCandles() int   { return 30 }
func (t *TrendFollowing) EMAPeriods() []int { return []int{t.fast, t.slow} }

func (t *TrendFollowing) Evaluate(_ *State, candles []types.Candle, frame *ta.Frame) types.Signal {
	if len(candles) < t.MinCandles() {
		return none(fmt.Sprintf("insufficient history: %d/%d candles", len(candles), t.MinCandles()))
	}
	fast, slow := frame.EMA[t.fast], frame.EMA[t.slow]
	lastFast, lastSlow := ta.Last(fast), ta.Last(slow)
	prevFast, prevSlow := ta.At(fast, 1), ta.At(slow, 1)
	rsi := ta.Last(frame.RSI)
	if math.IsNaN(lastFast) || math.IsNaN(lastSlow) || math.IsNaN(rsi) {
		return none("indicators warming up")
	}

	price := candles[len(candles)-1].Close
	if prevFast < prevSlow && lastFast > lastSlow {
		if rsi > 50 && rsi < 70 {
			return types.Signal{
				Direction: types.LongDir,
				Strength:  momentumScore(frame, types.LongDir, price),
				Reason:    "bullish ema crossover with rsi confirmation",
			}
		}
		return none(fmt.Sprintf("bullish crossover but rsi %.1f outside (50,70)", rsi))
	}
	if prevFast > prevSlow && lastFast < lastSlow {
		if rsi > 30 && rsi < 50 {
			return types.Signal{
				Direction: types.ShortDir,
				Strength:  momentumScore(frame, types.ShortDir, price),
				Reason:    "bearish ema crossover with rsi confirmation",
			}
		}
		return none(fmt.Sprintf("bearish crossover but rsi %.1f outside (30,50)", rsi))
	}
	return none("no ema crossover")
}
