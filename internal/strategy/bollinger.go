package strategy

import (
	"fmt"
	"math"

	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// BollingerBounce fades band touches: the previous candle must tag a band
// and the current one must close back inside it with a decisive body in the
// bounce direction.
type BollingerBounce struct {
	touchPct   float64
	minBodyPct float64
}

func NewBollingerBounce(params Params) *BollingerBounce {
	return &BollingerBounce{touchPct: params.BandTouchPct, minBodyPct: params.MinBodyPct}
}

func (b *BollingerBounce) Name() string      { return "BollingerBounce" }
func (b *BollingerBounce) MinCandles() int   { return 22 }
func (b *BollingerBounce) EMAPeriods() []int { return nil }

func (b *BollingerBounce) Evaluate(_ *State, candles []types.Candle, frame *ta.Frame) types.Signal {
	if len(candles) < b.MinCandles() {
		return none(fmt.Sprintf("insufficient history: %d/%d candles", len(candles), b.MinCandles()))
	}
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	upper, lower := ta.Last(frame.BBUpper), ta.Last(frame.BBLower)
	prevUpper, prevLower := ta.At(frame.BBUpper, 1), ta.At(frame.BBLower, 1)
	if math.IsNaN(upper) || math.IsNaN(lower) || math.IsNaN(prevUpper) || math.IsNaN(prevLower) {
		return none("indicators warming up")
	}

	body := math.Abs(last.Close - last.Open)
	if last.Close > 0 && body/last.Close < b.minBodyPct {
		return none("entry candle body too small")
	}

	touchedLower := prev.Low <= prevLower*(1+b.touchPct)
	if touchedLower && last.Close > lower && last.Close > last.Open {
		return types.Signal{
			Direction: types.LongDir,
			Strength:  momentumScore(frame, types.LongDir, last.Close),
			Reason:    "lower band touch rejected",
		}
	}

	touchedUpper := prev.High >= prevUpper*(1-b.touchPct)
	if touchedUpper && last.Close < upper && last.Close < last.Open {
		return types.Signal{
			Direction: types.ShortDir,
			Strength:  momentumScore(frame, types.ShortDir, last.Close),
			Reason:    "upper band touch rejected",
		}
	}
	return none("no band touch rejection")
}
