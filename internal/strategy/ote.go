package strategy

import (
	"fmt"
	"math"

	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// StructureBreakOTE waits for a break of structure past the prior swing
// extreme, arms an optimal entry zone on the Fibonacci retracement of the
// originating swing, and fires only once price re-enters the zone with
// enough momentum confirmations.
type StructureBreakOTE struct {
	fastEMA     int
	slowEMA     int
	fibEntryMin float64
	fibEntryMax float64
	scoreMin    int
}

// swing detection windows, in candles
const (
	swingWindow    = 5
	swingLookback  = 12
	trendSlopeBars = 5
)

func NewStructureBreakOTE(params Params) *StructureBreakOTE {
	return &StructureBreakOTE{
		fastEMA:     params.ZoneEMA,
		slowEMA:     50,
		fibEntryMin: params.FibEntryMin,
		fibEntryMax: params.FibEntryMax,
		scoreMin:    params.ScoreMin,
	}
}

func (o *StructureBreakOTE) Name() string      { return "StructureBreakOTE" }
func (o *StructureBreakOTE) MinCandles() int   { return 50 }
func (o *StructureBreakOTE) EMAPeriods() []int { return []int{o.fastEMA, o.slowEMA} }

// detectTrend requires price above a rising fast EMA that sits above the
// slow EMA (or the mirror for bearish).
func (o *StructureBreakOTE) detectTrend(candles []types.Candle, frame *ta.Frame) types.Direction {
	fast := frame.EMA[o.fastEMA]
	slow := frame.EMA[o.slowEMA]
	lastFast, lastSlow := ta.Last(fast), ta.Last(slow)
	ref := ta.At(fast, trendSlopeBars)
	if math.IsNaN(lastFast) || math.IsNaN(lastSlow) || math.IsNaN(ref) || ref == 0 {
		return types.None
	}
	close := candles[len(candles)-1].Close
	slope := (lastFast - ref) / ref
	if lastFast > lastSlow && close > lastFast && slope > 0.0001 {
		return types.LongDir
	}
	if lastFast < lastSlow && close < lastFast && slope < -0.0001 {
		return types.ShortDir
	}
	return types.None
}

func swingExtremes(candles []types.Candle, from, to int) (hi, lo float64) {
	hi, lo = math.Inf(-1), math.Inf(1)
	for i := from; i <= to; i++ {
		hi = math.Max(hi, candles[i].High)
		lo = math.Min(lo, candles[i].Low)
	}
	return hi, lo
}

// detectBOS checks whether the latest close breaks the swing extreme formed
// over the window ending at the previous candle.
func (o *StructureBreakOTE) detectBOS(candles []types.Candle, trend types.Direction) (float64, bool) {
	n := len(candles)
	hi, lo := swingExtremes(candles, n-1-swingWindow, n-2)
	close := candles[n-1].Close
	if trend == types.LongDir && close > hi {
		return hi, true
	}
	if trend == types.ShortDir && close < lo {
		return lo, true
	}
	return 0, false
}

// armZone computes the Fibonacci retracement of the swing that produced the
// break and stores the 61.8-78.6 percent entry band in the state.
func (o *StructureBreakOTE) armZone(st *State, candles []types.Candle, trend types.Direction, bosLevel float64) bool {
	n := len(candles)
	swingHi, swingLo := swingExtremes(candles, n-1-swingLookback, n-3)
	if trend == types.LongDir {
		diff := bosLevel - swingLo
		if diff <= 0 {
			return false
		}
		st.ZoneLow = swingLo + diff*o.fibEntryMin
		st.ZoneHigh = swingLo + diff*o.fibEntryMax
	} else {
		diff := swingHi - bosLevel
		if diff <= 0 {
			return false
		}
		st.ZoneLow = bosLevel + diff*o.fibEntryMin
		st.ZoneHigh = bosLevel + diff*o.fibEntryMax
	}
	st.BOSLevel = bosLevel
	st.BOSDirection = trend
	st.ZoneActive = true
	return true
}

func (o *StructureBreakOTE) Evaluate(st *State, candles []types.Candle, frame *ta.Frame) types.Signal {
	if len(candles) < o.MinCandles() {
		return none(fmt.Sprintf("insufficient history: %d/%d candles", len(candles), o.MinCandles()))
	}

	trend := o.detectTrend(candles, frame)
	if trend == types.None {
		return none("no clear trend")
	}

	// a trend flip invalidates any armed zone
	if st.ZoneActive && st.BOSDirection != trend {
		st.Reset()
	}

	if level, ok := o.detectBOS(candles, trend); ok {
		if !o.armZone(st, candles, trend, level) {
			return none("degenerate swing, no retracement zone")
		}
	}
	if !st.ZoneActive {
		return none("no break of structure")
	}

	price := candles[len(candles)-1].Close
	if price < st.ZoneLow || price > st.ZoneHigh {
		return none(fmt.Sprintf("price %.2f outside entry zone [%.2f, %.2f]", price, st.ZoneLow, st.ZoneHigh))
	}

	score := momentumScore(frame, trend, price)
	if score < o.scoreMin {
		return types.Signal{
			Direction: types.None,
			Strength:  score,
			Reason:    fmt.Sprintf("insufficient momentum (%d/%d)", score, o.scoreMin),
		}
	}

	st.Reset()
	return types.Signal{
		Direction: trend,
		Strength:  score,
		Reason:    "structure break with optimal entry retracement",
	}
}
