package strategy

import (
	"fmt"
	"math"

	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// ZoneMeanReversion trades against the prevailing move in two phases.
// Zone 1 arms on a wick-dominant rejection candle relative to the EMA and
// records the rejection extreme; Zone 2 fires once a structural confirmation
// forms (lower high for short, higher low for long) and the EMA slope shows
// the market is actually moving.
type ZoneMeanReversion struct {
	emaPeriod   int
	minEMASlope float64
}

func NewZoneMeanReversion(params Params) *ZoneMeanReversion {
	return &ZoneMeanReversion{emaPeriod: params.ZoneEMA, minEMASlope: params.MinEMASlope}
}

func (z *ZoneMeanReversion) Name() string      { return "ZoneMeanReversion" }
func (z *ZoneMeanReversion) MinCandles() int   { return z.emaPeriod + 5 }
func (z *ZoneMeanReversion) EMAPeriods() []int { return []int{z.emaPeriod} }

// rejection classifies a wick-dominant candle: small body (under a quarter
// of the range) with one wick covering over 60 percent of it.
func rejection(c types.Candle) string {
	body := math.Abs(c.Close - c.Open)
	candleRange := c.High - c.Low
	if candleRange == 0 || body > candleRange*0.25 {
		return ""
	}
	upperWick := c.High - math.Max(c.Open, c.Close)
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	if upperWick > candleRange*0.6 {
		return "wick_top"
	}
	if lowerWick > candleRange*0.6 {
		return "wick_bottom"
	}
	return ""
}

func (z *ZoneMeanReversion) Evaluate(st *State, candles []types.Candle, frame *ta.Frame) types.Signal {
	if len(candles) < z.MinCandles() {
		return none(fmt.Sprintf("insufficient history: %d/%d candles", len(candles), z.MinCandles()))
	}
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	ema := ta.Last(frame.EMA[z.emaPeriod])
	if math.IsNaN(ema) {
		return none("indicators warming up")
	}

	// Zone 1: arm on a rejection candle on the wrong side of the EMA.
	switch rejection(last) {
	case "wick_top":
		if last.Close > ema {
			st.ArmedLevel = last.High
			st.ArmedDirection = types.ShortDir
		}
	case "wick_bottom":
		if last.Close < ema {
			st.ArmedLevel = last.Low
			st.ArmedDirection = types.LongDir
		}
	}

	if st.ArmedDirection == "" || st.ArmedDirection == types.None {
		return none("no rejection candle armed")
	}

	// Zone 2: structural confirmation plus an anti-chop slope filter.
	slope := ta.Last(frame.EMA[z.emaPeriod]) - ta.At(frame.EMA[z.emaPeriod], 1)
	if math.Abs(slope) < z.minEMASlope {
		return none(fmt.Sprintf("armed %s awaiting confirmation: ema slope %.6f too flat", st.ArmedDirection, slope))
	}

	price := last.Close
	if st.ArmedDirection == types.ShortDir && last.High < prev.High {
		dir := types.ShortDir
		st.Reset()
		return types.Signal{
			Direction: dir,
			Strength:  momentumScore(frame, dir, price),
			Reason:    "zone rejection confirmed by lower high",
		}
	}
	if st.ArmedDirection == types.LongDir && last.Low > prev.Low {
		dir := types.LongDir
		st.Reset()
		return types.Signal{
			Direction: dir,
			Strength:  momentumScore(frame, dir, price),
			Reason:    "zone rejection confirmed by higher low",
		}
	}
	return none(fmt.Sprintf("armed %s awaiting structural confirmation", st.ArmedDirection))
}
