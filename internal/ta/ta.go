// Package ta computes technical indicator series over candle data.
//
// Every function returns a series aligned 1:1 with its input; positions
// before an indicator's warm-up window hold NaN. Short inputs never panic,
// they just yield all-NaN series. Identical input produces identical output.
package ta

import (
	"math"

	"github.com/rhbachi/bybit-bot/internal/types"
)

// Params selects indicator periods. Zero values fall back to the defaults
// used across the strategies (EMA by caller, RSI 14, MACD 12/26/9,
// Stoch 14/3, Bollinger 20/2, ATR 14).
type Params struct {
	EMAPeriods []int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	StochK     int
	StochD     int
	BBWindow   int
	BBStdDev   float64
	ATRPeriod  int
}

func (p Params) withDefaults() Params {
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.MACDFast <= 0 {
		p.MACDFast = 12
	}
	if p.MACDSlow <= 0 {
		p.MACDSlow = 26
	}
	if p.MACDSignal <= 0 {
		p.MACDSignal = 9
	}
	if p.StochK <= 0 {
		p.StochK = 14
	}
	if p.StochD <= 0 {
		p.StochD = 3
	}
	if p.BBWindow <= 0 {
		p.BBWindow = 20
	}
	if p.BBStdDev <= 0 {
		p.BBStdDev = 2
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = 14
	}
	return p
}

// Frame holds all indicator series for one candle sequence, aligned to it.
type Frame struct {
	EMA      map[int][]float64
	RSI      []float64
	MACD     []float64
	MACDSig  []float64
	MACDHist []float64
	StochK   []float64
	StochD   []float64
	BBMid    []float64
	BBUpper  []float64
	BBLower  []float64
	ATR      []float64
}

// Len returns the series length (same as the input candle count).
func (f *Frame) Len() int { return len(f.RSI) }

// Compute builds a Frame from candles. Pure function of its inputs.
func Compute(candles []types.Candle, p Params) *Frame {
	p = p.withDefaults()
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	f := &Frame{EMA: map[int][]float64{}}
	for _, period := range p.EMAPeriods {
		f.EMA[period] = EMA(closes, period)
	}
	f.RSI = RSI(closes, p.RSIPeriod)
	f.MACD, f.MACDSig, f.MACDHist = MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	f.StochK, f.StochD = Stochastic(highs, lows, closes, p.StochK, p.StochD)
	f.BBMid, f.BBUpper, f.BBLower = Bollinger(closes, p.BBWindow, p.BBStdDev)
	f.ATR = ATR(highs, lows, closes, p.ATRPeriod)
	return f
}

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// EMA computes an exponential moving average seeded at the first close,
// alpha = 2/(period+1).
func EMA(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	ema := closes[0]
	out[0] = ema
	for i := 1; i < len(closes); i++ {
		ema = alpha*closes[i] + (1-alpha)*ema
		out[i] = ema
	}
	return out
}

// RSI computes the relative strength index from rolling mean gain/loss over
// close deltas. 100 when the window has zero loss, NaN while incomplete.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}
	for i := period; i < len(closes); i++ {
		gain, loss := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - closes[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		if loss == 0 {
			out[i] = 100.0
			continue
		}
		rs := (gain / float64(period)) / (loss / float64(period))
		out[i] = 100.0 - (100.0 / (1.0 + rs))
	}
	return out
}

// MACD computes EMA(fast)-EMA(slow), its EMA(signal) line, and histogram.
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	n := len(closes)
	macd = nanSeries(n)
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	for i := 0; i < n; i++ {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	sig = EMA(macd, signal)
	hist = nanSeries(n)
	for i := 0; i < n; i++ {
		hist[i] = macd[i] - sig[i]
	}
	return macd, sig, hist
}

// Stochastic computes %K = 100*(close-minLow)/(maxHigh-minLow) over kPeriod
// and %D = SMA(dPeriod) of %K.
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d []float64) {
	n := len(closes)
	k = nanSeries(n)
	d = nanSeries(n)
	if kPeriod <= 0 || dPeriod <= 0 || len(highs) != n || len(lows) != n {
		return k, d
	}
	for i := kPeriod - 1; i < n; i++ {
		hi, lo := math.Inf(-1), math.Inf(1)
		for j := i - kPeriod + 1; j <= i; j++ {
			hi = math.Max(hi, highs[j])
			lo = math.Min(lo, lows[j])
		}
		if hi == lo {
			k[i] = 50.0
			continue
		}
		k[i] = 100.0 * (closes[i] - lo) / (hi - lo)
	}
	d = SMA(k, dPeriod)
	return k, d
}

// SMA computes a simple moving average; windows containing NaN yield NaN.
func SMA(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(vals); i++ {
		sum := 0.0
		ok := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(vals[j]) {
				ok = false
				break
			}
			sum += vals[j]
		}
		if ok {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// StdDev computes the rolling population standard deviation.
func StdDev(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	mean := SMA(vals, period)
	for i := period - 1; i < len(vals); i++ {
		if math.IsNaN(mean[i]) {
			continue
		}
		s := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := vals[j] - mean[i]
			s += d * d
		}
		out[i] = math.Sqrt(s / float64(period))
	}
	return out
}

// Bollinger computes mid = SMA(period) and bands = mid +/- k*stddev(period).
func Bollinger(closes []float64, period int, k float64) (mid, upper, lower []float64) {
	n := len(closes)
	mid = SMA(closes, period)
	sd := StdDev(closes, period)
	upper = nanSeries(n)
	lower = nanSeries(n)
	for i := 0; i < n; i++ {
		upper[i] = mid[i] + k*sd[i]
		lower[i] = mid[i] - k*sd[i]
	}
	return mid, upper, lower
}

// ATR computes the rolling mean of true range
// max(high-low, |high-prevClose|, |low-prevClose|).
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || len(highs) != n || len(lows) != n || n < 2 {
		return out
	}
	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}
	// first ATR value needs period true ranges, each past the first candle
	for i := period; i < n; i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += tr[j]
		}
		out[i] = sum / float64(period)
	}
	return out
}

// Last returns the final value of a series, or NaN for an empty one.
func Last(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	return vals[len(vals)-1]
}

// At returns vals[len(vals)-1-back], or NaN when out of range.
func At(vals []float64, back int) float64 {
	i := len(vals) - 1 - back
	if i < 0 || i >= len(vals) {
		return math.NaN()
	}
	return vals[i]
}
