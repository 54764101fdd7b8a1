// Package feed maintains rolling candle history per symbol and timeframe,
// fed from REST polls and optionally a live kline stream.
package feed

import (
	"sync"

	"github.com/rhbachi/bybit-bot/internal/types"
)

type key struct {
	symbol    string
	timeframe string
}

// History is an append-only rolling window of candles. Candles are keyed by
// open timestamp: a candle with a known timestamp replaces the stored one
// (the forming bar gets updated in place), newer candles append, older ones
// are dropped. The window is trimmed to a fixed lookback.
type History struct {
	mu   sync.RWMutex
	max  int
	data map[key][]types.Candle
}

const defaultLookback = 500

func NewHistory(maxCandles int) *History {
	if maxCandles <= 0 {
		maxCandles = defaultLookback
	}
	return &History{max: maxCandles, data: map[key][]types.Candle{}}
}

// Merge folds a batch of candles into the window for (symbol, timeframe).
// The batch must be ascending by timestamp, which is how both the REST kline
// endpoint (after reversal) and the stream deliver them.
func (h *History) Merge(symbol, timeframe string, batch []types.Candle) {
	if len(batch) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	k := key{symbol, timeframe}
	series := h.data[k]
	for _, c := range batch {
		n := len(series)
		switch {
		case n == 0 || c.Ts > series[n-1].Ts:
			series = append(series, c)
		case c.Ts == series[n-1].Ts:
			series[n-1] = c
		default:
			// out-of-order candle older than the tip: ignore
		}
	}
	if len(series) > h.max {
		series = series[len(series)-h.max:]
	}
	h.data[k] = series
}

// Candles returns a copy of the current window.
func (h *History) Candles(symbol, timeframe string) []types.Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	series := h.data[key{symbol, timeframe}]
	out := make([]types.Candle, len(series))
	copy(out, series)
	return out
}

// Len reports the window size for (symbol, timeframe).
func (h *History) Len(symbol, timeframe string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data[key{symbol, timeframe}])
}

// LastPrice returns the close of the most recent candle, or 0 when empty.
func (h *History) LastPrice(symbol, timeframe string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	series := h.data[key{symbol, timeframe}]
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1].Close
}
