// Package strategy implements the signal evaluators. Each variant turns a
// candle history plus its indicator frame into a directional Signal; a nil
// direction always carries a machine-readable reason so callers can log why
// nothing fired.
package strategy

import (
	"strings"

	"github.com/rhbachi/bybit-bot/internal/ta"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// Strategy is one signal evaluator variant. Evaluate must not retain candles
// or the frame; all cross-cycle memory lives in the caller-owned State.
type Strategy interface {
	Name() string
	MinCandles() int
	EMAPeriods() []int
	Evaluate(st *State, candles []types.Candle, frame *ta.Frame) types.Signal
}

// State is the per-symbol mutable strategy memory. It is owned by the caller
// (one per symbol), mutated only inside Evaluate, and cleared via Reset.
type State struct {
	ArmedLevel     float64         // zone reference price from the arming candle
	ArmedDirection types.Direction // committed direction while armed
	BOSLevel       float64         // last break-of-structure level
	BOSDirection   types.Direction
	ZoneLow        float64 // optimal entry zone bounds
	ZoneHigh       float64
	ZoneActive     bool
}

// Reset clears all structural markers.
func (s *State) Reset() {
	*s = State{}
}

// Params expresses the tunable knobs required by the strategy constructors.
type Params struct {
	TrendFastEMA int
	TrendSlowEMA int
	ZoneEMA      int
	MinEMASlope  float64
	ScoreMin     int
	FibEntryMin  float64
	FibEntryMax  float64
	BandTouchPct float64
	MinBodyPct   float64
}

func (p Params) withDefaults() Params {
	if p.TrendFastEMA <= 0 {
		p.TrendFastEMA = 9
	}
	if p.TrendSlowEMA <= 0 {
		p.TrendSlowEMA = 21
	}
	if p.ZoneEMA <= 0 {
		p.ZoneEMA = 20
	}
	if p.MinEMASlope <= 0 {
		p.MinEMASlope = 0.0005
	}
	if p.ScoreMin <= 0 {
		p.ScoreMin = 2
	}
	if p.FibEntryMin <= 0 {
		p.FibEntryMin = 0.618
	}
	if p.FibEntryMax <= 0 {
		p.FibEntryMax = 0.786
	}
	if p.BandTouchPct <= 0 {
		p.BandTouchPct = 0.001
	}
	if p.MinBodyPct <= 0 {
		p.MinBodyPct = 0.0005
	}
	return p
}

// Build returns the strategy implementation matching the configured mode.
func Build(mode string, params Params) Strategy {
	params = params.withDefaults()
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "zone", "zone_mean_reversion":
		return NewZoneMeanReversion(params)
	case "ote", "structure_break":
		return NewStructureBreakOTE(params)
	case "bollinger", "bollinger_bounce":
		return NewBollingerBounce(params)
	default:
		return NewTrendFollowing(params)
	}
}

func none(reason string) types.Signal {
	return types.Signal{Direction: types.None, Strength: 0, Reason: reason}
}
