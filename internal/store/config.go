package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode        string   `yaml:"mode"` // PAPER or LIVE
	Symbols     []string `yaml:"symbols"`
	Timeframe   string   `yaml:"timeframe"`
	PollSeconds int      `yaml:"poll_seconds"`
	MetricsAddr string   `yaml:"metrics_addr"`

	Capital      float64 `yaml:"capital"`        // reference equity in quote currency
	RiskPerTrade float64 `yaml:"risk_per_trade"` // fraction, e.g. 0.05
	Leverage     float64 `yaml:"leverage"`
	StopLossPct  float64 `yaml:"stop_loss_pct"` // price fraction, e.g. 0.006
	RRMultiplier float64 `yaml:"rr_multiplier"` // tp distance = sl distance * rr
	FeeRate      float64 `yaml:"fee_rate"`      // taker fee fraction per fill

	Strategy struct {
		Mode string `yaml:"mode"` // trend, zone, ote, bollinger

		TrendFastEMA int     `yaml:"trend_fast_ema"`
		TrendSlowEMA int     `yaml:"trend_slow_ema"`
		ZoneEMA      int     `yaml:"zone_ema"`
		MinEMASlope  float64 `yaml:"min_ema_slope"`
		ScoreMin     int     `yaml:"score_min"`      // momentum confirmations required
		FibEntryMin  float64 `yaml:"fib_entry_min"`  // OTE zone lower ratio
		FibEntryMax  float64 `yaml:"fib_entry_max"`  // OTE zone upper ratio
		BandTouchPct float64 `yaml:"band_touch_pct"` // bollinger touch tolerance
		MinBodyPct   float64 `yaml:"min_body_pct"`   // bollinger entry candle body minimum
	} `yaml:"strategy"`

	Risk struct {
		MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
		MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"` // fraction of capital
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		MaxPositions         int     `yaml:"max_positions"`
		CooldownSeconds      int     `yaml:"cooldown_seconds"`
		CooldownStart        string  `yaml:"cooldown_start"`        // open or close
		BreakerPauseSeconds  int     `yaml:"breaker_pause_seconds"` // long sleep after a breaker trips
		ResetStreakOnDay     bool    `yaml:"reset_streak_on_day"`
		SafetyMargin         float64 `yaml:"safety_margin"` // free-balance fraction usable as margin
	} `yaml:"risk"`

	Trailing struct {
		Activation float64 `yaml:"activation"` // unrealized gain fraction that arms trailing
		Distance   float64 `yaml:"distance"`   // trailing stop distance as price fraction
	} `yaml:"trailing"`

	// Protection selects the SL/TP orientation. The mean-reversion variant of
	// the zone strategy historically ran with stop and target swapped; that
	// ordering is kept reachable as "inverted" instead of being silently
	// normalized away.
	Protection string `yaml:"protection"` // normal or inverted

	Indicators struct {
		RSIPeriod  int     `yaml:"rsi_period"`
		MACDFast   int     `yaml:"macd_fast"`
		MACDSlow   int     `yaml:"macd_slow"`
		MACDSignal int     `yaml:"macd_signal"`
		StochK     int     `yaml:"stoch_k"`
		StochD     int     `yaml:"stoch_d"`
		BBWindow   int     `yaml:"bb_window"`
		BBStdDev   float64 `yaml:"bb_stddev"`
		ATRPeriod  int     `yaml:"atr_period"`
	} `yaml:"indicators"`
}

func (c *Config) Validate() error {
	if c.Mode != "PAPER" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'PAPER' or 'LIVE'", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return errors.New("symbols cannot be empty")
	}
	if c.Capital <= 0 {
		return fmt.Errorf("capital must be positive, got %.2f", c.Capital)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade must be in (0,1], got %.4f", c.RiskPerTrade)
	}
	if c.StopLossPct <= 0 || c.StopLossPct > 1 {
		return fmt.Errorf("stop_loss_pct must be in (0,1], got %.4f", c.StopLossPct)
	}
	if c.Leverage < 1 || c.Leverage > 100 {
		return fmt.Errorf("leverage must be in [1,100], got %.1f", c.Leverage)
	}
	if c.RRMultiplier <= 0 {
		return fmt.Errorf("rr_multiplier must be positive, got %.2f", c.RRMultiplier)
	}
	switch c.Strategy.Mode {
	case "trend", "zone", "ote", "bollinger":
	default:
		return fmt.Errorf("strategy.mode must be one of trend, zone, ote, bollinger, got '%s'", c.Strategy.Mode)
	}
	if c.Risk.CooldownStart != "open" && c.Risk.CooldownStart != "close" {
		return fmt.Errorf("risk.cooldown_start must be 'open' or 'close', got '%s'", c.Risk.CooldownStart)
	}
	if c.Protection != "normal" && c.Protection != "inverted" {
		return fmt.Errorf("protection must be 'normal' or 'inverted', got '%s'", c.Protection)
	}
	if c.Risk.BreakerPauseSeconds < 0 {
		return fmt.Errorf("risk.breaker_pause_seconds cannot be negative, got %d", c.Risk.BreakerPauseSeconds)
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0,1], got %.4f", c.Risk.MaxDailyLossPct)
	}
	if c.Risk.SafetyMargin <= 0 || c.Risk.SafetyMargin > 1 {
		return fmt.Errorf("risk.safety_margin must be in (0,1], got %.4f", c.Risk.SafetyMargin)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Timeframe == "" {
		c.Timeframe = "5m"
	}
	if c.PollSeconds == 0 {
		c.PollSeconds = 300
	}
	if c.Leverage == 0 {
		c.Leverage = 1
	}
	if c.RRMultiplier == 0 {
		c.RRMultiplier = 2.0
	}
	if c.Strategy.Mode == "" {
		c.Strategy.Mode = "trend"
	}
	if c.Strategy.TrendFastEMA == 0 {
		c.Strategy.TrendFastEMA = 9
	}
	if c.Strategy.TrendSlowEMA == 0 {
		c.Strategy.TrendSlowEMA = 21
	}
	if c.Strategy.ZoneEMA == 0 {
		c.Strategy.ZoneEMA = 20
	}
	if c.Strategy.MinEMASlope == 0 {
		c.Strategy.MinEMASlope = 0.0005
	}
	if c.Strategy.ScoreMin == 0 {
		c.Strategy.ScoreMin = 2
	}
	if c.Strategy.FibEntryMin == 0 {
		c.Strategy.FibEntryMin = 0.618
	}
	if c.Strategy.FibEntryMax == 0 {
		c.Strategy.FibEntryMax = 0.786
	}
	if c.Strategy.BandTouchPct == 0 {
		c.Strategy.BandTouchPct = 0.001
	}
	if c.Strategy.MinBodyPct == 0 {
		c.Strategy.MinBodyPct = 0.0005
	}
	if c.Risk.MaxTradesPerDay == 0 {
		c.Risk.MaxTradesPerDay = 8
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk.MaxDailyLossPct = 0.05
	}
	if c.Risk.MaxConsecutiveLosses == 0 {
		c.Risk.MaxConsecutiveLosses = 3
	}
	if c.Risk.MaxPositions == 0 {
		c.Risk.MaxPositions = 1
	}
	if c.Risk.CooldownSeconds == 0 {
		c.Risk.CooldownSeconds = 900
	}
	if c.Risk.CooldownStart == "" {
		c.Risk.CooldownStart = "open"
	}
	if c.Risk.BreakerPauseSeconds == 0 {
		c.Risk.BreakerPauseSeconds = 3600
	}
	if c.Risk.SafetyMargin == 0 {
		c.Risk.SafetyMargin = 0.95
	}
	if c.Trailing.Activation == 0 {
		c.Trailing.Activation = 0.01
	}
	if c.Trailing.Distance == 0 {
		c.Trailing.Distance = 0.005
	}
	if c.Protection == "" {
		c.Protection = "normal"
	}
}
