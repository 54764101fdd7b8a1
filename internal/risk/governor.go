package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/rhbachi/bybit-bot/internal/types"
)

// Budget tracks the per-account counters the daily breakers run on.
// Counters only grow within a UTC day; the rollover is the sole reset point.
type Budget struct {
	TradesToday       int
	DailyRealizedLoss float64 // positive number, accumulated losses only
	ConsecutiveLosses int
	Day               time.Time // UTC midnight of the current trading day
}

// Action tells the engine what the governor decided for this cycle.
type Action int

const (
	Proceed    Action = iota
	PauseLong         // breaker tripped, sleep long before retrying
	Defer             // soft ceiling hit, try again next cycle
	ManageOnly        // keep managing open positions, no new entries
)

// Verdict is a gate decision plus its machine-readable reason.
type Verdict struct {
	Action Action
	Reason string
}

// Config holds the governor limits. Cooldown semantics differ between the
// historical bot variants; CooldownStart names the choice explicitly.
type Config struct {
	Capital              float64
	MaxDailyLossFrac     float64
	MaxTradesPerDay      int
	MaxConsecutiveLosses int
	MaxPositions         int
	Cooldown             time.Duration
	CooldownStart        string // "open" or "close"
	ResetStreakOnDay     bool   // stricter variants also reset the loss streak at rollover
}

// SymbolStats aggregates per-symbol performance for the rollover summary.
type SymbolStats struct {
	Trades int
	Wins   int
	Pnl    float64
}

// DaySummary is emitted once per UTC-day rollover.
type DaySummary struct {
	Day       time.Time
	Trades    int
	DailyLoss float64
	PerSymbol map[string]SymbolStats
}

// Governor enforces the portfolio-level gates. It is driven by the single
// loop goroutine; the injectable clock keeps breakers testable.
type Governor struct {
	cfg       Config
	now       func() time.Time
	budget    Budget
	lastTrade map[string]time.Time
	stats     map[string]SymbolStats
}

func NewGovernor(cfg Config, now func() time.Time) *Governor {
	if now == nil {
		now = time.Now
	}
	g := &Governor{
		cfg:       cfg,
		now:       now,
		lastTrade: map[string]time.Time{},
		stats:     map[string]SymbolStats{},
	}
	g.budget.Day = utcDay(now())
	return g
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Budget exposes a copy of the current counters.
func (g *Governor) Budget() Budget { return g.budget }

// Rollover resets the daily counters when the UTC date has changed and
// returns the summary of the day that ended. It fires at most once per date
// change.
func (g *Governor) Rollover() (*DaySummary, bool) {
	today := utcDay(g.now())
	if today.Equal(g.budget.Day) {
		return nil, false
	}
	summary := &DaySummary{
		Day:       g.budget.Day,
		Trades:    g.budget.TradesToday,
		DailyLoss: g.budget.DailyRealizedLoss,
		PerSymbol: g.stats,
	}
	g.budget.TradesToday = 0
	g.budget.DailyRealizedLoss = 0
	g.budget.Day = today
	if g.cfg.ResetStreakOnDay {
		g.budget.ConsecutiveLosses = 0
	}
	g.stats = map[string]SymbolStats{}
	return summary, true
}

// CheckGlobal evaluates the account-wide gates in their fixed order. The
// first tripped gate wins.
func (g *Governor) CheckGlobal(openPositions int) Verdict {
	if g.cfg.MaxDailyLossFrac > 0 && g.budget.DailyRealizedLoss >= g.cfg.Capital*g.cfg.MaxDailyLossFrac {
		return Verdict{PauseLong, fmt.Sprintf("daily loss %.2f reached cap %.2f",
			g.budget.DailyRealizedLoss, g.cfg.Capital*g.cfg.MaxDailyLossFrac)}
	}
	if g.cfg.MaxConsecutiveLosses > 0 && g.budget.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return Verdict{PauseLong, fmt.Sprintf("%d consecutive losses", g.budget.ConsecutiveLosses)}
	}
	if g.cfg.MaxTradesPerDay > 0 && g.budget.TradesToday >= g.cfg.MaxTradesPerDay {
		return Verdict{Defer, fmt.Sprintf("trade ceiling %d reached", g.cfg.MaxTradesPerDay)}
	}
	if g.cfg.MaxPositions > 0 && openPositions >= g.cfg.MaxPositions {
		return Verdict{ManageOnly, fmt.Sprintf("max concurrent positions %d reached", g.cfg.MaxPositions)}
	}
	return Verdict{Proceed, "ok"}
}

// UnderCooldown reports whether the symbol is still inside its cooldown
// window and how long remains.
func (g *Governor) UnderCooldown(symbol string) (time.Duration, bool) {
	last, ok := g.lastTrade[symbol]
	if !ok || g.cfg.Cooldown <= 0 {
		return 0, false
	}
	elapsed := g.now().Sub(last)
	if elapsed < g.cfg.Cooldown {
		return g.cfg.Cooldown - elapsed, true
	}
	return 0, false
}

// SlotsFree returns how many new entries the concurrency cap still allows.
func (g *Governor) SlotsFree(openPositions int) int {
	if g.cfg.MaxPositions <= 0 {
		return 1
	}
	free := g.cfg.MaxPositions - openPositions
	if free < 0 {
		return 0
	}
	return free
}

// NoteOpen records a confirmed position open: the trade counts against the
// daily ceiling and, in cooldown-at-open configurations, starts the symbol
// cooldown.
func (g *Governor) NoteOpen(symbol string) {
	g.budget.TradesToday++
	if g.cfg.CooldownStart != "close" {
		g.lastTrade[symbol] = g.now()
	}
}

// NoteClose folds a closed trade into the counters: losses grow the daily
// loss and the streak, wins reset the streak. In cooldown-at-close
// configurations the symbol cooldown starts here.
func (g *Governor) NoteClose(rec types.TradeRecord) {
	if rec.Result == types.Loss {
		g.budget.DailyRealizedLoss += -rec.Pnl
		g.budget.ConsecutiveLosses++
	} else {
		g.budget.ConsecutiveLosses = 0
	}
	st := g.stats[rec.Symbol]
	st.Trades++
	if rec.Result == types.Win {
		st.Wins++
	}
	st.Pnl += rec.Pnl
	g.stats[rec.Symbol] = st

	if g.cfg.CooldownStart == "close" {
		g.lastTrade[rec.Symbol] = g.now()
	}
}

// Opportunity is one qualifying signal with its protective levels, scored
// for the multi-symbol ranking.
type Opportunity struct {
	Symbol string
	Signal types.Signal
	Price  float64
	Prot   types.Protection
	ATRPct float64
	RR     float64
	Score  int
}

// ScoreOpportunity awards one point each for a reward:risk of at least 2, a
// recent ATR above one percent of price, and an RSI in the middle band.
func ScoreOpportunity(rr, atrPct, rsi float64) int {
	score := 0
	if rr >= 2 {
		score++
	}
	if atrPct > 0.01 {
		score++
	}
	if rsi > 40 && rsi < 60 {
		score++
	}
	return score
}

// Rank orders opportunities best first; the sort is stable so earlier
// symbols win ties.
func Rank(ops []Opportunity) []Opportunity {
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Score > ops[j].Score })
	return ops
}
