package risk

import (
	"math"
	"testing"

	"github.com/rhbachi/bybit-bot/internal/types"
)

func TestSizeMarginCapScenario(t *testing.T) {
	// capital 30, risk 5%, stop 0.6%, leverage 2, price 2000:
	// notional from risk = 250, margin cap = 60, target 60 => qty 0.03
	qty := Size(SizeInput{
		Capital:  30,
		RiskFrac: 0.05,
		StopFrac: 0.006,
		Price:    2000,
		Leverage: 2,
		Limits:   types.InstrumentLimits{QtyStep: 0.0001},
	})
	if math.Abs(qty-0.03) > 1e-9 {
		t.Fatalf("qty = %v, want 0.03", qty)
	}
}

func TestSizeRejectsBadInput(t *testing.T) {
	base := SizeInput{Capital: 100, RiskFrac: 0.05, StopFrac: 0.01, Price: 50, Leverage: 2}
	cases := []struct {
		name   string
		mutate func(*SizeInput)
	}{
		{"zero capital", func(in *SizeInput) { in.Capital = 0 }},
		{"negative capital", func(in *SizeInput) { in.Capital = -5 }},
		{"zero risk", func(in *SizeInput) { in.RiskFrac = 0 }},
		{"risk above one", func(in *SizeInput) { in.RiskFrac = 1.5 }},
		{"zero stop", func(in *SizeInput) { in.StopFrac = 0 }},
		{"zero price", func(in *SizeInput) { in.Price = 0 }},
		{"leverage below one", func(in *SizeInput) { in.Leverage = 0.5 }},
		{"leverage above hundred", func(in *SizeInput) { in.Leverage = 150 }},
	}
	for _, tc := range cases {
		in := base
		tc.mutate(&in)
		if qty := Size(in); qty != 0 {
			t.Errorf("%s: qty = %v, want 0", tc.name, qty)
		}
	}
}

func TestSizeRaisesToMinNotional(t *testing.T) {
	// tiny target notional gets raised to the exchange minimum
	qty := Size(SizeInput{
		Capital:  10,
		RiskFrac: 0.01,
		StopFrac: 0.5, // notional from risk = 0.2
		Price:    100,
		Leverage: 1,
		Limits:   types.InstrumentLimits{QtyStep: 0.001, MinNotional: 5},
	})
	if qty*100 < 5 {
		t.Fatalf("notional %.4f below minimum 5", qty*100)
	}
}

func TestSizeMarginClampRespectsFreeBalance(t *testing.T) {
	in := SizeInput{
		Capital:     1000,
		RiskFrac:    0.5,
		StopFrac:    0.005, // huge risk notional
		Price:       100,
		Leverage:    10,
		Limits:      types.InstrumentLimits{QtyStep: 0.001},
		FreeBalance: 50,
	}
	qty := Size(in)
	if qty <= 0 {
		t.Fatal("expected positive clamped quantity")
	}
	requiredMargin := qty * in.Price / in.Leverage
	if requiredMargin > in.FreeBalance*DefaultSafetyMargin+1e-9 {
		t.Fatalf("required margin %.4f exceeds usable balance %.4f", requiredMargin, in.FreeBalance*DefaultSafetyMargin)
	}
}

func TestSizeMarginNeverExceedsCapital(t *testing.T) {
	// required margin stays within capital for a grid of legal inputs
	// (free balance set to capital)
	capitals := []float64{15, 30, 100, 5000}
	risks := []float64{0.01, 0.05, 0.5, 1}
	stops := []float64{0.001, 0.006, 0.05, 1}
	leverages := []float64{1, 2, 10, 100}
	for _, c := range capitals {
		for _, r := range risks {
			for _, s := range stops {
				for _, l := range leverages {
					qty := Size(SizeInput{
						Capital: c, RiskFrac: r, StopFrac: s, Price: 2000, Leverage: l,
						FreeBalance: c,
					})
					if qty < 0 {
						t.Fatalf("negative qty for c=%v r=%v s=%v l=%v", c, r, s, l)
					}
					margin := qty * 2000 / l
					if margin > c+1e-9 {
						t.Fatalf("margin %.4f exceeds capital %.4f for r=%v s=%v l=%v", margin, c, r, s, l)
					}
				}
			}
		}
	}
}

func TestProtectivePrices(t *testing.T) {
	prot := ProtectivePrices(1000, types.Long, 0.006, 2.0, false)
	if math.Abs(prot.StopLoss-994) > 1e-9 {
		t.Errorf("long SL = %v, want 994", prot.StopLoss)
	}
	if math.Abs(prot.TakeProfit-1012) > 1e-9 {
		t.Errorf("long TP = %v, want 1012", prot.TakeProfit)
	}

	prot = ProtectivePrices(1000, types.Short, 0.006, 2.0, false)
	if math.Abs(prot.StopLoss-1006) > 1e-9 {
		t.Errorf("short SL = %v, want 1006", prot.StopLoss)
	}
	if math.Abs(prot.TakeProfit-988) > 1e-9 {
		t.Errorf("short TP = %v, want 988", prot.TakeProfit)
	}
}

func TestProtectivePricesInverted(t *testing.T) {
	normal := ProtectivePrices(1000, types.Long, 0.006, 2.0, false)
	inverted := ProtectivePrices(1000, types.Long, 0.006, 2.0, true)
	if inverted.StopLoss != normal.TakeProfit || inverted.TakeProfit != normal.StopLoss {
		t.Fatalf("inverted orientation must swap SL/TP: %+v vs %+v", inverted, normal)
	}
}

func TestRRRatio(t *testing.T) {
	if rr := RRRatio(100, 99, 102, types.Long); math.Abs(rr-2.0) > 1e-9 {
		t.Errorf("long RR = %v, want 2.0", rr)
	}
	if rr := RRRatio(100, 101, 98, types.Short); math.Abs(rr-2.0) > 1e-9 {
		t.Errorf("short RR = %v, want 2.0", rr)
	}
	if rr := RRRatio(100, 100, 102, types.Long); rr != 0 {
		t.Errorf("degenerate RR = %v, want 0", rr)
	}
}
