package paper

import (
	"context"
	"testing"
	"time"

	"github.com/rhbachi/bybit-bot/internal/types"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// advancingClock steps five minutes on every read so each FetchCandles call
// produces a fresh candle.
func advancingClock() func() time.Time {
	t := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(5 * time.Minute)
		return t
	}
}

func TestFetchCandlesDeterministic(t *testing.T) {
	ctx := context.Background()
	a := New(1000, 0).WithClock(fixedClock())
	b := New(1000, 0).WithClock(fixedClock())

	ca, err := a.FetchCandles(ctx, "BTCUSDT", "5m", 50)
	if err != nil {
		t.Fatal(err)
	}
	cb, _ := b.FetchCandles(ctx, "BTCUSDT", "5m", 50)
	if len(ca) != len(cb) {
		t.Fatalf("lengths differ: %d vs %d", len(ca), len(cb))
	}
	for i := range ca {
		if ca[i] != cb[i] {
			t.Fatalf("candle %d differs: %+v vs %+v", i, ca[i], cb[i])
		}
	}
	for _, c := range ca {
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Fatalf("inconsistent OHLC: %+v", c)
		}
	}
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	g := New(1000, 0.001).WithClock(fixedClock())
	g.SetPrice("BTCUSDT", 100)

	resp, err := g.SubmitMarketOrder(ctx, types.OrderReq{Symbol: "BTCUSDT", Side: types.Long, Qty: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.OrderID == "" || resp.Status != "filled" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// double open is rejected
	if _, err := g.SubmitMarketOrder(ctx, types.OrderReq{Symbol: "BTCUSDT", Side: types.Long, Qty: 1}); err == nil {
		t.Fatal("second open on the same symbol must fail")
	}

	pos, _ := g.FetchPositions(ctx, []string{"BTCUSDT"})
	if len(pos) != 1 || pos[0].OpenQty != 2 || pos[0].EntryPrice != 100 {
		t.Fatalf("unexpected positions: %+v", pos)
	}

	// reduce-only close at a higher price realizes the gain
	g.SetPrice("BTCUSDT", 110)
	if _, err := g.SubmitMarketOrder(ctx, types.OrderReq{
		Symbol: "BTCUSDT", Side: types.Short, Qty: 2, ReduceOnly: true,
	}); err != nil {
		t.Fatal(err)
	}
	pos, _ = g.FetchPositions(ctx, []string{"BTCUSDT"})
	if len(pos) != 0 {
		t.Fatalf("position should be gone, got %+v", pos)
	}

	bal, _ := g.FetchBalance(ctx)
	// pnl = (110-100)*2 = 20; fees = open 2*100*0.001 + close 2*110*0.001
	want := 1000 + 20 - 0.2 - 0.22
	if diff := bal.Total - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("balance = %v, want %v", bal.Total, want)
	}

	fills, err := g.FetchFills(ctx, "BTCUSDT", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 2 {
		t.Fatalf("expected entry and exit fills, got %d", len(fills))
	}
	if fills[0].Side != types.Long || fills[0].Price != 100 {
		t.Fatalf("unexpected entry fill: %+v", fills[0])
	}
	if fills[1].Side != types.Short || fills[1].Price != 110 {
		t.Fatalf("unexpected exit fill: %+v", fills[1])
	}
}

func TestReduceOnlyRequiresPosition(t *testing.T) {
	g := New(1000, 0)
	_, err := g.SubmitMarketOrder(context.Background(), types.OrderReq{
		Symbol: "BTCUSDT", Side: types.Short, Qty: 1, ReduceOnly: true,
	})
	if err == nil {
		t.Fatal("reduce-only without a position must fail")
	}
}

func TestProtectiveTriggerOnCandle(t *testing.T) {
	ctx := context.Background()
	g := New(1000, 0).WithClock(advancingClock())
	g.SetPrice("BTCUSDT", 100)

	if _, err := g.SubmitMarketOrder(ctx, types.OrderReq{Symbol: "BTCUSDT", Side: types.Long, Qty: 1}); err != nil {
		t.Fatal(err)
	}
	if err := g.SetProtectiveOrders(ctx, "BTCUSDT", types.Protection{StopLoss: 99.9, TakeProfit: 200}); err != nil {
		t.Fatal(err)
	}

	// a tight stop against a random walk from 100 trips within a few candles
	for i := 0; i < 20; i++ {
		if _, err := g.FetchCandles(ctx, "BTCUSDT", "5m", 5); err != nil {
			t.Fatal(err)
		}
		pos, _ := g.FetchPositions(ctx, []string{"BTCUSDT"})
		if len(pos) == 0 {
			return // stop triggered and position settled
		}
	}
	t.Fatal("stop-loss never triggered against the candle walk")
}

func TestSetProtectiveOrdersWithoutPosition(t *testing.T) {
	g := New(1000, 0)
	if err := g.SetProtectiveOrders(context.Background(), "BTCUSDT", types.Protection{StopLoss: 1}); err == nil {
		t.Fatal("expected error for missing position")
	}
}

func TestSetLeverageBounds(t *testing.T) {
	g := New(1000, 0)
	if err := g.SetLeverage(context.Background(), "BTCUSDT", 2); err != nil {
		t.Fatal(err)
	}
	if err := g.SetLeverage(context.Background(), "BTCUSDT", 0); err == nil {
		t.Fatal("leverage below 1 must fail")
	}
	if err := g.SetLeverage(context.Background(), "BTCUSDT", 101); err == nil {
		t.Fatal("leverage above 100 must fail")
	}
}
