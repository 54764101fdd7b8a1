package interfaces

import (
	"context"
	"time"

	"github.com/rhbachi/bybit-bot/internal/types"
)

// Gateway is the exchange capability boundary. Implementations own
// authentication, rate limiting, and transport; callers pass a context with
// a bounded timeout on every call.
type Gateway interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error)
	FetchBalance(ctx context.Context) (types.Balance, error)
	FetchPositions(ctx context.Context, symbols []string) ([]types.PositionInfo, error)
	FetchFills(ctx context.Context, symbol string, since time.Time) ([]types.Fill, error)
	InstrumentLimits(ctx context.Context, symbol string) (types.InstrumentLimits, error)
	SubmitMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
	SetProtectiveOrders(ctx context.Context, symbol string, prot types.Protection) error
}
