package interfaces

import "github.com/rhbachi/bybit-bot/internal/types"

// EventSink receives signal/trade records and operator notifications.
// Implementations are fire-and-forget: failures are swallowed and calls must
// never block the trading loop.
type EventSink interface {
	LogSignal(rec types.SignalRecord)
	LogTrade(rec types.TradeRecord)
	Notify(text string)
}
