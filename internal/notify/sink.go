package notify

import (
	"context"

	"github.com/rhbachi/bybit-bot/internal/logger"
	"github.com/rhbachi/bybit-bot/internal/tradelog"
	"github.com/rhbachi/bybit-bot/internal/types"
)

// Sink fans events out to the daily log files and the alert channel. All
// failures are logged and dropped; the trading loop never waits on it.
type Sink struct {
	telegram *Telegram
}

func NewSink(t *Telegram) *Sink { return &Sink{telegram: t} }

func (s *Sink) LogSignal(rec types.SignalRecord) {
	if err := tradelog.AppendSignal(rec); err != nil {
		logger.Warn(context.Background(), "signal log append failed", "error", err.Error())
	}
}

func (s *Sink) LogTrade(rec types.TradeRecord) {
	if err := tradelog.AppendTrade(rec); err != nil {
		logger.Warn(context.Background(), "trade log append failed", "error", err.Error())
	}
	s.Notify(FormatTrade(rec.Symbol, string(rec.Side), rec.Qty, rec.Entry, rec.Exit, rec.Pnl, string(rec.Result)))
}

func (s *Sink) Notify(text string) {
	if s.telegram.Enabled() {
		go s.telegram.Send(text)
	}
}
