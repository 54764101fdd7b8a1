// Package notify delivers operator alerts over Telegram.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rhbachi/bybit-bot/internal/logger"
)

// Telegram posts messages to a chat via the bot API. A zero-value notifier
// (missing credentials) is valid and drops every message.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramFromEnv reads TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID. Either
// being empty disables delivery rather than erroring; alerting is optional.
func NewTelegramFromEnv() *Telegram {
	return &Telegram{
		token:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		chatID: os.Getenv("TELEGRAM_CHAT_ID"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether credentials are configured.
func (t *Telegram) Enabled() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

// Send delivers one message. Errors are logged and swallowed so a Telegram
// outage never stalls the trading loop.
func (t *Telegram) Send(text string) {
	if !t.Enabled() {
		return
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	form := url.Values{
		"chat_id": {t.chatID},
		"text":    {text},
	}
	resp, err := t.client.PostForm(endpoint, form)
	if err != nil {
		logger.Warn(context.Background(), "telegram send failed", "error", err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn(context.Background(), "telegram send rejected", "status", resp.StatusCode)
	}
}

// FormatTrade renders a closed trade for the alert channel.
func FormatTrade(symbol, side string, qty, entry, exit, pnl float64, result string) string {
	emoji := "🟢"
	if pnl < 0 {
		emoji = "🔴"
	}
	return fmt.Sprintf("%s %s %s %s qty=%.4f entry=%.2f exit=%.2f pnl=%.4f",
		emoji, result, symbol, strings.ToUpper(side), qty, entry, exit, pnl)
}
