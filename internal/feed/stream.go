package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhbachi/bybit-bot/internal/logger"
	"github.com/rhbachi/bybit-bot/internal/types"
)

const defaultStreamURL = "wss://stream.bybit.com/v5/public/linear"

// Stream keeps the History fresh between REST polls by consuming the public
// kline websocket. It reconnects with exponential backoff and runs until the
// context is canceled.
type Stream struct {
	url       string
	symbols   []string
	timeframe string
	history   *History
}

func NewStream(symbols []string, timeframe string, history *History) *Stream {
	return &Stream{
		url:       defaultStreamURL,
		symbols:   symbols,
		timeframe: timeframe,
		history:   history,
	}
}

// WithURL overrides the websocket endpoint, used by tests.
func (s *Stream) WithURL(url string) *Stream {
	s.url = url
	return s
}

type wsSubscribe struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type wsKlineMsg struct {
	Topic string `json:"topic"`
	Data  []struct {
		Start    int64  `json:"start"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Confirm  bool   `json:"confirm"`
		Interval string `json:"interval"`
	} `json:"data"`
}

// interval converts a timeframe like "5m" or "1h" to the stream's interval
// token ("5", "60", "D").
func interval(timeframe string) string {
	tf := strings.ToLower(strings.TrimSpace(timeframe))
	switch {
	case strings.HasSuffix(tf, "m"):
		return strings.TrimSuffix(tf, "m")
	case strings.HasSuffix(tf, "h"):
		n, err := strconv.Atoi(strings.TrimSuffix(tf, "h"))
		if err != nil {
			return "60"
		}
		return strconv.Itoa(n * 60)
	case tf == "1d" || tf == "d":
		return "D"
	default:
		return tf
	}
}

// Run consumes the stream until ctx is canceled, reconnecting on failure.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn(ctx, "kline stream disconnected, retrying",
				"error", err.Error(), "backoff", backoff.String())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (s *Stream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	args := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		args[i] = fmt.Sprintf("kline.%s.%s", interval(s.timeframe), sym)
	}
	if err := conn.WriteJSON(wsSubscribe{Op: "subscribe", Args: args}); err != nil {
		return err
	}
	logger.Info(ctx, "kline stream connected", "symbols", strings.Join(s.symbols, ","))

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(wsSubscribe{Op: "ping"}); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wsKlineMsg
		if err := json.Unmarshal(message, &msg); err != nil || !strings.HasPrefix(msg.Topic, "kline.") {
			continue
		}
		symbol := topicSymbol(msg.Topic)
		if symbol == "" {
			continue
		}
		for _, k := range msg.Data {
			c, ok := parseKline(k.Start, k.Open, k.High, k.Low, k.Close, k.Volume)
			if !ok {
				logger.Warn(ctx, "dropping malformed kline", "symbol", symbol)
				continue
			}
			s.history.Merge(symbol, s.timeframe, []types.Candle{c})
		}
	}
}

func topicSymbol(topic string) string {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

func parseKline(start int64, open, high, low, close, volume string) (types.Candle, bool) {
	o, err1 := strconv.ParseFloat(open, 64)
	h, err2 := strconv.ParseFloat(high, 64)
	l, err3 := strconv.ParseFloat(low, 64)
	c, err4 := strconv.ParseFloat(close, 64)
	v, err5 := strconv.ParseFloat(volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return types.Candle{}, false
	}
	return types.Candle{Ts: start, Open: o, High: h, Low: l, Close: c, Vol: v}, true
}
