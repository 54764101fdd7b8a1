package types

import "time"

// Candle is one OHLCV sample for a fixed time bucket.
type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Side of a position or order.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Opposite returns the closing side for a position side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Direction of a trade signal. None means no entry this cycle.
type Direction string

const (
	None     Direction = "none"
	LongDir  Direction = "long"
	ShortDir Direction = "short"
)

// Side converts a non-none direction to a position side.
func (d Direction) Side() Side {
	if d == ShortDir {
		return Short
	}
	return Long
}

// Signal is the output of one strategy evaluation. Reason is always
// populated, including for Direction == None, so the caller can log why
// nothing fired.
type Signal struct {
	Direction Direction `json:"direction"`
	Strength  int       `json:"strength"` // 0..3 momentum agreement count
	Reason    string    `json:"reason"`
}

// OrderReq is a market order request against the gateway.
type OrderReq struct {
	Symbol     string
	Side       Side
	Qty        float64
	ReduceOnly bool
	LinkID     string // client order link id
}

// OrderResp is the gateway acknowledgement for an order.
type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status,omitempty"`
}

// Fill is one executed trade reported by the exchange.
type Fill struct {
	OrderID string
	Symbol  string
	Side    Side
	Qty     float64
	Price   float64
	Fee     float64
	Ts      time.Time
}

// Protection holds the protective trigger prices attached to a position.
type Protection struct {
	StopLoss   float64
	TakeProfit float64
}

// Balance is the account balance snapshot for the settlement asset.
type Balance struct {
	Free, Used, Total float64
}

// PositionInfo is the exchange-reported view of a position. OpenQty is
// signed: positive for longs, negative for shorts, zero when flat.
type PositionInfo struct {
	Symbol        string
	OpenQty       float64
	EntryPrice    float64
	MarkPrice     float64
	RealizedPnl   float64
	UnrealizedPnl float64
}

// InstrumentLimits are the exchange trading constraints for a symbol.
type InstrumentLimits struct {
	QtyStep     float64 // quantity precision step, e.g. 0.0001
	MinQty      float64 // minimum tradable quantity
	MinNotional float64 // minimum order value in quote currency
}

// TradeResult classifies a closed trade.
type TradeResult string

const (
	Win  TradeResult = "WIN"
	Loss TradeResult = "LOSS"
)

// TradeRecord is the immutable summary of one closed trade.
type TradeRecord struct {
	Symbol   string        `json:"symbol"`
	Side     Side          `json:"side"`
	Qty      float64       `json:"qty"`
	Entry    float64       `json:"entry"`
	Exit     float64       `json:"exit"`
	Pnl      float64       `json:"pnl"`
	Fees     float64       `json:"fees"`
	Duration time.Duration `json:"duration"`
	Result   TradeResult   `json:"result"`
	Reason   string        `json:"reason,omitempty"`
}

// SignalRecord is an evaluated signal plus its execution outcome, emitted to
// the event sink every cycle whether or not a trade followed.
type SignalRecord struct {
	Symbol   string    `json:"symbol"`
	Signal   Signal    `json:"signal"`
	Price    float64   `json:"price"`
	Executed bool      `json:"executed"`
	Skipped  string    `json:"skipped,omitempty"` // governor/sizer reason when not executed
	Ts       time.Time `json:"ts"`
}
