package model

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IsLong reports whether the side profits from a rising price.
func (s Side) IsLong() bool { return s == SideBuy }

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseStopOut    CloseReason = "stop_out"
	CloseExpire     CloseReason = "expire"
	CloseManual     CloseReason = "manual"
)

// Position is a leveraged trade as stored by the trade store.
type Position struct {
	ID          int64       `json:"id"`
	Ref         string      `json:"ref"`
	AccountID   int64       `json:"account_id"`
	UserID      int64       `json:"user_id"`
	Pair        string      `json:"pair"`
	Side        Side        `json:"side"`
	Lot         float64     `json:"lot"`
	Leverage    float64     `json:"leverage"`
	OpenPrice   float64     `json:"open_price"`
	StopLoss    float64     `json:"stop_loss,omitempty"`    // 0 = not set
	TakeProfit  float64     `json:"take_profit,omitempty"`  // 0 = not set
	Margin      float64     `json:"margin"`
	Status      TradeStatus `json:"status"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
}

// CloseRequest asks the trade store to close a position and credit its profit.
type CloseRequest struct {
	TradeID    int64
	ClosePrice float64
	Profit     float64
	Reason     CloseReason
	ClosedAt   time.Time
}

// ClosedTrade is the outcome of a successful close-and-credit.
type ClosedTrade struct {
	TradeID    int64       `json:"trade_id"`
	Ref        string      `json:"ref"`
	AccountID  int64       `json:"account_id"`
	UserID     int64       `json:"user_id"`
	Pair       string      `json:"pair"`
	Reason     CloseReason `json:"reason"`
	Profit     float64     `json:"profit"`
	ClosePrice float64     `json:"close_price"`
	Balance    float64     `json:"balance"`
}

// Account is the balance holder owning positions.
type Account struct {
	ID       int64   `json:"id"`
	UserID   int64   `json:"user_id"`
	Balance  float64 `json:"balance"`
	Leverage float64 `json:"leverage"`
	Currency string  `json:"currency"`
}

// AccountSnapshot is computed on demand and never persisted.
type AccountSnapshot struct {
	AccountID     int64   `json:"account_id"`
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	UsedMargin    float64 `json:"used_margin"`
	FreeMargin    float64 `json:"free_margin"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	MarginLevel   float64 `json:"margin_level"` // percent, 0 when no margin is used
}
