package stream

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
	domainservice "tradestream/internal/domain/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inbound message types.
const (
	MsgAuth               = "auth"
	MsgPing               = "ping"
	MsgSubscribe          = "subscribe"
	MsgSubscribeTrades    = "subscribe_trades"
	MsgSubscribeChart     = "subscribe_chart"
	MsgUnsubscribeChart   = "unsubscribe_chart"
	MsgSubscribeAccount   = "subscribe_account"
	MsgUnsubscribeAccount = "unsubscribe_account"
	MsgSubscribeTrade     = "subscribe_trade"
	MsgUnsubscribeTrade   = "unsubscribe_trade"
	MsgGetAccount         = "get_account"
	MsgGetChartHistory    = "get_chart_history"
)

// Outbound frame types.
const (
	FrameAuthSuccess        = "auth_success"
	FrameAuthError          = "auth_error"
	FrameSubscribed         = "subscribed"
	FrameTradesSubscribed   = "trades_subscribed"
	FrameChartSubscribed    = "chart_subscribed"
	FrameChartUnsubscribed  = "chart_unsubscribed"
	FrameAccountSubscribed  = "account_subscribed"
	FrameTradeSubscribed    = "trade_subscribed"
	FramePriceUpdate        = "price_update"
	FrameCandle             = "candle"
	FrameChartHistory       = "chart_history"
	FrameAccountUpdate      = "account_update"
	FrameTradeClosed        = "trade_closed"
	FrameMarginCall         = "margin_call"
	FrameAdminAccountUpdate = "admin_account_update"
	FrameAdminTradeUpdate   = "admin_trade_update"
	FrameAdminTradeClosed   = "admin_trade_closed"
	FrameError              = "error"
	FramePong               = "pong"
)

// Error codes carried by capability denials.
const (
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
)

// ProtocolError is a client mistake answered with an error frame. The
// connection stays open.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func protoErr(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// capabilityError maps a refused capability to a typed error.
func capabilityError(c domainservice.Capability) *ProtocolError {
	code := CodeForbidden
	if c.Reason == domainservice.ReasonUnauthenticated {
		code = CodeUnauthorized
	}
	return &ProtocolError{Code: code, Message: c.Reason}
}

// Inbound is the union of every client message.
type Inbound struct {
	Type      string              `json:"type"`
	Token     string              `json:"token,omitempty"`
	Pairs     jsoniter.RawMessage `json:"pairs,omitempty"`
	Pair      string              `json:"pair,omitempty"`
	Interval  string              `json:"interval,omitempty"`
	AccountID *int64              `json:"account_id,omitempty"`
	TradeID   *int64              `json:"trade_id,omitempty"`
	Since     int64               `json:"since,omitempty"` // unix ms
}

func decodeInbound(raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, protoErr("malformed message")
	}
	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		return nil, protoErr("missing message type")
	}
	return &in, nil
}

// pairList decodes "pairs" as a list of symbols. all is true for the
// literal string "all".
func pairList(raw jsoniter.RawMessage) (pairs []string, all bool, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if strings.EqualFold(strings.TrimSpace(s), "all") {
			return nil, true, nil
		}
		return nil, false, protoErr("pairs must be a list or \"all\"")
	}
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, false, protoErr("pairs must be a list or \"all\"")
	}
	out := pairs[:0]
	seen := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		p = model.NormalizePair(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, false, nil
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type authSuccessFrame struct {
	Type      string     `json:"type"`
	UserID    int64      `json:"user_id"`
	Role      model.Role `json:"role"`
	AccountID int64      `json:"account_id,omitempty"`
}

type authErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pairsFrame struct {
	Type  string `json:"type"`
	Pairs any    `json:"pairs"`
}

type chartFrame struct {
	Type     string `json:"type"`
	Pair     string `json:"pair"`
	Interval string `json:"interval,omitempty"`
}

type accountSubscribedFrame struct {
	Type      string `json:"type"`
	AccountID int64  `json:"account_id"`
}

type tradeSubscribedFrame struct {
	Type    string `json:"type"`
	TradeID int64  `json:"trade_id"`
}

type pongFrame struct {
	Type string `json:"type"`
	Ts   int64  `json:"timestamp"`
}

type priceUpdateFrame struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	IsAltered bool    `json:"is_altered"`
	Direction string  `json:"direction"`
	Timestamp int64   `json:"timestamp"`
}

type candleFrame struct {
	Type string `json:"type"`
	model.Candle
}

type historyCandle struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsAltered bool    `json:"is_altered"`
}

type chartHistoryFrame struct {
	Type     string          `json:"type"`
	Pair     string          `json:"pair"`
	Interval string          `json:"interval"`
	Candles  []historyCandle `json:"candles"`
}

// accountView is the wire form of an account snapshot.
type accountView struct {
	AccountID   int64   `json:"account_id"`
	Currency    string  `json:"currency,omitempty"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	FreeMargin  float64 `json:"freeMargin"`
	TotalMargin float64 `json:"totalMargin"`
	ProfitLoss  float64 `json:"profit_loss"`
	MarginLevel float64 `json:"margin_level"`
}

func newAccountView(acct *model.Account, snap model.AccountSnapshot) accountView {
	return accountView{
		AccountID:   acct.ID,
		Currency:    acct.Currency,
		Balance:     snap.Balance,
		Equity:      snap.Equity,
		FreeMargin:  snap.FreeMargin,
		TotalMargin: snap.UsedMargin,
		ProfitLoss:  snap.UnrealizedPnL,
		MarginLevel: snap.MarginLevel,
	}
}

// tradeView is an open position priced at its effective price.
type tradeView struct {
	*model.Position
	CurrentPrice    float64                    `json:"current_price"`
	Profit          float64                    `json:"profit"`
	ProfitFormatted string                     `json:"profit_formatted"`
	ProfitStatus    domainservice.ProfitStatus `json:"profit_status"`
	IsAltered       bool                       `json:"is_altered"`
}

type accountUpdateFrame struct {
	Type string `json:"type"`
	accountView
	OpenTrades any `json:"openTrades,omitempty"`
}

type adminAccountUpdateFrame struct {
	Type       string      `json:"type"`
	AccountID  int64       `json:"account_id"`
	Account    accountView `json:"account"`
	OpenTrades []tradeView `json:"openTrades"`
}

type adminTradeUpdateFrame struct {
	Type  string    `json:"type"`
	Trade tradeView `json:"trade"`
}

type tradeClosedFrame struct {
	Type       string            `json:"type"`
	TradeID    int64             `json:"trade_id"`
	Ref        string            `json:"ref"`
	Pair       string            `json:"pair"`
	Reason     model.CloseReason `json:"reason"`
	Profit     float64           `json:"profit"`
	ClosePrice float64           `json:"close_price"`
	Message    string            `json:"message"`
	Timestamp  int64             `json:"timestamp"`
}

type adminTradeClosedFrame struct {
	Type       string            `json:"type"`
	UserID     int64             `json:"user_id"`
	AccountID  int64             `json:"account_id,omitempty"`
	TradeID    int64             `json:"trade_id"`
	Ref        string            `json:"ref"`
	Pair       string            `json:"pair"`
	Reason     model.CloseReason `json:"reason"`
	Profit     float64           `json:"profit"`
	ClosePrice float64           `json:"close_price"`
	Timestamp  int64             `json:"timestamp"`
}

type marginCallFrame struct {
	Type        string  `json:"type"`
	AccountID   int64   `json:"account_id"`
	MarginLevel float64 `json:"margin_level"`
	Equity      float64 `json:"equity"`
	UsedMargin  float64 `json:"used_margin"`
	Message     string  `json:"message"`
}

var reasonLabels = map[model.CloseReason]string{
	model.CloseStopLoss:   "stop loss",
	model.CloseTakeProfit: "take profit",
	model.CloseStopOut:    "stop out",
	model.CloseExpire:     "expiry",
	model.CloseManual:     "manual close",
}

func closedMessage(ev port.TradeClosedEvent) string {
	label, ok := reasonLabels[ev.Reason]
	if !ok {
		label = string(ev.Reason)
	}
	name := ev.Ref
	if name == "" {
		name = fmt.Sprintf("#%d", ev.TradeID)
	}
	return fmt.Sprintf("Trade %s closed by %s, profit %s", name, label, domainservice.FormatMoney(ev.Profit, 2))
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
