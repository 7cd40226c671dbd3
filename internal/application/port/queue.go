package port

import (
	"context"

	"tradestream/internal/domain/model"
)

// TradeClosedEvent is handed from external processes to the engine.
type TradeClosedEvent struct {
	UserID     int64             `json:"user_id"`
	AccountID  int64             `json:"account_id,omitempty"`
	TradeID    int64             `json:"trade_id"`
	Ref        string            `json:"ref,omitempty"`
	Pair       string            `json:"pair,omitempty"`
	Reason     model.CloseReason `json:"reason"`
	Profit     float64           `json:"profit"`
	ClosePrice float64           `json:"close_price"`
	Ts         int64             `json:"ts_ms"`
}

// NotificationQueue is a process-shared FIFO.
type NotificationQueue interface {
	Push(ctx context.Context, ev TradeClosedEvent) error
	// Drain atomically reads and clears the queue.
	Drain(ctx context.Context) ([]TradeClosedEvent, error)
}
