package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/application/port"
)

var ErrInvalidEvent = errors.New("trade closed event needs user_id and trade_id")

// Dispatcher delivers one bridged event to live connections and returns the
// number of frames it sent.
type Dispatcher interface {
	DispatchTradeClosed(ev port.TradeClosedEvent) int
}

// NotificationBridge hands trade-closed events from stateless processes to
// the engine. Delivery is at-least-once; duplicates are passed through.
type NotificationBridge struct {
	queue port.NotificationQueue
}

func NewNotificationBridge(queue port.NotificationQueue) *NotificationBridge {
	return &NotificationBridge{queue: queue}
}

// Enqueue appends ev to the shared queue.
func (b *NotificationBridge) Enqueue(ctx context.Context, ev port.TradeClosedEvent) error {
	if ev.UserID == 0 || ev.TradeID == 0 {
		return ErrInvalidEvent
	}
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}
	if err := b.queue.Push(ctx, ev); err != nil {
		return fmt.Errorf("enqueue trade %d: %w", ev.TradeID, err)
	}
	return nil
}

// DrainAndDispatch empties the queue and delivers every event in order.
func (b *NotificationBridge) DrainAndDispatch(ctx context.Context, d Dispatcher) (int, error) {
	events, err := b.queue.Drain(ctx)
	if err != nil {
		return 0, fmt.Errorf("drain notification queue: %w", err)
	}
	frames := 0
	for _, ev := range events {
		n := d.DispatchTradeClosed(ev)
		frames += n
		log.Debug().
			Int64("trade_id", ev.TradeID).
			Int64("user_id", ev.UserID).
			Str("reason", string(ev.Reason)).
			Int("frames", n).
			Msg("bridged trade closed")
	}
	return frames, nil
}
