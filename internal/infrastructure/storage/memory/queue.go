package memory

import (
	"context"
	"sync"

	"tradestream/internal/application/port"
)

// Queue 进程内的 NotificationQueue
type Queue struct {
	mu     sync.Mutex
	events []port.TradeClosedEvent
}

func NewQueue() *Queue {
	return &Queue{events: make([]port.TradeClosedEvent, 0)}
}

func (q *Queue) Push(ctx context.Context, ev port.TradeClosedEvent) error {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	return nil
}

func (q *Queue) Drain(ctx context.Context) ([]port.TradeClosedEvent, error) {
	q.mu.Lock()
	out := q.events
	q.events = make([]port.TradeClosedEvent, 0)
	q.mu.Unlock()
	return out, nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

var _ port.NotificationQueue = (*Queue)(nil)
