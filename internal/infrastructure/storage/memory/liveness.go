package memory

import (
	"context"
	"sync"
	"time"

	"tradestream/internal/application/port"
)

// Heartbeat 记录最近一次心跳，Redis 关闭时使用
type Heartbeat struct {
	mu     sync.Mutex
	ts     time.Time
	prices map[string]float64
}

func NewHeartbeat() *Heartbeat { return &Heartbeat{} }

func (h *Heartbeat) WriteHeartbeat(ctx context.Context, ts time.Time, prices map[string]float64) error {
	cp := make(map[string]float64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	h.mu.Lock()
	h.ts, h.prices = ts, cp
	h.mu.Unlock()
	return nil
}

func (h *Heartbeat) Last() (time.Time, map[string]float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ts, h.prices
}

var _ port.LivenessWriter = (*Heartbeat)(nil)
