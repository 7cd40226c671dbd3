package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

// CandleCache 内存版改价K线缓存，key 与 SQLite 表一致
type CandleCache struct {
	mu      sync.Mutex
	candles map[string]*model.AlteredCandle
}

func NewCandleCache() *CandleCache {
	return &CandleCache{candles: make(map[string]*model.AlteredCandle)}
}

func candleID(c *model.AlteredCandle) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", c.Scope, c.Pair, c.Interval, c.AccountID, c.PeriodStart.UnixMilli())
}

func (r *CandleCache) SaveAlteredCandle(ctx context.Context, c *model.AlteredCandle) error {
	cp := *c
	r.mu.Lock()
	r.candles[candleID(c)] = &cp
	r.mu.Unlock()
	return nil
}

func (r *CandleCache) ListAltered(ctx context.Context, scope model.AlterScope, pair, interval string, accountID int64, since time.Time) ([]*model.AlteredCandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AlteredCandle
	for _, c := range r.candles {
		if c.Scope == scope && c.Pair == pair && c.Interval == interval && c.AccountID == accountID && !c.PeriodStart.Before(since) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (r *CandleCache) Sweep(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.candles {
		if c.CreatedAt.Before(before) {
			delete(r.candles, id)
			n++
		}
	}
	return n, nil
}

func (r *CandleCache) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candles)
}

var _ port.CandleCache = (*CandleCache)(nil)
