package memory

import (
	"context"
	"testing"
	"time"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

func TestQueueDrainClears(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	q.Push(ctx, port.TradeClosedEvent{UserID: 1, TradeID: 10})
	q.Push(ctx, port.TradeClosedEvent{UserID: 1, TradeID: 10})

	got, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestCandleCacheUpsertAndSweep(t *testing.T) {
	c := NewCandleCache()
	ctx := context.Background()
	now := time.Now()
	period := model.PeriodStart(now, "1m")

	c.SaveAlteredCandle(ctx, &model.AlteredCandle{Scope: model.ScopePair, Pair: "BTC/USD", Interval: "1m", PeriodStart: period, Close: 1, CreatedAt: now})
	c.SaveAlteredCandle(ctx, &model.AlteredCandle{Scope: model.ScopePair, Pair: "BTC/USD", Interval: "1m", PeriodStart: period, Close: 2, CreatedAt: now})
	if c.Len() != 1 {
		t.Fatalf("expected 1 candle, got %d", c.Len())
	}
	got, _ := c.ListAltered(ctx, model.ScopePair, "BTC/USD", "1m", 0, period)
	if len(got) != 1 || got[0].Close != 2 {
		t.Fatalf("unexpected candles: %+v", got)
	}

	n, _ := c.Sweep(ctx, now.Add(time.Second))
	if n != 1 || c.Len() != 0 {
		t.Errorf("expected sweep to remove 1 candle, removed %d, left %d", n, c.Len())
	}
}
