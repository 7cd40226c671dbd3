package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/domain/model"
)

// BroadcastCandle handles a closed upstream kline: every chart-altering
// scope gets its substituted candle persisted once, each subscriber gets the
// candle for its own scope, and the forming candles start over.
func (h *Hub) BroadcastCandle(ctx context.Context, real model.Candle, now time.Time) {
	real.Pair = model.NormalizePair(real.Pair)
	period := real.OpenTime.UTC()

	altered := make(map[model.CandleKey][]byte)
	for key, job := range h.deps.Engine.ChartJobs(real.Pair, real.Interval) {
		candle := h.deps.Engine.AlteredCandle(real, key, job)
		altered[key] = h.encode(candleFrame{Type: FrameCandle, Candle: candle})
		if h.deps.Engine.MarkPersisted(key, period) {
			h.persist(ctx, key, candle, period, now)
		}
	}

	var plain []byte
	for _, c := range h.conns {
		if iv, ok := c.charts[real.Pair]; !ok || iv != real.Interval {
			continue
		}
		frame := plain
		if key, job, ok := h.deps.Engine.ChartScope(real.Pair, real.Interval, c.AccountID, c.Role); ok {
			frame, ok = altered[key]
			if !ok {
				frame = h.encode(candleFrame{Type: FrameCandle, Candle: h.deps.Engine.AlteredCandle(real, key, job)})
				altered[key] = frame
			}
		} else if frame == nil {
			plain = h.encode(candleFrame{Type: FrameCandle, Candle: real})
			frame = plain
		}
		h.deliver(c, frame)
	}

	h.deps.Engine.ResetForming(real.Pair, real.Interval, period)
}

func (h *Hub) persist(ctx context.Context, key model.CandleKey, c model.Candle, period, now time.Time) {
	cctx, cancel := h.callCtx(ctx)
	defer cancel()
	err := h.deps.Candles.SaveAlteredCandle(cctx, &model.AlteredCandle{
		Scope:       key.Scope,
		Pair:        key.Pair,
		Interval:    key.Interval,
		AccountID:   key.AccountID,
		PeriodStart: period,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		CreatedAt:   now,
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key.String()).Time("period", period).Msg("persist altered candle")
	}
}
