package port

import (
	"context"

	"tradestream/internal/domain/model"
)

// PriceFeed streams last-trade ticks for the given pairs.
type PriceFeed interface {
	Name() string
	Subscribe(ctx context.Context, pairs []string) (<-chan model.Tick, error)
}

// KlineFeed streams candle updates for the given pairs and intervals.
// Implementations emit both forming and closed klines; Candle.Closed marks
// the final update of an interval.
type KlineFeed interface {
	Name() string
	SubscribeKlines(ctx context.Context, pairs, intervals []string) (<-chan model.Candle, error)
}
