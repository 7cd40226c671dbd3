package binance

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/domain/model"
	"tradestream/internal/infrastructure/exchange"
)

// TickerFeed 订阅 <symbol>@miniTicker 最新价
type TickerFeed struct {
	opts exchange.FeedOptions
}

func NewTickerFeed(opts exchange.FeedOptions) *TickerFeed {
	return &TickerFeed{opts: opts}
}

func (f *TickerFeed) Name() string { return Name }

type miniTicker struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, pairs []string) (<-chan model.Tick, error) {
	if f.opts.Symbols == nil {
		return nil, errors.New("binance ticker feed: no symbol converter")
	}
	streams := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if sym := f.opts.Symbols.Pair2Symbol(p); sym != "" {
			streams = append(streams, streamName(sym, "miniTicker"))
		}
	}
	wsURL, err := buildCombinedURL(f.opts.WsURL, streams)
	if err != nil {
		return nil, err
	}

	out := make(chan model.Tick, 1024)
	go func() {
		defer close(out)
		runStream(ctx, f.Name()+"-ticker", wsURL, f.opts, func(_ string, data []byte) {
			tick, ok := f.parse(data)
			if !ok {
				return
			}
			select {
			case out <- tick:
			case <-ctx.Done():
			}
		})
	}()
	return out, nil
}

func (f *TickerFeed) parse(data []byte) (model.Tick, bool) {
	var msg miniTicker
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Str("feed", f.Name()).Err(err).Msg("miniTicker unmarshal failed")
		return model.Tick{}, false
	}
	pair := f.opts.Symbols.Symbol2Pair(msg.Symbol)
	pxs := strings.TrimSpace(msg.Close)
	if pair == "" || pxs == "" {
		return model.Tick{}, false
	}
	px, err := strconv.ParseFloat(pxs, 64)
	if err != nil || px <= 0 {
		return model.Tick{}, false
	}
	ts := time.Now()
	if msg.EventTime > 0 {
		ts = time.UnixMilli(msg.EventTime)
	}
	return model.Tick{Symbol: pair, Price: px, Ts: ts}, true
}
