package binance

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/domain/model"
	"tradestream/internal/infrastructure/exchange"
)

// KlineFeed 订阅每个交易对和周期的 <symbol>@kline_<interval>
type KlineFeed struct {
	opts exchange.FeedOptions
}

func NewKlineFeed(opts exchange.FeedOptions) *KlineFeed {
	return &KlineFeed{opts: opts}
}

func (f *KlineFeed) Name() string { return Name }

type klineEvent struct {
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

func (f *KlineFeed) SubscribeKlines(ctx context.Context, pairs, intervals []string) (<-chan model.Candle, error) {
	if f.opts.Symbols == nil {
		return nil, errors.New("binance kline feed: no symbol converter")
	}
	streams := make([]string, 0, len(pairs)*len(intervals))
	for _, p := range pairs {
		sym := f.opts.Symbols.Pair2Symbol(p)
		if sym == "" {
			continue
		}
		for _, iv := range intervals {
			streams = append(streams, streamName(sym, "kline_"+iv))
		}
	}
	wsURL, err := buildCombinedURL(f.opts.WsURL, streams)
	if err != nil {
		return nil, err
	}

	out := make(chan model.Candle, 256)
	go func() {
		defer close(out)
		runStream(ctx, f.Name()+"-kline", wsURL, f.opts, func(_ string, data []byte) {
			c, ok := f.parse(data)
			if !ok {
				return
			}
			select {
			case out <- c:
			case <-ctx.Done():
			}
		})
	}()
	return out, nil
}

func (f *KlineFeed) parse(data []byte) (model.Candle, bool) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Error().Str("feed", f.Name()).Err(err).Msg("kline unmarshal failed")
		return model.Candle{}, false
	}
	pair := f.opts.Symbols.Symbol2Pair(ev.Symbol)
	if pair == "" || ev.Kline.Interval == "" {
		return model.Candle{}, false
	}
	k := ev.Kline
	c := model.Candle{
		Pair:     pair,
		Interval: k.Interval,
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Closed:   k.Closed,
	}
	var err error
	for _, fld := range []struct {
		dst *float64
		src string
	}{
		{&c.Open, k.Open}, {&c.High, k.High}, {&c.Low, k.Low}, {&c.Close, k.Close}, {&c.Volume, k.Volume},
	} {
		if *fld.dst, err = strconv.ParseFloat(fld.src, 64); err != nil {
			log.Warn().Str("pair", pair).Str("value", fld.src).Msg("kline: bad number")
			return model.Candle{}, false
		}
	}
	return c, true
}
