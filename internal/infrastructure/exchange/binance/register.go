package binance

import (
	"tradestream/internal/infrastructure/exchange"
	"tradestream/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(Name, func(opts exchange.FeedOptions) pricefeed.Feeds {
		return pricefeed.Feeds{
			Price: NewTickerFeed(opts),
			Kline: NewKlineFeed(opts),
		}
	})
}
