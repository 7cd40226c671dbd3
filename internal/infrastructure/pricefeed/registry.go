package pricefeed

import (
	"github.com/rs/zerolog/log"

	"tradestream/internal/application/port"
	"tradestream/internal/infrastructure/exchange"
)

// Feeds 一个交易所适配器提供的行情，Kline 可以为 nil
type Feeds struct {
	Price port.PriceFeed
	Kline port.KlineFeed
}

type Factory func(opts exchange.FeedOptions) Feeds

// registry maps exchange names to their feed factories
var registry = make(map[string]Factory)

// Register 注册交易所的 feed factory
// 由各个交易所包的 init() 调用
func Register(exchangeName string, factory Factory) {
	if factory == nil {
		log.Warn().Str("exchange", exchangeName).Msg("invalid price feed factory")
		return
	}
	if _, exists := registry[exchangeName]; exists {
		log.Warn().Str("exchange", exchangeName).Msg("price feed factory already registered, overwriting")
	}
	registry[exchangeName] = factory
	log.Debug().Str("exchange", exchangeName).Msg("price feed factory registered")
}

func Get(exchangeName string) (Factory, bool) {
	factory, ok := registry[exchangeName]
	return factory, ok
}
