package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"tradestream/internal/infrastructure/config"
	"tradestream/internal/infrastructure/exchange"
	"tradestream/internal/infrastructure/pricefeed"

	// 交易所适配器通过 init() 自注册
	_ "tradestream/internal/infrastructure/exchange/binance"
)

// NewFeeds 从 registry 创建配置的交易所行情
func NewFeeds(cfg *config.Config, reconnects exchange.ReconnectCounter) (pricefeed.Feeds, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Feed.Name))
	factory, ok := pricefeed.Get(name)
	if !ok {
		return pricefeed.Feeds{}, fmt.Errorf("price feed not registered: %q", name)
	}
	feeds := factory(exchange.FeedOptions{
		WsURL:          cfg.Feed.WsURL,
		ReconnectDelay: cfg.ReconnectDelay(),
		Symbols:        exchange.NewPairSymbolConverter(cfg.Pairs),
		Reconnects:     reconnects,
	})
	log.Info().Str("exchange", name).Bool("klines", feeds.Kline != nil).Msg("feed initialized")
	return feeds, nil
}
