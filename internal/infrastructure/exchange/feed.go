package exchange

import "time"

// ReconnectCounter 首次连接之后的每次重连都会通知它
type ReconnectCounter interface {
	IncFeedReconnect(feed string)
}

// FeedOptions 上游行情适配器的配置
type FeedOptions struct {
	WsURL          string // e.g. wss://stream.binance.com:9443
	ReconnectDelay time.Duration
	Symbols        SymbolConverter
	Reconnects     ReconnectCounter // optional
}
