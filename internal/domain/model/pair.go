package model

import "strings"

// PairSpec describes a tradable pair.
type PairSpec struct {
	Symbol     string  `toml:"symbol"`      // e.g. BTC/USD
	FeedSymbol string  `toml:"feed_symbol"` // e.g. BTCUSDT
	LotSize    float64 `toml:"lot_size"`
	Precision  int32   `toml:"precision"`
}

// NormalizePair upper-cases and trims a pair symbol.
func NormalizePair(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
