package exchange

import (
	"strings"

	"tradestream/internal/domain/model"
)

// SymbolConverter 交易对与交易所 stream symbol 的互相转换
type SymbolConverter interface {
	// Pair2Symbol: BTC/USD -> BTCUSDT
	Pair2Symbol(pair string) string
	// Symbol2Pair: BTCUSDT -> BTC/USD; 未配置的 symbol 返回 ""
	Symbol2Pair(symbol string) string
}

// PairSymbolConverter 根据配置的交易对列表生成转换器
type PairSymbolConverter struct {
	toSymbol map[string]string
	toPair   map[string]string
}

func NewPairSymbolConverter(pairs []model.PairSpec) *PairSymbolConverter {
	c := &PairSymbolConverter{
		toSymbol: make(map[string]string, len(pairs)),
		toPair:   make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		pair := model.NormalizePair(p.Symbol)
		sym := strings.ToUpper(strings.TrimSpace(p.FeedSymbol))
		if sym == "" {
			sym = strings.ReplaceAll(pair, "/", "")
		}
		c.toSymbol[pair] = sym
		c.toPair[sym] = pair
	}
	return c
}

func (c *PairSymbolConverter) Pair2Symbol(pair string) string {
	pair = model.NormalizePair(pair)
	if sym, ok := c.toSymbol[pair]; ok {
		return sym
	}
	return strings.ReplaceAll(pair, "/", "")
}

func (c *PairSymbolConverter) Symbol2Pair(symbol string) string {
	return c.toPair[strings.ToUpper(strings.TrimSpace(symbol))]
}
