package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"tradestream/internal/domain/model"
)

type ProfitStatus string

const (
	StatusProfit ProfitStatus = "profit"
	StatusLoss   ProfitStatus = "loss"
	StatusFlat   ProfitStatus = "flat"
)

const defaultPrecision = 2

// ProfitResult is the live P&L of one position at one price.
type ProfitResult struct {
	PnL       float64      `json:"pnl"`
	Formatted string       `json:"formatted"`
	Status    ProfitStatus `json:"status"`
}

// Profit computes the unrealized P&L of pos at price.
// Long: (price - open) * lot * lot_size; short is inverted.
func Profit(pos *model.Position, price float64, spec model.PairSpec) ProfitResult {
	diff := price - pos.OpenPrice
	if !pos.Side.IsLong() {
		diff = -diff
	}
	pnl := diff * pos.Lot * lotSize(spec)

	status := StatusFlat
	switch {
	case pnl > 0:
		status = StatusProfit
	case pnl < 0:
		status = StatusLoss
	}
	return ProfitResult{PnL: pnl, Formatted: FormatMoney(pnl, spec.Precision), Status: status}
}

// RequiredMargin is (open * lot * lot_size) / leverage.
func RequiredMargin(pos *model.Position, spec model.PairSpec) float64 {
	lev := pos.Leverage
	if lev <= 0 {
		lev = 1
	}
	return pos.OpenPrice * pos.Lot * lotSize(spec) / lev
}

// PositionMargin prefers the margin recorded at open time.
func PositionMargin(pos *model.Position, spec model.PairSpec) float64 {
	if pos.Margin > 0 {
		return pos.Margin
	}
	return RequiredMargin(pos, spec)
}

// FormatMoney renders v with a fixed number of decimals and an explicit sign.
func FormatMoney(v float64, precision int32) string {
	if precision <= 0 {
		precision = defaultPrecision
	}
	d := decimal.NewFromFloat(v).Round(precision)
	s := d.StringFixed(precision)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}

func lotSize(spec model.PairSpec) float64 {
	if spec.LotSize <= 0 {
		return 1
	}
	return spec.LotSize
}

// ProfitCalculator binds the pure profit functions to the configured pairs.
type ProfitCalculator struct {
	pairs map[string]model.PairSpec
}

func NewProfitCalculator(pairs []model.PairSpec) *ProfitCalculator {
	m := make(map[string]model.PairSpec, len(pairs))
	for _, p := range pairs {
		m[model.NormalizePair(p.Symbol)] = p
	}
	return &ProfitCalculator{pairs: m}
}

// Spec returns the pair spec, or a unit lot spec for unknown pairs.
func (c *ProfitCalculator) Spec(pair string) model.PairSpec {
	if s, ok := c.pairs[model.NormalizePair(pair)]; ok {
		return s
	}
	return model.PairSpec{Symbol: strings.ToUpper(pair), LotSize: 1, Precision: defaultPrecision}
}

func (c *ProfitCalculator) Profit(pos *model.Position, price float64) ProfitResult {
	return Profit(pos, price, c.Spec(pos.Pair))
}

func (c *ProfitCalculator) Margin(pos *model.Position) float64 {
	return PositionMargin(pos, c.Spec(pos.Pair))
}

// PriceFunc resolves the effective price for a position; ok=false when no
// price is known yet.
type PriceFunc func(pos *model.Position) (price float64, ok bool)

// Account aggregates equity and margin for the open positions of one account.
// Positions without a known price contribute margin but no P&L.
func (c *ProfitCalculator) Account(acct *model.Account, positions []*model.Position, price PriceFunc) model.AccountSnapshot {
	snap := model.AccountSnapshot{AccountID: acct.ID, Balance: acct.Balance}
	for _, pos := range positions {
		if pos.Status != model.TradeOpen {
			continue
		}
		snap.UsedMargin += c.Margin(pos)
		if px, ok := price(pos); ok {
			snap.UnrealizedPnL += c.Profit(pos, px).PnL
		}
	}
	snap.Equity = snap.Balance + snap.UnrealizedPnL
	snap.FreeMargin = snap.Equity - snap.UsedMargin
	snap.MarginLevel = MarginLevel(snap.Equity, snap.UsedMargin)
	return snap
}

// MarginLevel is equity / used margin in percent; 0 when nothing is used.
func MarginLevel(equity, used float64) float64 {
	if used <= 0 {
		return 0
	}
	return equity / used * 100
}
