package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/domain/model"
)

// TradeCloser closes a position and credits its profit in one transaction.
type TradeCloser interface {
	CloseTrade(ctx context.Context, req model.CloseRequest) (*model.ClosedTrade, error)
}

// AccountReader loads account balances for the margin sweep.
type AccountReader interface {
	GetAccounts(ctx context.Context, ids []int64) (map[int64]*model.Account, error)
}

// MonitorConfig holds the margin thresholds (percent of used margin) and the
// sweep cadence in cycles.
type MonitorConfig struct {
	MarginCallLevel float64
	StopOutLevel    float64
	SweepEvery      int
}

// MarginCall is a warning raised once per crossing of the margin-call level.
type MarginCall struct {
	AccountID int64
	UserID    int64
	Snapshot  model.AccountSnapshot
}

// MonitorResult collects what one evaluation cycle did.
type MonitorResult struct {
	Closed      []*model.ClosedTrade
	MarginCalls []MarginCall
	Swept       bool
}

// PositionMonitor evaluates open positions against effective prices and
// closes them through the trade store.
type PositionMonitor struct {
	calc     *ProfitCalculator
	closer   TradeCloser
	accounts AccountReader
	cfg      MonitorConfig

	cycle   int
	closed  map[int64]struct{} // closed (by us or someone else) and still possibly listed
	flagged map[int64]struct{} // accounts currently under margin call
}

func NewPositionMonitor(calc *ProfitCalculator, closer TradeCloser, accounts AccountReader, cfg MonitorConfig) *PositionMonitor {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 1
	}
	return &PositionMonitor{
		calc:     calc,
		closer:   closer,
		accounts: accounts,
		cfg:      cfg,
		closed:   make(map[int64]struct{}),
		flagged:  make(map[int64]struct{}),
	}
}

// StopTriggered checks SL/TP with direction-correct thresholds.
// Long closes at price <= SL or price >= TP; short is inverted.
func StopTriggered(pos *model.Position, price float64) (model.CloseReason, bool) {
	if pos.Side.IsLong() {
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return model.CloseStopLoss, true
		}
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return model.CloseTakeProfit, true
		}
		return "", false
	}
	if pos.StopLoss > 0 && price >= pos.StopLoss {
		return model.CloseStopLoss, true
	}
	if pos.TakeProfit > 0 && price <= pos.TakeProfit {
		return model.CloseTakeProfit, true
	}
	return "", false
}

// Evaluate runs one monitor cycle: SL/TP on every open position, and the
// margin sweep every SweepEvery cycles.
func (m *PositionMonitor) Evaluate(ctx context.Context, positions []*model.Position, price PriceFunc, now time.Time) MonitorResult {
	m.cycle++
	m.forgetGone(positions)

	var res MonitorResult
	for _, pos := range positions {
		if !m.isOpen(pos) {
			continue
		}
		px, ok := price(pos)
		if !ok {
			continue
		}
		reason, hit := StopTriggered(pos, px)
		if !hit {
			continue
		}
		if ct, err := m.Close(ctx, pos, px, reason, now); err == nil && ct != nil {
			res.Closed = append(res.Closed, ct)
		}
	}

	if m.cycle%m.cfg.SweepEvery == 0 {
		res.Swept = true
		m.sweep(ctx, positions, price, now, &res)
	}
	return res
}

// Close closes one position at price. An already-closed position yields
// (nil, nil); other errors leave the position open for the next cycle.
func (m *PositionMonitor) Close(ctx context.Context, pos *model.Position, price float64, reason model.CloseReason, now time.Time) (*model.ClosedTrade, error) {
	if !m.isOpen(pos) {
		return nil, nil
	}
	profit := m.calc.Profit(pos, price).PnL
	ct, err := m.closer.CloseTrade(ctx, model.CloseRequest{
		TradeID:    pos.ID,
		ClosePrice: price,
		Profit:     profit,
		Reason:     reason,
		ClosedAt:   now,
	})
	if errors.Is(err, model.ErrTradeAlreadyClosed) {
		m.closed[pos.ID] = struct{}{}
		return nil, nil
	}
	if err != nil {
		log.Warn().Err(err).Int64("trade_id", pos.ID).Str("reason", string(reason)).Msg("close trade failed, will retry")
		return nil, err
	}
	m.closed[pos.ID] = struct{}{}
	log.Info().
		Int64("trade_id", pos.ID).
		Int64("account_id", pos.AccountID).
		Str("pair", pos.Pair).
		Str("reason", string(reason)).
		Float64("price", price).
		Float64("profit", profit).
		Msg("position closed")
	return ct, nil
}

// CloseForJob closes the positions an expired AlterJob references at its
// target price with reason expire. The first persistence error is returned
// after every covered position was attempted; the caller retries the job.
func (m *PositionMonitor) CloseForJob(ctx context.Context, job *model.AlterJob, positions []*model.Position, now time.Time) ([]*model.ClosedTrade, error) {
	var out []*model.ClosedTrade
	var firstErr error
	for _, pos := range positions {
		if !JobCovers(job, pos) {
			continue
		}
		ct, err := m.Close(ctx, pos, job.TargetPrice, model.CloseExpire, now)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ct != nil {
			out = append(out, ct)
		}
	}
	return out, firstErr
}

// JobCovers reports whether pos is in the job's scope.
func JobCovers(job *model.AlterJob, pos *model.Position) bool {
	switch job.Scope {
	case model.ScopeTrade:
		return pos.ID == job.TradeID
	case model.ScopePair:
		return model.NormalizePair(pos.Pair) == job.Pair
	case model.ScopeAccountPair:
		return pos.AccountID == job.AccountID && model.NormalizePair(pos.Pair) == job.Pair
	}
	return false
}

func (m *PositionMonitor) sweep(ctx context.Context, positions []*model.Position, price PriceFunc, now time.Time, res *MonitorResult) {
	byAccount := make(map[int64][]*model.Position)
	for _, pos := range positions {
		if m.isOpen(pos) {
			byAccount[pos.AccountID] = append(byAccount[pos.AccountID], pos)
		}
	}
	for id := range m.flagged {
		if _, ok := byAccount[id]; !ok {
			delete(m.flagged, id)
		}
	}

	if len(byAccount) == 0 {
		return
	}
	ids := make([]int64, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	accounts, err := m.accounts.GetAccounts(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Int("accounts", len(ids)).Msg("margin sweep: load accounts failed")
		return
	}

	for accountID, open := range byAccount {
		acct, ok := accounts[accountID]
		if !ok {
			log.Warn().Int64("account_id", accountID).Msg("margin sweep: account not found")
			continue
		}
		snap := m.calc.Account(acct, open, price)
		if snap.UsedMargin <= 0 {
			continue
		}
		switch {
		case snap.MarginLevel < m.cfg.StopOutLevel:
			log.Warn().
				Int64("account_id", accountID).
				Float64("margin_level", snap.MarginLevel).
				Float64("equity", snap.Equity).
				Float64("used_margin", snap.UsedMargin).
				Msg("stop out")
			res.Closed = append(res.Closed, m.stopOut(ctx, acct, open, price, now)...)
		case snap.MarginLevel < m.cfg.MarginCallLevel:
			if _, ok := m.flagged[accountID]; !ok {
				m.flagged[accountID] = struct{}{}
				res.MarginCalls = append(res.MarginCalls, MarginCall{AccountID: accountID, UserID: acct.UserID, Snapshot: snap})
				log.Warn().Int64("account_id", accountID).Float64("margin_level", snap.MarginLevel).Msg("margin call")
			}
		default:
			delete(m.flagged, accountID)
		}
	}
}

// stopOut closes the largest unrealized loss first until the margin level
// is back at or above the stop-out level.
func (m *PositionMonitor) stopOut(ctx context.Context, acct *model.Account, open []*model.Position, price PriceFunc, now time.Time) []*model.ClosedTrade {
	type candidate struct {
		pos *model.Position
		px  float64
		pnl float64
	}
	var cands []candidate
	var unpriced []*model.Position
	for _, pos := range open {
		px, ok := price(pos)
		if !ok {
			unpriced = append(unpriced, pos)
			continue
		}
		cands = append(cands, candidate{pos: pos, px: px, pnl: m.calc.Profit(pos, px).PnL})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].pnl < cands[j].pnl })

	balance := acct.Balance
	var closed []*model.ClosedTrade
	for i, c := range cands {
		ct, err := m.Close(ctx, c.pos, c.px, model.CloseStopOut, now)
		if err != nil {
			break
		}
		if ct != nil {
			closed = append(closed, ct)
		}
		// a concurrent close credited the account too
		balance += c.pnl

		remaining := make([]*model.Position, 0, len(cands)-i-1+len(unpriced))
		for _, r := range cands[i+1:] {
			remaining = append(remaining, r.pos)
		}
		remaining = append(remaining, unpriced...)
		snap := m.calc.Account(&model.Account{ID: acct.ID, Balance: balance}, remaining, price)
		if snap.UsedMargin <= 0 || snap.MarginLevel >= m.cfg.StopOutLevel {
			break
		}
	}
	return closed
}

func (m *PositionMonitor) isOpen(pos *model.Position) bool {
	if pos.Status != model.TradeOpen {
		return false
	}
	_, done := m.closed[pos.ID]
	return !done
}

// forgetGone drops closed ids the store no longer lists as open.
func (m *PositionMonitor) forgetGone(positions []*model.Position) {
	if len(m.closed) == 0 {
		return
	}
	listed := make(map[int64]struct{}, len(positions))
	for _, p := range positions {
		listed[p.ID] = struct{}{}
	}
	for id := range m.closed {
		if _, ok := listed[id]; !ok {
			delete(m.closed, id)
		}
	}
}

// IsClosed reports whether the monitor has already closed id.
func (m *PositionMonitor) IsClosed(id int64) bool {
	_, ok := m.closed[id]
	return ok
}
