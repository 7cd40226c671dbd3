package service

import (
	"time"

	"tradestream/internal/domain/model"
)

type accountPair struct {
	account int64
	pair    string
}

// AlterationEngine owns the active AlterJobs and their forming candles.
// It is not safe for concurrent use; the stream loop is its only caller.
type AlterationEngine struct {
	intervals []string

	jobs    map[int64]*model.AlterJob
	current map[int64]float64 // job id -> last interpolated price
	done    map[int64]struct{}
	now     time.Time

	byAccountPair map[accountPair]*model.AlterJob
	byPair        map[string]*model.AlterJob
	byTrade       map[int64]*model.AlterJob

	forming   map[model.CandleKey]*model.FormingCandle
	persisted map[string]time.Time // dedup key -> period start
}

func NewAlterationEngine(intervals []string) *AlterationEngine {
	e := &AlterationEngine{
		intervals: intervals,
		jobs:      make(map[int64]*model.AlterJob),
		current:   make(map[int64]float64),
		done:      make(map[int64]struct{}),
		forming:   make(map[model.CandleKey]*model.FormingCandle),
		persisted: make(map[string]time.Time),
	}
	e.reindex()
	return e
}

// SetJobs replaces the active set with a fresh read from the job store.
// Jobs already completed by this engine are ignored until the store forgets them.
func (e *AlterationEngine) SetJobs(jobs []*model.AlterJob) {
	next := make(map[int64]*model.AlterJob, len(jobs))
	seen := make(map[int64]struct{}, len(jobs))
	for _, j := range jobs {
		seen[j.ID] = struct{}{}
		if _, finished := e.done[j.ID]; finished {
			continue
		}
		j.Pair = model.NormalizePair(j.Pair)
		next[j.ID] = j
	}
	for id := range e.done {
		if _, ok := seen[id]; !ok {
			delete(e.done, id)
		}
	}
	for id := range e.current {
		if _, ok := next[id]; !ok {
			delete(e.current, id)
		}
	}
	e.jobs = next
	e.reindex()
}

func (e *AlterationEngine) Jobs() []*model.AlterJob {
	out := make([]*model.AlterJob, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j)
	}
	return out
}

// Advance interpolates every job at now, extends forming candles and returns
// the jobs that reached their target. Completed jobs are removed.
func (e *AlterationEngine) Advance(now time.Time) []*model.AlterJob {
	e.now = now
	var completed []*model.AlterJob
	for id, j := range e.jobs {
		price := j.PriceAt(now)
		e.current[id] = price
		if j.Scope != model.ScopeTrade {
			for _, iv := range e.intervals {
				e.extendForming(e.candleKey(j, iv), price, now)
			}
		}
		if j.Done(now) {
			completed = append(completed, j)
		}
	}
	for _, j := range completed {
		e.done[j.ID] = struct{}{}
		delete(e.jobs, j.ID)
	}
	if len(completed) > 0 {
		e.reindex()
	}
	return completed
}

func (e *AlterationEngine) extendForming(key model.CandleKey, price float64, now time.Time) {
	fc, ok := e.forming[key]
	if !ok {
		e.forming[key] = model.NewFormingCandle(price, model.PeriodStart(now, key.Interval))
		return
	}
	fc.Extend(price)
}

func (e *AlterationEngine) candleKey(j *model.AlterJob, interval string) model.CandleKey {
	key := model.CandleKey{Scope: j.Scope, Pair: j.Pair, Interval: interval}
	if j.Scope == model.ScopeAccountPair {
		key.AccountID = j.AccountID
	}
	return key
}

// JobPrice is the job's current interpolated price.
func (e *AlterationEngine) JobPrice(j *model.AlterJob) float64 {
	if p, ok := e.current[j.ID]; ok {
		return p
	}
	return j.PriceAt(e.now)
}

// viewerJob applies account_pair > pair precedence. Trade jobs never move
// a broadcast price.
func (e *AlterationEngine) viewerJob(pair string, accountID int64) *model.AlterJob {
	pair = model.NormalizePair(pair)
	if accountID != 0 {
		if j := e.byAccountPair[accountPair{account: accountID, pair: pair}]; j != nil {
			return j
		}
	}
	return e.byPair[pair]
}

// ViewerQuote resolves the price a viewer sees for pair.
func (e *AlterationEngine) ViewerQuote(pair string, accountID int64, role model.Role, raw float64) model.Quote {
	if role.Privileged() {
		return model.Quote{Price: raw}
	}
	if j := e.viewerJob(pair, accountID); j != nil {
		return model.Quote{Price: e.JobPrice(j), IsAltered: true}
	}
	return model.Quote{Price: raw}
}

// PositionQuote resolves the price that governs a position's P&L:
// account_pair > pair > trade > raw.
func (e *AlterationEngine) PositionQuote(pos *model.Position, raw float64) model.Quote {
	if j := e.viewerJob(pos.Pair, pos.AccountID); j != nil {
		return model.Quote{Price: e.JobPrice(j), IsAltered: true}
	}
	if j := e.byTrade[pos.ID]; j != nil {
		return model.Quote{Price: e.JobPrice(j), IsAltered: true}
	}
	return model.Quote{Price: raw}
}

// ChartScope returns the forming-candle key that substitutes a viewer's
// closing candle, or ok=false when the viewer sees the real candle.
func (e *AlterationEngine) ChartScope(pair, interval string, accountID int64, role model.Role) (model.CandleKey, *model.AlterJob, bool) {
	if role.Privileged() {
		return model.CandleKey{}, nil, false
	}
	j := e.viewerJob(pair, accountID)
	if j == nil || !j.ChartAlter {
		return model.CandleKey{}, nil, false
	}
	return e.candleKey(j, interval), j, true
}

// ChartJobs returns the winning chart-altering jobs on pair keyed by their
// forming-candle key for interval.
func (e *AlterationEngine) ChartJobs(pair, interval string) map[model.CandleKey]*model.AlterJob {
	pair = model.NormalizePair(pair)
	out := make(map[model.CandleKey]*model.AlterJob)
	if j := e.byPair[pair]; j != nil && j.ChartAlter {
		out[e.candleKey(j, interval)] = j
	}
	for k, j := range e.byAccountPair {
		if k.pair == pair && j.ChartAlter {
			out[e.candleKey(j, interval)] = j
		}
	}
	return out
}

// AlteredCandle substitutes the real closing candle for a chart scope.
func (e *AlterationEngine) AlteredCandle(real model.Candle, key model.CandleKey, j *model.AlterJob) model.Candle {
	if fc, ok := e.forming[key]; ok {
		return SubstituteTracked(real, fc)
	}
	return SynthesizeCandle(real, e.JobPrice(j))
}

// SubstituteTracked replaces OHLC with the tracked forming candle.
func SubstituteTracked(real model.Candle, fc *model.FormingCandle) model.Candle {
	out := real
	out.Open, out.High, out.Low, out.Close = fc.Open, fc.High, fc.Low, fc.Close
	out.IsAltered = true
	return out
}

// SynthesizeCandle is the fallback when no forming candle was tracked:
// a flat bar at price.
func SynthesizeCandle(real model.Candle, price float64) model.Candle {
	out := real
	out.Open, out.High, out.Low, out.Close = price, price, price, price
	out.IsAltered = true
	return out
}

// MarkPersisted returns true only the first time a (key, period) is seen.
func (e *AlterationEngine) MarkPersisted(key model.CandleKey, period time.Time) bool {
	id := key.String() + "@" + period.UTC().Format(time.RFC3339)
	if _, ok := e.persisted[id]; ok {
		return false
	}
	e.persisted[id] = period
	return true
}

// ResetForming drops the forming candles for pair/interval after the real
// interval closed, along with dedup markers of finished periods.
func (e *AlterationEngine) ResetForming(pair, interval string, closedPeriod time.Time) {
	pair = model.NormalizePair(pair)
	for k := range e.forming {
		if k.Pair == pair && k.Interval == interval {
			delete(e.forming, k)
		}
	}
	for id, p := range e.persisted {
		if p.Before(closedPeriod) {
			delete(e.persisted, id)
		}
	}
}

// Forming exposes a tracked candle.
func (e *AlterationEngine) Forming(key model.CandleKey) (*model.FormingCandle, bool) {
	fc, ok := e.forming[key]
	return fc, ok
}

// reindex rebuilds the lookup maps; the latest-starting job wins a slot.
func (e *AlterationEngine) reindex() {
	e.byAccountPair = make(map[accountPair]*model.AlterJob)
	e.byPair = make(map[string]*model.AlterJob)
	e.byTrade = make(map[int64]*model.AlterJob)
	newer := func(cur, j *model.AlterJob) bool {
		return cur == nil || j.StartTime.After(cur.StartTime) ||
			(j.StartTime.Equal(cur.StartTime) && j.ID > cur.ID)
	}
	for _, j := range e.jobs {
		switch j.Scope {
		case model.ScopeAccountPair:
			k := accountPair{account: j.AccountID, pair: j.Pair}
			if newer(e.byAccountPair[k], j) {
				e.byAccountPair[k] = j
			}
		case model.ScopePair:
			if newer(e.byPair[j.Pair], j) {
				e.byPair[j.Pair] = j
			}
		case model.ScopeTrade:
			if newer(e.byTrade[j.TradeID], j) {
				e.byTrade[j.TradeID] = j
			}
		}
	}
}
