package service

import (
	"math"
	"testing"
	"time"

	"tradestream/internal/domain/model"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func job(id int64, scope model.AlterScope, start, target float64, opts ...func(*model.AlterJob)) *model.AlterJob {
	j := &model.AlterJob{
		ID: id, Scope: scope, Pair: "BTC/USD",
		StartPrice: start, TargetPrice: target, StartTime: t0, Duration: 100 * time.Second,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func withAccount(id int64) func(*model.AlterJob) { return func(j *model.AlterJob) { j.AccountID = id } }
func withTrade(id int64) func(*model.AlterJob) { return func(j *model.AlterJob) { j.TradeID = id } }
func charting(j *model.AlterJob) { j.ChartAlter = true }

func TestViewerPrecedence(t *testing.T) {
	e := NewAlterationEngine([]string{"1m"})
	e.SetJobs([]*model.AlterJob{
		job(1, model.ScopePair, 100, 200),
		job(2, model.ScopeAccountPair, 100, 300, withAccount(7)),
		job(3, model.ScopeTrade, 100, 400, withTrade(99)),
	})
	e.Advance(t0.Add(50 * time.Second))

	if q := e.ViewerQuote("btc/usd", 7, model.RoleUser, 90); q.Price != 200 || !q.IsAltered {
		t.Errorf("account_pair should win for account 7, got %+v", q)
	}
	if q := e.ViewerQuote("BTC/USD", 8, model.RoleUser, 90); q.Price != 150 || !q.IsAltered {
		t.Errorf("pair job should apply to account 8, got %+v", q)
	}
	if q := e.ViewerQuote("ETH/USD", 7, model.RoleUser, 90); q.Price != 90 || q.IsAltered {
		t.Errorf("other pairs are untouched, got %+v", q)
	}
	for _, role := range []model.Role{model.RoleAdmin, model.RoleSuperAdmin} {
		if q := e.ViewerQuote("BTC/USD", 7, role, 90); q.Price != 90 || q.IsAltered {
			t.Errorf("%s must see the raw price, got %+v", role, q)
		}
	}
}

func TestPositionPrecedence(t *testing.T) {
	e := NewAlterationEngine(nil)
	tradeJob := job(3, model.ScopeTrade, 100, 400, withTrade(99))
	e.SetJobs([]*model.AlterJob{tradeJob})
	e.Advance(t0.Add(50 * time.Second))

	pos := &model.Position{ID: 99, AccountID: 7, Pair: "BTC/USD"}
	if q := e.PositionQuote(pos, 90); q.Price != 250 || !q.IsAltered {
		t.Errorf("trade job governs its position, got %+v", q)
	}
	if q := e.ViewerQuote("BTC/USD", 7, model.RoleUser, 90); q.IsAltered {
		t.Errorf("trade jobs never move broadcast prices, got %+v", q)
	}

	pairJob := job(1, model.ScopePair, 100, 200)
	e.SetJobs([]*model.AlterJob{tradeJob, pairJob})
	e.Advance(t0.Add(50 * time.Second))
	if q := e.PositionQuote(pos, 90); q.Price != 150 {
		t.Errorf("pair job outranks trade job, got %+v", q)
	}
	e.SetJobs([]*model.AlterJob{tradeJob, pairJob, job(2, model.ScopeAccountPair, 100, 300, withAccount(7))})
	e.Advance(t0.Add(50 * time.Second))
	if q := e.PositionQuote(pos, 90); q.Price != 200 {
		t.Errorf("account_pair job outranks pair job, got %+v", q)
	}
}

func TestLatestJobWinsSlot(t *testing.T) {
	e := NewAlterationEngine(nil)
	older := job(1, model.ScopePair, 100, 200)
	newer := job(2, model.ScopePair, 100, 500, func(j *model.AlterJob) { j.StartTime = t0.Add(time.Second) })
	e.SetJobs([]*model.AlterJob{newer, older})
	e.Advance(t0.Add(51 * time.Second))
	if q := e.ViewerQuote("BTC/USD", 0, model.RoleUser, 1); q.Price != 300 {
		t.Errorf("expected the newer job's price, got %+v", q)
	}
}

func TestAdvanceCompletesAndForgets(t *testing.T) {
	e := NewAlterationEngine([]string{"1m"})
	e.SetJobs([]*model.AlterJob{job(1, model.ScopePair, 100, 200)})

	if done := e.Advance(t0.Add(99 * time.Second)); len(done) != 0 {
		t.Fatalf("job completed early")
	}
	done := e.Advance(t0.Add(100 * time.Second))
	if len(done) != 1 || done[0].ID != 1 {
		t.Fatalf("expected job 1 to complete, got %v", done)
	}
	if len(e.Jobs()) != 0 {
		t.Error("completed job must be removed")
	}

	// a store that still lists the job must not revive it
	e.SetJobs([]*model.AlterJob{job(1, model.ScopePair, 100, 200)})
	if len(e.Jobs()) != 0 {
		t.Error("completed job revived by refresh")
	}
	e.SetJobs(nil)
	e.SetJobs([]*model.AlterJob{job(1, model.ScopePair, 100, 200)})
	if len(e.Jobs()) != 1 {
		t.Error("id should be reusable once the store forgot it")
	}
}

func TestFormingCandlesTrackEveryInterval(t *testing.T) {
	e := NewAlterationEngine([]string{"1m", "5m"})
	e.SetJobs([]*model.AlterJob{
		job(1, model.ScopePair, 100, 200, charting),
		job(2, model.ScopeTrade, 100, 200, withTrade(5)),
	})
	for _, s := range []int{10, 20, 30} {
		e.Advance(t0.Add(time.Duration(s) * time.Second))
	}
	for _, iv := range []string{"1m", "5m"} {
		fc, ok := e.Forming(model.CandleKey{Scope: model.ScopePair, Pair: "BTC/USD", Interval: iv})
		if !ok {
			t.Fatalf("missing %s forming candle", iv)
		}
		if fc.Open != 110 || fc.High != 130 || fc.Low != 110 || fc.Close != 130 {
			t.Errorf("%s: unexpected forming candle %+v", iv, fc)
		}
	}
	if _, ok := e.Forming(model.CandleKey{Scope: model.ScopeTrade, Pair: "BTC/USD", Interval: "1m"}); ok {
		t.Error("trade jobs have no chart")
	}
}

func TestCandleSubstitution(t *testing.T) {
	real := model.Candle{Pair: "BTC/USD", Interval: "1m", OpenTime: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}

	tracked := SubstituteTracked(real, &model.FormingCandle{Open: 100, High: 130, Low: 95, Close: 120})
	if tracked.Open != 100 || tracked.High != 130 || tracked.Low != 95 || tracked.Close != 120 || !tracked.IsAltered {
		t.Errorf("unexpected tracked candle %+v", tracked)
	}
	if tracked.Volume != 10 || !tracked.OpenTime.Equal(t0) {
		t.Error("tracked candle keeps the real volume and time")
	}

	synth := SynthesizeCandle(real, 123)
	if synth.Open != 123 || synth.High != 123 || synth.Low != 123 || synth.Close != 123 || !synth.IsAltered {
		t.Errorf("unexpected synthetic candle %+v", synth)
	}
}

func TestChartScopeAndPersistOnce(t *testing.T) {
	e := NewAlterationEngine([]string{"1m"})
	e.SetJobs([]*model.AlterJob{job(2, model.ScopeAccountPair, 100, 200, withAccount(7), charting)})
	e.Advance(t0.Add(10 * time.Second))

	key, j, ok := e.ChartScope("BTC/USD", "1m", 7, model.RoleUser)
	if !ok || j.ID != 2 || key.AccountID != 7 {
		t.Fatalf("expected account chart scope, got %v %v %v", key, j, ok)
	}
	if _, _, ok := e.ChartScope("BTC/USD", "1m", 7, model.RoleAdmin); ok {
		t.Error("admins see real charts")
	}
	if _, _, ok := e.ChartScope("BTC/USD", "1m", 8, model.RoleUser); ok {
		t.Error("other accounts see real charts")
	}
	if got := e.ChartJobs("BTC/USD", "1m"); len(got) != 1 {
		t.Errorf("expected one chart job, got %d", len(got))
	}

	real := model.Candle{Pair: "BTC/USD", Interval: "1m", OpenTime: t0, Close: 1}
	c := e.AlteredCandle(real, key, j)
	if math.Abs(c.Close-110) > 1e-9 {
		t.Errorf("expected forming close 110, got %v", c.Close)
	}

	if !e.MarkPersisted(key, t0) || e.MarkPersisted(key, t0) {
		t.Error("a period is persisted exactly once")
	}
	e.ResetForming("BTC/USD", "1m", t0)
	if _, ok := e.Forming(key); ok {
		t.Error("forming candle should be reset")
	}
	c = e.AlteredCandle(real, key, j)
	if c.Open != c.Close || c.High != c.Low {
		t.Errorf("without a forming candle the bar is flat, got %+v", c)
	}
}
