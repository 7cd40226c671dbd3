package model

import "time"

type AlterScope string

const (
	ScopeTrade       AlterScope = "trade"
	ScopePair        AlterScope = "pair"
	ScopeAccountPair AlterScope = "account_pair"
)

// AlterJob is an externally-triggered synthetic price path.
type AlterJob struct {
	ID              int64         `json:"id"`
	Scope           AlterScope    `json:"scope"`
	Pair            string        `json:"pair"`
	AccountID       int64         `json:"account_id,omitempty"` // account_pair only
	TradeID         int64         `json:"trade_id,omitempty"`   // trade only
	StartPrice      float64       `json:"start_price"`
	TargetPrice     float64       `json:"target_price"`
	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"duration"`
	CloseOnComplete bool          `json:"close_on_complete"`
	ChartAlter      bool          `json:"chart_alter"`
}

// Progress returns the completed share of the path in [0, 1].
func (j *AlterJob) Progress(now time.Time) float64 {
	if j.Duration <= 0 {
		return 1
	}
	elapsed := now.Sub(j.StartTime)
	if elapsed <= 0 {
		return 0
	}
	p := float64(elapsed) / float64(j.Duration)
	if p > 1 {
		return 1
	}
	return p
}

// PriceAt linearly interpolates between StartPrice and TargetPrice.
func (j *AlterJob) PriceAt(now time.Time) float64 {
	p := j.Progress(now)
	if p >= 1 {
		return j.TargetPrice
	}
	return j.StartPrice + (j.TargetPrice-j.StartPrice)*p
}

// Done reports whether the path has reached its target.
func (j *AlterJob) Done(now time.Time) bool {
	return j.Progress(now) >= 1
}
