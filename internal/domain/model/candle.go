package model

import (
	"fmt"
	"time"
)

// Candle is a closed or forming OHLCV bar for one pair and interval.
type Candle struct {
	Pair      string    `json:"pair"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Closed    bool      `json:"-"`
	IsAltered bool      `json:"is_altered,omitempty"`
}

// CandleKey identifies a forming candle: scope, pair, account (account_pair
// only) and chart interval.
type CandleKey struct {
	Scope     AlterScope
	Pair      string
	AccountID int64
	Interval  string
}

func (k CandleKey) String() string {
	return fmt.Sprintf("%s:%s:%d:%s", k.Scope, k.Pair, k.AccountID, k.Interval)
}

// FormingCandle tracks synthetic OHLC for the current interval.
// Invariant: High >= max(Open, Close) and Low <= min(Open, Close).
type FormingCandle struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	StartTime time.Time
}

// NewFormingCandle opens a candle at price.
func NewFormingCandle(price float64, at time.Time) *FormingCandle {
	return &FormingCandle{Open: price, High: price, Low: price, Close: price, StartTime: at}
}

// Extend folds a new observation into the candle.
func (c *FormingCandle) Extend(price float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
}

// AlteredCandle is the persisted form of a substituted candle.
type AlteredCandle struct {
	Scope       AlterScope
	Pair        string
	Interval    string
	AccountID   int64
	PeriodStart time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	CreatedAt   time.Time
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// IntervalDuration maps a kline interval name to its length.
func IntervalDuration(iv string) (time.Duration, error) {
	d, ok := intervals[iv]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, iv)
	}
	return d, nil
}

// PeriodStart truncates t to the start of its interval period (UTC).
func PeriodStart(t time.Time, iv string) time.Time {
	d, err := IntervalDuration(iv)
	if err != nil {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}
