package model

import (
	"testing"
	"time"
)

func TestAlterJobInterpolation(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	j := &AlterJob{StartPrice: 50000, TargetPrice: 51000, StartTime: t0, Duration: 180 * time.Second}

	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"before start", t0.Add(-time.Minute), 50000},
		{"start", t0, 50000},
		{"halfway", t0.Add(90 * time.Second), 50500},
		{"end", t0.Add(180 * time.Second), 51000},
		{"after end", t0.Add(time.Hour), 51000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := j.PriceAt(tt.at); got != tt.want {
				t.Errorf("PriceAt = %v, want %v", got, tt.want)
			}
		})
	}
	if j.Done(t0.Add(179*time.Second)) || !j.Done(t0.Add(180*time.Second)) {
		t.Error("Done must flip exactly at the end of the path")
	}
}

func TestAlterJobMonotonic(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, j := range []*AlterJob{
		{StartPrice: 100, TargetPrice: 130, StartTime: t0, Duration: time.Minute},
		{StartPrice: 100, TargetPrice: 70, StartTime: t0, Duration: time.Minute},
	} {
		up := j.TargetPrice > j.StartPrice
		prev := j.PriceAt(t0)
		for s := 1; s <= 70; s++ {
			p := j.PriceAt(t0.Add(time.Duration(s) * time.Second))
			if (up && p < prev) || (!up && p > prev) {
				t.Fatalf("price moved against the target at %ds: %v -> %v", s, prev, p)
			}
			prev = p
		}
	}
}

func TestZeroDurationJumpsToTarget(t *testing.T) {
	j := &AlterJob{StartPrice: 1, TargetPrice: 2, StartTime: time.Now()}
	if j.PriceAt(j.StartTime) != 2 || !j.Done(j.StartTime) {
		t.Error("a job without duration is complete immediately")
	}
}

func TestFormingCandleInvariant(t *testing.T) {
	c := NewFormingCandle(100, time.Now())
	for _, p := range []float64{101, 97, 104, 99, 100.5} {
		c.Extend(p)
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Fatalf("invariant broken: %+v", c)
		}
	}
	if c.Open != 100 || c.High != 104 || c.Low != 97 || c.Close != 100.5 {
		t.Errorf("unexpected candle %+v", c)
	}
}

func TestPeriodStart(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 7, 42, 0, time.UTC)
	if got := PeriodStart(at, "5m"); !got.Equal(time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)) {
		t.Errorf("5m period start = %v", got)
	}
	if got := PeriodStart(at, "1h"); !got.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("1h period start = %v", got)
	}
	if _, err := IntervalDuration("7m"); err == nil {
		t.Error("expected unknown interval error")
	}
}
