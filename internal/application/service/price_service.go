package service

import (
	"strings"
	"time"

	"tradestream/internal/domain/model"
)

type Dir int

const (
	DirSame Dir = 0
	DirUp   Dir = +1
	DirDown Dir = -1
)

func (d Dir) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	}
	return "same"
}

// DirectionOf compares two consecutive prices; a zero prev has no direction.
func DirectionOf(prev, next float64) Dir {
	switch {
	case prev == 0 || next == prev:
		return DirSame
	case next > prev:
		return DirUp
	}
	return DirDown
}

type pxState struct {
	price float64
	dir   Dir
	ts    time.Time
}

// PriceService holds the latest raw upstream price per pair. It is owned by
// the stream loop and not safe for concurrent use.
type PriceService struct {
	order []string
	px    map[string]*pxState
}

func NewPriceService(pairs []string) *PriceService {
	order := make([]string, 0, len(pairs))
	px := make(map[string]*pxState, len(pairs))
	for _, p := range pairs {
		u := model.NormalizePair(p)
		if u == "" {
			continue
		}
		if _, dup := px[u]; dup {
			continue
		}
		order = append(order, u)
		px[u] = &pxState{}
	}
	return &PriceService{order: order, px: px}
}

func (s *PriceService) Pairs() []string {
	return s.order
}

// Apply records a tick and reports whether the price changed.
// Ticks for pairs outside the configured set are dropped.
func (s *PriceService) Apply(t model.Tick) bool {
	sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
	if sym == "" || t.Price <= 0 {
		return false
	}
	ps := s.px[sym]
	if ps == nil {
		return false
	}
	ps.ts = t.Ts
	if ps.price == t.Price {
		return false
	}
	ps.dir = DirectionOf(ps.price, t.Price)
	ps.price = t.Price
	return true
}

// Price returns the last raw price of pair; ok=false before the first tick.
func (s *PriceService) Price(pair string) (float64, bool) {
	ps := s.px[model.NormalizePair(pair)]
	if ps == nil || ps.price == 0 {
		return 0, false
	}
	return ps.price, true
}

// Direction is the move of the last price change of pair.
func (s *PriceService) Direction(pair string) Dir {
	if ps := s.px[model.NormalizePair(pair)]; ps != nil {
		return ps.dir
	}
	return DirSame
}

// Snapshot copies the known prices for the liveness marker.
func (s *PriceService) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(s.px))
	for k, v := range s.px {
		if v.price > 0 {
			out[k] = v.price
		}
	}
	return out
}
