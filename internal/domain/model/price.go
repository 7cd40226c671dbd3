package model

import "time"

// Tick is a single upstream price observation.
type Tick struct {
	Symbol string // pair symbol, e.g. BTC/USD
	Price  float64
	Ts     time.Time
}

// Quote is the price shown to one viewer.
type Quote struct {
	Price     float64
	IsAltered bool
}
