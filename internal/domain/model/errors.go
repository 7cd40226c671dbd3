package model

import "errors"

var (
	ErrTradeAlreadyClosed = errors.New("trade already closed")
	ErrTradeNotFound      = errors.New("trade not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUnknownInterval    = errors.New("unknown candle interval")
)
