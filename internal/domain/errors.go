package domain

import "errors"

var (
	ErrInvalidBand     = errors.New("invalid band")
	ErrNoSnapshot      = errors.New("no order book snapshot yet")
	ErrVenue           = errors.New("venue request failed")
	ErrFeedDisconnect  = errors.New("price feed disconnected")
	ErrInvalidDuration = errors.New("invalid duration")
)
