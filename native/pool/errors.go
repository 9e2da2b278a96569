package pool

import "errors"

var (
	ErrZeroAmount       = errors.New("pool: amount must be positive")
	ErrUnavailableFunds = errors.New("pool: unavailable funds")
	ErrOverflow         = errors.New("pool: amount outside numeric domain")
	ErrUnauthorized     = errors.New("pool: unauthorized")
)
