package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrInvalidState        = errors.New("invalid order state")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrExcessiveImpact     = errors.New("price impact exceeds ceiling")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrInsufficientSize    = errors.New("insufficient position size")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
	ErrStreamClosed        = errors.New("price stream closed")
)
