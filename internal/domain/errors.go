package domain

import "errors"

var (
	// ErrTransient marks network or exchange hiccups that are safe to retry
	// with backoff. A transient failure never alters position state.
	ErrTransient = errors.New("transient network error")
	// ErrAuth is fatal: the process must stop entering new trades.
	ErrAuth = errors.New("authentication failed")
	// ErrRateLimited is a throttling response; treated as transient.
	ErrRateLimited = errors.New("rate limited")
	// ErrOrderRejected means the exchange refused an order. The position
	// stays in its pre-transition state and the order is retried next tick.
	ErrOrderRejected = errors.New("order rejected")
	// ErrPartialFill means one leg of a multi-account trade failed while the
	// other filled. The position must transition to unbalanced, never be
	// silently discarded.
	ErrPartialFill = errors.New("partial fill across legs")
	// ErrPersistence marks a store failure. Retried; if unrecoverable the
	// process stops placing new orders while continuing to monitor.
	ErrPersistence = errors.New("persistence failure")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrSizeZero      = errors.New("position size rounds to zero")
	ErrEdgeTooSmall  = errors.New("fee-adjusted edge below minimum")
	ErrLockHeld      = errors.New("lock already held")
)

// Transient reports whether err is retryable without state changes.
func Transient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
