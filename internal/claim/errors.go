package claim

import "errors"

var (
	// ErrBusy is returned when another request holds the claim lease. Retryable.
	ErrBusy = errors.New("claim in progress, retry later")

	// ErrInProgress is returned when a request with the same idempotency key is still
	// executing. Retryable.
	ErrInProgress = errors.New("request with this idempotency key is in progress")

	ErrPacketNotFound  = errors.New("packet not found")
	ErrPacketExpired   = errors.New("packet expired")
	ErrPacketExhausted = errors.New("packet exhausted")
	ErrPacketRefunded  = errors.New("packet refunded")

	// ErrInvalidRequest is returned for requests missing a packet id or claimer.
	ErrInvalidRequest = errors.New("invalid claim request")

	// ErrLockNotAcquired is returned when a lease is held by someone else.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrLockNotHeld is returned when releasing a lease that expired or was taken over.
	ErrLockNotHeld = errors.New("lock not held")
)
