package domain

import "errors"

var (
	// ErrNotFound covers missing products, orders and reservations.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock means the requested quantity exceeds what is available.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrVersionConflict is returned by a single conditional storage update
	// whose expected version no longer matches.
	ErrVersionConflict = errors.New("version conflict")

	// ErrOptimisticConflict means the bounded retry loop exhausted its attempts.
	ErrOptimisticConflict = errors.New("optimistic conflict, retries exhausted")

	// ErrIdempotencyConflict means an idempotency key was reused with a different payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

	// ErrInvalidState means a state machine transition is not allowed.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrReservationExpired means a reservation passed its TTL before it could be confirmed.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrDuplicateKey is the storage-level unique constraint violation.
	ErrDuplicateKey = errors.New("duplicate key")

	ErrEmptyCart  = errors.New("cart is empty")
	ErrValidation = errors.New("validation failed")
)
