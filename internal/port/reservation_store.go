package port

import (
	"context"
	"time"

	"github.com/rl1809/shopsphere/internal/core/domain"
)

type ReservationStore interface {
	// CreateReservation decrements the product's stock and inserts the
	// reservation as a single atomic storage operation. The decrement is
	// conditional on expectedProductVersion and on sufficient stock.
	// Returns domain.ErrVersionConflict, domain.ErrInsufficientStock, or
	// domain.ErrDuplicateKey when the idempotency key or the
	// (order, product) pair already exists.
	CreateReservation(ctx context.Context, r domain.Reservation, expectedProductVersion int64) error

	// GetReservationByKey returns domain.ErrNotFound when the key is unknown.
	GetReservationByKey(ctx context.Context, idempotencyKey string) (*domain.Reservation, error)

	// GetReservationByOrderAndProduct returns domain.ErrNotFound when absent.
	GetReservationByOrderAndProduct(ctx context.Context, orderID, productID string) (*domain.Reservation, error)

	ListReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error)

	// ListExpiredReservations returns active reservations with
	// ExpiresAt <= cutoff.
	ListExpiredReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error)

	// FinishReservation persists a terminal transition with a version check
	// on the reservation, restoring the product's stock in the same atomic
	// operation when restock is true. Returns domain.ErrVersionConflict when
	// a racing writer already transitioned the reservation.
	FinishReservation(ctx context.Context, r domain.Reservation, restock bool) error

	// DeleteReservation removes the reservation row with a version check,
	// freeing its idempotency key and (order, product) slot, restoring the
	// product's stock in the same atomic operation when restock is true.
	// Returns domain.ErrVersionConflict when a racing writer moved it first.
	DeleteReservation(ctx context.Context, r domain.Reservation, restock bool) error
}
