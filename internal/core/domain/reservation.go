package domain

import (
	"fmt"
	"time"
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusConsumed  ReservationStatus = "consumed"
	ReservationStatusExpired   ReservationStatus = "expired"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// Reservation is a time-bounded hold of stock for one product on one order.
// The stock decrement happens when the reservation is created, so consuming
// it never touches stock again; only expiry and cancellation restore it.
type Reservation struct {
	ID             string
	ProductID      string
	OrderID        string
	Quantity       int
	IdempotencyKey string
	Status         ReservationStatus
	ExpiresAt      time.Time
	Version        int64 // optimistic locking
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *Reservation) IsActive() bool {
	return r.Status == ReservationStatusActive
}

func (r *Reservation) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

func (r *Reservation) MarkConsumed() error {
	return r.transition(ReservationStatusConsumed)
}

func (r *Reservation) MarkExpired() error {
	return r.transition(ReservationStatusExpired)
}

func (r *Reservation) MarkCancelled() error {
	return r.transition(ReservationStatusCancelled)
}

func (r *Reservation) transition(to ReservationStatus) error {
	if r.Status != ReservationStatusActive {
		return fmt.Errorf("reservation %s is %s: %w", r.ID, r.Status, ErrInvalidState)
	}
	r.Status = to
	return nil
}

// MatchesPayload reports whether a replayed reserve request carries the same
// payload as the stored reservation.
func (r *Reservation) MatchesPayload(productID, orderID string, quantity int) bool {
	return r.ProductID == productID && r.OrderID == orderID && r.Quantity == quantity
}
