package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/shopsphere/internal/core/domain"
	"github.com/rl1809/shopsphere/internal/port"
)

const (
	DefaultReservationTTL = 15 * time.Minute
	defaultMaxRetries     = 3
)

// ReservationManager owns the reservation lifecycle: it places holds against
// product stock, consumes them on confirm, and restores stock on release or
// expiry. All stock mutation goes through the stores' compare-and-swap
// contract; the manager holds no locks and no mutable state of its own.
type ReservationManager struct {
	products     port.ProductStore
	reservations port.ReservationStore
	ttl          time.Duration
	maxRetries   int
	now          func() time.Time
	log          *logrus.Entry
}

func NewReservationManager(products port.ProductStore, reservations port.ReservationStore, ttl time.Duration, logger *logrus.Logger) *ReservationManager {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReservationManager{
		products:     products,
		reservations: reservations,
		ttl:          ttl,
		maxRetries:   defaultMaxRetries,
		now:          time.Now,
		log:          logger.WithField("component", "reservations"),
	}
}

// Reserve places a hold of quantity units of a product for an order. The
// stock decrement and the reservation insert happen in one atomic storage
// operation, so a failed attempt never leaks a decrement. Replaying the same
// idempotency key with the same payload returns the stored reservation,
// whatever its status, without touching stock again.
func (m *ReservationManager) Reserve(ctx context.Context, productID, orderID string, quantity int, idempotencyKey string) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", domain.ErrValidation)
	}
	if productID == "" || orderID == "" || idempotencyKey == "" {
		return nil, fmt.Errorf("product id, order id and idempotency key are required: %w", domain.ErrValidation)
	}

	// Idempotent replay: never touch stock unless the request is new.
	existing, err := m.reservations.GetReservationByKey(ctx, idempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		if !existing.MatchesPayload(productID, orderID, quantity) {
			return nil, fmt.Errorf("key %q: %w", idempotencyKey, domain.ErrIdempotencyConflict)
		}
		return existing, nil
	}

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		product, err := m.products.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if product.AvailableQuantity < quantity {
			return nil, fmt.Errorf("product %s: requested %d, available %d: %w",
				productID, quantity, product.AvailableQuantity, domain.ErrInsufficientStock)
		}

		now := m.now()
		reservation := domain.Reservation{
			ID:             uuid.New().String(),
			ProductID:      productID,
			OrderID:        orderID,
			Quantity:       quantity,
			IdempotencyKey: idempotencyKey,
			Status:         domain.ReservationStatusActive,
			ExpiresAt:      now.Add(m.ttl),
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		err = m.reservations.CreateReservation(ctx, reservation, product.Version)
		switch {
		case err == nil:
			return &reservation, nil
		case errors.Is(err, domain.ErrVersionConflict):
			// Another writer moved the product first; reload and retry.
			continue
		case errors.Is(err, domain.ErrInsufficientStock):
			return nil, fmt.Errorf("product %s: %w", productID, domain.ErrInsufficientStock)
		case errors.Is(err, domain.ErrDuplicateKey):
			// Race loss: a concurrent writer persisted the same key or the
			// same (order, product) pair first. Our decrement never happened;
			// the winner's record is the answer if it carries the same payload.
			return m.lookupWinner(ctx, idempotencyKey, orderID, productID, quantity, err)
		default:
			return nil, fmt.Errorf("create reservation: %w", err)
		}
	}

	return nil, fmt.Errorf("product %s: %w", productID, domain.ErrOptimisticConflict)
}

func (m *ReservationManager) lookupWinner(ctx context.Context, idempotencyKey, orderID, productID string, quantity int, cause error) (*domain.Reservation, error) {
	// A race loss is only a replay when the winner holds exactly what this
	// request asked for; the same key with a different payload always fails.
	winner, err := m.reservations.GetReservationByKey(ctx, idempotencyKey)
	if err == nil {
		if !winner.MatchesPayload(productID, orderID, quantity) {
			return nil, fmt.Errorf("key %q: %w", idempotencyKey, domain.ErrIdempotencyConflict)
		}
		return winner, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	winner, err = m.reservations.GetReservationByOrderAndProduct(ctx, orderID, productID)
	if err == nil {
		if winner.IdempotencyKey != idempotencyKey || !winner.MatchesPayload(productID, orderID, quantity) {
			return nil, fmt.Errorf("pair (%s, %s): %w", orderID, productID, domain.ErrIdempotencyConflict)
		}
		return winner, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("duplicate reservation vanished: %w", cause)
}

// Confirm consumes every reservation of an order. Already-consumed
// reservations are skipped so retries are safe; any reservation that is
// expired, cancelled, or past its TTL aborts the whole call and nothing
// is flipped.
func (m *ReservationManager) Confirm(ctx context.Context, orderID string) error {
	reservations, err := m.reservations.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if len(reservations) == 0 {
		return fmt.Errorf("no reservations for order %s: %w", orderID, domain.ErrNotFound)
	}

	now := m.now()

	// First pass: validate the whole set before mutating anything.
	for i := range reservations {
		r := &reservations[i]
		switch r.Status {
		case domain.ReservationStatusConsumed:
			continue
		case domain.ReservationStatusExpired, domain.ReservationStatusCancelled:
			return fmt.Errorf("cannot confirm %s reservation %s: %w", r.Status, r.ID, domain.ErrInvalidState)
		}
		if r.IsExpired(now) {
			// The hold lapsed before the sweeper got to it. Give the stock
			// back now and fail the confirm.
			if err := m.expireReservation(ctx, *r); err != nil && !errors.Is(err, domain.ErrVersionConflict) {
				return err
			}
			return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrReservationExpired)
		}
	}

	// Second pass: flip the survivors.
	for i := range reservations {
		r := reservations[i]
		if r.Status != domain.ReservationStatusActive {
			continue
		}
		if err := r.MarkConsumed(); err != nil {
			return err
		}
		if err := m.reservations.FinishReservation(ctx, r, false); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				return fmt.Errorf("reservation %s changed concurrently: %w", r.ID, domain.ErrOptimisticConflict)
			}
			return err
		}
	}
	return nil
}

// Release restores stock for every active reservation of an order and marks
// them cancelled. Calling it for an order with no reservations, or one whose
// reservations already reached a released state, is a no-op; a consumed
// reservation fails the call since purchased stock cannot be un-bought.
func (m *ReservationManager) Release(ctx context.Context, orderID string) error {
	reservations, err := m.reservations.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	for i := range reservations {
		r := reservations[i]
		switch r.Status {
		case domain.ReservationStatusExpired, domain.ReservationStatusCancelled:
			continue
		case domain.ReservationStatusConsumed:
			return fmt.Errorf("cannot release consumed reservation %s: %w", r.ID, domain.ErrInvalidState)
		}
		if err := r.MarkCancelled(); err != nil {
			return err
		}
		if err := m.reservations.FinishReservation(ctx, r, true); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				// A racing confirm or sweep already transitioned it.
				continue
			}
			return err
		}
	}
	return nil
}

// Discard erases every reservation of an order that never reached
// persistence, restoring stock held by the active ones. Unlike Release it
// deletes the rows, so the idempotency keys become usable again: a retried
// checkout whose earlier attempt failed mid-flight can reserve the same
// keys afresh instead of replaying abandoned holds. Consumed reservations
// refuse, same as Release; rows a racing writer moved first are skipped.
func (m *ReservationManager) Discard(ctx context.Context, orderID string) error {
	reservations, err := m.reservations.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	for i := range reservations {
		r := reservations[i]
		if r.Status == domain.ReservationStatusConsumed {
			return fmt.Errorf("cannot discard consumed reservation %s: %w", r.ID, domain.ErrInvalidState)
		}
		restock := r.Status == domain.ReservationStatusActive
		if err := m.reservations.DeleteReservation(ctx, r, restock); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				continue
			}
			return err
		}
	}
	return nil
}

// ReleaseExpired scans for active reservations past their TTL, restores
// their stock, and marks them expired. It returns the distinct order ids
// that lost a reservation so the caller can cancel the owning orders.
// Reservations transitioned by a racing confirm or release are skipped.
func (m *ReservationManager) ReleaseExpired(ctx context.Context, now time.Time) ([]string, error) {
	expired, err := m.reservations.ListExpiredReservations(ctx, now)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var orderIDs []string
	for i := range expired {
		r := expired[i]
		if err := m.expireReservation(ctx, r); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				continue
			}
			m.log.WithFields(logrus.Fields{
				"reservation_id": r.ID,
				"order_id":       r.OrderID,
			}).WithError(err).Warn("failed to expire reservation")
			continue
		}
		if !seen[r.OrderID] {
			seen[r.OrderID] = true
			orderIDs = append(orderIDs, r.OrderID)
		}
	}
	return orderIDs, nil
}

func (m *ReservationManager) expireReservation(ctx context.Context, r domain.Reservation) error {
	if err := r.MarkExpired(); err != nil {
		return err
	}
	return m.reservations.FinishReservation(ctx, r, true)
}
