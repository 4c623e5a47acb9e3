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

// CheckoutCoordinator drives cart -> pending order -> per-item reservation
// -> order snapshot, and the later confirm/cancel transitions. From the
// caller's point of view a checkout either fully happens or leaves nothing
// behind: any mid-flight failure discards the reservations already placed,
// freeing their keys for a retry.
type CheckoutCoordinator struct {
	orders       port.OrderStore
	carts        port.CartStore
	products     port.ProductStore
	reservations *ReservationManager
	now          func() time.Time
	log          *logrus.Entry

	// winner polling for concurrent duplicate checkouts
	winnerAttempts int
	winnerDelay    time.Duration
}

func NewCheckoutCoordinator(orders port.OrderStore, carts port.CartStore, products port.ProductStore, reservations *ReservationManager, logger *logrus.Logger) *CheckoutCoordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CheckoutCoordinator{
		orders:         orders,
		carts:          carts,
		products:       products,
		reservations:   reservations,
		now:            time.Now,
		log:            logger.WithField("component", "checkout"),
		winnerAttempts: 20,
		winnerDelay:    50 * time.Millisecond,
	}
}

// lineKey derives a deterministic per-line reservation key, so a retried
// checkout reproduces identical keys and replays instead of double-reserving.
func lineKey(checkoutKey, productID string) string {
	return checkoutKey + ":" + productID
}

// Checkout converts the owner's active cart into a pending order with one
// stock reservation per line. replayed is true when the idempotency key
// already produced an order, in which case that order is returned untouched.
func (c *CheckoutCoordinator) Checkout(ctx context.Context, ownerID, idempotencyKey string) (*domain.Order, bool, error) {
	if ownerID == "" || idempotencyKey == "" {
		return nil, false, fmt.Errorf("owner id and idempotency key are required: %w", domain.ErrValidation)
	}

	existing, err := c.orders.GetOrderByKey(ctx, idempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("checkout replay lookup: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	cart, err := c.carts.GetActiveCart(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, domain.ErrEmptyCart
		}
		return nil, false, err
	}
	if cart.IsEmpty() {
		return nil, false, domain.ErrEmptyCart
	}

	now := c.now()
	order := domain.Order{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		Status:         domain.OrderStatusPending,
		IdempotencyKey: idempotencyKey,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, item := range cart.Items {
		_, err := c.reservations.Reserve(ctx, item.ProductID, order.ID, item.Quantity, lineKey(idempotencyKey, item.ProductID))
		if err != nil {
			c.abandon(ctx, order.ID)
			if errors.Is(err, domain.ErrIdempotencyConflict) {
				// The line key is held by another order id: a concurrent
				// duplicate checkout is in flight. Adopt its order.
				return c.awaitWinner(ctx, idempotencyKey)
			}
			return nil, false, err
		}
		product, err := c.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			c.abandon(ctx, order.ID)
			return nil, false, err
		}
		order.AddLine(domain.NewOrderLine(product, item.Quantity))
	}

	if err := c.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			// A concurrent duplicate checkout won the unique key. Our
			// reservations are redundant with the winner's; give the stock
			// back before adopting the winner's order.
			c.abandon(ctx, order.ID)
			winner, lookupErr := c.orders.GetOrderByKey(ctx, idempotencyKey)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("duplicate checkout, winner lookup: %w", lookupErr)
			}
			return winner, true, nil
		}
		c.abandon(ctx, order.ID)
		return nil, false, fmt.Errorf("persist order: %w", err)
	}

	cart.Status = domain.CartStatusCheckedOut
	cart.UpdatedAt = now
	if err := c.carts.SaveCart(ctx, *cart); err != nil {
		// The order and its holds exist; a stale cart is recoverable and
		// must not fail the checkout.
		c.log.WithFields(logrus.Fields{"owner_id": ownerID, "order_id": order.ID}).
			WithError(err).Warn("failed to close cart after checkout")
	}

	return &order, false, nil
}

// awaitWinner polls for the order a concurrent duplicate checkout is about
// to persist. The winner holds the reservations already, so waiting is the
// only correct move; if it never lands the caller gets a conflict to retry.
func (c *CheckoutCoordinator) awaitWinner(ctx context.Context, idempotencyKey string) (*domain.Order, bool, error) {
	for attempt := 0; attempt < c.winnerAttempts; attempt++ {
		winner, err := c.orders.GetOrderByKey(ctx, idempotencyKey)
		if err == nil {
			return winner, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(c.winnerDelay):
		}
	}
	return nil, false, fmt.Errorf("concurrent checkout in flight for key %q: %w", idempotencyKey, domain.ErrOptimisticConflict)
}

// abandon releases whatever reservations a losing or failing checkout
// already placed. The order id never reached storage, so releasing by order
// id only touches our own holds.
// abandon erases the holds of a checkout attempt that will not persist its
// order. Discard rather than Release: the attempt's line keys must come
// free again so the buyer can retry the same checkout key.
func (c *CheckoutCoordinator) abandon(ctx context.Context, orderID string) {
	if err := c.reservations.Discard(ctx, orderID); err != nil {
		c.log.WithField("order_id", orderID).WithError(err).Error("failed to discard abandoned reservations")
	}
}

// ConfirmOrder consumes the order's reservations and flips it to confirmed.
// If consuming fails the order stays pending.
func (c *CheckoutCoordinator) ConfirmOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrInvalidState)
	}

	if err := c.reservations.Confirm(ctx, orderID); err != nil {
		return nil, err
	}
	if err := c.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusConfirmed); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("order %s changed concurrently: %w", orderID, domain.ErrInvalidState)
		}
		return nil, err
	}
	order.Status = domain.OrderStatusConfirmed
	return order, nil
}

// CancelOrder releases the order's reservations and flips it to cancelled.
func (c *CheckoutCoordinator) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrInvalidState)
	}

	if err := c.reservations.Release(ctx, orderID); err != nil {
		return nil, err
	}
	if err := c.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusCancelled); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("order %s changed concurrently: %w", orderID, domain.ErrInvalidState)
		}
		return nil, err
	}
	order.Status = domain.OrderStatusCancelled
	return order, nil
}

// CancelExpiredOrder is the sweeper's cancel path. Orders no longer pending
// were already settled by a racing user action and are skipped silently.
func (c *CheckoutCoordinator) CancelExpiredOrder(ctx context.Context, orderID string) error {
	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if order.Status != domain.OrderStatusPending {
		return nil
	}

	if err := c.reservations.Release(ctx, orderID); err != nil {
		return err
	}
	err = c.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	if errors.Is(err, domain.ErrVersionConflict) {
		return nil
	}
	return err
}

func (c *CheckoutCoordinator) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return c.orders.GetOrder(ctx, orderID)
}

func (c *CheckoutCoordinator) ListOrders(ctx context.Context, ownerID string) ([]domain.Order, error) {
	return c.orders.ListOrdersByOwner(ctx, ownerID)
}
