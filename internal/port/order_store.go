package port

import (
	"context"

	"github.com/rl1809/shopsphere/internal/core/domain"
)

type OrderStore interface {
	// CreateOrder persists the order and its lines. Returns
	// domain.ErrDuplicateKey when the checkout idempotency key already exists.
	CreateOrder(ctx context.Context, o domain.Order) error

	// GetOrder returns domain.ErrNotFound when the order does not exist.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// GetOrderByKey looks an order up by its checkout idempotency key.
	GetOrderByKey(ctx context.Context, idempotencyKey string) (*domain.Order, error)

	ListOrdersByOwner(ctx context.Context, ownerID string) ([]domain.Order, error)

	// UpdateOrderStatus flips the status only when the order is still in
	// from. Returns domain.ErrVersionConflict when another writer won.
	UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error
}

type CartStore interface {
	CreateCart(ctx context.Context, c domain.Cart) error

	// GetActiveCart returns domain.ErrNotFound when the owner has no active cart.
	GetActiveCart(ctx context.Context, ownerID string) (*domain.Cart, error)

	// SaveCart persists items and status with a version check.
	SaveCart(ctx context.Context, c domain.Cart) error
}
