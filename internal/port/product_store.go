package port

import (
	"context"

	"github.com/rl1809/shopsphere/internal/core/domain"
)

type ProductStore interface {
	CreateProduct(ctx context.Context, p domain.Product) error

	// GetProduct returns domain.ErrNotFound when the product does not exist.
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)

	// IncrementStock restores quantity with a version check for optimistic
	// locking. Returns the new version, or domain.ErrVersionConflict when
	// another writer moved first.
	IncrementStock(ctx context.Context, productID string, quantity int, expectedVersion int64) (int64, error)
}
