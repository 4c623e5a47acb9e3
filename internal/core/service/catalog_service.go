package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/shopsphere/internal/core/domain"
	"github.com/rl1809/shopsphere/internal/port"
)

const (
	availabilityCacheTTL = 5 * time.Second
	adjustMaxRetries     = 3
)

// CatalogService is the thin product collaborator: create/read plus a
// cached availability lookup for hot read paths. Stock mutation never goes
// through here.
type CatalogService struct {
	products port.ProductStore
	cache    port.StockCache // optional
	now      func() time.Time
}

func NewCatalogService(products port.ProductStore, cache port.StockCache) *CatalogService {
	return &CatalogService{products: products, cache: cache, now: time.Now}
}

func (s *CatalogService) CreateProduct(ctx context.Context, sku, name string, priceCents int64, stock int) (*domain.Product, error) {
	if sku == "" || name == "" {
		return nil, fmt.Errorf("sku and name are required: %w", domain.ErrValidation)
	}
	if priceCents < 0 {
		return nil, fmt.Errorf("price cannot be negative: %w", domain.ErrValidation)
	}
	if stock < 0 {
		return nil, fmt.Errorf("stock cannot be negative: %w", domain.ErrValidation)
	}

	now := s.now()
	product := domain.Product{
		ID:                uuid.New().String(),
		SKU:               sku,
		Name:              name,
		PriceCents:        priceCents,
		AvailableQuantity: stock,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.products.CreateProduct(ctx, product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return s.products.GetProduct(ctx, productID)
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.products.ListProducts(ctx)
}

// AdjustStock applies a manual stock correction, e.g. receiving a delivery
// or writing off damaged units. The increment is conditional on the product
// version, retried like the reservation path; a correction below zero fails.
func (s *CatalogService) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	if delta == 0 {
		return nil, fmt.Errorf("delta must be non-zero: %w", domain.ErrValidation)
	}

	for attempt := 1; attempt <= adjustMaxRetries; attempt++ {
		product, err := s.products.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if product.AvailableQuantity+delta < 0 {
			return nil, fmt.Errorf("product %s: stock %d cannot absorb %d: %w",
				productID, product.AvailableQuantity, delta, domain.ErrInsufficientStock)
		}

		if _, err := s.products.IncrementStock(ctx, productID, delta, product.Version); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				continue
			}
			return nil, err
		}
		product.AvailableQuantity += delta
		product.Version++
		if s.cache != nil {
			_ = s.cache.SetStock(ctx, productID, product.AvailableQuantity, availabilityCacheTTL)
		}
		return product, nil
	}
	return nil, fmt.Errorf("product %s: %w", productID, domain.ErrOptimisticConflict)
}

// Availability reads the product's available quantity, preferring the cache.
// Cached values may lag the ledger by up to the cache TTL.
func (s *CatalogService) Availability(ctx context.Context, productID string) (int, error) {
	if s.cache != nil {
		if qty, ok, err := s.cache.GetStock(ctx, productID); err == nil && ok {
			return qty, nil
		}
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		_ = s.cache.SetStock(ctx, productID, product.AvailableQuantity, availabilityCacheTTL)
	}
	return product.AvailableQuantity, nil
}
