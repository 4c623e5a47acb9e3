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

// CartService does the cart line bookkeeping. Carts are lazily created on
// first use; a checked-out cart is immutable.
type CartService struct {
	carts    port.CartStore
	products port.ProductStore
	now      func() time.Time
}

func NewCartService(carts port.CartStore, products port.ProductStore) *CartService {
	return &CartService{carts: carts, products: products, now: time.Now}
}

func (s *CartService) ViewCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	return s.getOrCreate(ctx, ownerID)
}

func (s *CartService) AddItem(ctx context.Context, ownerID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", domain.ErrValidation)
	}
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	cart, err := s.getOrCreate(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	cart.UpsertItem(productID, quantity)
	cart.UpdatedAt = s.now()
	if err := s.carts.SaveCart(ctx, *cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) UpdateItemQuantity(ctx context.Context, ownerID, productID string, quantity int) (*domain.Cart, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("quantity cannot be negative: %w", domain.ErrValidation)
	}

	cart, err := s.carts.GetActiveCart(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !cart.SetItemQuantity(productID, quantity) {
		return nil, fmt.Errorf("product %s not in cart: %w", productID, domain.ErrNotFound)
	}
	cart.UpdatedAt = s.now()
	if err := s.carts.SaveCart(ctx, *cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, ownerID, productID string) (*domain.Cart, error) {
	return s.UpdateItemQuantity(ctx, ownerID, productID, 0)
}

func (s *CartService) getOrCreate(ctx context.Context, ownerID string) (*domain.Cart, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required: %w", domain.ErrValidation)
	}

	cart, err := s.carts.GetActiveCart(ctx, ownerID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	fresh := domain.Cart{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Status:    domain.CartStatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.carts.CreateCart(ctx, fresh); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			// A concurrent request created the cart first.
			return s.carts.GetActiveCart(ctx, ownerID)
		}
		return nil, err
	}
	return &fresh, nil
}
