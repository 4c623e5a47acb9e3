package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/shopsphere/internal/core/domain"
)

// MemoryStore implements every store port with mutex-guarded maps. It mirrors
// the relational adapter's semantics: conditional updates fail with
// domain.ErrVersionConflict, unique indexes fail with domain.ErrDuplicateKey,
// and reserve is one atomic operation under a single lock hold.
type MemoryStore struct {
	mu sync.Mutex

	products     map[string]*domain.Product
	reservations map[string]*domain.Reservation
	resByKey     map[string]string // idempotency key -> reservation id
	resByPair    map[string]string // orderID|productID -> reservation id
	orders       map[string]*domain.Order
	ordersByKey  map[string]string // idempotency key -> order id
	carts        map[string]*domain.Cart
	activeCarts  map[string]string // ownerID -> cart id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*domain.Product),
		reservations: make(map[string]*domain.Reservation),
		resByKey:     make(map[string]string),
		resByPair:    make(map[string]string),
		orders:       make(map[string]*domain.Order),
		ordersByKey:  make(map[string]string),
		carts:        make(map[string]*domain.Cart),
		activeCarts:  make(map[string]string),
	}
}

func pairKey(orderID, productID string) string {
	return orderID + "|" + productID
}

// --- ProductStore ---

func (s *MemoryStore) CreateProduct(ctx context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ID]; exists {
		return fmt.Errorf("product %s: %w", p.ID, domain.ErrDuplicateKey)
	}
	s.products[p.ID] = &p
	return nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[productID]
	if !exists {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) IncrementStock(ctx context.Context, productID string, quantity int, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[productID]
	if !exists {
		return 0, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	if p.Version != expectedVersion {
		return 0, fmt.Errorf("product %s: %w", productID, domain.ErrVersionConflict)
	}
	p.AvailableQuantity += quantity
	p.Version++
	p.UpdatedAt = time.Now()
	return p.Version, nil
}

// --- ReservationStore ---

func (s *MemoryStore) CreateReservation(ctx context.Context, r domain.Reservation, expectedProductVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[r.ProductID]
	if !exists {
		return fmt.Errorf("product %s: %w", r.ProductID, domain.ErrNotFound)
	}
	if _, exists := s.resByKey[r.IdempotencyKey]; exists {
		return fmt.Errorf("reservation key %s: %w", r.IdempotencyKey, domain.ErrDuplicateKey)
	}
	if _, exists := s.resByPair[pairKey(r.OrderID, r.ProductID)]; exists {
		return fmt.Errorf("reservation pair (%s, %s): %w", r.OrderID, r.ProductID, domain.ErrDuplicateKey)
	}
	if p.Version != expectedProductVersion {
		return fmt.Errorf("product %s: %w", r.ProductID, domain.ErrVersionConflict)
	}
	if p.AvailableQuantity < r.Quantity {
		return fmt.Errorf("product %s: %w", r.ProductID, domain.ErrInsufficientStock)
	}

	p.AvailableQuantity -= r.Quantity
	p.Version++
	p.UpdatedAt = time.Now()

	s.reservations[r.ID] = &r
	s.resByKey[r.IdempotencyKey] = r.ID
	s.resByPair[pairKey(r.OrderID, r.ProductID)] = r.ID
	return nil
}

func (s *MemoryStore) GetReservationByKey(ctx context.Context, idempotencyKey string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.resByKey[idempotencyKey]
	if !exists {
		return nil, fmt.Errorf("reservation key %s: %w", idempotencyKey, domain.ErrNotFound)
	}
	copied := *s.reservations[id]
	return &copied, nil
}

func (s *MemoryStore) GetReservationByOrderAndProduct(ctx context.Context, orderID, productID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.resByPair[pairKey(orderID, productID)]
	if !exists {
		return nil, fmt.Errorf("reservation pair (%s, %s): %w", orderID, productID, domain.ErrNotFound)
	}
	copied := *s.reservations[id]
	return &copied, nil
}

func (s *MemoryStore) ListReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Reservation
	for _, r := range s.reservations {
		if r.OrderID == orderID {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) ListExpiredReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.ReservationStatusActive && !r.ExpiresAt.After(cutoff) {
			result = append(result, *r)
		}
	}
	return result, nil
}

func (s *MemoryStore) FinishReservation(ctx context.Context, r domain.Reservation, restock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.reservations[r.ID]
	if !exists {
		return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrNotFound)
	}
	if current.Version != r.Version {
		return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrVersionConflict)
	}

	if restock {
		p, exists := s.products[r.ProductID]
		if !exists {
			return fmt.Errorf("product %s: %w", r.ProductID, domain.ErrNotFound)
		}
		p.AvailableQuantity += r.Quantity
		p.Version++
		p.UpdatedAt = time.Now()
	}

	r.Version++
	r.UpdatedAt = time.Now()
	s.reservations[r.ID] = &r
	return nil
}

func (s *MemoryStore) DeleteReservation(ctx context.Context, r domain.Reservation, restock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.reservations[r.ID]
	if !exists {
		return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrNotFound)
	}
	if current.Version != r.Version {
		return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrVersionConflict)
	}

	if restock {
		p, exists := s.products[r.ProductID]
		if !exists {
			return fmt.Errorf("product %s: %w", r.ProductID, domain.ErrNotFound)
		}
		p.AvailableQuantity += r.Quantity
		p.Version++
		p.UpdatedAt = time.Now()
	}

	delete(s.reservations, r.ID)
	delete(s.resByKey, current.IdempotencyKey)
	delete(s.resByPair, pairKey(current.OrderID, current.ProductID))
	return nil
}

// --- OrderStore ---

func (s *MemoryStore) CreateOrder(ctx context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s: %w", o.ID, domain.ErrDuplicateKey)
	}
	if _, exists := s.ordersByKey[o.IdempotencyKey]; exists {
		return fmt.Errorf("order key %s: %w", o.IdempotencyKey, domain.ErrDuplicateKey)
	}
	o.Items = append([]domain.OrderLine(nil), o.Items...)
	s.orders[o.ID] = &o
	s.ordersByKey[o.IdempotencyKey] = o.ID
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOrderLocked(orderID)
}

func (s *MemoryStore) GetOrderByKey(ctx context.Context, idempotencyKey string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.ordersByKey[idempotencyKey]
	if !exists {
		return nil, fmt.Errorf("order key %s: %w", idempotencyKey, domain.ErrNotFound)
	}
	return s.copyOrderLocked(id)
}

func (s *MemoryStore) copyOrderLocked(orderID string) (*domain.Order, error) {
	o, exists := s.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	copied := *o
	copied.Items = append([]domain.OrderLine(nil), o.Items...)
	return &copied, nil
}

func (s *MemoryStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Order
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			copied := *o
			copied.Items = append([]domain.OrderLine(nil), o.Items...)
			result = append(result, copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.orders[orderID]
	if !exists {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.Status != from {
		return fmt.Errorf("order %s is %s: %w", orderID, o.Status, domain.ErrVersionConflict)
	}
	o.Status = to
	o.Version++
	o.UpdatedAt = time.Now()
	return nil
}

// --- CartStore ---

func (s *MemoryStore) CreateCart(ctx context.Context, c domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeCarts[c.OwnerID]; exists {
		return fmt.Errorf("active cart for %s: %w", c.OwnerID, domain.ErrDuplicateKey)
	}
	c.Items = append([]domain.CartItem(nil), c.Items...)
	s.carts[c.ID] = &c
	s.activeCarts[c.OwnerID] = c.ID
	return nil
}

func (s *MemoryStore) GetActiveCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.activeCarts[ownerID]
	if !exists {
		return nil, fmt.Errorf("active cart for %s: %w", ownerID, domain.ErrNotFound)
	}
	c := s.carts[id]
	copied := *c
	copied.Items = append([]domain.CartItem(nil), c.Items...)
	return &copied, nil
}

func (s *MemoryStore) SaveCart(ctx context.Context, c domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.carts[c.ID]
	if !exists {
		return fmt.Errorf("cart %s: %w", c.ID, domain.ErrNotFound)
	}
	if current.Version != c.Version {
		return fmt.Errorf("cart %s: %w", c.ID, domain.ErrVersionConflict)
	}

	if current.Status == domain.CartStatusActive && c.Status != domain.CartStatusActive {
		delete(s.activeCarts, c.OwnerID)
	}
	c.Version++
	c.Items = append([]domain.CartItem(nil), c.Items...)
	s.carts[c.ID] = &c
	return nil
}
