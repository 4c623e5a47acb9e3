package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rl1809/shopsphere/internal/adapter/storage"
	"github.com/rl1809/shopsphere/internal/core/domain"
)

func TestCart_AddItem(t *testing.T) {
	store := storage.NewMemoryStore()
	seedProduct(t, store, "p1", 10)
	svc := NewCartService(store, store)

	cart, err := svc.AddItem(context.Background(), "alice", "p1", 2)
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart contents: %+v", cart.Items)
	}

	// Adding the same product merges quantities.
	cart, err = svc.AddItem(context.Background(), "alice", "p1", 3)
	if err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %+v", cart.Items)
	}
}

func TestCart_AddItemValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	seedProduct(t, store, "p1", 10)
	svc := NewCartService(store, store)

	if _, err := svc.AddItem(context.Background(), "alice", "p1", 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.AddItem(context.Background(), "", "p1", 1); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for blank owner, got %v", err)
	}
	if _, err := svc.AddItem(context.Background(), "alice", "ghost", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown product, got %v", err)
	}
}

func TestCart_UpdateAndRemove(t *testing.T) {
	store := storage.NewMemoryStore()
	seedProduct(t, store, "p1", 10)
	svc := NewCartService(store, store)

	if _, err := svc.AddItem(context.Background(), "alice", "p1", 2); err != nil {
		t.Fatal(err)
	}

	cart, err := svc.UpdateItemQuantity(context.Background(), "alice", "p1", 7)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if cart.Items[0].Quantity != 7 {
		t.Errorf("expected quantity 7, got %d", cart.Items[0].Quantity)
	}

	if _, err := svc.UpdateItemQuantity(context.Background(), "alice", "ghost", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for product not in cart, got %v", err)
	}
	if _, err := svc.UpdateItemQuantity(context.Background(), "alice", "p1", -1); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for negative quantity, got %v", err)
	}

	cart, err = svc.RemoveItem(context.Background(), "alice", "p1")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !cart.IsEmpty() {
		t.Errorf("expected empty cart, got %+v", cart.Items)
	}
}

func TestCart_ViewCreatesLazily(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewCartService(store, store)

	cart, err := svc.ViewCart(context.Background(), "alice")
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	if !cart.IsEmpty() || cart.Status != domain.CartStatusActive {
		t.Errorf("expected a fresh active cart, got %+v", cart)
	}

	again, err := svc.ViewCart(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != cart.ID {
		t.Errorf("expected the same cart on re-view, got %s vs %s", again.ID, cart.ID)
	}
}

func TestCart_ConcurrentCreateConvergesOnOneCart(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewCartService(store, store)

	const n = 10
	carts := make([]*domain.Cart, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := svc.ViewCart(context.Background(), "alice")
			if err != nil {
				t.Errorf("view %d failed: %v", i, err)
				return
			}
			carts[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if carts[i] != nil && carts[0] != nil && carts[i].ID != carts[0].ID {
			t.Fatalf("owner ended up with two carts: %s vs %s", carts[0].ID, carts[i].ID)
		}
	}
}

func TestCatalog_CreateProduct(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewCatalogService(store, nil)

	p, err := svc.CreateProduct(context.Background(), "SKU-1", "Widget", 1999, 50)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if p.Version != 1 || p.AvailableQuantity != 50 {
		t.Errorf("unexpected product: %+v", p)
	}

	if _, err := svc.CreateProduct(context.Background(), "", "Widget", 1999, 50); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for blank sku, got %v", err)
	}
	if _, err := svc.CreateProduct(context.Background(), "SKU-2", "Widget", -1, 50); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for negative price, got %v", err)
	}
	if _, err := svc.CreateProduct(context.Background(), "SKU-3", "Widget", 1999, -1); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for negative stock, got %v", err)
	}
}

func TestCatalog_AdjustStock(t *testing.T) {
	store := storage.NewMemoryStore()
	seedProduct(t, store, "p1", 10)
	svc := NewCatalogService(store, nil)

	p, err := svc.AdjustStock(context.Background(), "p1", 15)
	if err != nil {
		t.Fatalf("adjust up failed: %v", err)
	}
	if p.AvailableQuantity != 25 {
		t.Errorf("expected 25, got %d", p.AvailableQuantity)
	}

	p, err = svc.AdjustStock(context.Background(), "p1", -20)
	if err != nil {
		t.Fatalf("adjust down failed: %v", err)
	}
	if p.AvailableQuantity != 5 {
		t.Errorf("expected 5, got %d", p.AvailableQuantity)
	}

	if _, err := svc.AdjustStock(context.Background(), "p1", -6); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock below zero, got %v", err)
	}
	if _, err := svc.AdjustStock(context.Background(), "p1", 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for zero delta, got %v", err)
	}
	if _, err := svc.AdjustStock(context.Background(), "ghost", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if got, _ := store.GetProduct(context.Background(), "p1"); got.AvailableQuantity != 5 {
		t.Errorf("failed adjustments must not move stock, got %d", got.AvailableQuantity)
	}
}

func TestCatalog_AdjustStockRefreshesCache(t *testing.T) {
	store := storage.NewMemoryStore()
	seedProduct(t, store, "p1", 10)
	cache := newFakeCache()
	svc := NewCatalogService(store, cache)

	if _, err := svc.AdjustStock(context.Background(), "p1", 5); err != nil {
		t.Fatal(err)
	}

	qty, err := svc.Availability(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if qty != 15 {
		t.Errorf("expected the adjusted value 15 from the cache, got %d", qty)
	}
}

func TestCatalog_AdjustStockConcurrent(t *testing.T) {
	store := storage.NewMemoryStore()
	seedProduct(t, store, "p1", 0)
	svc := NewCatalogService(store, nil)

	// Deliveries land one unit at a time; version conflicts retry.
	const n = 3
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AdjustStock(context.Background(), "p1", 1)
		}(i)
	}
	wg.Wait()

	var applied int
	for _, err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, domain.ErrOptimisticConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got, err := store.GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableQuantity != applied {
		t.Errorf("stock %d does not match %d applied adjustments", got.AvailableQuantity, applied)
	}
}

// fakeCache records cache traffic for the availability path.
type fakeCache struct {
	mu    sync.Mutex
	stock map[string]int
	sets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{stock: make(map[string]int)}
}

func (c *fakeCache) GetStock(ctx context.Context, productID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	qty, ok := c.stock[productID]
	return qty, ok, nil
}

func (c *fakeCache) SetStock(ctx context.Context, productID string, quantity int, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[productID] = quantity
	c.sets++
	return nil
}

func TestCatalog_AvailabilityUsesCache(t *testing.T) {
	store := storage.NewMemoryStore()
	seedProduct(t, store, "p1", 7)
	cache := newFakeCache()
	svc := NewCatalogService(store, cache)

	// Miss: reads the store and primes the cache.
	qty, err := svc.Availability(context.Background(), "p1")
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if qty != 7 {
		t.Errorf("expected 7, got %d", qty)
	}
	if cache.sets != 1 {
		t.Errorf("expected one cache fill, got %d", cache.sets)
	}

	// Hit: the cached value wins even when the ledger moved.
	if _, err := store.IncrementStock(context.Background(), "p1", -2, 1); err != nil {
		t.Fatal(err)
	}
	qty, err = svc.Availability(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if qty != 7 {
		t.Errorf("expected cached 7, got %d", qty)
	}
	if cache.sets != 1 {
		t.Errorf("cache hit must not refill, got %d sets", cache.sets)
	}
}

func TestCatalog_AvailabilityWithoutCache(t *testing.T) {
	store := storage.NewMemoryStore()
	seedProduct(t, store, "p1", 7)
	svc := NewCatalogService(store, nil)

	qty, err := svc.Availability(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if qty != 7 {
		t.Errorf("expected 7, got %d", qty)
	}
	if _, err := svc.Availability(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
