package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/shopsphere/internal/core/domain"
)

func getMySQLStore(t *testing.T) *MySQLStore {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/shopsphere?parseTime=true&multiStatements=true"
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMySQLStore(db)
}

func createTestProduct(t *testing.T, store *MySQLStore, stock int) domain.Product {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	p := domain.Product{
		ID:                uuid.New().String(),
		SKU:               "sku-" + uuid.New().String(),
		Name:              "test product",
		PriceCents:        2500,
		AvailableQuantity: stock,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.CreateProduct(context.Background(), p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

func TestMySQL_ProductRoundTrip(t *testing.T) {
	store := getMySQLStore(t)
	p := createTestProduct(t, store, 10)

	got, err := store.GetProduct(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.SKU != p.SKU || got.AvailableQuantity != 10 || got.Version != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := store.CreateProduct(context.Background(), p); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey on duplicate sku, got %v", err)
	}
	if _, err := store.GetProduct(context.Background(), uuid.New().String()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMySQL_ReserveAndFinish(t *testing.T) {
	store := getMySQLStore(t)
	p := createTestProduct(t, store, 10)
	ctx := context.Background()

	r := domain.Reservation{
		ID:             uuid.New().String(),
		ProductID:      p.ID,
		OrderID:        uuid.New().String(),
		Quantity:       4,
		IdempotencyKey: "key-" + uuid.New().String(),
		Status:         domain.ReservationStatusActive,
		ExpiresAt:      time.Now().Add(15 * time.Minute).Truncate(time.Second),
		Version:        1,
		CreatedAt:      time.Now().Truncate(time.Second),
		UpdatedAt:      time.Now().Truncate(time.Second),
	}
	if err := store.CreateReservation(ctx, r, 1); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	got, err := store.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableQuantity != 6 || got.Version != 2 {
		t.Errorf("expected stock 6 at version 2, got %d at %d", got.AvailableQuantity, got.Version)
	}

	// Stale product version rolls the whole reserve back.
	stale := r
	stale.ID = uuid.New().String()
	stale.OrderID = uuid.New().String()
	stale.IdempotencyKey = "key-" + uuid.New().String()
	if err := store.CreateReservation(ctx, stale, 1); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
	got, _ = store.GetProduct(ctx, p.ID)
	if got.AvailableQuantity != 6 {
		t.Errorf("failed reserve must not leak a decrement, got %d", got.AvailableQuantity)
	}

	// Oversized requests fail as insufficient, not as a version problem.
	huge := r
	huge.ID = uuid.New().String()
	huge.OrderID = uuid.New().String()
	huge.IdempotencyKey = "key-" + uuid.New().String()
	huge.Quantity = 100
	if err := store.CreateReservation(ctx, huge, 2); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}

	// Finish with restock returns the units.
	r.Status = domain.ReservationStatusCancelled
	if err := store.FinishReservation(ctx, r, true); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _ = store.GetProduct(ctx, p.ID)
	if got.AvailableQuantity != 10 {
		t.Errorf("expected stock restored to 10, got %d", got.AvailableQuantity)
	}

	stored, err := store.GetReservationByKey(ctx, r.IdempotencyKey)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.ReservationStatusCancelled || stored.Version != 2 {
		t.Errorf("unexpected reservation after finish: %+v", stored)
	}

	// The stale-version finish loses the compare-and-swap.
	if err := store.FinishReservation(ctx, r, true); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMySQL_DeleteReservation(t *testing.T) {
	store := getMySQLStore(t)
	p := createTestProduct(t, store, 10)
	ctx := context.Background()

	key := "key-" + uuid.New().String()
	r := domain.Reservation{
		ID:             uuid.New().String(),
		ProductID:      p.ID,
		OrderID:        uuid.New().String(),
		Quantity:       4,
		IdempotencyKey: key,
		Status:         domain.ReservationStatusActive,
		ExpiresAt:      time.Now().Add(time.Minute).Truncate(time.Second),
		Version:        1,
		CreatedAt:      time.Now().Truncate(time.Second),
		UpdatedAt:      time.Now().Truncate(time.Second),
	}
	if err := store.CreateReservation(ctx, r, 1); err != nil {
		t.Fatal(err)
	}

	stale := r
	stale.Version = 99
	if err := store.DeleteReservation(ctx, stale, true); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	if err := store.DeleteReservation(ctx, r, true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := store.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableQuantity != 10 {
		t.Errorf("expected stock restored to 10, got %d", got.AvailableQuantity)
	}
	if _, err := store.GetReservationByKey(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected the key to be freed, got %v", err)
	}

	// The unique indexes accept the same key and pair again.
	fresh := r
	fresh.ID = uuid.New().String()
	fresh.Quantity = 2
	if err := store.CreateReservation(ctx, fresh, got.Version); err != nil {
		t.Errorf("expected the freed key to be reusable, got %v", err)
	}
}

func TestMySQL_ReservationUniqueIndexes(t *testing.T) {
	store := getMySQLStore(t)
	p := createTestProduct(t, store, 10)
	ctx := context.Background()

	key := "key-" + uuid.New().String()
	orderID := uuid.New().String()
	r := domain.Reservation{
		ID:             uuid.New().String(),
		ProductID:      p.ID,
		OrderID:        orderID,
		Quantity:       1,
		IdempotencyKey: key,
		Status:         domain.ReservationStatusActive,
		ExpiresAt:      time.Now().Add(time.Minute).Truncate(time.Second),
		Version:        1,
		CreatedAt:      time.Now().Truncate(time.Second),
		UpdatedAt:      time.Now().Truncate(time.Second),
	}
	if err := store.CreateReservation(ctx, r, 1); err != nil {
		t.Fatal(err)
	}

	sameKey := r
	sameKey.ID = uuid.New().String()
	sameKey.OrderID = uuid.New().String()
	if err := store.CreateReservation(ctx, sameKey, 2); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for reused key, got %v", err)
	}

	samePair := r
	samePair.ID = uuid.New().String()
	samePair.IdempotencyKey = "key-" + uuid.New().String()
	if err := store.CreateReservation(ctx, samePair, 2); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for reused pair, got %v", err)
	}

	got, err := store.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableQuantity != 9 {
		t.Errorf("unique-index losses must not decrement, got %d", got.AvailableQuantity)
	}
}

func TestMySQL_OrderRoundTrip(t *testing.T) {
	store := getMySQLStore(t)
	p := createTestProduct(t, store, 10)
	ctx := context.Background()

	order := domain.Order{
		ID:             uuid.New().String(),
		OwnerID:        "owner-" + uuid.New().String(),
		Status:         domain.OrderStatusPending,
		IdempotencyKey: "chk-" + uuid.New().String(),
		Version:        1,
		CreatedAt:      time.Now().Truncate(time.Second),
		UpdatedAt:      time.Now().Truncate(time.Second),
	}
	order.AddLine(domain.NewOrderLine(&p, 3))
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	got, err := store.GetOrderByKey(ctx, order.IdempotencyKey)
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got.ID != order.ID || got.TotalCents != 7500 || len(got.Items) != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Items[0].LineTotalCents != 7500 {
		t.Errorf("expected line total 7500, got %d", got.Items[0].LineTotalCents)
	}

	dup := order
	dup.ID = uuid.New().String()
	if err := store.CreateOrder(ctx, dup); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	if err := store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusConfirmed); err != nil {
		t.Fatalf("status flip: %v", err)
	}
	if err := store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict on second flip, got %v", err)
	}

	orders, err := store.ListOrdersByOwner(ctx, order.OwnerID)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].Status != domain.OrderStatusConfirmed {
		t.Errorf("unexpected listing: %+v", orders)
	}
}

func TestMySQL_CartRoundTrip(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()
	owner := "owner-" + uuid.New().String()

	cart := domain.Cart{
		ID:        uuid.New().String(),
		OwnerID:   owner,
		Status:    domain.CartStatusActive,
		Items:     []domain.CartItem{{ProductID: uuid.New().String(), Quantity: 2}},
		Version:   1,
		CreatedAt: time.Now().Truncate(time.Second),
		UpdatedAt: time.Now().Truncate(time.Second),
	}
	if err := store.CreateCart(ctx, cart); err != nil {
		t.Fatalf("create cart: %v", err)
	}

	// The generated-column index rejects a second active cart.
	dup := cart
	dup.ID = uuid.New().String()
	if err := store.CreateCart(ctx, dup); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := store.GetActiveCart(ctx, owner)
	if err != nil {
		t.Fatalf("get active cart: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	got.Items = append(got.Items, domain.CartItem{ProductID: uuid.New().String(), Quantity: 1})
	got.Status = domain.CartStatusCheckedOut
	if err := store.SaveCart(ctx, *got); err != nil {
		t.Fatalf("save cart: %v", err)
	}
	if _, err := store.GetActiveCart(ctx, owner); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after checkout, got %v", err)
	}
}

func TestMySQL_ListExpiredReservations(t *testing.T) {
	store := getMySQLStore(t)
	p := createTestProduct(t, store, 10)
	ctx := context.Background()

	r := domain.Reservation{
		ID:             uuid.New().String(),
		ProductID:      p.ID,
		OrderID:        uuid.New().String(),
		Quantity:       1,
		IdempotencyKey: "key-" + uuid.New().String(),
		Status:         domain.ReservationStatusActive,
		ExpiresAt:      time.Now().Add(-time.Minute).Truncate(time.Second),
		Version:        1,
		CreatedAt:      time.Now().Truncate(time.Second),
		UpdatedAt:      time.Now().Truncate(time.Second),
	}
	if err := store.CreateReservation(ctx, r, 1); err != nil {
		t.Fatal(err)
	}

	expired, err := store.ListExpiredReservations(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range expired {
		if e.ID == r.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in the expired set (%d rows)", r.ID, len(expired))
	}
}

func TestMySQL_IncrementStock(t *testing.T) {
	store := getMySQLStore(t)
	p := createTestProduct(t, store, 10)
	ctx := context.Background()

	version, err := store.IncrementStock(ctx, p.ID, 5, 1)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	if _, err := store.IncrementStock(ctx, p.ID, 5, 1); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	got, err := store.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableQuantity != 15 {
		t.Errorf("expected stock 15, got %d", got.AvailableQuantity)
	}
}

func TestMySQL_RepeatedReserveNeverOversells(t *testing.T) {
	store := getMySQLStore(t)
	p := createTestProduct(t, store, 5)
	ctx := context.Background()

	// Read-then-reserve until well past the stock; the conditional update
	// must stop the count at exactly the initial stock.
	var successes int
	for i := 0; i < 20; i++ {
		current, err := store.GetProduct(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		r := domain.Reservation{
			ID:             uuid.New().String(),
			ProductID:      p.ID,
			OrderID:        uuid.New().String(),
			Quantity:       1,
			IdempotencyKey: fmt.Sprintf("key-%s-%d", p.ID, i),
			Status:         domain.ReservationStatusActive,
			ExpiresAt:      time.Now().Add(time.Minute).Truncate(time.Second),
			Version:        1,
			CreatedAt:      time.Now().Truncate(time.Second),
			UpdatedAt:      time.Now().Truncate(time.Second),
		}
		err = store.CreateReservation(ctx, r, current.Version)
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrInsufficientStock):
		case errors.Is(err, domain.ErrVersionConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := store.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableQuantity != 5-successes {
		t.Errorf("stock %d does not match %d successful reserves", got.AvailableQuantity, successes)
	}
	if got.AvailableQuantity < 0 {
		t.Error("stock went negative")
	}
}
