package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/shopsphere/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

// MySQLStore implements the store ports over MySQL. Conditional updates use
// "rows affected == 0 means conflict"; reserve runs the stock decrement and
// the reservation insert in one transaction.
type MySQLStore struct {
	db *sqlx.DB
}

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

type productRow struct {
	ID                string    `db:"id"`
	SKU               string    `db:"sku"`
	Name              string    `db:"name"`
	PriceCents        int64     `db:"price_cents"`
	AvailableQuantity int       `db:"available_quantity"`
	Version           int64     `db:"version"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product(r)
}

// --- ProductStore ---

func (s *MySQLStore) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, price_cents, available_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SKU, p.Name, p.PriceCents, p.AvailableQuantity, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return fmt.Errorf("product %s: %w", p.ID, domain.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, sku, name, price_cents, available_quantity, version, created_at, updated_at
		FROM products WHERE id = ?`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	p := row.toDomain()
	return &p, nil
}

func (s *MySQLStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, sku, name, price_cents, available_quantity, version, created_at, updated_at
		FROM products ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	result := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *MySQLStore) IncrementStock(ctx context.Context, productID string, quantity int, expectedVersion int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET available_quantity = available_quantity + ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		quantity, productID, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("increment stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return 0, fmt.Errorf("product %s: %w", productID, domain.ErrVersionConflict)
	}
	return expectedVersion + 1, nil
}

// --- ReservationStore ---

func (s *MySQLStore) CreateReservation(ctx context.Context, r domain.Reservation, expectedProductVersion int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations
			(id, product_id, order_id, quantity, idempotency_key, status, expires_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProductID, r.OrderID, r.Quantity, r.IdempotencyKey, r.Status,
		r.ExpiresAt, r.Version, r.CreatedAt, r.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return fmt.Errorf("reservation key %s: %w", r.IdempotencyKey, domain.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE products
		SET available_quantity = available_quantity - ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ? AND available_quantity >= ?`,
		r.Quantity, r.ProductID, expectedProductVersion, r.Quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a stale version from genuinely short stock so the
		// caller knows whether a retry can help.
		var available int
		err := tx.QueryRowContext(ctx, `SELECT available_quantity FROM products WHERE id = ?`, r.ProductID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %s: %w", r.ProductID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("query stock: %w", err)
		}
		if available < r.Quantity {
			return fmt.Errorf("product %s: %w", r.ProductID, domain.ErrInsufficientStock)
		}
		return fmt.Errorf("product %s: %w", r.ProductID, domain.ErrVersionConflict)
	}

	return tx.Commit()
}

type reservationRow struct {
	ID             string    `db:"id"`
	ProductID      string    `db:"product_id"`
	OrderID        string    `db:"order_id"`
	Quantity       int       `db:"quantity"`
	IdempotencyKey string    `db:"idempotency_key"`
	Status         string    `db:"status"`
	ExpiresAt      time.Time `db:"expires_at"`
	Version        int64     `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r reservationRow) toDomain() domain.Reservation {
	return domain.Reservation{
		ID:             r.ID,
		ProductID:      r.ProductID,
		OrderID:        r.OrderID,
		Quantity:       r.Quantity,
		IdempotencyKey: r.IdempotencyKey,
		Status:         domain.ReservationStatus(r.Status),
		ExpiresAt:      r.ExpiresAt,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const reservationColumns = `id, product_id, order_id, quantity, idempotency_key, status, expires_at, version, created_at, updated_at`

func (s *MySQLStore) GetReservationByKey(ctx context.Context, idempotencyKey string) (*domain.Reservation, error) {
	var row reservationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = ?`, idempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation key %s: %w", idempotencyKey, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	r := row.toDomain()
	return &r, nil
}

func (s *MySQLStore) GetReservationByOrderAndProduct(ctx context.Context, orderID, productID string) (*domain.Reservation, error) {
	var row reservationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+reservationColumns+` FROM reservations WHERE order_id = ? AND product_id = ?`, orderID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation pair (%s, %s): %w", orderID, productID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	r := row.toDomain()
	return &r, nil
}

func (s *MySQLStore) ListReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	var rows []reservationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+reservationColumns+` FROM reservations WHERE order_id = ? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	result := make([]domain.Reservation, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *MySQLStore) ListExpiredReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error) {
	var rows []reservationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+reservationColumns+` FROM reservations WHERE status = ? AND expires_at <= ?`,
		domain.ReservationStatusActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	result := make([]domain.Reservation, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *MySQLStore) FinishReservation(ctx context.Context, r domain.Reservation, restock bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		r.Status, r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrVersionConflict)
	}

	if restock {
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET available_quantity = available_quantity + ?, version = version + 1, updated_at = NOW()
			WHERE id = ?`,
			r.Quantity, r.ProductID,
		)
		if err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}

	return tx.Commit()
}

func (s *MySQLStore) DeleteReservation(ctx context.Context, r domain.Reservation, restock bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM reservations WHERE id = ? AND version = ?`, r.ID, r.Version)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrVersionConflict)
	}

	if restock {
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET available_quantity = available_quantity + ?, version = version + 1, updated_at = NOW()
			WHERE id = ?`,
			r.Quantity, r.ProductID,
		)
		if err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}

	return tx.Commit()
}

// --- OrderStore ---

func (s *MySQLStore) CreateOrder(ctx context.Context, o domain.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, owner_id, status, total_cents, idempotency_key, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OwnerID, o.Status, o.TotalCents, o.IdempotencyKey, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return fmt.Errorf("order key %s: %w", o.IdempotencyKey, domain.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, line := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, product_name, unit_price_cents, quantity, line_total_cents)
			VALUES (?, ?, ?, ?, ?, ?)`,
			o.ID, line.ProductID, line.ProductName, line.UnitPriceCents, line.Quantity, line.LineTotalCents,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return tx.Commit()
}

type orderRow struct {
	ID             string    `db:"id"`
	OwnerID        string    `db:"owner_id"`
	Status         string    `db:"status"`
	TotalCents     int64     `db:"total_cents"`
	IdempotencyKey string    `db:"idempotency_key"`
	Version        int64     `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type orderLineRow struct {
	OrderID        string `db:"order_id"`
	ProductID      string `db:"product_id"`
	ProductName    string `db:"product_name"`
	UnitPriceCents int64  `db:"unit_price_cents"`
	Quantity       int    `db:"quantity"`
	LineTotalCents int64  `db:"line_total_cents"`
}

func (s *MySQLStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, `id = ?`, orderID)
}

func (s *MySQLStore) GetOrderByKey(ctx context.Context, idempotencyKey string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, `idempotency_key = ?`, idempotencyKey)
}

func (s *MySQLStore) getOrderWhere(ctx context.Context, where string, arg any) (*domain.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, owner_id, status, total_cents, idempotency_key, version, created_at, updated_at
		FROM orders WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	order := domain.Order{
		ID:             row.ID,
		OwnerID:        row.OwnerID,
		Status:         domain.OrderStatus(row.Status),
		TotalCents:     row.TotalCents,
		IdempotencyKey: row.IdempotencyKey,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}

	var lines []orderLineRow
	err = s.db.SelectContext(ctx, &lines, `
		SELECT order_id, product_id, product_name, unit_price_cents, quantity, line_total_cents
		FROM order_lines WHERE order_id = ?`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	for _, line := range lines {
		order.Items = append(order.Items, domain.OrderLine{
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: line.LineTotalCents,
		})
	}
	return &order, nil
}

func (s *MySQLStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, owner_id, status, total_cents, idempotency_key, version, created_at, updated_at
		FROM orders WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	result := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order, err := s.GetOrder(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, *order)
	}
	return result, nil
}

func (s *MySQLStore) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND status = ?`,
		to, orderID, from,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return err
		}
		return fmt.Errorf("order %s: %w", orderID, domain.ErrVersionConflict)
	}
	return nil
}

// --- CartStore ---

type cartRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Status    string    `db:"status"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *MySQLStore) CreateCart(ctx context.Context, c domain.Cart) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carts (id, owner_id, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Status, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return fmt.Errorf("active cart for %s: %w", c.OwnerID, domain.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetActiveCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var row cartRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, owner_id, status, version, created_at, updated_at
		FROM carts WHERE owner_id = ? AND status = ?`,
		ownerID, domain.CartStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active cart for %s: %w", ownerID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	cart := domain.Cart{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Status:    domain.CartStatus(row.Status),
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}

	var items []struct {
		ProductID string `db:"product_id"`
		Quantity  int    `db:"quantity"`
	}
	err = s.db.SelectContext(ctx, &items, `
		SELECT product_id, quantity FROM cart_items WHERE cart_id = ?`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	for _, item := range items {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return &cart, nil
}

func (s *MySQLStore) SaveCart(ctx context.Context, c domain.Cart) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET status = ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		c.Status, c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("cart %s: %w", c.ID, domain.ErrVersionConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	for _, item := range c.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, product_id, quantity) VALUES (?, ?, ?)`,
			c.ID, item.ProductID, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}

	return tx.Commit()
}
