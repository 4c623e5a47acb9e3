package port

import (
	"context"
	"time"
)

// StockCache is a read-side availability cache. It is never authoritative;
// stale entries age out via TTL.
type StockCache interface {
	// GetStock returns (quantity, true) on a hit.
	GetStock(ctx context.Context, productID string) (int, bool, error)

	SetStock(ctx context.Context, productID string, quantity int, ttl time.Duration) error
}
