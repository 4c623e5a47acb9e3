package domain

import "time"

type Product struct {
	ID                string
	SKU               string
	Name              string
	PriceCents        int64
	AvailableQuantity int
	Version           int64 // optimistic locking
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
