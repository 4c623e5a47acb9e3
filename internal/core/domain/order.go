package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderLine snapshots the product at checkout time so later catalog edits
// never change what the buyer agreed to pay.
type OrderLine struct {
	ProductID      string
	ProductName    string
	UnitPriceCents int64
	Quantity       int
	LineTotalCents int64
}

type Order struct {
	ID             string
	OwnerID        string
	Status         OrderStatus
	TotalCents     int64
	IdempotencyKey string
	Items          []OrderLine
	Version        int64 // optimistic locking
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewOrderLine(p *Product, quantity int) OrderLine {
	return OrderLine{
		ProductID:      p.ID,
		ProductName:    p.Name,
		UnitPriceCents: p.PriceCents,
		Quantity:       quantity,
		LineTotalCents: p.PriceCents * int64(quantity),
	}
}

func (o *Order) AddLine(line OrderLine) {
	o.Items = append(o.Items, line)
	o.TotalCents += line.LineTotalCents
}

func (o *Order) Confirm() error {
	return o.transition(OrderStatusConfirmed)
}

func (o *Order) Cancel() error {
	return o.transition(OrderStatusCancelled)
}

func (o *Order) transition(to OrderStatus) error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, ErrInvalidState)
	}
	o.Status = to
	return nil
}
