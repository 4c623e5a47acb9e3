package domain

import "time"

type CartStatus string

const (
	CartStatusActive     CartStatus = "active"
	CartStatusCheckedOut CartStatus = "checked_out"
)

type CartItem struct {
	ProductID string
	Quantity  int
}

type Cart struct {
	ID        string
	OwnerID   string
	Status    CartStatus
	Items     []CartItem
	Version   int64 // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// UpsertItem merges quantity into an existing line or appends a new one.
func (c *Cart) UpsertItem(productID string, quantity int) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			return
		}
	}
	c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: quantity})
}

// SetItemQuantity replaces a line's quantity; zero removes the line.
// Returns false if the product is not in the cart.
func (c *Cart) SetItemQuantity(productID string, quantity int) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			if quantity == 0 {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
			} else {
				c.Items[i].Quantity = quantity
			}
			return true
		}
	}
	return false
}

func (c *Cart) RemoveItem(productID string) bool {
	return c.SetItemQuantity(productID, 0)
}
