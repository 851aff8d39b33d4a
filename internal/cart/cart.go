package cart

import (
	"github.com/shopspring/decimal"
)

// Item is one product line of a cart. ProductID is unique within a cart and
// Quantity is always >= 1 for an item that is present.
type Item struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// LineTotal returns price * quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the in-memory aggregate for one user. Items keep insertion order.
// It has no I/O; the service persists and caches it.
type Cart struct {
	UserID string `json:"user_id"`
	Items  []Item `json:"items"`
}

// NewCart returns an empty cart owned by userID.
func NewCart(userID string) *Cart {
	return &Cart{UserID: userID, Items: []Item{}}
}

func (c *Cart) index(productID int64) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Find returns the item for productID, if present.
func (c *Cart) Find(productID int64) (Item, bool) {
	if idx := c.index(productID); idx >= 0 {
		return c.Items[idx], true
	}
	return Item{}, false
}

// AddItem inserts item, or replaces name, price and quantity of an existing
// entry with the same product id. Re-adding is last-write-wins, not additive.
// The previous entry is returned when one was replaced. A non-positive
// quantity removes the product instead.
func (c *Cart) AddItem(item Item) (previous Item, existed bool) {
	if item.Quantity <= 0 {
		return c.RemoveItem(item.ProductID)
	}
	if idx := c.index(item.ProductID); idx >= 0 {
		previous = c.Items[idx]
		c.Items[idx] = item
		return previous, true
	}
	c.Items = append(c.Items, item)
	return Item{}, false
}

// RemoveItem drops the entry for productID. Removing an absent product is a no-op.
func (c *Cart) RemoveItem(productID int64) (removed Item, ok bool) {
	idx := c.index(productID)
	if idx < 0 {
		return Item{}, false
	}
	removed = c.Items[idx]
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return removed, true
}

// UpdateQuantity sets the quantity of an existing product and reports whether
// the product was found. Zero or negative quantities remove the item.
func (c *Cart) UpdateQuantity(productID int64, quantity int) bool {
	idx := c.index(productID)
	if idx < 0 {
		return false
	}
	if quantity <= 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return true
	}
	c.Items[idx].Quantity = quantity
	return true
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Items = []Item{}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// TotalQuantity sums the quantity of every item.
func (c *Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// Subtotal sums every line total.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Clone returns a deep copy so callers cannot mutate shared snapshots.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	items := make([]Item, len(c.Items))
	copy(items, c.Items)
	return &Cart{UserID: c.UserID, Items: items}
}
