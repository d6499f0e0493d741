package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrCartInvalidInput indicates the caller supplied an invalid line item.
var ErrCartInvalidInput = errors.New("cart store: invalid input")

// CartEventKind names a cart mutation delivered to observers.
type CartEventKind string

const (
	CartEventItemAdded       CartEventKind = "item_added"
	CartEventItemRemoved     CartEventKind = "item_removed"
	CartEventQuantityChanged CartEventKind = "quantity_changed"
	CartEventCleared         CartEventKind = "cleared"
	CartEventOpened          CartEventKind = "opened"
)

// CartEvent describes one cart mutation.
type CartEvent struct {
	Kind     CartEventKind
	ItemID   string
	Quantity int
}

// CartObserver is notified synchronously after every mutation.
type CartObserver func(CartEvent)

// CartStore holds the line items of one browsing session. It is not safe for
// concurrent use; the owning session serialises access.
type CartStore struct {
	items     []LineItem
	open      bool
	observers []CartObserver
}

// NewCartStore returns an empty, closed cart.
func NewCartStore() *CartStore {
	return &CartStore{}
}

// Subscribe registers an observer for cart mutations.
func (c *CartStore) Subscribe(observer CartObserver) {
	if observer != nil {
		c.observers = append(c.observers, observer)
	}
}

// AddItem appends the item with quantity 1 or increments the existing entry
// with the same id. Adding always opens the cart.
func (c *CartStore) AddItem(item LineItem) error {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		return fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	if !item.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrCartInvalidInput, item.Category)
	}
	if item.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrCartInvalidInput)
	}

	if idx := c.indexOf(item.ID); idx >= 0 {
		c.items[idx].Quantity++
		c.notify(CartEvent{Kind: CartEventQuantityChanged, ItemID: item.ID, Quantity: c.items[idx].Quantity})
	} else {
		item.Quantity = 1
		c.items = append(c.items, item)
		c.notify(CartEvent{Kind: CartEventItemAdded, ItemID: item.ID, Quantity: 1})
	}
	if !c.open {
		c.open = true
		c.notify(CartEvent{Kind: CartEventOpened})
	}
	return nil
}

// RemoveItem deletes the entry; a missing id is a no-op.
func (c *CartStore) RemoveItem(id string) {
	idx := c.indexOf(strings.TrimSpace(id))
	if idx < 0 {
		return
	}
	removed := c.items[idx].ID
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.notify(CartEvent{Kind: CartEventItemRemoved, ItemID: removed})
}

// SetQuantity overwrites the quantity; zero or less removes the item.
func (c *CartStore) SetQuantity(id string, quantity int) {
	if quantity <= 0 {
		c.RemoveItem(id)
		return
	}
	idx := c.indexOf(strings.TrimSpace(id))
	if idx < 0 {
		return
	}
	c.items[idx].Quantity = quantity
	c.notify(CartEvent{Kind: CartEventQuantityChanged, ItemID: c.items[idx].ID, Quantity: quantity})
}

// Clear empties the cart.
func (c *CartStore) Clear() {
	c.items = nil
	c.notify(CartEvent{Kind: CartEventCleared})
}

// Close marks the cart drawer as closed.
func (c *CartStore) Close() { c.open = false }

// IsOpen reports whether the cart drawer is open.
func (c *CartStore) IsOpen() bool { return c.open }

// IsEmpty reports whether the cart holds no items.
func (c *CartStore) IsEmpty() bool { return len(c.items) == 0 }

// Items returns a copy of every line item in insertion order.
func (c *CartStore) Items() []LineItem {
	return append([]LineItem(nil), c.items...)
}

// ServiceItems returns the service package entries.
func (c *CartStore) ServiceItems() []LineItem {
	return c.filter(func(item LineItem) bool { return !item.IsStore() })
}

// StoreItems returns the store product entries.
func (c *CartStore) StoreItems() []LineItem {
	return c.filter(LineItem.IsStore)
}

// ItemCount is the sum of quantities.
func (c *CartStore) ItemCount() int {
	count := 0
	for _, item := range c.items {
		count += item.Quantity
	}
	return count
}

// TotalPrice sums line totals with the pricing engine, before coupons and travel.
func (c *CartStore) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.items {
		total = total.Add(LineTotal(item))
	}
	return total
}

func (c *CartStore) filter(keep func(LineItem) bool) []LineItem {
	var out []LineItem
	for _, item := range c.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

func (c *CartStore) indexOf(id string) int {
	for i, item := range c.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (c *CartStore) notify(event CartEvent) {
	for _, observer := range c.observers {
		observer(event)
	}
}

