package services

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	domain "github.com/lumen-studio/booking/internal/domain"
)

func TestCartStore_AddSameIDIncrements(t *testing.T) {
	cart := NewCartStore()
	var events []CartEvent
	cart.Subscribe(func(e CartEvent) { events = append(events, e) })

	item := serviceItem("portrait-1h", "R$ 350", 5)
	if err := cart.AddItem(item); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := cart.AddItem(item); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	items := cart.Items()
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("expected one item with quantity 2, got %+v", items)
	}
	if !cart.IsOpen() {
		t.Fatalf("expected cart to be opened by add")
	}
	want := []CartEvent{
		{Kind: CartEventItemAdded, ItemID: "portrait-1h", Quantity: 1},
		{Kind: CartEventOpened},
		{Kind: CartEventQuantityChanged, ItemID: "portrait-1h", Quantity: 2},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestCartStore_SetQuantityZeroRemoves(t *testing.T) {
	cart := NewCartStore()
	_ = cart.AddItem(serviceItem("a", "10", 1))
	_ = cart.AddItem(storeItem("b", "20", 1))

	cart.SetQuantity("b", 3)
	if got := cart.ItemCount(); got != 4 {
		t.Fatalf("expected count 4, got %d", got)
	}
	cart.SetQuantity("a", 0)
	if len(cart.ServiceItems()) != 0 {
		t.Fatalf("expected service item removed")
	}
	cart.SetQuantity("missing", 2)
	cart.RemoveItem("missing")
	if len(cart.Items()) != 1 {
		t.Fatalf("unexpected items %+v", cart.Items())
	}
	if !cart.TotalPrice().Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected total 60, got %s", cart.TotalPrice())
	}

	cart.Clear()
	if !cart.IsEmpty() || cart.ItemCount() != 0 {
		t.Fatalf("expected empty cart after clear")
	}
}

func TestCartStore_TotalUsesCanonicalParser(t *testing.T) {
	cart := NewCartStore()
	_ = cart.AddItem(serviceItem("events", "R$ 1.000", 1))
	_ = cart.AddItem(storeItem("album", "R$ 99,90", 1))
	if !cart.TotalPrice().Equal(domain.ParseAmount("1099,90")) {
		t.Fatalf("expected 1099.90, got %s", cart.TotalPrice())
	}
}

func TestCartStore_AddItemValidation(t *testing.T) {
	cart := NewCartStore()
	cases := []LineItem{
		{ID: " ", Category: domain.CategoryPortrait},
		{ID: "x", Category: "weddings"},
		{ID: "x", Category: domain.CategoryStore, UnitPrice: decimal.NewFromInt(-1)},
	}
	for _, item := range cases {
		if err := cart.AddItem(item); !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", item, err)
		}
	}
	if !cart.IsEmpty() || cart.IsOpen() {
		t.Fatalf("rejected items must not change the cart")
	}
}
