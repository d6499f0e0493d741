package services

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	domain "github.com/lumen-studio/booking/internal/domain"
)

func serviceItem(id string, price string, qty int) LineItem {
	return LineItem{ID: id, Category: domain.CategoryPortrait, Name: id, UnitPrice: domain.ParseAmount(price), Quantity: qty}
}

func storeItem(id string, price string, qty int) LineItem {
	return LineItem{ID: id, Category: domain.CategoryStore, Name: id, UnitPrice: domain.ParseAmount(price), Quantity: qty}
}

func TestPriceSnapshot_FreeCouponPix(t *testing.T) {
	item := serviceItem("prewedding-basic", "R$ 400", 1)
	coupons := domain.MigrateIndexedCoupons([]LineItem{item}, map[string]string{"discountCoupon_0": "FREE"})

	got := PriceSnapshot(PricingSnapshot{
		ServiceItems:  []LineItem{item},
		TravelCost:    decimal.NewFromInt(50),
		PaymentMethod: domain.PaymentMethodPix,
		Coupons:       coupons,
	})

	want := PricingBreakdown{
		Currency:       domain.CurrencyBRL,
		Subtotal:       5000,
		CouponDiscount: 40000,
		Total:          5000,
		Remaining:      5000,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("breakdown mismatch (-want +got):\n%s", diff)
	}
	if !LineTotal(item).Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected line total 400, got %s", LineTotal(item))
	}
}

func TestPriceSnapshot_CashDiscountRoundsHalfUp(t *testing.T) {
	item := serviceItem("prewedding-basic", "R$ 400", 1)

	got := PriceSnapshot(PricingSnapshot{
		ServiceItems:  []LineItem{item},
		TravelCost:    decimal.NewFromInt(50),
		PaymentMethod: domain.PaymentMethodCash,
	})

	want := PricingBreakdown{
		Currency:        domain.CurrencyBRL,
		Subtotal:        45000,
		PaymentDiscount: 2300,
		Total:           42700,
		DepositServices: 8000,
		Deposit:         8000,
		Remaining:       34700,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("breakdown mismatch (-want +got):\n%s", diff)
	}
}

func TestPriceSnapshot_EmptyCartIsZero(t *testing.T) {
	got := PriceSnapshot(PricingSnapshot{
		TravelCost:    decimal.NewFromInt(80),
		PaymentMethod: domain.PaymentMethodCash,
	})
	if diff := cmp.Diff(PricingBreakdown{Currency: domain.CurrencyBRL}, got); diff != "" {
		t.Fatalf("expected zero breakdown (-want +got):\n%s", diff)
	}
}

func TestPriceSnapshot_StoreOnlyUsesFlatHalf(t *testing.T) {
	items := []LineItem{storeItem("album", "R$ 150,50", 1), storeItem("frame", "89", 2)}
	for _, travel := range []int64{0, 35, 101} {
		got := PriceSnapshot(PricingSnapshot{
			StoreItems:    items,
			TravelCost:    decimal.NewFromInt(travel),
			PaymentMethod: domain.PaymentMethodCredit,
		})
		if !got.StoreOnly {
			t.Fatalf("travel %d: expected store-only mode", travel)
		}
		wantDeposit := domain.ToMinor(domain.FromMinor(got.Total).Mul(decimal.RequireFromString("0.5")).Round(0))
		if got.Deposit != wantDeposit {
			t.Fatalf("travel %d: expected deposit %d, got %d", travel, wantDeposit, got.Deposit)
		}
		if got.DepositServices != 0 || got.DepositStore != got.Deposit {
			t.Fatalf("travel %d: unexpected split %+v", travel, got)
		}
	}
}

func TestPriceSnapshot_TravelNeverInMixedDeposit(t *testing.T) {
	base := PricingSnapshot{
		ServiceItems:  []LineItem{serviceItem("portrait-1h", "R$ 1.000,00", 1)},
		StoreItems:    []LineItem{storeItem("album", "300", 1)},
		PaymentMethod: domain.PaymentMethodPix,
	}
	without := PriceSnapshot(base)
	base.TravelCost = decimal.NewFromInt(120)
	with := PriceSnapshot(base)

	if with.Deposit != without.Deposit {
		t.Fatalf("travel changed deposit: %d vs %d", with.Deposit, without.Deposit)
	}
	if with.DepositServices != 20000 || with.DepositStore != 15000 {
		t.Fatalf("unexpected split %+v", with)
	}
	if with.Total-without.Total != 12000 {
		t.Fatalf("expected travel in total, got %d vs %d", with.Total, without.Total)
	}
}

func TestPriceSnapshot_CashDiscountOnlyForCash(t *testing.T) {
	items := []LineItem{serviceItem("events-4h", "R$ 2.345,67", 1)}
	for _, method := range []domain.PaymentMethod{domain.PaymentMethodCash, domain.PaymentMethodCredit, domain.PaymentMethodPix} {
		got := PriceSnapshot(PricingSnapshot{ServiceItems: items, PaymentMethod: method})
		want := int64(0)
		if method == domain.PaymentMethodCash {
			want = domain.ToMinor(domain.FromMinor(got.Subtotal).Mul(decimal.RequireFromString("0.05")).Round(0))
		}
		if got.PaymentDiscount != want {
			t.Fatalf("%s: expected discount %d, got %d", method, want, got.PaymentDiscount)
		}
	}
}

func TestEffectiveLineTotal_CouponEligibility(t *testing.T) {
	cases := []struct {
		id     string
		coupon string
		zero   bool
	}{
		{"prewedding-basic", "FREE", true},
		{"prewedding-teaser", "FREE", false},
		{"prewedding-basic", "free", false},
		{"prewedding-basic", "FREE10", false},
		{"prewedding-basic", "", false},
		{"wedding-basic", "FREE", false},
		{"teaser", "FREE", false},
	}
	for _, tc := range cases {
		item := serviceItem(tc.id, "250", 2)
		got := EffectiveLineTotal(item, tc.coupon)
		if tc.zero && !got.IsZero() {
			t.Fatalf("%s/%q: expected zero, got %s", tc.id, tc.coupon, got)
		}
		if !tc.zero && !got.Equal(LineTotal(item)) {
			t.Fatalf("%s/%q: expected full line total, got %s", tc.id, tc.coupon, got)
		}
	}
}

func TestPriceSnapshot_DepositAdditivityAndIdempotency(t *testing.T) {
	prices := []string{"R$ 1,50", "R$ 12,35", "R$ 99,99", "R$ 400", "R$ 1.234,55", "7,5"}
	methods := []domain.PaymentMethod{domain.PaymentMethodCash, domain.PaymentMethodCredit, domain.PaymentMethodPix}
	for i, sp := range prices {
		for j, st := range prices {
			for _, method := range methods {
				snap := PricingSnapshot{
					ServiceItems:  []LineItem{serviceItem("svc", sp, i%3+1)},
					StoreItems:    []LineItem{storeItem("shop", st, j%2+1)},
					TravelCost:    domain.ParseAmount("17,5"),
					PaymentMethod: method,
				}
				got := PriceSnapshot(snap)
				if got.DepositServices+got.DepositStore != got.Deposit {
					t.Fatalf("deposit not additive: %+v", got)
				}
				diff := got.Deposit + got.Remaining - got.Total
				if diff < -200 || diff > 200 {
					t.Fatalf("deposit+remaining drifted from total by %d centavos: %+v", diff, got)
				}
				if again := PriceSnapshot(snap); again != got {
					t.Fatalf("pricing not idempotent: %+v vs %+v", got, again)
				}
			}
		}
	}
}

func TestSnapshotFromForm(t *testing.T) {
	form := BookingFormData{
		CartItems:     []LineItem{serviceItem("a", "10", 1)},
		StoreItems:    []LineItem{storeItem("b", "20", 1)},
		TravelCost:    decimal.NewFromInt(5),
		PaymentMethod: domain.PaymentMethodPix,
		Coupons:       domain.CouponSelection{"a": "FREE"},
	}
	snap := SnapshotFromForm(form)
	if len(snap.ServiceItems) != 1 || len(snap.StoreItems) != 1 || snap.Coupons["a"] != "FREE" || !snap.TravelCost.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
