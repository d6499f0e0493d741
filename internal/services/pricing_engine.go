package services

import (
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/lumen-studio/booking/internal/domain"
)

var (
	servicesDepositRate = decimal.RequireFromString("0.20")
	storeDepositRate    = decimal.RequireFromString("0.50")
	storeOnlyRate       = decimal.RequireFromString("0.50")
	cashDiscountRate    = decimal.RequireFromString("0.05")
)

// PricingSnapshot is the full input of the pricing engine. Every preview and
// the finalizer price the same snapshot type so shown and persisted amounts agree.
type PricingSnapshot struct {
	ServiceItems  []LineItem
	StoreItems    []LineItem
	TravelCost    decimal.Decimal
	PaymentMethod domain.PaymentMethod
	Coupons       domain.CouponSelection
}

// SnapshotFromForm builds the pricing input from accumulated wizard data.
func SnapshotFromForm(form BookingFormData) PricingSnapshot {
	return PricingSnapshot{
		ServiceItems:  form.CartItems,
		StoreItems:    form.StoreItems,
		TravelCost:    form.TravelCost,
		PaymentMethod: form.PaymentMethod,
		Coupons:       form.Coupons,
	}
}

// LineTotal is unit price times quantity.
func LineTotal(item LineItem) decimal.Decimal {
	if item.Quantity <= 0 {
		return decimal.Zero
	}
	return item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// IsFreeEligible reports whether the FREE coupon can zero this item.
func IsFreeEligible(item LineItem) bool {
	return strings.Contains(item.ID, "prewedding") && !strings.Contains(item.ID, "teaser")
}

// EffectiveLineTotal applies the coupon to the line total. Only an exact
// "FREE" on an eligible item has any effect.
func EffectiveLineTotal(item LineItem, coupon string) decimal.Decimal {
	if coupon == domain.CouponFree && IsFreeEligible(item) {
		return decimal.Zero
	}
	return LineTotal(item)
}

// PriceSnapshot computes the pricing breakdown. It is pure: the same snapshot
// always yields the same breakdown. Derived quantities are rounded to whole
// reais where they are computed, so parts may not sum exactly to a rounded whole.
func PriceSnapshot(snap PricingSnapshot) PricingBreakdown {
	breakdown := PricingBreakdown{Currency: domain.CurrencyBRL}
	if len(snap.ServiceItems) == 0 && len(snap.StoreItems) == 0 {
		return breakdown
	}

	services := decimal.Zero
	couponDiscount := decimal.Zero
	for _, item := range snap.ServiceItems {
		full := LineTotal(item)
		effective := EffectiveLineTotal(item, snap.Coupons[item.ID])
		services = services.Add(effective)
		couponDiscount = couponDiscount.Add(full.Sub(effective))
	}

	store := decimal.Zero
	for _, item := range snap.StoreItems {
		store = store.Add(LineTotal(item))
	}

	subtotal := services.Add(store).Add(snap.TravelCost)

	paymentDiscount := decimal.Zero
	if snap.PaymentMethod == domain.PaymentMethodCash {
		paymentDiscount = roundReais(subtotal.Mul(cashDiscountRate))
	}
	total := subtotal.Sub(paymentDiscount)

	var depositServices, depositStore decimal.Decimal
	storeOnly := len(snap.ServiceItems) == 0 && len(snap.StoreItems) > 0
	if storeOnly {
		depositServices = decimal.Zero
		depositStore = roundReais(total.Mul(storeOnlyRate))
	} else {
		depositServices = roundReais(services.Mul(servicesDepositRate))
		depositStore = roundReais(store.Mul(storeDepositRate))
	}
	depositServices = decimal.Max(decimal.Zero, depositServices)
	depositStore = decimal.Max(decimal.Zero, depositStore)
	deposit := depositServices.Add(depositStore)
	remaining := decimal.Max(decimal.Zero, total.Sub(deposit))

	breakdown.Subtotal = domain.ToMinor(subtotal)
	breakdown.CouponDiscount = domain.ToMinor(couponDiscount)
	breakdown.PaymentDiscount = domain.ToMinor(paymentDiscount)
	breakdown.Total = domain.ToMinor(total)
	breakdown.DepositServices = domain.ToMinor(depositServices)
	breakdown.DepositStore = domain.ToMinor(depositStore)
	breakdown.Deposit = domain.ToMinor(deposit)
	breakdown.Remaining = domain.ToMinor(remaining)
	breakdown.StoreOnly = storeOnly
	return breakdown
}

// roundReais rounds half-up to a whole currency unit.
func roundReais(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(0)
}
