package domain

// PricingBreakdown captures every derived amount for a cart snapshot, in centavos.
// Rounded quantities are whole reais.
type PricingBreakdown struct {
	Currency        string
	Subtotal        int64
	CouponDiscount  int64
	PaymentDiscount int64
	Total           int64
	DepositServices int64
	DepositStore    int64
	Deposit         int64
	Remaining       int64
	StoreOnly       bool
}
