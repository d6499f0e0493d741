package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubSessions struct {
	newParams *stripe.CheckoutSessionParams
	getID     string
	session   *stripe.CheckoutSession
	err       error
}

func (s *stubSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.newParams = params
	return s.session, s.err
}

func (s *stubSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.getID = id
	return s.session, s.err
}

func TestStripeProviderCreatePreferenceBuildsSession(t *testing.T) {
	sessions := &stubSessions{session: &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}}
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	provider, err := NewStripeProvider(StripeProviderConfig{Sessions: sessions, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	pref, err := provider.CreatePreference(context.Background(), PreferenceRequest{
		Method:   MethodPix,
		Currency: "BRL",
		Items: []PreferenceItem{
			{ID: "prewedding-basic", Title: "Pré-wedding", Quantity: 1, UnitAmount: 40000},
			{ID: "travel", Title: "Deslocamento", Quantity: 0, UnitAmount: 5000},
		},
		Payer:             Payer{Name: "Ana", Email: "ana@example.com"},
		ReturnURLs:        ReturnURLs{Success: "https://studio.test/ok", Failure: "https://studio.test/fail"},
		ExternalReference: "ctr_123",
		IdempotencyKey:    "pref-ctr_123",
	})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.ID != "cs_test" || pref.RedirectURL == "" {
		t.Fatalf("unexpected preference %+v", pref)
	}
	if !pref.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("expected default expiry, got %s", pref.ExpiresAt)
	}

	params := sessions.newParams
	if params == nil {
		t.Fatalf("expected session params to be sent")
	}
	if len(params.PaymentMethodTypes) != 1 || *params.PaymentMethodTypes[0] != "pix" {
		t.Fatalf("expected pix payment method, got %v", params.PaymentMethodTypes)
	}
	if params.ClientReferenceID == nil || *params.ClientReferenceID != "ctr_123" {
		t.Fatalf("expected client reference to carry external reference")
	}
	if params.CustomerEmail == nil || *params.CustomerEmail != "ana@example.com" {
		t.Fatalf("expected payer email to be forwarded")
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected two line items, got %d", len(params.LineItems))
	}
	if got := *params.LineItems[1].Quantity; got != 1 {
		t.Fatalf("expected quantity to be clamped to 1, got %d", got)
	}
	if got := *params.LineItems[0].PriceData.Currency; got != "brl" {
		t.Fatalf("expected lower-case currency, got %q", got)
	}
	if params.Metadata["externalReference"] != "ctr_123" {
		t.Fatalf("expected metadata to carry external reference")
	}
}

func TestStripeProviderCreatePreferenceRequiresItems(t *testing.T) {
	provider, err := NewStripeProvider(StripeProviderConfig{Sessions: &stubSessions{}})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.CreatePreference(context.Background(), PreferenceRequest{Method: MethodCard}); err == nil {
		t.Fatalf("expected error without items")
	}
}

func TestStripeProviderCreatePreferenceWrapsError(t *testing.T) {
	sessions := &stubSessions{err: errors.New("boom")}
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: sessions})
	_, err := provider.CreatePreference(context.Background(), PreferenceRequest{
		Method: MethodCard,
		Items:  []PreferenceItem{{Title: "x", Quantity: 1, UnitAmount: 100}},
	})
	if err == nil || !errors.Is(err, sessions.err) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestStripeProviderLookupPaymentMapsPaidSession(t *testing.T) {
	sessions := &stubSessions{session: &stripe.CheckoutSession{
		ID:                "cs_paid",
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:       45000,
		Currency:          stripe.CurrencyBRL,
		ClientReferenceID: "ctr_9",
		PaymentIntent:     &stripe.PaymentIntent{ID: "pi_1", Created: 1760000000},
	}}
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: sessions})

	details, err := provider.LookupPayment(context.Background(), LookupRequest{PaymentID: "cs_paid"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sessions.getID != "cs_paid" {
		t.Fatalf("expected lookup by session id, got %q", sessions.getID)
	}
	if details.Status != StatusSucceeded || details.AmountPaid != 45000 {
		t.Fatalf("unexpected details %+v", details)
	}
	if details.ExternalReference != "ctr_9" || details.Currency != "BRL" {
		t.Fatalf("unexpected reference/currency %+v", details)
	}
	if details.PaidAt == nil || !details.PaidAt.Equal(time.Unix(1760000000, 0).UTC()) {
		t.Fatalf("expected paid-at from payment intent, got %v", details.PaidAt)
	}
}

func TestStripeProviderLookupPaymentUnpaid(t *testing.T) {
	sessions := &stubSessions{session: &stripe.CheckoutSession{
		ID:            "cs_open",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		AmountTotal:   45000,
		Metadata:      map[string]string{"externalReference": "ctr_meta"},
	}}
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: sessions})

	details, err := provider.LookupPayment(context.Background(), LookupRequest{PaymentID: "cs_open"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if details.Status != StatusPending || details.AmountPaid != 0 {
		t.Fatalf("expected pending with no amount, got %+v", details)
	}
	if details.ExternalReference != "ctr_meta" {
		t.Fatalf("expected metadata fallback reference, got %q", details.ExternalReference)
	}
	if _, err := provider.LookupPayment(context.Background(), LookupRequest{}); err == nil {
		t.Fatalf("expected error for empty payment id")
	}
}
