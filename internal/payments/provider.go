package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure or an expired preference.
	StatusFailed Status = "failed"
)

// Method is the checkout method a preference is created for.
type Method string

const (
	MethodCard Method = "card"
	MethodPix  Method = "pix"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// PreferenceItem describes a single line shown on the hosted payment page.
type PreferenceItem struct {
	ID          string
	Title       string
	Description string
	Quantity    int64
	UnitAmount  int64
	Currency    string
}

// Payer identifies the client paying for the booking.
type Payer struct {
	Name  string
	Email string
	Phone string
}

// ReturnURLs are the pages the hosted checkout redirects back to.
type ReturnURLs struct {
	Success string
	Failure string
	Pending string
}

// PreferenceRequest captures the payload required to create a payment preference.
type PreferenceRequest struct {
	Method            Method
	Currency          string
	Items             []PreferenceItem
	Payer             Payer
	ReturnURLs        ReturnURLs
	ExternalReference string
	Metadata          map[string]string
	IdempotencyKey    string
}

// Preference is the hosted payment page returned by the PSP.
type Preference struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// LookupRequest identifies a payment to reconcile.
type LookupRequest struct {
	PaymentID string
}

// PaymentDetails normalises PSP specific fields for reconciliation.
type PaymentDetails struct {
	Provider          string
	PaymentID         string
	Status            Status
	AmountPaid        int64
	Currency          string
	ExternalReference string
	PaidAt            *time.Time
	Metadata          map[string]string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}
