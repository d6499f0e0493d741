package services

import (
	"context"
	"time"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/payments"
	"github.com/lumen-studio/booking/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	LineItem           = domain.LineItem
	PricingBreakdown   = domain.PricingBreakdown
	BookingFormData    = domain.BookingFormData
	Contract           = domain.Contract
	Order              = domain.Order
	Package            = domain.Package
	Product            = domain.Product
	Review             = domain.Review
	SystemHealthReport = domain.SystemHealthReport
)

// BookingSessionService drives the cart, wizard and checkout of one browsing session.
type BookingSessionService interface {
	Create(ctx context.Context, cmd CreateBookingSessionCommand) (BookingSessionView, error)
	View(ctx context.Context, sessionID string) (BookingSessionView, error)

	AddCartItem(ctx context.Context, sessionID string, cmd AddCartItemCommand) (BookingSessionView, error)
	SetCartItemQuantity(ctx context.Context, sessionID, itemID string, quantity int) (BookingSessionView, error)
	RemoveCartItem(ctx context.Context, sessionID, itemID string) (BookingSessionView, error)
	ClearCart(ctx context.Context, sessionID string) (BookingSessionView, error)

	StartWizard(ctx context.Context, sessionID string) (BookingSessionView, error)
	AcceptUpsell(ctx context.Context, sessionID string, productIDs []string) (BookingSessionView, error)
	DeclineUpsell(ctx context.Context, sessionID string) (BookingSessionView, error)
	AcceptContract(ctx context.Context, sessionID string) (BookingSessionView, error)
	RejectContract(ctx context.Context, sessionID string) (BookingSessionView, error)
	SubmitForm(ctx context.Context, sessionID string, cmd SubmitBookingFormCommand) (BookingSessionView, error)
	BackFromForm(ctx context.Context, sessionID string) (BookingSessionView, error)
	BackFromPreview(ctx context.Context, sessionID string) (BookingSessionView, error)
	Sign(ctx context.Context, sessionID string, signature string) (BookingSessionView, error)
	Confirm(ctx context.Context, sessionID string) (BookingSessionView, error)

	StartPayment(ctx context.Context, sessionID string) (BookingSessionView, error)
	PaymentWindowClosed(ctx context.Context, sessionID string) (BookingSessionView, error)
	ScheduleCalendar(ctx context.Context, sessionID string) (BookingSessionView, error)
	SkipCalendar(ctx context.Context, sessionID string) (BookingSessionView, error)
	Complete(ctx context.Context, sessionID string) (BookingSessionView, error)

	Sweep(ctx context.Context) (int, error)
}

// CatalogService reads packages and store products with a bundled fallback.
type CatalogService interface {
	ListPackages(ctx context.Context, category domain.Category) ([]Package, error)
	ListStoreProducts(ctx context.Context) ([]Product, error)
	ResolveLineItem(ctx context.Context, category domain.Category, itemID string) (LineItem, error)
}

// ReviewService lists published testimonials with a bundled fallback.
type ReviewService interface {
	ListPublished(ctx context.Context, limit int) ([]Review, error)
}

// ContractAdminService exposes the back-office contract operations.
type ContractAdminService interface {
	List(ctx context.Context, filter ContractListFilter) (domain.CursorPage[Contract], error)
	Get(ctx context.Context, contractID string) (Contract, error)
	UpdateStatus(ctx context.Context, cmd UpdateContractStatusCommand) (Contract, error)
	UpdateChecklist(ctx context.Context, cmd UpdateContractChecklistCommand) (Contract, error)
}

// PaymentWebhookService applies asynchronous payment notifications to contracts.
type PaymentWebhookService interface {
	HandleNotification(ctx context.Context, cmd PaymentNotificationCommand) (PaymentNotificationResult, error)
}

// SystemService reports dependency health for readiness checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ContractFinalizer freezes a booking into a persisted contract.
type ContractFinalizer interface {
	Finalize(ctx context.Context, cmd FinalizeContractCommand) (FinalizeContractResult, error)
}

// PreferenceCreator creates hosted payment preferences for card and Pix payments.
type PreferenceCreator interface {
	CreatePreference(ctx context.Context, req payments.PreferenceRequest) (payments.Preference, error)
}

// PaymentLookup resolves a provider payment by id.
type PaymentLookup interface {
	LookupPayment(ctx context.Context, provider string, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// CalendarScheduler creates studio calendar events. Token acquisition happens out of band.
type CalendarScheduler interface {
	IsAuthenticated(ctx context.Context) bool
	CreateEvent(ctx context.Context, event CalendarEvent) (string, error)
}

// CalendarEvent describes a booking appointment on the studio calendar.
type CalendarEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Location    string
	Attendees   []string
}

// ContractRenderer renders a contract document to PDF bytes.
type ContractRenderer interface {
	RenderContract(ctx context.Context, doc ContractDocument) ([]byte, error)
}

// ContractDocument is the input of the PDF renderer.
type ContractDocument struct {
	Contract  Contract
	Signature []byte
	SignedAt  time.Time
}

// ContractUploader stores rendered artifacts and returns their download reference.
type ContractUploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// BookingEventPublisher emits booking lifecycle events.
type BookingEventPublisher interface {
	PublishBookingEvent(ctx context.Context, event BookingEvent) (string, error)
}

// BookingEvent is the payload published for contract lifecycle changes.
type BookingEvent struct {
	Type       string               `json:"type"`
	ContractID string               `json:"contractId"`
	SessionID  string               `json:"sessionId,omitempty"`
	OrderID    string               `json:"orderId,omitempty"`
	Total      int64                `json:"total"`
	Currency   string               `json:"currency"`
	Status     *ContractStatusEvent `json:"status,omitempty"`
	OccurredAt time.Time            `json:"occurredAt"`
}

// ContractStatusEvent mirrors the contract flags at publish time.
type ContractStatusEvent struct {
	DepositPaid      bool `json:"depositPaid"`
	FinalPaymentPaid bool `json:"finalPaymentPaid"`
	EventCompleted   bool `json:"eventCompleted"`
}

const (
	BookingEventContractFinalized      = "contract.finalized"
	BookingEventContractPaymentUpdated = "contract.payment_updated"
)

type CreateBookingSessionCommand struct {
	StorePopupSeen bool
	UserID         string
}

type AddCartItemCommand struct {
	ItemID   string
	Category domain.Category
}

// SubmitBookingFormCommand carries the form fields; positional legacy keys are accepted in RawCoupons and RawSlots.
type SubmitBookingFormCommand struct {
	Client          domain.ClientInfo
	CreateAccount   bool
	Password        string
	PasswordConfirm string
	Slots           map[string]domain.EventSlot
	RawSlots        map[string]string
	Coupons         domain.CouponSelection
	RawCoupons      map[string]string
	TravelCost      *string
	PaymentMethod   domain.PaymentMethod
	Message         string
}

type FinalizeContractCommand struct {
	ContractID          string
	SessionID           string
	UserID              string
	Form                BookingFormData
	Signature           []byte
	SignedAt            time.Time
	PaymentPreferenceID string
	CalendarEventRef    string
}

type FinalizeContractResult struct {
	Contract Contract
	Order    *Order
	Warnings []string
}

type ContractListFilter = repositories.ContractListFilter

type UpdateContractStatusCommand struct {
	ContractID       string
	DepositPaid      *bool
	FinalPaymentPaid *bool
	EventCompleted   *bool
	ActorID          string
}

type UpdateContractChecklistCommand struct {
	ContractID string
	Entries    map[string]bool
	ActorID    string
}

type PaymentNotificationCommand struct {
	Provider  string
	PaymentID string
	EventType string
}

type PaymentNotificationResult struct {
	ContractID string
	Applied    bool
	Status     domain.ContractStatus
}
