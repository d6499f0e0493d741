package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Category classifies catalog entries and cart line items.
type Category string

const (
	CategoryPortrait  Category = "portrait"
	CategoryMaternity Category = "maternity"
	CategoryEvents    Category = "events"
	CategoryStore     Category = "store"
)

// Valid reports whether the category is one the studio sells.
func (c Category) Valid() bool {
	switch c {
	case CategoryPortrait, CategoryMaternity, CategoryEvents, CategoryStore:
		return true
	default:
		return false
	}
}

// IsService reports whether the category is a photography service package.
func (c Category) IsService() bool {
	return c.Valid() && c != CategoryStore
}

// LineItem is a service package or store product placed in the cart.
type LineItem struct {
	ID            string
	Category      Category
	Name          string
	DurationLabel string
	UnitPrice     decimal.Decimal
	Quantity      int
	ImageRef      string
}

// IsStore reports whether the line item is a store product.
func (i LineItem) IsStore() bool {
	return i.Category == CategoryStore
}

// PaymentMethod enumerates how the client settles the booking.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCredit PaymentMethod = "credit"
	PaymentMethodPix    PaymentMethod = "pix"
)

// Valid reports whether the payment method is recognised.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCredit, PaymentMethodPix:
		return true
	default:
		return false
	}
}

// RequiresPreference reports whether the method routes through the external payment API.
func (m PaymentMethod) RequiresPreference() bool {
	return m == PaymentMethodCredit || m == PaymentMethodPix
}

// CouponFree zeroes eligible prewedding packages.
const CouponFree = "FREE"

// CouponSelection binds coupon codes to cart line items by item id.
type CouponSelection map[string]string

// legacyCouponPrefix is the positional form key used by older clients.
const legacyCouponPrefix = "discountCoupon_"

// MigrateIndexedCoupons rebinds positional discountCoupon_<i> keys to the id of
// the service item at that position. Keys that are already ids are kept.
func MigrateIndexedCoupons(items []LineItem, raw map[string]string) CouponSelection {
	out := make(CouponSelection, len(raw))
	for key, code := range raw {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if idx, ok := parseIndexedKey(key, legacyCouponPrefix); ok {
			if idx >= 0 && idx < len(items) {
				out[items[idx].ID] = code
			}
			continue
		}
		out[key] = code
	}
	return out
}

// EventSlot is the date, time and location chosen for one service item.
type EventSlot struct {
	Date     string
	Time     string
	Location string
}

// IsZero reports whether no field was provided.
func (s EventSlot) IsZero() bool {
	return strings.TrimSpace(s.Date) == "" && strings.TrimSpace(s.Time) == "" && strings.TrimSpace(s.Location) == ""
}

// MigrateIndexedSlots folds positional date_<i>, time_<i> and eventLocation_<i>
// form fields into slots keyed by service item id.
func MigrateIndexedSlots(items []LineItem, fields map[string]string) map[string]EventSlot {
	out := make(map[string]EventSlot)
	for key, value := range fields {
		for _, prefix := range slotPrefixes {
			idx, ok := parseIndexedKey(key, prefix)
			if !ok {
				continue
			}
			if idx >= 0 && idx < len(items) {
				id := items[idx].ID
				slot := out[id]
				switch prefix {
				case "date_":
					slot.Date = value
				case "time_":
					slot.Time = value
				case "eventLocation_":
					slot.Location = value
				}
				out[id] = slot
			}
			break
		}
	}
	return out
}

var slotPrefixes = []string{"date_", "time_", "eventLocation_"}

// parseIndexedKey reports whether key is prefix followed by digits. Indexes
// too large for an int come back as -1 so callers drop them.
func parseIndexedKey(key, prefix string) (int, bool) {
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	digits := key[len(prefix):]
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return -1, true
	}
	return idx, true
}

// ClientInfo carries the personal and contact fields captured by the booking form.
type ClientInfo struct {
	Name     string
	Email    string
	Phone    string
	Document string
	Address  string
}

// BookingFormData accumulates wizard input until it is frozen into a Contract.
type BookingFormData struct {
	Client          ClientInfo
	CreateAccount   bool
	Password        string
	PasswordConfirm string
	Slots           map[string]EventSlot
	CartItems       []LineItem
	StoreItems      []LineItem
	TravelCost      decimal.Decimal
	PaymentMethod   PaymentMethod
	Coupons         CouponSelection
	Message         string
}

// ContractStatus holds the independently settable payment and completion flags.
type ContractStatus struct {
	DepositPaid      bool
	FinalPaymentPaid bool
	EventCompleted   bool
}

// ContractService is a service line frozen into a contract.
type ContractService struct {
	ItemID        string
	Category      Category
	Name          string
	DurationLabel string
	UnitPrice     int64
	Quantity      int
	LineTotal     int64
	Coupon        string
	Slot          EventSlot
}

// ContractStoreItem is a store product frozen into a contract.
type ContractStoreItem struct {
	ItemID    string
	Name      string
	UnitPrice int64
	Quantity  int
	LineTotal int64
}

// Contract is the persisted booking snapshot.
type Contract struct {
	ID                  string
	SessionID           string
	UserID              string
	Client              ClientInfo
	EventType           Category
	EventDate           string
	EventTime           string
	EventLocation       string
	TotalAmount         int64
	TravelFee           int64
	PaymentMethod       PaymentMethod
	Pricing             PricingBreakdown
	Status              ContractStatus
	Services            []ContractService
	StoreItems          []ContractStoreItem
	Message             string
	PaymentPreferenceID string
	CalendarEventRef    string
	PDFURL              string
	Checklist           map[string]bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Order is the merchandise record created alongside a contract holding store items.
type Order struct {
	ID          string
	ContractID  string
	SessionID   string
	Client      ClientInfo
	Items       []ContractStoreItem
	Total       int64
	DepositPaid bool
	Paid        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Package is a service package published in the catalog.
type Package struct {
	ID          string
	Category    Category
	Title       string
	Price       decimal.Decimal
	Duration    string
	Description string
	Features    []string
	ImageRef    string
	Section     string
	Active      bool
}

// Product is a store product offered in the shop and the booking upsell.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Description string
	ImageRef    string
	Active      bool
}

// Review is a published client testimonial.
type Review struct {
	ID        string
	Author    string
	Rating    int
	Text      string
	EventType string
	CreatedAt time.Time
}

// StudioSettings are runtime overrides stored in the config collection.
type StudioSettings struct {
	PaymentsEnabled   *bool
	CalendarEnabled   *bool
	DefaultTravelCost *decimal.Decimal
}
