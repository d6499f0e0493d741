package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/repositories"
)

const (
	defaultSessionTTL  = 2 * time.Hour
	defaultMaxSessions = 10000
)

var (
	// ErrBookingSessionNotFound indicates the session id is unknown or expired.
	ErrBookingSessionNotFound = errors.New("booking session: not found")
	// ErrBookingSessionInvalidInput indicates a malformed request.
	ErrBookingSessionInvalidInput = errors.New("booking session: invalid input")
	// ErrBookingSessionLimit indicates the process holds too many live sessions.
	ErrBookingSessionLimit = errors.New("booking session: too many active sessions")
	// ErrBookingCheckoutNotStarted indicates a checkout action before the preview was confirmed.
	ErrBookingCheckoutNotStarted = errors.New("booking session: checkout not started")
)

// BookingSessionServiceDeps wires the collaborators shared by every session.
type BookingSessionServiceDeps struct {
	Catalog  CatalogService
	Settings repositories.SettingsRepository
	// Checkout carries the payment, calendar and finalizer collaborators and
	// the process-level feature flags; studio settings may override the flags.
	Checkout          CheckoutOrchestratorDeps
	DefaultTravelCost decimal.Decimal
	TTL               time.Duration
	MaxSessions       int
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
	IDGenerator       func() string
}

// BookingSessionView is the read model returned after every session operation.
type BookingSessionView struct {
	ID               string
	Step             WizardStep
	CheckoutStage    CheckoutStage
	Items            []LineItem
	ItemCount        int
	CartOpen         bool
	CartTotal        decimal.Decimal
	Pricing          PricingBreakdown
	TravelCost       decimal.Decimal
	EmptyCartNotice  bool
	CanConfirm       bool
	StorePopupSeen   bool
	Notice           string
	Payment          *PaymentWindowView
	ContractID       string
	PDFURL           string
	CalendarEventRef string
	Warnings         []string
	ExpiresAt        time.Time
}

// PaymentWindowView exposes the hosted payment page to the client.
type PaymentWindowView struct {
	PreferenceID string
	Provider     string
	RedirectURL  string
	ExpiresAt    time.Time
	Closed       bool
}

type bookingSession struct {
	mu              sync.Mutex
	id              string
	userID          string
	cart            *CartStore
	wizard          *BookingWizard
	checkout        *CheckoutOrchestrator
	travelDefault   decimal.Decimal
	paymentsEnabled bool
	calendarEnabled bool
	lastSeen        time.Time
}

type bookingSessionService struct {
	catalog     CatalogService
	settings    repositories.SettingsRepository
	checkout    CheckoutOrchestratorDeps
	travel      decimal.Decimal
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string

	mu       sync.RWMutex
	sessions map[string]*bookingSession
}

var _ BookingSessionService = (*bookingSessionService)(nil)

// NewBookingSessionService constructs the in-process session manager.
func NewBookingSessionService(deps BookingSessionServiceDeps) (BookingSessionService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("booking session service: catalog service is required")
	}
	if deps.Checkout.Finalizer == nil {
		return nil, errors.New("booking session service: contract finalizer is required")
	}
	if deps.DefaultTravelCost.IsNegative() {
		return nil, errors.New("booking session service: default travel cost must not be negative")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	maxSessions := deps.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	checkout := deps.Checkout
	if checkout.Logger == nil {
		checkout.Logger = logger
	}
	if checkout.Clock == nil {
		checkout.Clock = clock
	}
	if checkout.IDGenerator == nil {
		checkout.IDGenerator = newID
	}
	return &bookingSessionService{
		catalog:     deps.Catalog,
		settings:    deps.Settings,
		checkout:    checkout,
		travel:      deps.DefaultTravelCost,
		ttl:         ttl,
		maxSessions: maxSessions,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
		newID:       newID,
		sessions:    make(map[string]*bookingSession),
	}, nil
}

func (s *bookingSessionService) Create(ctx context.Context, cmd CreateBookingSessionCommand) (BookingSessionView, error) {
	if s.atCapacity() {
		return BookingSessionView{}, ErrBookingSessionLimit
	}
	cart := NewCartStore()
	wizard, err := NewBookingWizard(cart, WizardOptions{StorePopupSeen: cmd.StorePopupSeen})
	if err != nil {
		return BookingSessionView{}, err
	}
	sess := &bookingSession{
		id:              s.newID(),
		userID:          strings.TrimSpace(cmd.UserID),
		cart:            cart,
		wizard:          wizard,
		travelDefault:   s.travel,
		paymentsEnabled: s.checkout.PaymentsEnabled,
		calendarEnabled: s.checkout.CalendarEnabled,
		lastSeen:        s.now(),
	}
	s.applySettings(ctx, sess)

	s.mu.Lock()
	if len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return BookingSessionView{}, ErrBookingSessionLimit
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger(ctx, "booking.session.created", map[string]any{"sessionId": sess.id, "userId": sess.userID})
	return s.view(sess), nil
}

func (s *bookingSessionService) atCapacity() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions) >= s.maxSessions
}

// applySettings overrides the process defaults with the studio config document.
// A failed read keeps the process configuration.
func (s *bookingSessionService) applySettings(ctx context.Context, sess *bookingSession) {
	if s.settings == nil {
		return
	}
	settings, err := s.settings.GetStudioSettings(ctx)
	if err != nil {
		s.logger(ctx, "booking.session.settings_failed", map[string]any{"sessionId": sess.id, "error": err.Error()})
		return
	}
	if settings.PaymentsEnabled != nil {
		sess.paymentsEnabled = *settings.PaymentsEnabled && s.checkout.Payments != nil
	}
	if settings.CalendarEnabled != nil {
		sess.calendarEnabled = *settings.CalendarEnabled
	}
	if settings.DefaultTravelCost != nil && !settings.DefaultTravelCost.IsNegative() {
		sess.travelDefault = *settings.DefaultTravelCost
	}
}

func (s *bookingSessionService) View(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(*bookingSession) error { return nil })
}

func (s *bookingSessionService) AddCartItem(ctx context.Context, sessionID string, cmd AddCartItemCommand) (BookingSessionView, error) {
	item, err := s.catalog.ResolveLineItem(ctx, cmd.Category, cmd.ItemID)
	if err != nil {
		return BookingSessionView{}, err
	}
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		return sess.cart.AddItem(item)
	})
}

func (s *bookingSessionService) SetCartItemQuantity(ctx context.Context, sessionID, itemID string, quantity int) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		sess.cart.SetQuantity(strings.TrimSpace(itemID), quantity)
		return nil
	})
}

func (s *bookingSessionService) RemoveCartItem(ctx context.Context, sessionID, itemID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		sess.cart.RemoveItem(strings.TrimSpace(itemID))
		return nil
	})
}

func (s *bookingSessionService) ClearCart(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		sess.cart.Clear()
		return nil
	})
}

func (s *bookingSessionService) StartWizard(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		if sess.checkout != nil && sess.wizard.Step() == WizardStepComplete {
			return fmt.Errorf("%w: booking already completed", ErrWizardInvalidTransition)
		}
		_, err := sess.wizard.Start()
		return err
	})
}

// AcceptUpsell resolves the chosen products against the store catalog before
// adding them, so clients cannot inject prices.
func (s *bookingSessionService) AcceptUpsell(ctx context.Context, sessionID string, productIDs []string) (BookingSessionView, error) {
	products := make([]LineItem, 0, len(productIDs))
	for _, id := range productIDs {
		item, err := s.catalog.ResolveLineItem(ctx, domain.CategoryStore, id)
		if err != nil {
			return BookingSessionView{}, err
		}
		products = append(products, item)
	}
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		return sess.wizard.AcceptUpsell(products)
	})
}

func (s *bookingSessionService) DeclineUpsell(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error { return sess.wizard.DeclineUpsell() })
}

func (s *bookingSessionService) AcceptContract(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error { return sess.wizard.AcceptContract() })
}

func (s *bookingSessionService) RejectContract(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error { return sess.wizard.RejectContract() })
}

func (s *bookingSessionService) SubmitForm(ctx context.Context, sessionID string, cmd SubmitBookingFormCommand) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		items := sess.cart.ServiceItems()

		coupons := domain.MigrateIndexedCoupons(items, cmd.RawCoupons)
		for id, code := range cmd.Coupons {
			if code = strings.TrimSpace(code); code != "" {
				coupons[id] = code
			}
		}
		slots := domain.MigrateIndexedSlots(items, cmd.RawSlots)
		for id, slot := range cmd.Slots {
			slots[id] = slot
		}

		travel := sess.travelDefault
		if cmd.TravelCost != nil {
			travel = domain.ParseAmount(*cmd.TravelCost)
		}

		return sess.wizard.SubmitForm(BookingFormData{
			Client:          cmd.Client,
			CreateAccount:   cmd.CreateAccount,
			Password:        cmd.Password,
			PasswordConfirm: cmd.PasswordConfirm,
			Slots:           slots,
			TravelCost:      travel,
			PaymentMethod:   cmd.PaymentMethod,
			Coupons:         coupons,
			Message:         cmd.Message,
		})
	})
}

func (s *bookingSessionService) BackFromForm(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error { return sess.wizard.BackFromForm() })
}

func (s *bookingSessionService) BackFromPreview(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error { return sess.wizard.BackFromPreview() })
}

func (s *bookingSessionService) Sign(ctx context.Context, sessionID string, signature string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		return sess.wizard.Sign([]byte(signature))
	})
}

// Confirm freezes the booking and creates its checkout. Repeated calls reuse
// the existing checkout.
func (s *bookingSessionService) Confirm(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		if sess.checkout != nil {
			return nil
		}
		form, err := sess.wizard.Confirm()
		if err != nil {
			return err
		}
		deps := s.checkout
		deps.PaymentsEnabled = sess.paymentsEnabled
		deps.CalendarEnabled = sess.calendarEnabled
		checkout, err := NewCheckoutOrchestrator(deps, CheckoutRequest{
			SessionID: sess.id,
			UserID:    sess.userID,
			Form:      form,
			Signature: sess.wizard.Signature(),
		})
		if err != nil {
			return err
		}
		sess.checkout = checkout
		s.logger(ctx, "booking.checkout.started", map[string]any{
			"sessionId":  sess.id,
			"contractId": checkout.ContractID(),
			"stage":      string(checkout.Stage()),
			"total":      checkout.Breakdown().Total,
		})
		return nil
	})
}

func (s *bookingSessionService) StartPayment(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.withCheckout(ctx, sessionID, func(sess *bookingSession) error {
		if err := sess.checkout.StartPayment(ctx); err != nil {
			return err
		}
		sess.wizard.SetBusy(sess.checkout.Window() != nil && !sess.checkout.Window().Closed())
		return nil
	})
}

func (s *bookingSessionService) PaymentWindowClosed(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.withCheckout(ctx, sessionID, func(sess *bookingSession) error {
		window := sess.checkout.Window()
		if window == nil {
			return fmt.Errorf("%w: no payment window is open", ErrCheckoutWrongStage)
		}
		window.Close()
		sess.checkout.Poll()
		sess.wizard.SetBusy(false)
		return nil
	})
}

func (s *bookingSessionService) ScheduleCalendar(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.withCheckout(ctx, sessionID, func(sess *bookingSession) error {
		return sess.checkout.ScheduleCalendar(ctx)
	})
}

func (s *bookingSessionService) SkipCalendar(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.withCheckout(ctx, sessionID, func(sess *bookingSession) error {
		return sess.checkout.SkipCalendar()
	})
}

// Complete finalizes the contract once, then ends the wizard and clears the cart.
func (s *bookingSessionService) Complete(ctx context.Context, sessionID string) (BookingSessionView, error) {
	return s.withCheckout(ctx, sessionID, func(sess *bookingSession) error {
		sess.wizard.SetBusy(true)
		result, err := sess.checkout.Complete(ctx)
		sess.wizard.SetBusy(false)
		if err != nil {
			return err
		}
		if err := sess.wizard.MarkComplete(); err != nil {
			return err
		}
		sess.cart.Close()
		s.logger(ctx, "booking.completed", map[string]any{
			"sessionId":  sess.id,
			"contractId": result.Contract.ID,
			"warnings":   len(result.Warnings),
		})
		return nil
	})
}

// Sweep drops sessions idle for longer than the TTL. Sessions busy with an
// operation are skipped until the next sweep.
func (s *bookingSessionService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !sess.mu.TryLock() {
			continue
		}
		expired := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger(ctx, "booking.session.swept", map[string]any{"removed": removed, "remaining": len(s.sessions)})
	}
	return removed, nil
}

func (s *bookingSessionService) lookup(sessionID string) (*bookingSession, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrBookingSessionInvalidInput)
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBookingSessionNotFound
	}
	return sess, nil
}

// with serialises fn against the session and returns the resulting view. The
// view is returned alongside operation errors so clients can re-render.
func (s *bookingSessionService) with(ctx context.Context, sessionID string, fn func(*bookingSession) error) (BookingSessionView, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return BookingSessionView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	now := s.now()
	if now.Sub(sess.lastSeen) > s.ttl {
		return BookingSessionView{}, ErrBookingSessionNotFound
	}
	sess.lastSeen = now
	if sess.checkout != nil {
		sess.checkout.Poll()
	}

	opErr := fn(sess)
	if opErr != nil {
		s.logger(ctx, "booking.session.operation_failed", map[string]any{
			"sessionId": sess.id,
			"step":      string(sess.wizard.Step()),
			"error":     opErr.Error(),
		})
	}
	return s.view(sess), opErr
}

func (s *bookingSessionService) withCheckout(ctx context.Context, sessionID string, fn func(*bookingSession) error) (BookingSessionView, error) {
	return s.with(ctx, sessionID, func(sess *bookingSession) error {
		if sess.checkout == nil {
			return ErrBookingCheckoutNotStarted
		}
		return fn(sess)
	})
}

func (s *bookingSessionService) view(sess *bookingSession) BookingSessionView {
	form := sess.wizard.Form()
	if form.PaymentMethod == "" {
		form.TravelCost = sess.travelDefault
	}
	view := BookingSessionView{
		ID:              sess.id,
		Step:            sess.wizard.Step(),
		Items:           sess.cart.Items(),
		ItemCount:       sess.cart.ItemCount(),
		CartOpen:        sess.cart.IsOpen(),
		CartTotal:       sess.cart.TotalPrice(),
		TravelCost:      form.TravelCost,
		Pricing:         PriceSnapshot(SnapshotFromForm(form)),
		EmptyCartNotice: sess.wizard.EmptyCartNotice(),
		CanConfirm:      sess.wizard.CanConfirm(),
		StorePopupSeen:  sess.wizard.StorePopupSeen(),
		ExpiresAt:       sess.lastSeen.Add(s.ttl),
	}
	checkout := sess.checkout
	if checkout == nil {
		return view
	}
	view.CheckoutStage = checkout.Stage()
	view.Pricing = checkout.Breakdown()
	view.ContractID = checkout.ContractID()
	view.CalendarEventRef = checkout.CalendarEventRef()
	view.Notice = checkout.Notice()
	if window := checkout.Window(); window != nil {
		view.Payment = &PaymentWindowView{
			PreferenceID: window.Preference.ID,
			Provider:     window.Preference.Provider,
			RedirectURL:  window.Preference.RedirectURL,
			ExpiresAt:    window.Preference.ExpiresAt,
			Closed:       window.Closed(),
		}
	}
	if result := checkout.Result(); result != nil {
		view.PDFURL = result.Contract.PDFURL
		view.Warnings = append([]string(nil), result.Warnings...)
	}
	return view
}
