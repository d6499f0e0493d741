package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/payments"
)

// CheckoutStage is a sub-state of the checkout orchestrator.
type CheckoutStage string

const (
	CheckoutStagePayment  CheckoutStage = "payment"
	CheckoutStageCalendar CheckoutStage = "calendar"
	CheckoutStageSuccess  CheckoutStage = "success"
)

const (
	defaultEventDuration = 2 * time.Hour
	// contractIDPrefix marks ids minted by checkout. They double as the
	// payment external reference.
	contractIDPrefix = "ctr_"
)

var (
	// ErrCheckoutInvalidInput indicates the booking cannot be checked out as submitted.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutWrongStage indicates the action does not apply to the current sub-state.
	ErrCheckoutWrongStage = errors.New("checkout: wrong stage")
	// ErrCheckoutPaymentFailed indicates the payment preference could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutCalendarUnauthenticated indicates the studio calendar token is missing or expired.
	ErrCheckoutCalendarUnauthenticated = errors.New("checkout: calendar not authenticated")
	// ErrCheckoutCalendarFailed indicates the calendar event could not be created.
	ErrCheckoutCalendarFailed = errors.New("checkout: calendar scheduling failed")
	// ErrCheckoutFinalizeFailed indicates the contract could not be persisted.
	ErrCheckoutFinalizeFailed = errors.New("checkout: finalize failed")
)

// CheckoutOrchestratorDeps wires shared collaborators. One orchestrator is
// created per booking attempt.
type CheckoutOrchestratorDeps struct {
	Payments        PreferenceCreator
	Calendar        CalendarScheduler
	Finalizer       ContractFinalizer
	PaymentsEnabled bool
	CalendarEnabled bool
	ReturnURLs      payments.ReturnURLs
	Location        *time.Location
	EventDuration   time.Duration
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
	IDGenerator     func() string
}

// CheckoutRequest is the frozen booking handed over by the wizard.
type CheckoutRequest struct {
	SessionID string
	UserID    string
	Form      BookingFormData
	Signature []byte
}

// PaymentWindow is the hosted payment page opened for the client.
type PaymentWindow struct {
	Preference payments.Preference
	closed     atomic.Bool
}

// Close records that the client closed the hosted payment page.
func (w *PaymentWindow) Close() { w.closed.Store(true) }

// Closed reports whether the hosted payment page was closed.
func (w *PaymentWindow) Closed() bool { return w.closed.Load() }

// CheckoutOrchestrator drives payment, calendar and success for one booking.
// It is not safe for concurrent use; the owning session serialises access.
type CheckoutOrchestrator struct {
	deps        CheckoutOrchestratorDeps
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	req         CheckoutRequest
	breakdown   PricingBreakdown
	contractID  string
	stage       CheckoutStage
	window      *PaymentWindow
	calendarRef string
	notice      string
	result      *FinalizeContractResult
}

// NewCheckoutOrchestrator prices the frozen form once and resolves the first
// stage. The contract id is reserved up front so it can serve as the payment
// external reference.
func NewCheckoutOrchestrator(deps CheckoutOrchestratorDeps, req CheckoutRequest) (*CheckoutOrchestrator, error) {
	if deps.Finalizer == nil {
		return nil, errors.New("checkout orchestrator: finalizer is required")
	}
	if deps.PaymentsEnabled && deps.Payments == nil {
		return nil, errors.New("checkout orchestrator: payments are enabled without a preference creator")
	}
	if len(req.Form.CartItems) == 0 && len(req.Form.StoreItems) == 0 {
		return nil, fmt.Errorf("%w: booking has no items", ErrCheckoutInvalidInput)
	}
	if !req.Form.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: payment method is required", ErrCheckoutInvalidInput)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return ulid.Make().String() }
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.EventDuration <= 0 {
		deps.EventDuration = defaultEventDuration
	}

	o := &CheckoutOrchestrator{
		deps:       deps,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
		req:        req,
		breakdown:  PriceSnapshot(SnapshotFromForm(req.Form)),
		contractID: contractIDPrefix + deps.IDGenerator(),
		stage:      CheckoutStagePayment,
	}
	if !deps.PaymentsEnabled {
		o.advancePastPayment()
	}
	return o, nil
}

// Stage returns the current sub-state.
func (o *CheckoutOrchestrator) Stage() CheckoutStage { return o.stage }

// Breakdown returns the pricing computed from the frozen form.
func (o *CheckoutOrchestrator) Breakdown() PricingBreakdown { return o.breakdown }

// ContractID is the id the contract will be persisted under.
func (o *CheckoutOrchestrator) ContractID() string { return o.contractID }

// Window returns the open hosted payment page, if any.
func (o *CheckoutOrchestrator) Window() *PaymentWindow { return o.window }

// CalendarEventRef returns the scheduled event reference, if any.
func (o *CheckoutOrchestrator) CalendarEventRef() string { return o.calendarRef }

// Notice returns the last user-visible failure message.
func (o *CheckoutOrchestrator) Notice() string { return o.notice }

// Result returns the finalization result once the contract exists.
func (o *CheckoutOrchestrator) Result() *FinalizeContractResult { return o.result }

// StartPayment creates the payment preference for credit and pix, or moves
// straight to the calendar for cash. Calling it again while the page is open
// returns the existing preference.
func (o *CheckoutOrchestrator) StartPayment(ctx context.Context) error {
	if o.stage != CheckoutStagePayment {
		return fmt.Errorf("%w: payment at %s", ErrCheckoutWrongStage, o.stage)
	}
	method := o.req.Form.PaymentMethod
	if !method.RequiresPreference() {
		o.notice = ""
		o.advancePastPayment()
		return nil
	}
	if o.window != nil {
		return nil
	}

	pref, err := o.deps.Payments.CreatePreference(ctx, o.preferenceRequest())
	if err != nil {
		o.notice = "Não foi possível iniciar o pagamento. Tente novamente."
		o.logger(ctx, "checkout.payment.preference_failed", map[string]any{
			"sessionId":  o.req.SessionID,
			"contractId": o.contractID,
			"method":     string(method),
			"error":      err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}
	o.notice = ""
	o.window = &PaymentWindow{Preference: pref}
	o.logger(ctx, "checkout.payment.preference_created", map[string]any{
		"sessionId":    o.req.SessionID,
		"contractId":   o.contractID,
		"preferenceId": pref.ID,
	})
	return nil
}

// Poll advances optimistically to the calendar once the payment page has
// been closed. Payment success is confirmed later by the webhook.
func (o *CheckoutOrchestrator) Poll() CheckoutStage {
	if o.stage == CheckoutStagePayment && o.window != nil && o.window.Closed() {
		o.advancePastPayment()
	}
	return o.stage
}

// ScheduleCalendar creates the calendar event for the primary service slot.
// Failures leave the stage unchanged; the client may retry or skip.
func (o *CheckoutOrchestrator) ScheduleCalendar(ctx context.Context) error {
	if o.Poll() != CheckoutStageCalendar {
		return fmt.Errorf("%w: calendar at %s", ErrCheckoutWrongStage, o.stage)
	}
	if o.deps.Calendar == nil || !o.deps.Calendar.IsAuthenticated(ctx) {
		o.notice = "Agenda não autenticada. Você pode pular esta etapa."
		return ErrCheckoutCalendarUnauthenticated
	}

	event, err := o.calendarEvent()
	if err != nil {
		o.notice = "Data do evento inválida. Você pode pular esta etapa."
		return err
	}
	ref, err := o.deps.Calendar.CreateEvent(ctx, event)
	if err != nil {
		o.notice = "Não foi possível agendar o evento. Tente novamente ou pule."
		o.logger(ctx, "checkout.calendar.create_failed", map[string]any{
			"sessionId":  o.req.SessionID,
			"contractId": o.contractID,
			"error":      err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrCheckoutCalendarFailed, err)
	}
	o.notice = ""
	o.calendarRef = ref
	o.stage = CheckoutStageSuccess
	return nil
}

// SkipCalendar advances to success without scheduling.
func (o *CheckoutOrchestrator) SkipCalendar() error {
	if o.Poll() != CheckoutStageCalendar {
		return fmt.Errorf("%w: skip calendar at %s", ErrCheckoutWrongStage, o.stage)
	}
	o.notice = ""
	o.stage = CheckoutStageSuccess
	return nil
}

// Complete finalizes the contract exactly once. Later calls return the first
// result without touching the finalizer.
func (o *CheckoutOrchestrator) Complete(ctx context.Context) (FinalizeContractResult, error) {
	if o.result != nil {
		return *o.result, nil
	}
	if o.stage != CheckoutStageSuccess {
		return FinalizeContractResult{}, fmt.Errorf("%w: complete at %s", ErrCheckoutWrongStage, o.stage)
	}

	cmd := FinalizeContractCommand{
		ContractID:       o.contractID,
		SessionID:        o.req.SessionID,
		UserID:           o.req.UserID,
		Form:             o.req.Form,
		Signature:        o.req.Signature,
		SignedAt:         o.now(),
		CalendarEventRef: o.calendarRef,
	}
	if o.window != nil {
		cmd.PaymentPreferenceID = o.window.Preference.ID
	}
	result, err := o.deps.Finalizer.Finalize(ctx, cmd)
	if err != nil {
		o.notice = "Não foi possível salvar o contrato. Tente novamente."
		return FinalizeContractResult{}, fmt.Errorf("%w: %v", ErrCheckoutFinalizeFailed, err)
	}
	o.notice = strings.Join(result.Warnings, " ")
	o.result = &result
	return result, nil
}

func (o *CheckoutOrchestrator) advancePastPayment() {
	if o.deps.CalendarEnabled && len(o.req.Form.CartItems) > 0 {
		o.stage = CheckoutStageCalendar
		return
	}
	o.stage = CheckoutStageSuccess
}

func (o *CheckoutOrchestrator) preferenceRequest() payments.PreferenceRequest {
	form := o.req.Form
	method := payments.MethodCard
	if form.PaymentMethod == domain.PaymentMethodPix {
		method = payments.MethodPix
	}
	return payments.PreferenceRequest{
		Method:   method,
		Currency: o.breakdown.Currency,
		Items:    preferenceItems(form, o.breakdown),
		Payer: payments.Payer{
			Name:  form.Client.Name,
			Email: form.Client.Email,
			Phone: form.Client.Phone,
		},
		ReturnURLs:        o.deps.ReturnURLs,
		ExternalReference: o.contractID,
		Metadata: map[string]string{
			"sessionId":     o.req.SessionID,
			"paymentMethod": string(form.PaymentMethod),
			"deposit":       fmt.Sprintf("%d", o.breakdown.Deposit),
		},
		IdempotencyKey: "pref_" + o.contractID,
	}
}

// preferenceItems lists the priced lines. When per-line rounding would make
// the items disagree with the total, a single summary line is sent instead.
func preferenceItems(form BookingFormData, breakdown PricingBreakdown) []payments.PreferenceItem {
	var items []payments.PreferenceItem
	var sum int64
	add := func(id, title string, unit int64, qty int) {
		if unit <= 0 || qty <= 0 {
			return
		}
		items = append(items, payments.PreferenceItem{
			ID: id, Title: title, Quantity: int64(qty), UnitAmount: unit, Currency: breakdown.Currency,
		})
		sum += unit * int64(qty)
	}
	for _, item := range form.CartItems {
		if EffectiveLineTotal(item, form.Coupons[item.ID]).IsZero() {
			continue
		}
		add(item.ID, item.Name, domain.ToMinor(item.UnitPrice), item.Quantity)
	}
	for _, item := range form.StoreItems {
		add(item.ID, item.Name, domain.ToMinor(item.UnitPrice), item.Quantity)
	}
	add("travel", "Deslocamento", domain.ToMinor(form.TravelCost), 1)

	if sum != breakdown.Total || len(items) == 0 {
		return []payments.PreferenceItem{{
			ID: "booking", Title: "Reserva de ensaio", Quantity: 1, UnitAmount: breakdown.Total, Currency: breakdown.Currency,
		}}
	}
	return items
}

func (o *CheckoutOrchestrator) calendarEvent() (CalendarEvent, error) {
	item, slot, ok := PrimarySlot(o.req.Form)
	if !ok {
		return CalendarEvent{}, fmt.Errorf("%w: no event date", ErrCheckoutInvalidInput)
	}
	clock := strings.TrimSpace(slot.Time)
	if clock == "" {
		clock = "09:00"
	}
	start, err := time.ParseInLocation(eventDateLayout+" "+eventTimeLayout, strings.TrimSpace(slot.Date)+" "+clock, o.deps.Location)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("%w: event date: %v", ErrCheckoutInvalidInput, err)
	}
	client := o.req.Form.Client
	var attendees []string
	if email := strings.TrimSpace(client.Email); email != "" {
		attendees = append(attendees, email)
	}
	return CalendarEvent{
		Summary: fmt.Sprintf("%s - %s", item.Name, client.Name),
		Description: fmt.Sprintf("Contrato %s\nCliente: %s\nTelefone: %s\nTotal: %s",
			o.contractID, client.Name, client.Phone, domain.FormatBRLMinor(o.breakdown.Total)),
		Start:     start,
		End:       start.Add(o.deps.EventDuration),
		Location:  slot.Location,
		Attendees: attendees,
	}, nil
}
