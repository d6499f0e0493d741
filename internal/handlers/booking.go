package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/platform/auth"
	"github.com/lumen-studio/booking/internal/platform/httpx"
	"github.com/lumen-studio/booking/internal/platform/idempotency"
	"github.com/lumen-studio/booking/internal/platform/observability"
	"github.com/lumen-studio/booking/internal/platform/requestctx"
	"github.com/lumen-studio/booking/internal/platform/textutil"
	"github.com/lumen-studio/booking/internal/services"
)

const legacyCouponFieldPrefix = "discountCoupon_"

// BookingHandlers exposes the cart, wizard and checkout of a booking session.
type BookingHandlers struct {
	authn    *auth.Authenticator
	sessions services.BookingSessionService
	idem     *idempotency.Store
	idemOpts []idempotency.MiddlewareOption
	limiter  sessionRateLimiter
}

// BookingOption customises BookingHandlers.
type BookingOption func(*BookingHandlers)

// WithBookingIdempotency replays POST responses for repeated Idempotency-Key headers.
func WithBookingIdempotency(store *idempotency.Store, opts ...idempotency.MiddlewareOption) BookingOption {
	return func(h *BookingHandlers) {
		h.idem = store
		h.idemOpts = append(h.idemOpts, opts...)
	}
}

// WithSessionCreateLimit caps session creation per client address.
func WithSessionCreateLimit(limit int, window time.Duration, clock func() time.Time) BookingOption {
	return func(h *BookingHandlers) {
		h.limiter = newClientRateLimiter(limit, window, clock)
	}
}

// NewBookingHandlers constructs the booking handlers. The authenticator is
// optional; signed-in payers get their uid attached to the contract.
func NewBookingHandlers(authn *auth.Authenticator, sessions services.BookingSessionService, opts ...BookingOption) *BookingHandlers {
	h := &BookingHandlers{authn: authn, sessions: sessions}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /booking endpoints.
func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.sessions == nil {
		registerNotImplemented(r, "booking")
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	idem := idempotency.Middleware(h.idem, h.idemOpts...)

	r.With(observability.TrackContext, idem).Post("/sessions", h.createSession)
	r.Route("/sessions/{sessionID}", func(s chi.Router) {
		s.Use(withSessionContext, observability.TrackContext, idem)

		s.Get("/", h.viewSession)

		s.Post("/cart/items", h.addCartItem)
		s.Put("/cart/items/{itemID}", h.setCartItemQuantity)
		s.Delete("/cart/items/{itemID}", h.removeCartItem)
		s.Delete("/cart", h.action(services.BookingSessionService.ClearCart))

		s.Post("/wizard:start", h.action(services.BookingSessionService.StartWizard))
		s.Post("/upsell:accept", h.acceptUpsell)
		s.Post("/upsell:decline", h.action(services.BookingSessionService.DeclineUpsell))
		s.Post("/contract:accept", h.action(services.BookingSessionService.AcceptContract))
		s.Post("/contract:reject", h.action(services.BookingSessionService.RejectContract))
		s.Post("/form:submit", h.submitForm)
		s.Post("/form:back", h.action(services.BookingSessionService.BackFromForm))
		s.Post("/preview:back", h.action(services.BookingSessionService.BackFromPreview))
		s.Post("/preview:sign", h.sign)
		s.Post("/preview:confirm", h.action(services.BookingSessionService.Confirm))

		s.Post("/checkout/payment", h.action(services.BookingSessionService.StartPayment))
		s.Post("/checkout/payment:window-closed", h.action(services.BookingSessionService.PaymentWindowClosed))
		s.Post("/checkout/calendar", h.action(services.BookingSessionService.ScheduleCalendar))
		s.Post("/checkout/calendar:skip", h.action(services.BookingSessionService.SkipCalendar))
		s.Post("/checkout:complete", h.action(services.BookingSessionService.Complete))
	})
}

func withSessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "sessionID"))
		ctx := requestctx.WithSessionID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionIDFrom(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "sessionID"))
}

type createSessionRequest struct {
	StorePopupSeen bool `json:"storePopupSeen"`
}

func (h *BookingHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.limiter != nil {
		if ok, retry := h.limiter.Allow(clientKey(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many booking sessions, try again later", http.StatusTooManyRequests))
			return
		}
	}

	var req createSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	view, err := h.sessions.Create(ctx, services.CreateBookingSessionCommand{
		StorePopupSeen: req.StorePopupSeen,
		UserID:         auth.UserID(ctx),
	})
	if err != nil {
		writeBookingError(ctx, w, view, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+view.ID)
	httpx.WriteJSON(w, http.StatusCreated, newBookingSessionPayload(view))
}

func (h *BookingHandlers) viewSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.View(r.Context(), sessionIDFrom(r))
	h.respond(w, r, view, err)
}

// action adapts a body-less session operation to an HTTP handler.
func (h *BookingHandlers) action(op func(services.BookingSessionService, context.Context, string) (services.BookingSessionView, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := op(h.sessions, r.Context(), sessionIDFrom(r))
		h.respond(w, r, view, err)
	}
}

func (h *BookingHandlers) respond(w http.ResponseWriter, r *http.Request, view services.BookingSessionView, err error) {
	if err != nil {
		writeBookingError(r.Context(), w, view, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newBookingSessionPayload(view))
}

type addCartItemRequest struct {
	ItemID   string `json:"itemId"`
	Category string `json:"category"`
}

func (h *BookingHandlers) addCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	view, err := h.sessions.AddCartItem(ctx, sessionIDFrom(r), services.AddCartItemCommand{
		ItemID:   strings.TrimSpace(req.ItemID),
		Category: domain.Category(strings.ToLower(strings.TrimSpace(req.Category))),
	})
	h.respond(w, r, view, err)
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *BookingHandlers) setCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setQuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	view, err := h.sessions.SetCartItemQuantity(ctx, sessionIDFrom(r), chi.URLParam(r, "itemID"), *req.Quantity)
	h.respond(w, r, view, err)
}

func (h *BookingHandlers) removeCartItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.RemoveCartItem(r.Context(), sessionIDFrom(r), chi.URLParam(r, "itemID"))
	h.respond(w, r, view, err)
}

type acceptUpsellRequest struct {
	ProductIDs []string `json:"productIds"`
}

func (h *BookingHandlers) acceptUpsell(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req acceptUpsellRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	ids := make([]string, 0, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	view, err := h.sessions.AcceptUpsell(ctx, sessionIDFrom(r), ids)
	h.respond(w, r, view, err)
}

type eventSlotPayload struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Location string `json:"location"`
}

// submitFormRequest accepts slots and coupons keyed by item id, plus the
// flat positional fields older clients post (date_0, discountCoupon_0).
type submitFormRequest struct {
	Name            string                      `json:"name"`
	Email           string                      `json:"email"`
	Phone           string                      `json:"phone"`
	Document        string                      `json:"document"`
	Address         string                      `json:"address"`
	CreateAccount   bool                        `json:"createAccount"`
	Password        string                      `json:"password"`
	PasswordConfirm string                      `json:"passwordConfirm"`
	Slots           map[string]eventSlotPayload `json:"slots"`
	Coupons         map[string]string           `json:"coupons"`
	Fields          map[string]string           `json:"fields"`
	TravelCost      json.RawMessage             `json:"travelCost"`
	PaymentMethod   string                      `json:"paymentMethod"`
	Message         string                      `json:"message"`
}

func (req submitFormRequest) toCommand() services.SubmitBookingFormCommand {
	cmd := services.SubmitBookingFormCommand{
		Client: domain.ClientInfo{
			Name:     strings.TrimSpace(req.Name),
			Email:    strings.TrimSpace(req.Email),
			Phone:    strings.TrimSpace(req.Phone),
			Document: strings.TrimSpace(req.Document),
			Address:  strings.TrimSpace(req.Address),
		},
		CreateAccount:   req.CreateAccount,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		TravelCost:      rawAmount(req.TravelCost),
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Message:         req.Message,
	}
	if len(req.Slots) > 0 {
		cmd.Slots = make(map[string]domain.EventSlot, len(req.Slots))
		for id, slot := range req.Slots {
			if id = strings.TrimSpace(id); id == "" {
				continue
			}
			cmd.Slots[id] = domain.EventSlot{
				Date:     strings.TrimSpace(slot.Date),
				Time:     strings.TrimSpace(slot.Time),
				Location: strings.TrimSpace(slot.Location),
			}
		}
	}
	if coupons := textutil.CleanFields(req.Coupons); coupons != nil {
		cmd.Coupons = domain.CouponSelection(coupons)
	}
	cmd.RawCoupons, cmd.RawSlots = textutil.PartitionFields(req.Fields, legacyCouponFieldPrefix)
	return cmd
}

// rawAmount keeps the travel cost as typed so the price parser sees both
// "R$ 50,00" strings and bare JSON numbers.
func rawAmount(raw json.RawMessage) *string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &text
	}
	return &trimmed
}

func (h *BookingHandlers) submitForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitFormRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	view, err := h.sessions.SubmitForm(ctx, sessionIDFrom(r), req.toCommand())
	h.respond(w, r, view, err)
}

type signRequest struct {
	Signature string `json:"signature"`
}

func (h *BookingHandlers) sign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req signRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	view, err := h.sessions.Sign(ctx, sessionIDFrom(r), req.Signature)
	h.respond(w, r, view, err)
}

type bookingSessionPayload struct {
	ID               string                `json:"id"`
	Step             string                `json:"step"`
	CheckoutStage    string                `json:"checkoutStage,omitempty"`
	Items            []lineItemPayload     `json:"items"`
	ItemCount        int                   `json:"itemCount"`
	CartOpen         bool                  `json:"cartOpen"`
	CartTotal        string                `json:"cartTotal"`
	Pricing          pricingPayload        `json:"pricing"`
	TravelCost       string                `json:"travelCost"`
	EmptyCartNotice  bool                  `json:"emptyCartNotice"`
	CanConfirm       bool                  `json:"canConfirm"`
	StorePopupSeen   bool                  `json:"storePopupSeen"`
	Notice           string                `json:"notice,omitempty"`
	Payment          *paymentWindowPayload `json:"payment,omitempty"`
	ContractID       string                `json:"contractId,omitempty"`
	PDFURL           string                `json:"pdfUrl,omitempty"`
	CalendarEventRef string                `json:"calendarEventRef,omitempty"`
	Warnings         []string              `json:"warnings,omitempty"`
	ExpiresAt        string                `json:"expiresAt,omitempty"`
}

type lineItemPayload struct {
	ID            string `json:"id"`
	Category      string `json:"category"`
	Name          string `json:"name"`
	DurationLabel string `json:"durationLabel,omitempty"`
	UnitPrice     string `json:"unitPrice"`
	Quantity      int    `json:"quantity"`
	ImageRef      string `json:"imageRef,omitempty"`
}

// pricingPayload carries centavos plus display labels.
type pricingPayload struct {
	Currency        string `json:"currency"`
	Subtotal        int64  `json:"subtotal"`
	CouponDiscount  int64  `json:"couponDiscount"`
	PaymentDiscount int64  `json:"paymentDiscount"`
	Total           int64  `json:"total"`
	DepositServices int64  `json:"depositServices"`
	DepositStore    int64  `json:"depositStore"`
	Deposit         int64  `json:"deposit"`
	Remaining       int64  `json:"remaining"`
	StoreOnly       bool   `json:"storeOnly"`
	TotalLabel      string `json:"totalLabel"`
	DepositLabel    string `json:"depositLabel"`
}

type paymentWindowPayload struct {
	PreferenceID string `json:"preferenceId"`
	Provider     string `json:"provider"`
	RedirectURL  string `json:"redirectUrl"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	Closed       bool   `json:"closed"`
}

func newBookingSessionPayload(view services.BookingSessionView) bookingSessionPayload {
	payload := bookingSessionPayload{
		ID:               view.ID,
		Step:             string(view.Step),
		CheckoutStage:    string(view.CheckoutStage),
		Items:            make([]lineItemPayload, 0, len(view.Items)),
		ItemCount:        view.ItemCount,
		CartOpen:         view.CartOpen,
		CartTotal:        view.CartTotal.StringFixed(2),
		Pricing:          newPricingPayload(view.Pricing),
		TravelCost:       view.TravelCost.StringFixed(2),
		EmptyCartNotice:  view.EmptyCartNotice,
		CanConfirm:       view.CanConfirm,
		StorePopupSeen:   view.StorePopupSeen,
		Notice:           view.Notice,
		ContractID:       view.ContractID,
		PDFURL:           view.PDFURL,
		CalendarEventRef: view.CalendarEventRef,
		Warnings:         view.Warnings,
		ExpiresAt:        formatTime(view.ExpiresAt),
	}
	for _, item := range view.Items {
		payload.Items = append(payload.Items, lineItemPayload{
			ID:            item.ID,
			Category:      string(item.Category),
			Name:          item.Name,
			DurationLabel: item.DurationLabel,
			UnitPrice:     item.UnitPrice.StringFixed(2),
			Quantity:      item.Quantity,
			ImageRef:      item.ImageRef,
		})
	}
	if view.Payment != nil {
		payload.Payment = &paymentWindowPayload{
			PreferenceID: view.Payment.PreferenceID,
			Provider:     view.Payment.Provider,
			RedirectURL:  view.Payment.RedirectURL,
			ExpiresAt:    formatTime(view.Payment.ExpiresAt),
			Closed:       view.Payment.Closed,
		}
	}
	return payload
}

func newPricingPayload(p services.PricingBreakdown) pricingPayload {
	return pricingPayload{
		Currency:        p.Currency,
		Subtotal:        p.Subtotal,
		CouponDiscount:  p.CouponDiscount,
		PaymentDiscount: p.PaymentDiscount,
		Total:           p.Total,
		DepositServices: p.DepositServices,
		DepositStore:    p.DepositStore,
		Deposit:         p.Deposit,
		Remaining:       p.Remaining,
		StoreOnly:       p.StoreOnly,
		TotalLabel:      domain.FormatBRLMinor(p.Total),
		DepositLabel:    domain.FormatBRLMinor(p.Deposit),
	}
}

// writeBookingError maps session errors to responses. The unchanged session
// view, when there is one, rides along in the details.
func writeBookingError(ctx context.Context, w http.ResponseWriter, view services.BookingSessionView, err error) {
	if err == nil {
		return
	}
	var apiErr httpx.Error
	var formErr *services.FormValidationError
	switch {
	case errors.As(err, &formErr):
		apiErr = httpx.NewError("form_invalid", "some booking fields need attention", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": formErr.Fields})
	case errors.Is(err, services.ErrBookingSessionNotFound):
		apiErr = httpx.NewError("booking_session_not_found", "booking session not found or expired", http.StatusNotFound)
	case errors.Is(err, services.ErrCatalogItemNotFound):
		apiErr = httpx.NewError("item_not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrBookingSessionInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrCatalogInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidInput):
		apiErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrBookingSessionLimit):
		apiErr = httpx.NewError("booking_capacity_reached", "booking is temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, services.ErrWizardEmptyCart):
		apiErr = httpx.NewError("cart_empty", "add a package or product before continuing", http.StatusConflict)
	case errors.Is(err, services.ErrWizardSignatureRequired):
		apiErr = httpx.NewError("signature_required", "sign the contract before confirming", http.StatusConflict)
	case errors.Is(err, services.ErrWizardBusy):
		apiErr = httpx.NewError("operation_in_progress", "another step is still running", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutCalendarUnauthenticated):
		apiErr = httpx.NewError("calendar_not_authenticated", "studio calendar is not connected", http.StatusConflict)
	case errors.Is(err, services.ErrWizardInvalidTransition),
		errors.Is(err, services.ErrCheckoutWrongStage),
		errors.Is(err, services.ErrBookingCheckoutNotStarted):
		apiErr = httpx.NewError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		apiErr = httpx.NewError("payment_unavailable", "payment could not be started", http.StatusBadGateway)
	case errors.Is(err, services.ErrCheckoutCalendarFailed):
		apiErr = httpx.NewError("calendar_unavailable", "calendar event could not be created", http.StatusBadGateway)
	case errors.Is(err, services.ErrCheckoutFinalizeFailed):
		apiErr = httpx.NewError("finalize_failed", "contract could not be saved", http.StatusBadGateway)
	default:
		apiErr = httpx.NewError("booking_error", "failed to process booking request", http.StatusInternalServerError)
	}

	if view.ID != "" {
		details := map[string]any{"session": newBookingSessionPayload(view)}
		for key, value := range apiErr.Details {
			details[key] = value
		}
		apiErr = apiErr.WithDetails(details)
	}
	httpx.WriteError(ctx, w, apiErr)
}
