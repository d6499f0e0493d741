package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/platform/auth"
	"github.com/lumen-studio/booking/internal/platform/idempotency"
	"github.com/lumen-studio/booking/internal/services"
)

type tokenTable map[string]*firebaseauth.Token

func (t tokenTable) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	token, ok := t[idToken]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return token, nil
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenTable{
		"customer": {UID: "user-1", Claims: map[string]any{"email": "maria@example.com"}},
		"staff":    {UID: "staff-1", Claims: map[string]any{"role": "staff"}},
	})
}

// stubBookingSessions records calls; unstubbed methods panic via the nil embed.
type stubBookingSessions struct {
	services.BookingSessionService

	view    services.BookingSessionView
	err     error
	calls   map[string]int
	create  services.CreateBookingSessionCommand
	add     services.AddCartItemCommand
	form    services.SubmitBookingFormCommand
	upsell  []string
	itemID  string
	qty     int
	session string
}

func newStubBookingSessions() *stubBookingSessions {
	return &stubBookingSessions{
		calls: map[string]int{},
		view: services.BookingSessionView{
			ID:        "sess-1",
			Step:      services.WizardStepIdle,
			CartTotal: decimal.NewFromInt(400),
			Items: []services.LineItem{{
				ID:        "portrait-essential",
				Category:  domain.CategoryPortrait,
				Name:      "Ensaio Essencial",
				UnitPrice: decimal.NewFromInt(400),
				Quantity:  1,
			}},
			ItemCount: 1,
			Pricing:   services.PricingBreakdown{Currency: domain.CurrencyBRL, Subtotal: 40000, Total: 40000, Deposit: 20000, Remaining: 20000},
		},
	}
}

func (s *stubBookingSessions) record(name, sessionID string) (services.BookingSessionView, error) {
	s.calls[name]++
	s.session = sessionID
	return s.view, s.err
}

func (s *stubBookingSessions) Create(_ context.Context, cmd services.CreateBookingSessionCommand) (services.BookingSessionView, error) {
	s.create = cmd
	return s.record("Create", "")
}

func (s *stubBookingSessions) View(_ context.Context, id string) (services.BookingSessionView, error) {
	return s.record("View", id)
}

func (s *stubBookingSessions) AddCartItem(_ context.Context, id string, cmd services.AddCartItemCommand) (services.BookingSessionView, error) {
	s.add = cmd
	return s.record("AddCartItem", id)
}

func (s *stubBookingSessions) SetCartItemQuantity(_ context.Context, id, itemID string, qty int) (services.BookingSessionView, error) {
	s.itemID, s.qty = itemID, qty
	return s.record("SetCartItemQuantity", id)
}

func (s *stubBookingSessions) AcceptUpsell(_ context.Context, id string, productIDs []string) (services.BookingSessionView, error) {
	s.upsell = productIDs
	return s.record("AcceptUpsell", id)
}

func (s *stubBookingSessions) SubmitForm(_ context.Context, id string, cmd services.SubmitBookingFormCommand) (services.BookingSessionView, error) {
	s.form = cmd
	return s.record("SubmitForm", id)
}

func (s *stubBookingSessions) Confirm(_ context.Context, id string) (services.BookingSessionView, error) {
	return s.record("Confirm", id)
}

func (s *stubBookingSessions) StartWizard(_ context.Context, id string) (services.BookingSessionView, error) {
	return s.record("StartWizard", id)
}

func newBookingRouter(sessions services.BookingSessionService, opts ...BookingOption) chi.Router {
	h := NewBookingHandlers(testAuthenticator(), sessions, opts...)
	return NewRouter(WithBookingRoutes(h.Routes))
}

func doJSON(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestBookingHandlers_CreateSession(t *testing.T) {
	sessions := newStubBookingSessions()
	router := newBookingRouter(sessions)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions", `{"storePopupSeen":true}`, map[string]string{
		"Authorization": "Bearer customer",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "/api/v1/booking/sessions/sess-1" {
		t.Fatalf("unexpected location %q", got)
	}
	want := services.CreateBookingSessionCommand{StorePopupSeen: true, UserID: "user-1"}
	if diff := cmp.Diff(want, sessions.create); diff != "" {
		t.Fatalf("unexpected command (-want +got):\n%s", diff)
	}

	body := decodeBody[bookingSessionPayload](t, rr)
	if body.ID != "sess-1" || body.CartTotal != "400.00" || body.Pricing.Deposit != 20000 {
		t.Fatalf("unexpected payload %+v", body)
	}
	if body.Pricing.TotalLabel != domain.FormatBRLMinor(40000) {
		t.Fatalf("unexpected total label %q", body.Pricing.TotalLabel)
	}
}

func TestBookingHandlers_AnonymousAndBadToken(t *testing.T) {
	sessions := newStubBookingSessions()
	router := newBookingRouter(sessions)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions", "", nil)
	if rr.Code != http.StatusCreated || sessions.create.UserID != "" {
		t.Fatalf("anonymous create must succeed without uid, got %d %+v", rr.Code, sessions.create)
	}

	rr = doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions", "", map[string]string{"Authorization": "Bearer forged"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rr.Code)
	}
}

func TestBookingHandlers_CartAndUpsellRequests(t *testing.T) {
	sessions := newStubBookingSessions()
	router := newBookingRouter(sessions)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-1/cart/items", `{"itemId":" portrait-essential ","category":"Portrait"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if sessions.session != "sess-1" || sessions.add != (services.AddCartItemCommand{ItemID: "portrait-essential", Category: domain.CategoryPortrait}) {
		t.Fatalf("unexpected add %+v for %s", sessions.add, sessions.session)
	}

	rr = doJSON(t, router, http.MethodPut, "/api/v1/booking/sessions/sess-1/cart/items/prints-10", `{"quantity":3}`, nil)
	if rr.Code != http.StatusOK || sessions.itemID != "prints-10" || sessions.qty != 3 {
		t.Fatalf("unexpected quantity update %d %s %d", rr.Code, sessions.itemID, sessions.qty)
	}

	rr = doJSON(t, router, http.MethodPut, "/api/v1/booking/sessions/sess-1/cart/items/prints-10", `{}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing quantity must be rejected, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-1/upsell:accept", `{"productIds":["prints-10"," ",""]}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if diff := cmp.Diff([]string{"prints-10"}, sessions.upsell); diff != "" {
		t.Fatalf("unexpected upsell ids (-want +got):\n%s", diff)
	}

	rr = doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-1/cart/items", `{"itemId":"x","unknown":true}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields must be rejected, got %d", rr.Code)
	}
}

func TestBookingHandlers_SubmitFormMapsLegacyFields(t *testing.T) {
	sessions := newStubBookingSessions()
	router := newBookingRouter(sessions)

	body := `{
		"name": " Maria Souza ",
		"email": "maria@example.com",
		"phone": "(11) 98765-4321",
		"paymentMethod": "PIX",
		"travelCost": 50,
		"coupons": {" portrait-prewedding-basic ": " FREE "},
		"fields": {"date_0": "2025-09-20", "time_0": " 15:00 ", "discountCoupon_1": "FREE"},
		"slots": {"events-wedding": {"date": "2025-10-01", "location": " Igreja "}}
	}`
	rr := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-1/form:submit", body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	got := sessions.form
	if got.Client.Name != "Maria Souza" || got.PaymentMethod != domain.PaymentMethodPix {
		t.Fatalf("unexpected client or method %+v", got)
	}
	if got.TravelCost == nil || *got.TravelCost != "50" {
		t.Fatalf("expected raw travel cost 50, got %v", got.TravelCost)
	}
	if diff := cmp.Diff(domain.CouponSelection{"portrait-prewedding-basic": "FREE"}, got.Coupons); diff != "" {
		t.Fatalf("unexpected coupons (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"discountCoupon_1": "FREE"}, got.RawCoupons); diff != "" {
		t.Fatalf("unexpected raw coupons (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"date_0": "2025-09-20", "time_0": "15:00"}, got.RawSlots); diff != "" {
		t.Fatalf("unexpected raw slots (-want +got):\n%s", diff)
	}
	if slot := got.Slots["events-wedding"]; slot.Location != "Igreja" || slot.Date != "2025-10-01" {
		t.Fatalf("unexpected slot %+v", slot)
	}
}

func TestRawAmount(t *testing.T) {
	cases := map[string]*string{
		``:            nil,
		`null`:        nil,
		`"R$ 50,00"`:  ptr("R$ 50,00"),
		`1234.5`:      ptr("1234.5"),
		` "1.234,56"`: ptr("1.234,56"),
	}
	for raw, want := range cases {
		got := rawAmount(json.RawMessage(raw))
		if (got == nil) != (want == nil) || (got != nil && *got != *want) {
			t.Fatalf("rawAmount(%q) = %v, want %v", raw, got, want)
		}
	}
}

func ptr(s string) *string { return &s }

func TestBookingHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		view        services.BookingSessionView
		status      int
		code        string
		wantSession bool
	}{
		{name: "not found", err: services.ErrBookingSessionNotFound, status: http.StatusNotFound, code: "booking_session_not_found"},
		{name: "signature", err: services.ErrWizardSignatureRequired, view: services.BookingSessionView{ID: "sess-1", Step: services.WizardStepPreview}, status: http.StatusConflict, code: "signature_required", wantSession: true},
		{name: "transition", err: fmt.Errorf("%w: not in form", services.ErrWizardInvalidTransition), view: services.BookingSessionView{ID: "sess-1"}, status: http.StatusConflict, code: "invalid_transition", wantSession: true},
		{name: "payment", err: fmt.Errorf("%w: provider down", services.ErrCheckoutPaymentFailed), view: services.BookingSessionView{ID: "sess-1", Notice: "tente novamente"}, status: http.StatusBadGateway, code: "payment_unavailable", wantSession: true},
		{name: "capacity", err: services.ErrBookingSessionLimit, status: http.StatusServiceUnavailable, code: "booking_capacity_reached"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "booking_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := newStubBookingSessions()
			sessions.view, sessions.err = tc.view, tc.err
			router := newBookingRouter(sessions)

			rr := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-1/preview:confirm", "", nil)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody[map[string]any](t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			details, _ := body["details"].(map[string]any)
			if _, ok := details["session"]; ok != tc.wantSession {
				t.Fatalf("session detail presence = %v, want %v", ok, tc.wantSession)
			}
		})
	}
}

func TestBookingHandlers_FormValidationDetails(t *testing.T) {
	sessions := newStubBookingSessions()
	sessions.view = services.BookingSessionView{ID: "sess-1", Step: services.WizardStepForm}
	sessions.err = &services.FormValidationError{Fields: map[string]string{"email": "email is invalid"}}
	router := newBookingRouter(sessions)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-1/form:submit", `{"email":"nope"}`, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	body := decodeBody[struct {
		Details struct {
			Fields  map[string]string     `json:"fields"`
			Session bookingSessionPayload `json:"session"`
		} `json:"details"`
	}](t, rr)
	if body.Details.Fields["email"] != "email is invalid" || body.Details.Session.Step != string(services.WizardStepForm) {
		t.Fatalf("unexpected details %+v", body.Details)
	}
}

func TestBookingHandlers_IdempotentConfirm(t *testing.T) {
	sessions := newStubBookingSessions()
	sessions.view.ContractID = "ctr_1"
	router := newBookingRouter(sessions, WithBookingIdempotency(idempotency.NewStore()))

	headers := map[string]string{"Idempotency-Key": "confirm-1"}
	first := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-1/preview:confirm", "", headers)
	second := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-1/preview:confirm", "", headers)

	if sessions.calls["Confirm"] != 1 {
		t.Fatalf("expected confirm once, got %d", sessions.calls["Confirm"])
	}
	if second.Code != first.Code || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed response, got %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header")
	}

	doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions/sess-2/preview:confirm", "", headers)
	if sessions.calls["Confirm"] != 2 {
		t.Fatalf("keys must be scoped per session")
	}
}

func TestBookingHandlers_SessionCreateRateLimit(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	sessions := newStubBookingSessions()
	router := newBookingRouter(sessions, WithSessionCreateLimit(1, time.Minute, func() time.Time { return now }))

	if rr := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions", "", nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected first create to pass, got %d", rr.Code)
	}
	rr := doJSON(t, router, http.MethodPost, "/api/v1/booking/sessions", "", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}
	if sessions.calls["Create"] != 1 {
		t.Fatalf("limited request must not reach the service")
	}
}

func TestClientRateLimiter(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := newClientRateLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("10.0.0.1"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	if ok, retry := limiter.Allow("10.0.0.1"); ok || retry != 30*time.Second {
		t.Fatalf("expected block until the next token, got %v %s", ok, retry)
	}
	if ok, _ := limiter.Allow("10.0.0.2"); !ok {
		t.Fatalf("other clients are independent")
	}
	now = now.Add(30 * time.Second)
	if ok, _ := limiter.Allow("10.0.0.1"); !ok {
		t.Fatalf("refilled token should allow again")
	}
	if ok, _ := limiter.Allow("10.0.0.1"); ok {
		t.Fatalf("only one token refills per interval")
	}
	if newClientRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("zero limit disables limiting")
	}
}
