package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumen-studio/booking/internal/platform/httpx"
)

// SessionSweeper drops idle booking sessions.
type SessionSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// IdempotencyCleaner drops expired idempotency records.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) int
}

// InternalHandlers serves scheduler-triggered maintenance endpoints. OIDC
// verification is applied as group middleware.
type InternalHandlers struct {
	sessions SessionSweeper
	idem     IdempotencyCleaner
	clock    func() time.Time
}

// NewInternalHandlers constructs the maintenance handlers; idem may be nil.
func NewInternalHandlers(sessions SessionSweeper, idem IdempotencyCleaner, clock func() time.Time) *InternalHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &InternalHandlers{sessions: sessions, idem: idem, clock: clock}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/booking-sessions:sweep", h.sweepSessions)
}

type sweepResponse struct {
	SessionsRemoved    int `json:"sessionsRemoved"`
	IdempotencyRemoved int `json:"idempotencyRemoved"`
}

func (h *InternalHandlers) sweepSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweeper_unavailable", "session sweeper not configured", http.StatusServiceUnavailable))
		return
	}
	removed, err := h.sessions.Sweep(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweep_failed", "failed to sweep booking sessions", http.StatusInternalServerError))
		return
	}
	resp := sweepResponse{SessionsRemoved: removed}
	if h.idem != nil {
		resp.IdempotencyRemoved = h.idem.CleanupExpired(ctx, h.clock())
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
