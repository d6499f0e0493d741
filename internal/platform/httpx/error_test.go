package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-cmp/cmp"

	"github.com/lumen-studio/booking/internal/platform/requestctx"
)

func TestWriteError_Envelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	ctx = context.WithValue(ctx, middleware.RequestIDKey, "req-42")
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("cart_empty", "Carrinho\nvazio", http.StatusConflict).
		WithDetails(map[string]any{"step": "preview"}))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]any{
		"error":     "cart_empty",
		"message":   "Carrinho vazio",
		"status":    float64(http.StatusConflict),
		"requestId": "req-42",
		"traceId":   "abc123",
		"details":   map[string]any{"step": "preview"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteError_OmitsEmptyCorrelation(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("booking_error", "failed", 0))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, key := range []string{"requestId", "traceId", "details"} {
		if strings.Contains(body, key) {
			t.Fatalf("expected %s to be omitted: %s", key, body)
		}
	}
}

func TestWithDetails_Copies(t *testing.T) {
	details := map[string]any{"field": "email"}
	apiErr := NewError("form_invalid", "check the form", http.StatusUnprocessableEntity).WithDetails(details)
	details["field"] = "phone"
	if apiErr.Details["field"] != "email" {
		t.Fatalf("details must not alias the caller map")
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		ItemID string `json:"itemId"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"itemId":"usb-box"}`))
	if err := DecodeJSON(req, &dst); err != nil || dst.ItemID != "usb-box" {
		t.Fatalf("DecodeJSON = %v, %+v", err, dst)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(req, &dst); err != nil {
		t.Fatalf("empty body should be accepted: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"item":"x"}`))
	if err := DecodeJSON(req, &dst); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
