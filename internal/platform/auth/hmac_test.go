package auth

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testWebhookSecret = "whsec_test"

func newTestWebhookVerifier(now time.Time, metrics *recordingMetrics) *WebhookVerifier {
	opts := []WebhookOption{
		WithWebhookLogger(noopLogger{}),
		WithWebhookClock(func() time.Time { return now }),
	}
	if metrics != nil {
		opts = append(opts, WithWebhookMetrics(metrics))
	}
	return NewWebhookVerifier(testWebhookSecret, NewInMemoryNonceStore(), opts...)
}

func TestWebhookVerifier_AcceptsSignedPayloadOnce(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	metrics := &recordingMetrics{}
	verifier := newTestWebhookVerifier(now, metrics)
	verifier.nonces.(*InMemoryNonceStore).now = func() time.Time { return now }

	body := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	header := SignPayload(testWebhookSecret, now.Add(-time.Minute), body)

	calls := 0
	handler := verifier.RequireSignature()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r.Body); err != nil {
			t.Fatalf("read restored body: %v", err)
		}
		if !bytes.Equal(buf.Bytes(), body) {
			t.Fatalf("body not restored, got %q", buf.String())
		}
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewReader(body))
		req.Header.Set("Stripe-Signature", header)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send(); code != http.StatusUnauthorized {
		t.Fatalf("expected replay rejection, got %d", code)
	}
	if calls != 1 {
		t.Fatalf("expected handler once, got %d", calls)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.records) != 2 || !metrics.records[0].success || metrics.records[1].reason != "nonce_replay" {
		t.Fatalf("unexpected metrics %+v", metrics.records)
	}
}

func TestWebhookVerifier_Verify(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestWebhookVerifier(now, nil)
	body := []byte(`{"id":"evt_1"}`)

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{name: "valid", header: SignPayload(testWebhookSecret, now, body)},
		{name: "missing", header: "", want: ErrSignatureMissing},
		{name: "no v1", header: "t=1754049600,v0=abc", want: ErrSignatureMissing},
		{name: "stale", header: SignPayload(testWebhookSecret, now.Add(-10*time.Minute), body), want: ErrSignatureTimestamp},
		{name: "bad timestamp", header: "t=soon,v1=00", want: ErrSignatureTimestamp},
		{name: "wrong secret", header: SignPayload("other", now, body), want: ErrSignatureMismatch},
		{name: "second signature matches", header: "t=1754049600,v1=deadbeef," + strings.Split(SignPayload(testWebhookSecret, now, body), ",")[1]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := verifier.Verify(body, tc.header)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestWebhookVerifier_UnconfiguredSecret(t *testing.T) {
	verifier := NewWebhookVerifier("", nil, WithWebhookLogger(noopLogger{}))
	handler := verifier.RequireSignature()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
