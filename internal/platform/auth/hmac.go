package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultWebhookSignatureHeader = "Stripe-Signature"
	defaultWebhookTolerance       = 5 * time.Minute
	maxWebhookBodyBytes           = 1 << 20

	webhookNonceScope = "payment-webhook"
)

var (
	// ErrSignatureMissing indicates the signature header was absent or had no v1 entries.
	ErrSignatureMissing = errors.New("auth: webhook signature missing")
	// ErrSignatureTimestamp indicates the signed timestamp is malformed or outside the tolerance.
	ErrSignatureTimestamp = errors.New("auth: webhook signature timestamp invalid")
	// ErrSignatureMismatch indicates no v1 signature matched the payload.
	ErrSignatureMismatch = errors.New("auth: webhook signature mismatch")
)

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen within the scope. The
	// boolean is false when the nonce already existed.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore keeps nonces in process memory.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time), now: time.Now}
}

// UseNonce records the nonce until the provided expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}
	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// WebhookVerifier checks payment provider signatures of the form
// "t=<unix>,v1=<hex>" computed as HMAC-SHA256 over "<t>.<body>".
type WebhookVerifier struct {
	secret    []byte
	header    string
	tolerance time.Duration
	nonces    NonceStore

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// WebhookOption customises the verifier.
type WebhookOption func(*WebhookVerifier)

// WithWebhookHeader overrides the header carrying the signature.
func WithWebhookHeader(header string) WebhookOption {
	return func(v *WebhookVerifier) {
		if header = strings.TrimSpace(header); header != "" {
			v.header = header
		}
	}
}

// WithWebhookTolerance overrides the accepted clock skew of the signed timestamp.
func WithWebhookTolerance(d time.Duration) WebhookOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// WithWebhookLogger overrides the verifier logger.
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithWebhookMetrics sets the metrics recorder.
func WithWebhookMetrics(metrics MetricsRecorder) WebhookOption {
	return func(v *WebhookVerifier) {
		v.metrics = metrics
	}
}

// WithWebhookClock injects a custom clock.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewWebhookVerifier builds a verifier for the shared endpoint secret.
func NewWebhookVerifier(secret string, nonces NonceStore, opts ...WebhookOption) *WebhookVerifier {
	v := &WebhookVerifier{
		secret:    []byte(strings.TrimSpace(secret)),
		header:    defaultWebhookSignatureHeader,
		tolerance: defaultWebhookTolerance,
		nonces:    nonces,
		logger:    log.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify checks the header against the payload and returns the signed time.
func (v *WebhookVerifier) Verify(payload []byte, header string) (time.Time, string, error) {
	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return time.Time{}, "", err
	}
	if skew := v.now().Sub(ts); skew > v.tolerance || skew < -v.tolerance {
		return time.Time{}, "", fmt.Errorf("%w: outside tolerance", ErrSignatureTimestamp)
	}

	expected := computeSignature(v.secret, ts, payload)
	for _, candidate := range signatures {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return ts, candidate, nil
		}
	}
	return time.Time{}, "", ErrSignatureMismatch
}

// RequireSignature rejects webhook requests without a valid, unseen signature.
func (v *WebhookVerifier) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			if len(v.secret) == 0 {
				v.record(ctx, false, "secret_not_configured", start)
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret not configured")
				return
			}

			body, err := readAndRestoreBody(w, r)
			if err != nil {
				v.record(ctx, false, "body_unreadable", start)
				respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}

			ts, signature, err := v.Verify(body, r.Header.Get(v.header))
			if err != nil {
				reason := "signature_mismatch"
				switch {
				case errors.Is(err, ErrSignatureMissing):
					reason = "signature_missing"
				case errors.Is(err, ErrSignatureTimestamp):
					reason = "timestamp_invalid"
				}
				v.record(ctx, false, reason, start)
				respondAuthError(w, http.StatusUnauthorized, reason, "webhook signature verification failed")
				return
			}

			if v.nonces != nil {
				stored, err := v.nonces.UseNonce(ctx, webhookNonceScope, signature, ts.Add(v.tolerance))
				if err != nil {
					if v.logger != nil {
						v.logger.Printf("auth: nonce store error: %v", err)
					}
					v.record(ctx, false, "nonce_store_error", start)
					respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
					return
				}
				if !stored {
					v.record(ctx, false, "nonce_replay", start)
					respondAuthError(w, http.StatusUnauthorized, "nonce_replay", "duplicate webhook delivery")
					return
				}
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r)
		})
	}
}

func (v *WebhookVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "webhook", success, reason, v.now().Sub(start))
}

// SignPayload produces a header value for payload at ts. Used by tests and
// local tooling that replays provider events.
func SignPayload(secret string, ts time.Time, payload []byte) string {
	sig := computeSignature([]byte(secret), ts.Truncate(time.Second), payload)
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + ",v1=" + hex.EncodeToString(sig)
}

func parseSignatureHeader(header string) (time.Time, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return time.Time{}, nil, ErrSignatureMissing
	}
	var (
		ts         time.Time
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			secs, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("%w: %v", ErrSignatureTimestamp, err)
			}
			ts = time.Unix(secs, 0).UTC()
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts.IsZero() {
		return time.Time{}, nil, fmt.Errorf("%w: missing t", ErrSignatureTimestamp)
	}
	if len(signatures) == 0 {
		return time.Time{}, nil, ErrSignatureMissing
	}
	return ts, signatures, nil
}

func computeSignature(secret []byte, ts time.Time, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func readAndRestoreBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}
