package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder records verification outcomes for OIDC and webhook checks.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

// ServiceIdentity is the scheduler or service account calling an internal route.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityKey struct{}

// ServiceIdentityFromContext retrieves the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, _ := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, identity != nil
}

// OIDCValidator guards internal routes invoked by Cloud Scheduler with
// Google-signed OIDC tokens.
type OIDCValidator struct {
	cache    *JWKSCache
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time
	accounts map[string]struct{}
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMetrics sets the metrics recorder.
func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) { v.metrics = recorder }
}

// WithOIDCClock injects a custom clock.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithOIDCServiceAccounts only admits tokens whose email claim is listed.
// With no accounts any Google-signed token for the audience is admitted.
func WithOIDCServiceAccounts(emails ...string) OIDCOption {
	return func(v *OIDCValidator) {
		for _, email := range emails {
			if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
				if v.accounts == nil {
					v.accounts = make(map[string]struct{})
				}
				v.accounts[email] = struct{}{}
			}
		}
	}
}

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{cache: cache, logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// oidcRejection is a failed verification: the response to send and the
// metric reason to record.
type oidcRejection struct {
	status  int
	code    string
	message string
	reason  string
}

// RequireOIDC rejects requests without a valid RS256 token for audience from
// one of issuers.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()
			identity, rejection := v.verify(ctx, r.Header.Get("Authorization"), audience, allowedIssuers)
			if rejection != nil {
				v.record(ctx, false, rejection.reason, start)
				respondAuthError(w, rejection.status, rejection.code, rejection.message)
				return
			}
			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityKey{}, identity)))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, header, audience string, issuers map[string]struct{}) (*ServiceIdentity, *oidcRejection) {
	if audience == "" || v.cache == nil {
		return nil, &oidcRejection{http.StatusServiceUnavailable, "verification_unavailable", "oidc verification not configured", "not_configured"}
	}
	tokenStr, ok := extractBearerToken(header)
	if !ok {
		return nil, &oidcRejection{http.StatusUnauthorized, "unauthenticated", "oidc token missing", "token_missing"}
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
		rejection := &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc token verification failed", "token_invalid"}
		if errors.Is(err, ErrJWKSFetchFailed) {
			rejection.status, rejection.reason = http.StatusServiceUnavailable, "jwks_unavailable"
		}
		v.logf("auth: oidc verification failed (%s): %v", rejection.reason, err)
		return nil, rejection
	}

	identity := &ServiceIdentity{}
	identity.Issuer, _ = claims["iss"].(string)
	identity.Subject, _ = claims["sub"].(string)
	identity.Email, _ = claims["email"].(string)

	if _, ok := issuers[identity.Issuer]; len(issuers) > 0 && !ok {
		v.logf("auth: oidc issuer mismatch, got %q", identity.Issuer)
		return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc issuer mismatch", "issuer_mismatch"}
	}
	if !claims.VerifyAudience(audience, true) {
		v.logf("auth: oidc audience mismatch, expected %q", audience)
		return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc audience mismatch", "audience_mismatch"}
	}
	if _, ok := v.accounts[strings.ToLower(identity.Email)]; len(v.accounts) > 0 && !ok {
		v.logf("auth: oidc caller %q is not an allowed service account", identity.Email)
		return nil, &oidcRejection{http.StatusForbidden, "forbidden", "caller not allowed", "account_not_allowed"}
	}
	return identity, nil
}

func (v *OIDCValidator) logf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
}
