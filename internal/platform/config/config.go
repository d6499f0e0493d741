package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultEnvironment         = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer          = "https://accounts.google.com"
	defaultSignatureHeader     = "Stripe-Signature"
	defaultSignatureTolerance  = 5 * time.Minute
	defaultSessionTTL          = 2 * time.Hour
	defaultCalendarID          = "primary"
	defaultCalendarTimeZone    = "America/Sao_Paulo"
	defaultCalendarEventLength = 2 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	PubSub    PubSubConfig
	PSP       PSPConfig
	Calendar  CalendarConfig
	Booking   BookingConfig
	Features  FeatureFlags
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked makes every token verification consult the revocation list.
	CheckRevoked bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the bucket holding signed contract PDFs.
type StorageConfig struct {
	ContractsBucket string
}

// PubSubConfig identifies the booking events topic.
type PubSubConfig struct {
	ProjectID          string
	BookingEventsTopic string
}

// PSPConfig collects payment provider credentials and hosted checkout return pages.
type PSPConfig struct {
	StripeAPIKey        string
	StripeAccountID     string
	StripeWebhookSecret string
	SuccessURL          string
	FailureURL          string
	PendingURL          string
}

// CalendarConfig controls the studio calendar integration. AccessToken is
// injected manually; there is no OAuth flow in this service.
type CalendarConfig struct {
	CalendarID    string
	AccessToken   string
	TimeZone      string
	EventDuration time.Duration
}

// BookingConfig controls the in-memory booking sessions.
type BookingConfig struct {
	SessionTTL        time.Duration
	DefaultTravelCost string
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	Payments bool
	Calendar bool
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	Webhook     WebhookSignatureConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
	// ServiceAccounts limits internal callers to these token emails when set.
	ServiceAccounts []string
}

// WebhookSignatureConfig captures payment webhook signing expectations.
type WebhookSignatureConfig struct {
	Header    string
	Tolerance time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a single value using the same precedence as Load
// (explicit map, then process environment, then .env). Callers use it to
// bootstrap the secret fetcher before Load runs.
func Lookup(key string, opts ...Option) (string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return value, nil
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnv, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "BOOKING_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "BOOKING_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "BOOKING_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "BOOKING_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "BOOKING_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "BOOKING_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    boolWithDefault(lookup, "BOOKING_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "BOOKING_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "BOOKING_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ContractsBucket: stringWithDefault(lookup, "BOOKING_STORAGE_CONTRACTS_BUCKET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:          stringWithDefault(lookup, "BOOKING_PUBSUB_PROJECT_ID", ""),
			BookingEventsTopic: stringWithDefault(lookup, "BOOKING_PUBSUB_EVENTS_TOPIC", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "BOOKING_PSP_STRIPE_API_KEY", ""),
			StripeAccountID:     stringWithDefault(lookup, "BOOKING_PSP_STRIPE_ACCOUNT_ID", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "BOOKING_PSP_STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:          stringWithDefault(lookup, "BOOKING_PSP_SUCCESS_URL", ""),
			FailureURL:          stringWithDefault(lookup, "BOOKING_PSP_FAILURE_URL", ""),
			PendingURL:          stringWithDefault(lookup, "BOOKING_PSP_PENDING_URL", ""),
		},
		Calendar: CalendarConfig{
			CalendarID:    stringWithDefault(lookup, "BOOKING_CALENDAR_ID", defaultCalendarID),
			AccessToken:   stringWithDefault(lookup, "BOOKING_CALENDAR_ACCESS_TOKEN", ""),
			TimeZone:      stringWithDefault(lookup, "BOOKING_CALENDAR_TIMEZONE", defaultCalendarTimeZone),
			EventDuration: durationWithDefault(lookup, "BOOKING_CALENDAR_EVENT_DURATION", defaultCalendarEventLength),
		},
		Booking: BookingConfig{
			SessionTTL:        durationWithDefault(lookup, "BOOKING_SESSION_TTL", defaultSessionTTL),
			DefaultTravelCost: stringWithDefault(lookup, "BOOKING_DEFAULT_TRAVEL_COST", "0"),
		},
		Features: FeatureFlags{
			Payments: boolWithDefault(lookup, "BOOKING_FEATURE_PAYMENTS", true),
			Calendar: boolWithDefault(lookup, "BOOKING_FEATURE_CALENDAR", true),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "BOOKING_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:         stringWithDefault(lookup, "BOOKING_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:        stringWithDefault(lookup, "BOOKING_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:         csvWithDefault(lookup, "BOOKING_SECURITY_OIDC_ISSUERS"),
				ServiceAccounts: csvWithDefault(lookup, "BOOKING_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
			Webhook: WebhookSignatureConfig{
				Header:    stringWithDefault(lookup, "BOOKING_SECURITY_WEBHOOK_HEADER", defaultSignatureHeader),
				Tolerance: durationWithDefault(lookup, "BOOKING_SECURITY_WEBHOOK_TOLERANCE", defaultSignatureTolerance),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	secretFields := []*string{
		&cfg.PSP.StripeAPIKey,
		&cfg.PSP.StripeWebhookSecret,
		&cfg.Calendar.AccessToken,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Storage.ContractsBucket == "" {
		missing = append(missing, "Storage.ContractsBucket")
	}
	if cfg.Booking.SessionTTL <= 0 {
		missing = append(missing, "Booking.SessionTTL")
	}
	if cfg.Features.Payments {
		if cfg.PSP.StripeAPIKey == "" {
			missing = append(missing, "PSP.StripeAPIKey")
		}
		if cfg.PSP.SuccessURL == "" {
			missing = append(missing, "PSP.SuccessURL")
		}
	}
	if cfg.Calendar.EventDuration <= 0 {
		missing = append(missing, "Calendar.EventDuration")
	}
	if _, err := time.LoadLocation(cfg.Calendar.TimeZone); err != nil {
		missing = append(missing, "Calendar.TimeZone")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return parsed
		}
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
