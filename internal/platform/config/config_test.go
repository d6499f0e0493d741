package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"BOOKING_FIREBASE_PROJECT_ID":      "lumen-dev",
		"BOOKING_STORAGE_CONTRACTS_BUCKET": "lumen-contracts-dev",
		"BOOKING_PSP_STRIPE_API_KEY":       "sk_test",
		"BOOKING_PSP_SUCCESS_URL":          "https://studio.test/booking/ok",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "lumen-dev" || cfg.PubSub.ProjectID != "lumen-dev" {
		t.Errorf("expected project ids to default to firebase project, got %s/%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if !cfg.Features.Payments || !cfg.Features.Calendar {
		t.Errorf("expected payments and calendar enabled by default")
	}
	if cfg.Booking.SessionTTL != defaultSessionTTL {
		t.Errorf("unexpected session ttl: %s", cfg.Booking.SessionTTL)
	}
	if cfg.Calendar.CalendarID != "primary" || cfg.Calendar.TimeZone != defaultCalendarTimeZone {
		t.Errorf("unexpected calendar defaults: %+v", cfg.Calendar)
	}
	if cfg.Security.Webhook.Header != defaultSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Security.Webhook.Header)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
}

func TestLoadResolvesSecrets(t *testing.T) {
	env := baseEnv()
	env["BOOKING_PSP_STRIPE_API_KEY"] = "secret://stripe/api"
	env["BOOKING_PSP_STRIPE_WEBHOOK_SECRET"] = "sm://stripe/webhook"
	env["BOOKING_CALENDAR_ACCESS_TOKEN"] = "secret://calendar/token"
	env["BOOKING_FEATURE_CALENDAR"] = "off"
	env["BOOKING_SESSION_TTL"] = "45m"
	env["BOOKING_SECURITY_OIDC_ISSUERS"] = "https://accounts.google.com, https://cloud.google.com/iap"

	secrets := map[string]string{
		"secret://stripe/api":     "sk_live",
		"secret://stripe/webhook": "whsec",
		"secret://calendar/token": "ya29.token",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PSP.StripeAPIKey != "sk_live" || cfg.PSP.StripeWebhookSecret != "whsec" || cfg.Calendar.AccessToken != "ya29.token" {
		t.Fatalf("secrets not resolved: %+v %+v", cfg.PSP, cfg.Calendar)
	}
	if cfg.Features.Calendar {
		t.Fatalf("expected calendar feature disabled")
	}
	if cfg.Booking.SessionTTL != 45*time.Minute {
		t.Fatalf("unexpected session ttl %s", cfg.Booking.SessionTTL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Fatalf("expected two issuers, got %v", cfg.Security.OIDC.Issuers)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["BOOKING_PSP_STRIPE_API_KEY"] = "secret://stripe/api"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected ref %q", secretErr.Ref)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"BOOKING_CALENDAR_TIMEZONE": "Mars/Olympus",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"Firebase.ProjectID":      true,
		"Storage.ContractsBucket": true,
		"PSP.StripeAPIKey":        true,
		"PSP.SuccessURL":          true,
		"Calendar.TimeZone":       true,
	}
	for _, field := range vErr.Fields() {
		delete(want, field)
	}
	if len(want) != 0 {
		t.Fatalf("missing expected validation fields: %v (got %v)", want, vErr.Fields())
	}
}

func TestLoadPaymentsDisabledSkipsPSPValidation(t *testing.T) {
	env := map[string]string{
		"BOOKING_FIREBASE_PROJECT_ID":      "lumen-dev",
		"BOOKING_STORAGE_CONTRACTS_BUCKET": "bucket",
		"BOOKING_FEATURE_PAYMENTS":         "false",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Features.Payments {
		t.Fatalf("expected payments disabled")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport BOOKING_SERVER_PORT=9191\nBOOKING_FIREBASE_PROJECT_ID=\"lumen-local\"\nBOOKING_STORAGE_CONTRACTS_BUCKET=local\nBOOKING_FEATURE_PAYMENTS=0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9191" || cfg.Firebase.ProjectID != "lumen-local" {
		t.Fatalf("dotenv values not applied: %+v", cfg.Server)
	}

	value, err := Lookup("BOOKING_SERVER_PORT", WithoutSystemEnv(), WithEnvFile(path), WithEnvMap(map[string]string{"BOOKING_SERVER_PORT": "7000"}))
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if value != "7000" {
		t.Fatalf("expected explicit map to win, got %s", value)
	}
}
