package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/services"
)

type probeSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (p probeSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return p.report, p.err
}

func decodeHealth(t *testing.T, rr *httptest.ResponseRecorder) healthResponse {
	t.Helper()
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health body %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestHealthz_ReportsBuildAndUptime(t *testing.T) {
	started := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "2025.08.1", CommitSHA: "9f1c2e", Environment: "prod", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(2*time.Hour + 1500*time.Millisecond) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     "2025.08.1",
		CommitSHA:   "9f1c2e",
		Environment: "prod",
		Uptime:      "2h0m2s",
		Timestamp:   "2025-08-01T11:00:01Z",
	}
	if diff := cmp.Diff(want, decodeHealth(t, rr)); diff != "" {
		t.Fatalf("healthz mismatch (-want +got):\n%s", diff)
	}
}

func TestReadyz_DegradedProbeAnswers503(t *testing.T) {
	now := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "2025.08.1"}),
		WithHealthClock(func() time.Time { return now }),
		WithHealthSystemService(probeSystemService{report: services.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Uptime: 10 * time.Minute,
			Checks: map[string]domain.SystemHealthCheck{
				"secretManager": {Status: domain.HealthStatusError, Error: "permission denied", Latency: 40 * time.Millisecond},
				"firestore":     {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
			},
		}}),
	)

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	want := healthResponse{
		Status:    domain.HealthStatusDegraded,
		Version:   "2025.08.1",
		Uptime:    "10m0s",
		Timestamp: "2025-08-01T09:00:00Z",
		Checks: map[string]healthCheckResponse{
			"firestore":     {Status: domain.HealthStatusOK, LatencyMS: 12, CheckedAt: "2025-08-01T09:00:00Z"},
			"secretManager": {Status: domain.HealthStatusError, Error: "permission denied", LatencyMS: 40},
		},
		Details: []string{"secretManager: permission denied"},
	}
	if diff := cmp.Diff(want, decodeHealth(t, rr)); diff != "" {
		t.Fatalf("readyz mismatch (-want +got):\n%s", diff)
	}
}

func TestReadyz_HealthyProbesAnswer200(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(probeSystemService{report: services.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeHealth(t, rr); got.Status != domain.HealthStatusOK || len(got.Details) != 0 {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestReadyz_CollectFailure(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(probeSystemService{err: errors.New("deadline exceeded")}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "readiness_failed" {
		t.Fatalf("expected readiness_failed, got %q", code)
	}
}

func TestReadyz_WithoutSystemServiceFallsBackToLiveness(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeHealth(t, rr); got.Checks != nil {
		t.Fatalf("expected no checks, got %+v", got.Checks)
	}
}
