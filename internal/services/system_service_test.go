package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	domain "github.com/lumen-studio/booking/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemService_FillsBuildMetadata(t *testing.T) {
	start := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore":     {Status: domain.HealthStatusOK},
			"secretManager": {Status: domain.HealthStatusOK},
		},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2025.08.1", CommitSHA: "9f1c2e", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	got, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	want := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Version:     "2025.08.1",
		CommitSHA:   "9f1c2e",
		Environment: "staging",
		Uptime:      90 * time.Minute,
		Checks:      repo.report.Checks,
		GeneratedAt: now,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestSystemService_Rollup(t *testing.T) {
	cases := []struct {
		name     string
		critical []string
		checks   map[string]domain.SystemHealthCheck
		want     string
	}{
		{
			name:   "no checks",
			checks: nil,
			want:   domain.HealthStatusOK,
		},
		{
			name:     "critical check down",
			critical: []string{"firestore"},
			checks: map[string]domain.SystemHealthCheck{
				"firestore":     {Status: domain.HealthStatusError},
				"secretManager": {Status: domain.HealthStatusOK},
			},
			want: domain.HealthStatusError,
		},
		{
			name:     "secondary check down",
			critical: []string{"firestore"},
			checks: map[string]domain.SystemHealthCheck{
				"firestore":     {Status: domain.HealthStatusOK},
				"secretManager": {Status: domain.HealthStatusError},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "error without critical list",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError},
			},
			want: domain.HealthStatusError,
		},
		{
			name: "degraded without critical list",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusDegraded,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}},
				Critical:         tc.critical,
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if report.Checks == nil {
				t.Fatalf("expected non-nil checks map")
			}
		})
	}
}

func TestSystemService_KeepsRepositoryStatus(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected repository status to win, got %s", report.Status)
	}
}

func TestSystemService_CachesReports(t *testing.T) {
	start := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	now := start
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{StartedAt: start},
		CacheTTL:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	now = start.Add(3 * time.Second)
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("expected cached report, repository called %d times", repo.calls)
	}
	if report.Uptime != 3*time.Second {
		t.Fatalf("expected uptime to advance on cached report, got %s", report.Uptime)
	}

	now = start.Add(6 * time.Second)
	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected refresh after ttl, repository called %d times", repo.calls)
	}
}

func TestSystemService_CollectFailureIsNotCached(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("firestore unavailable")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.HealthReport(context.Background()); err == nil {
			t.Fatalf("expected collect error")
		}
	}
	if repo.calls != 2 {
		t.Fatalf("expected every failed collect to hit the repository, got %d", repo.calls)
	}
}

func TestNewSystemService_RequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}
