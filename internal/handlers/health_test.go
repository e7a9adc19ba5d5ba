package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body healthzPayload
	decodeBody(t, rr, &body)
	if body.Status != domain.HealthStatusOK || body.Version != "1.0.0" || body.CommitSHA != "abc123" || body.Environment != "prod" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Uptime != "30s" {
		t.Fatalf("expected uptime 30s, got %s", body.Uptime)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name    string
		report  services.SystemHealthReport
		status  int
		details []string
	}{
		{
			name: "ok",
			report: services.SystemHealthReport{HealthReport: domain.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.DependencyHealth{
					"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
				},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded still serves",
			report: services.SystemHealthReport{HealthReport: domain.HealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.DependencyHealth{
					"pubsub": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
				},
			}},
			status:  http.StatusOK,
			details: []string{"pubsub: publish failed"},
		},
		{
			name: "error",
			report: services.SystemHealthReport{HealthReport: domain.HealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.DependencyHealth{
					"catalog": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
					"redis":   {Status: domain.HealthStatusOK},
				},
			}},
			status:  http.StatusServiceUnavailable,
			details: []string{"catalog: deadline exceeded"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(
				WithHealthSystemService(&stubSystemService{report: tc.report}),
				WithHealthClock(func() time.Time { return now }),
			)
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body readyzPayload
			decodeBody(t, rr, &body)
			if body.Status != tc.report.Status {
				t.Fatalf("expected status %s, got %s", tc.report.Status, body.Status)
			}
			if len(body.Details) != len(tc.details) {
				t.Fatalf("expected details %v, got %v", tc.details, body.Details)
			}
			for i := range tc.details {
				if body.Details[i] != tc.details[i] {
					t.Fatalf("expected details %v, got %v", tc.details, body.Details)
				}
			}
			if len(body.Checks) != len(tc.report.Checks) {
				t.Fatalf("expected %d checks, got %d", len(tc.report.Checks), len(body.Checks))
			}
		})
	}
}

func TestHealthHandlersReadyzServiceError(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("boom")}))
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthHandlersReadyzCatalogVersion(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	handlers := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		HealthReport:     domain.HealthReport{Status: domain.HealthStatusOK, GeneratedAt: fetched},
		CatalogVersion:   "2026-03",
		CatalogFetchedAt: fetched,
	}}))
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body readyzPayload
	decodeBody(t, rr, &body)
	if body.Catalog == nil || body.Catalog.Version != "2026-03" || body.Catalog.FetchedAt == "" {
		t.Fatalf("expected catalog status, got %+v", body.Catalog)
	}
}
