package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %v", body["version"])
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
	if body["environment"] != "prod" {
		t.Fatalf("expected environment prod, got %v", body["environment"])
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "1.0.0",
			Environment: "prod",
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
			},
		},
	}

	handlers := NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if body.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if len(body.Details) != 0 {
		t.Fatalf("expected no details, got %v", body.Details)
	}
	if body.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("expected firestore status ok, got %s", body.Checks["firestore"].Status)
	}
}

func TestHealthHandlersReadyzStatuses(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	tests := []struct {
		name        string
		report      services.SystemHealthReport
		wantCode    int
		wantStatus  string
		wantDetails []string
	}{
		{
			name: "payment provider down keeps the store ready",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore":       {Status: domain.HealthStatusOK},
					"payments.paypal": {Status: domain.HealthStatusError, Error: "oauth timeout"},
				},
			},
			wantCode:    http.StatusOK,
			wantStatus:  domain.HealthStatusDegraded,
			wantDetails: []string{"payments.paypal: oauth timeout"},
		},
		{
			name: "firestore down takes the instance out",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"cartStore": {Status: domain.HealthStatusDegraded},
					"firestore": {Status: domain.HealthStatusError, Error: "unavailable"},
				},
			},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusError,
			wantDetails: []string{"cartStore: degraded", "firestore: unavailable"},
		},
		{
			name: "missing status is derived from checks",
			report: services.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"secretManager": {Status: domain.HealthStatusDegraded, Error: "permission denied"},
				},
			},
			wantCode:    http.StatusOK,
			wantStatus:  domain.HealthStatusDegraded,
			wantDetails: []string{"secretManager: permission denied"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(
				WithHealthSystemService(&stubSystemService{report: tc.report}),
				WithHealthClock(func() time.Time { return now }),
			)

			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, rr.Code)
			}
			var body struct {
				Status  string   `json:"status"`
				Details []string `json:"details"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if body.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, body.Status)
			}
			if strings.Join(body.Details, "|") != strings.Join(tc.wantDetails, "|") {
				t.Fatalf("expected details %v, got %v", tc.wantDetails, body.Details)
			}
		})
	}
}

func TestHealthHandlersReadyzReportError(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("collect failed")}))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "collect failed") {
		t.Fatalf("expected error detail, got %s", rr.Body.String())
	}
}

func TestHealthHandlersReadyzWithoutSystemService(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

var _ services.SystemService = (*stubSystemService)(nil)
