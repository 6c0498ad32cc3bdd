package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/services"
)

const defaultReadinessTimeout = 3 * time.Second

// HealthHandlers serves the liveness and readiness checks.
type HealthHandlers struct {
	system  services.SystemService
	build   services.BuildInfo
	clock   func() time.Time
	timeout time.Duration
}

// HealthOption customises health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service collecting dependency checks for /readyz.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the version metadata reported by /healthz.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the clock used for uptime and timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithReadinessTimeout bounds how long /readyz waits for dependency checks.
func WithReadinessTimeout(timeout time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// NewHealthHandlers constructs health handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:   time.Now,
		timeout: defaultReadinessTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type readinessCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzResponse struct {
	Status      string                           `json:"status"`
	Version     string                           `json:"version,omitempty"`
	Environment string                           `json:"environment,omitempty"`
	Checks      map[string]readinessCheckPayload `json:"checks"`
	Details     []string                         `json:"details,omitempty"`
	GeneratedAt string                           `json:"generatedAt"`
}

// Healthz reports that the process is up. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz checks dependencies and answers 503 only when the report status is error.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	w.Header().Set("Cache-Control", "no-store")
	if h.system == nil {
		httpx.WriteJSON(w, http.StatusOK, readyzResponse{
			Status:      domain.HealthStatusOK,
			Version:     h.build.Version,
			Environment: h.build.Environment,
			Checks:      map[string]readinessCheckPayload{},
			GeneratedAt: now.Format(time.RFC3339),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, readyzResponse{
			Status:      domain.HealthStatusError,
			Checks:      map[string]readinessCheckPayload{},
			Details:     []string{fmt.Sprintf("health report: %v", err)},
			GeneratedAt: now.Format(time.RFC3339),
		})
		return
	}

	resp := readyzResponse{
		Status:      strings.TrimSpace(report.Status),
		Version:     report.Version,
		Environment: report.Environment,
		Checks:      make(map[string]readinessCheckPayload, len(report.Checks)),
		GeneratedAt: now.Format(time.RFC3339),
	}
	if !report.GeneratedAt.IsZero() {
		resp.GeneratedAt = report.GeneratedAt.UTC().Format(time.RFC3339)
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	degraded := false
	for _, name := range names {
		check := report.Checks[name]
		payload := readinessCheckPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
		if !check.CheckedAt.IsZero() {
			payload.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
		}
		resp.Checks[name] = payload
		if check.Status == domain.HealthStatusOK {
			continue
		}
		degraded = true
		reason := check.Error
		if reason == "" {
			reason = check.Status
		}
		resp.Details = append(resp.Details, name+": "+reason)
	}

	if resp.Status == "" {
		resp.Status = domain.HealthStatusOK
		if degraded {
			resp.Status = domain.HealthStatusDegraded
		}
	}
	// A degraded store still serves carts and the catalog; only a failed critical dependency
	// takes the instance out of rotation.
	status := http.StatusOK
	if resp.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}
