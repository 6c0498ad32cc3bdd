package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/repositories"
)

const defaultHealthCacheTTL = 5 * time.Second

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// Critical names the checks that make the store unable to take orders. A failing critical
	// check reports error; any other failing check only degrades the report. Empty means every
	// check is critical.
	Critical []string
	// CacheTTL bounds how long a collected report is reused. Zero uses the default; negative disables.
	CacheTTL time.Duration
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
	critical   map[string]struct{}
	cacheTTL   time.Duration

	group    singleflight.Group
	mu       sync.Mutex
	cached   domain.SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the system service providing health reports.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	var critical map[string]struct{}
	for _, name := range deps.Critical {
		if name = strings.TrimSpace(name); name != "" {
			if critical == nil {
				critical = make(map[string]struct{}, len(deps.Critical))
			}
			critical[name] = struct{}{}
		}
	}

	ttl := deps.CacheTTL
	if ttl == 0 {
		ttl = defaultHealthCacheTTL
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
		critical:   critical,
		cacheTTL:   ttl,
	}, nil
}

// HealthReport returns the dependency report. Probes hit Firestore, Redis and both PSPs, so
// concurrent callers share one collection and recent reports are reused.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	if report, ok := s.fromCache(); ok {
		return report, nil
	}

	value, err, _ := s.group.Do("health", func() (any, error) {
		report, err := s.healthRepo.Collect(ctx)
		if err != nil {
			return nil, err
		}
		report = s.enrich(report)
		s.store(report)
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return value.(SystemHealthReport), nil
}

func (s *systemService) fromCache() (SystemHealthReport, bool) {
	if s.cacheTTL < 0 {
		return SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedAt.IsZero() || s.clock().Sub(s.cachedAt) >= s.cacheTTL {
		return SystemHealthReport{}, false
	}
	return s.cached, true
}

func (s *systemService) store(report SystemHealthReport) {
	if s.cacheTTL < 0 {
		return
	}
	s.mu.Lock()
	s.cached = report
	s.cachedAt = s.clock()
	s.mu.Unlock()
}

func (s *systemService) enrich(report SystemHealthReport) SystemHealthReport {
	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if len(report.Checks) == 0 {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if s.critical != nil || strings.TrimSpace(report.Status) == "" {
		report.Status = s.status(report.Checks)
	}
	return report
}

// status folds check results: a failing critical dependency is an error, anything else degrades.
func (s *systemService) status(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for name, check := range checks {
		if check.Status == domain.HealthStatusOK || check.Status == "" {
			continue
		}
		if check.Status == domain.HealthStatusError && s.isCritical(name) {
			return domain.HealthStatusError
		}
		status = domain.HealthStatusDegraded
	}
	return status
}

func (s *systemService) isCritical(name string) bool {
	if s.critical == nil {
		return true
	}
	_, ok := s.critical[name]
	return ok
}
