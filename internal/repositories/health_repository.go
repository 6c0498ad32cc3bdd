package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/southernsense/storefront/internal/domain"
)

const (
	defaultDependencyTimeout = 1500 * time.Millisecond
)

// DependencyCheck describes a dependency check executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyHealthOption customises the behaviour of the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout overrides the default timeout applied when a check omits its own timeout.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock primarily for tests.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

// WithBuildInfo stamps reports with the running version and environment.
func WithBuildInfo(version, environment string) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		repo.version = strings.TrimSpace(version)
		repo.environment = strings.TrimSpace(environment)
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
	startedAt      time.Time
	version        string
	environment    string
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository constructs a HealthRepository that evaluates the provided check set.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", check.Name)
		}
	}

	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	repo.startedAt = repo.now()

	return repo, nil
}

// Collect checks every dependency concurrently. A failing check degrades the report; it never fails Collect.
func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	results := make(map[string]domain.SystemHealthCheck, len(r.checks))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for _, check := range r.checks {
		check := check
		group.Go(func() error {
			result := r.runCheck(groupCtx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	reportStatus := domain.HealthStatusOK
	for _, result := range results {
		if result.Status == domain.HealthStatusError {
			reportStatus = domain.HealthStatusError
			break
		}
		if result.Status != domain.HealthStatusOK {
			reportStatus = domain.HealthStatusDegraded
		}
	}

	now := r.now()
	return domain.SystemHealthReport{
		Status:      reportStatus,
		Checks:      results,
		Version:     r.version,
		Environment: r.environment,
		Uptime:      now.Sub(r.startedAt),
		GeneratedAt: now,
	}, nil
}

func (r *dependencyHealthRepository) runCheck(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(checkCtx)
	end := r.now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}

	switch {
	case err == nil && checkCtx.Err() != nil:
		// Timed out without returning an error.
		result.Status = domain.HealthStatusError
		result.Detail = checkCtx.Err().Error()
		result.Error = checkCtx.Err().Error()
	case err == nil:
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
		result.Error = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
		result.Error = err.Error()
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = err.Error()
		result.Error = err.Error()
	}
	return result
}
