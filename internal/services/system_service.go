package services

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// Probes are extra dependency checks, such as the idempotency cache, merged into the report.
	Probes map[string]HealthProbe
}

// HealthProbe checks a single dependency and returns nil when it is reachable.
type HealthProbe func(ctx context.Context) error

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
	probes     map[string]HealthProbe
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the system utility service providing health reports and metadata.
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

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock: func() time.Time {
			return clock().UTC()
		},
		build:  build,
		probes: maps.Clone(deps.Probes),
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	report.GeneratedAt = ensureTimestamp(report.GeneratedAt, now)
	report.Version = chooseFirstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = chooseFirstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = chooseFirstNonEmpty(report.Environment, s.build.Environment)

	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}

	report.Checks = maps.Clone(report.Checks)
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	for name, probe := range s.probes {
		report.Checks[name] = runProbe(ctx, probe, s.clock)
	}

	if strings.TrimSpace(report.Status) == "" || len(s.probes) > 0 {
		report.Status = worstStatus(report.Status, deriveStatus(report.Checks))
	}

	return report, nil
}

func runProbe(ctx context.Context, probe HealthProbe, clock func() time.Time) domain.SystemHealthCheck {
	started := clock()
	err := probe(ctx)
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Latency:   clock().Sub(started),
		CheckedAt: started,
	}
	if err != nil {
		check.Status = domain.HealthStatusDegraded
		check.Error = err.Error()
	}
	return check
}

func ensureTimestamp(ts time.Time, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts.UTC()
}

func chooseFirstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	if len(checks) == 0 {
		return domain.HealthStatusOK
	}
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}

func worstStatus(a, b string) string {
	rank := func(status string) int {
		switch status {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(a) >= rank(b) && strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
