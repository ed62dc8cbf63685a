package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/requestctx"
	"github.com/casacustomz/api/internal/services"
)

const readinessTimeout = 5 * time.Second

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
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

// Healthz reports process liveness only; it never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      domain.HealthStatusOK,
		"version":     h.build.Version,
		"commitSha":   h.build.CommitSHA,
		"environment": h.build.Environment,
		"uptime":      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp":   now.Format(time.RFC3339),
	})
}

type readinessCheck struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

// Readyz collects dependency checks and answers 503 unless every check is healthy.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    domain.HealthStatusOK,
			"checks":    map[string]readinessCheck{},
			"details":   []string{},
			"timestamp": h.clock().UTC().Format(time.RFC3339),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("readiness report failed", zap.Error(err))
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    domain.HealthStatusError,
			"checks":    map[string]readinessCheck{},
			"details":   []string{"health report unavailable"},
			"timestamp": h.clock().UTC().Format(time.RFC3339),
		})
		return
	}

	checks := make(map[string]readinessCheck, len(report.Checks))
	details := []string{}
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		checks[name] = readinessCheck{
			Status:    check.Status,
			LatencyMS: check.Latency.Milliseconds(),
			Detail:    check.Detail,
			Error:     check.Error,
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK {
			reason := check.Error
			if reason == "" {
				reason = check.Status
			}
			details = append(details, fmt.Sprintf("%s: %s", name, reason))
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = h.clock()
	}
	httpx.WriteJSON(w, status, map[string]any{
		"status":      report.Status,
		"version":     report.Version,
		"commitSha":   report.CommitSHA,
		"environment": report.Environment,
		"uptime":      report.Uptime.Round(time.Second).String(),
		"checks":      checks,
		"details":     details,
		"timestamp":   generated.UTC().Format(time.RFC3339),
	})
}
