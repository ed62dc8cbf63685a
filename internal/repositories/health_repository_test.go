package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
)

func TestDependencyHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "stripe", Check: func(context.Context) error { return nil }},
	}, WithDependencyClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.Checks["firestore"].CheckedAt != now {
		t.Fatalf("expected checkedAt %s, got %s", now, report.Checks["firestore"].CheckedAt)
	}
}

func TestDependencyHealthRepositoryStatusAggregation(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name     string
		critical bool
		want     string
	}{
		{name: "non critical failure degrades", critical: false, want: domain.HealthStatusDegraded},
		{name: "critical failure errors", critical: true, want: domain.HealthStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository([]DependencyCheck{
				{Name: "pubsub", Critical: tc.critical, Check: func(context.Context) error { return boom }},
				{Name: "firestore", Check: func(context.Context) error { return nil }},
			})
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if got := report.Checks["pubsub"].Error; got != boom.Error() {
				t.Fatalf("expected error %q, got %q", boom.Error(), got)
			}
		})
	}
}

func TestDependencyHealthRepositoryTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "secrets",
			Timeout: 5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(200 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if detail := report.Checks["secrets"].Detail; detail != "timeout" {
		t.Fatalf("expected timeout detail, got %s", detail)
	}
}

func TestNewDependencyHealthRepositoryRejectsInvalidChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatal("expected error for empty checks")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "x"}}); err == nil {
		t.Fatal("expected error for missing check func")
	}
}
