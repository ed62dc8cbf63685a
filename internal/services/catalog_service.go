package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/platform/textutil"
	"github.com/casacustomz/api/internal/repositories"
)

const (
	maxCatalogNameLength      = 64
	maxCatalogAttributeLength = 256
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogUnavailable indicates the catalog store could not be reached.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")

	hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog   repositories.CatalogRepository
	CaseTypes []CaseType
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	repo      repositories.CatalogRepository
	caseTypes []CaseType
	clock     func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog service: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	caseTypes := slices.Clone(deps.CaseTypes)
	if len(caseTypes) == 0 {
		caseTypes = domain.DefaultCaseTypes()
	}
	return &catalogService{
		repo:      deps.Catalog,
		caseTypes: caseTypes,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// EnsureDefaults seeds every default entry that is not already present and reports how many were added.
// Existing entries, including ones an admin deactivated, are left untouched.
func (s *catalogService) EnsureDefaults(ctx context.Context) (int, error) {
	now := s.clock()
	inserted := 0
	for _, entry := range domain.DefaultCatalog() {
		entry.UpdatedAt = now
		created, err := s.repo.InsertIfAbsent(ctx, entry)
		if err != nil {
			return inserted, s.mapRepositoryError(err)
		}
		if created {
			inserted++
		}
	}
	if inserted > 0 {
		s.logger(ctx, "catalog.defaults.seeded", map[string]any{"inserted": inserted})
	}
	return inserted, nil
}

func (s *catalogService) List(ctx context.Context, kind CatalogKind, activeOnly bool) ([]CatalogEntry, error) {
	if kind != "" && !slices.Contains(domain.CatalogKinds, kind) {
		return nil, fmt.Errorf("%w: unknown catalog kind %q", ErrCatalogInvalidInput, kind)
	}
	entries, err := s.repo.List(ctx, repositories.CatalogFilter{Kind: kind, ActiveOnly: activeOnly})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

// Upsert creates or updates a catalog entry. Omitted fields keep their stored values.
func (s *catalogService) Upsert(ctx context.Context, cmd CatalogUpsertCommand) (CatalogEntry, error) {
	if !slices.Contains(domain.CatalogKinds, cmd.Kind) {
		return CatalogEntry{}, fmt.Errorf("%w: unknown catalog kind %q", ErrCatalogInvalidInput, cmd.Kind)
	}
	name := textutil.SanitizePlainText(cmd.Name)
	if name == "" {
		return CatalogEntry{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if textutil.RuneLength(name) > maxCatalogNameLength {
		return CatalogEntry{}, fmt.Errorf("%w: name must be at most %d characters", ErrCatalogInvalidInput, maxCatalogNameLength)
	}

	entry, err := s.repo.Get(ctx, cmd.Kind, name)
	switch {
	case err == nil:
	case isRepositoryNotFound(err):
		entry = CatalogEntry{Kind: cmd.Kind, Name: name, Active: true}
	default:
		return CatalogEntry{}, s.mapRepositoryError(err)
	}

	if cmd.Attributes != nil {
		entry.Attributes = textutil.CleanAttributes(cmd.Attributes, maxCatalogAttributeLength)
	}
	if cmd.Active != nil {
		entry.Active = *cmd.Active
	}
	if cmd.SortOrder != nil {
		if *cmd.SortOrder < 0 {
			return CatalogEntry{}, fmt.Errorf("%w: sortOrder must be at least 0", ErrCatalogInvalidInput)
		}
		entry.SortOrder = *cmd.SortOrder
	}
	if entry.Kind == domain.CatalogKindColor {
		if hex := entry.Attributes["hex"]; hex != "" && !hexColorPattern.MatchString(hex) {
			return CatalogEntry{}, fmt.Errorf("%w: hex must look like #RRGGBB", ErrCatalogInvalidInput)
		}
	}
	entry.UpdatedAt = s.clock()

	saved, err := s.repo.Upsert(ctx, entry)
	if err != nil {
		return CatalogEntry{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "catalog.entry.upserted", map[string]any{
		"kind":   string(saved.Kind),
		"name":   saved.Name,
		"active": saved.Active,
		"actor":  strings.TrimSpace(cmd.ActorID),
	})
	return saved, nil
}

func (s *catalogService) CaseTypes() []CaseType {
	out := make([]CaseType, len(s.caseTypes))
	copy(out, s.caseTypes)
	return out
}

func (s *catalogService) ValidateText(text string) TextValidation {
	return validateCustomText(text)
}

// CatalogAttributes returns a defensive copy of an entry's attributes.
func CatalogAttributes(entry CatalogEntry) map[string]string {
	if entry.Attributes == nil {
		return map[string]string{}
	}
	return maps.Clone(entry.Attributes)
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound(), repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
	}
	return fmt.Errorf("catalog service: %w", err)
}
