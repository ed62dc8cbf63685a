package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories"
)

// CatalogRepository keeps product configuration entries in memory.
type CatalogRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.CatalogEntry
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs an empty catalog store.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{entries: make(map[string]domain.CatalogEntry)}
}

func catalogKey(kind domain.CatalogKind, name string) string {
	return string(kind) + "/" + strings.ToLower(strings.TrimSpace(name))
}

func (r *CatalogRepository) List(_ context.Context, filter repositories.CatalogFilter) ([]domain.CatalogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.CatalogEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if filter.Kind != "" && entry.Kind != filter.Kind {
			continue
		}
		if filter.ActiveOnly && !entry.Active {
			continue
		}
		result = append(result, cloneEntry(entry))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Kind != result[j].Kind {
			return result[i].Kind < result[j].Kind
		}
		if result[i].SortOrder != result[j].SortOrder {
			return result[i].SortOrder < result[j].SortOrder
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (r *CatalogRepository) Get(_ context.Context, kind domain.CatalogKind, name string) (domain.CatalogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[catalogKey(kind, name)]
	if !ok {
		return domain.CatalogEntry{}, notFound("catalog.get", "%s %q not found", kind, name)
	}
	return cloneEntry(entry), nil
}

func (r *CatalogRepository) Upsert(_ context.Context, entry domain.CatalogEntry) (domain.CatalogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[catalogKey(entry.Kind, entry.Name)] = cloneEntry(entry)
	return cloneEntry(entry), nil
}

func (r *CatalogRepository) InsertIfAbsent(_ context.Context, entry domain.CatalogEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := catalogKey(entry.Kind, entry.Name)
	if _, exists := r.entries[key]; exists {
		return false, nil
	}
	r.entries[key] = cloneEntry(entry)
	return true, nil
}

func cloneEntry(entry domain.CatalogEntry) domain.CatalogEntry {
	clone := entry
	if entry.Attributes != nil {
		clone.Attributes = make(map[string]string, len(entry.Attributes))
		for k, v := range entry.Attributes {
			clone.Attributes[k] = v
		}
	}
	return clone
}
