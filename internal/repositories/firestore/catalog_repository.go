package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/casacustomz/api/internal/domain"
	pfirestore "github.com/casacustomz/api/internal/platform/firestore"
	"github.com/casacustomz/api/internal/repositories"
)

const catalogCollection = "catalog"

type catalogDocument struct {
	Kind       string            `firestore:"kind"`
	Name       string            `firestore:"name"`
	Attributes map[string]string `firestore:"attributes,omitempty"`
	Active     bool              `firestore:"active"`
	SortOrder  int               `firestore:"sortOrder"`
	UpdatedAt  time.Time         `firestore:"updatedAt"`
}

// CatalogRepository implements repositories.CatalogRepository. Documents are keyed by kind and the
// lowercased name so lookups are case insensitive.
type CatalogRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.BaseRepository[catalogDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider: provider,
		entries:  pfirestore.NewBaseRepository[catalogDocument](provider, catalogCollection, nil, nil),
	}, nil
}

func catalogDocID(kind domain.CatalogKind, name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "/", "_")
	return string(kind) + ":" + key
}

func (r *CatalogRepository) List(ctx context.Context, filter repositories.CatalogFilter) ([]domain.CatalogEntry, error) {
	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Kind != "" {
			q = q.Where("kind", "==", string(filter.Kind))
		}
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.CatalogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, decodeCatalogEntry(doc.Data))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		if entries[i].SortOrder != entries[j].SortOrder {
			return entries[i].SortOrder < entries[j].SortOrder
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func (r *CatalogRepository) Get(ctx context.Context, kind domain.CatalogKind, name string) (domain.CatalogEntry, error) {
	doc, err := r.entries.Get(ctx, catalogDocID(kind, name))
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	return decodeCatalogEntry(doc.Data), nil
}

func (r *CatalogRepository) Upsert(ctx context.Context, entry domain.CatalogEntry) (domain.CatalogEntry, error) {
	if _, err := r.entries.Set(ctx, catalogDocID(entry.Kind, entry.Name), encodeCatalogEntry(entry)); err != nil {
		return domain.CatalogEntry{}, err
	}
	return entry, nil
}

// InsertIfAbsent relies on Create failing with AlreadyExists so concurrent seeders never
// overwrite an entry an admin has edited.
func (r *CatalogRepository) InsertIfAbsent(ctx context.Context, entry domain.CatalogEntry) (bool, error) {
	ref, err := r.entries.DocumentRef(ctx, catalogDocID(entry.Kind, entry.Name))
	if err != nil {
		return false, err
	}
	if _, err := ref.Create(ctx, encodeCatalogEntry(entry)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, pfirestore.WrapError("catalog.insert_if_absent", err)
	}
	return true, nil
}

func encodeCatalogEntry(entry domain.CatalogEntry) catalogDocument {
	return catalogDocument{
		Kind:       string(entry.Kind),
		Name:       entry.Name,
		Attributes: entry.Attributes,
		Active:     entry.Active,
		SortOrder:  entry.SortOrder,
		UpdatedAt:  entry.UpdatedAt.UTC(),
	}
}

func decodeCatalogEntry(doc catalogDocument) domain.CatalogEntry {
	return domain.CatalogEntry{
		Kind:       domain.CatalogKind(doc.Kind),
		Name:       doc.Name,
		Attributes: doc.Attributes,
		Active:     doc.Active,
		SortOrder:  doc.SortOrder,
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
}
