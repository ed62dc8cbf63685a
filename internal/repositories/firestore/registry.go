package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/casacustomz/api/internal/platform/firestore"
	"github.com/casacustomz/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories around one shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	catalog  *CatalogRepository
	admins   *AdminRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repositories. Health may be nil when readiness probes are not wired.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	admins, err := NewAdminRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		catalog:  catalog,
		admins:   admins,
		health:   health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Admins() repositories.AdminRepository { return r.admins }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn inside a Firestore transaction. Repositories called with the context handed to fn
// read and write through that transaction. Errors returned by fn are passed back unchanged.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var fnErr error
	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		fnErr = fn(txCtx)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

// Ping verifies Firestore is reachable by reading a sentinel document. A missing document is healthy.
func (r *Registry) Ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(ordersCollection).Doc("_readiness").Get(ctx)
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if wrapped := pfirestore.WrapError("firestore.ping", err); errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
		return nil
	}
	return pfirestore.WrapError("firestore.ping", err)
}
