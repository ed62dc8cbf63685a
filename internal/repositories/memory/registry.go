package memory

import (
	"context"
	"sync"

	"github.com/casacustomz/api/internal/repositories"
)

// Registry bundles in-memory repositories for local development and tests.
type Registry struct {
	orders  *OrderRepository
	catalog *CatalogRepository
	admins  *AdminRepository
	health  repositories.HealthRepository

	txMu sync.Mutex
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs a registry with empty stores. Health may be nil.
func NewRegistry(health repositories.HealthRepository) *Registry {
	return &Registry{
		orders:  NewOrderRepository(),
		catalog: NewCatalogRepository(),
		admins:  NewAdminRepository(),
		health:  health,
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Admins() repositories.AdminRepository { return r.admins }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx serialises transactions so read-modify-write sequences do not interleave. There is no rollback.
func (r *Registry) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(ctx)
}
