package repositories

import (
	"context"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Catalog() CatalogRepository
	Admins() AdminRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders. Insert must reject a second order for the same payment
// authorization or order number with a *ConstraintError.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindByAuthorizationID(ctx context.Context, authorizationID string) (domain.Order, error)
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error)
}

// CatalogRepository stores product configuration entries keyed by kind and name.
type CatalogRepository interface {
	List(ctx context.Context, filter CatalogFilter) ([]domain.CatalogEntry, error)
	Get(ctx context.Context, kind domain.CatalogKind, name string) (domain.CatalogEntry, error)
	Upsert(ctx context.Context, entry domain.CatalogEntry) (domain.CatalogEntry, error)
	// InsertIfAbsent stores the entry only when no entry with the same kind and name exists.
	InsertIfAbsent(ctx context.Context, entry domain.CatalogEntry) (bool, error)
}

// AdminRepository persists operator accounts for the admin surface.
type AdminRepository interface {
	Count(ctx context.Context) (int, error)
	Insert(ctx context.Context, account domain.AdminAccount) error
	Update(ctx context.Context, account domain.AdminAccount) error
	FindByID(ctx context.Context, accountID string) (domain.AdminAccount, error)
	FindByUsername(ctx context.Context, username string) (domain.AdminAccount, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderSortField selects the ordering column for admin listings.
type OrderSortField string

const (
	OrderSortCreatedAt   OrderSortField = "createdAt"
	OrderSortTotal       OrderSortField = "total"
	OrderSortOrderNumber OrderSortField = "orderNumber"
	OrderSortStatus      OrderSortField = "status"
)

// OrderListFilter narrows admin order listings. Page is one-based.
type OrderListFilter struct {
	Status    []domain.OrderStatus
	Search    string
	DateRange domain.RangeQuery[time.Time]
	SortBy    OrderSortField
	SortOrder domain.SortOrder
	Page      int
	Limit     int
}

// CatalogFilter narrows catalog listings.
type CatalogFilter struct {
	Kind       domain.CatalogKind
	ActiveOnly bool
}
