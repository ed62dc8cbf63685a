package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/casacustomz/api/internal/payments"
	"github.com/casacustomz/api/internal/platform/config"
	"github.com/casacustomz/api/internal/platform/observability"
	"github.com/casacustomz/api/internal/repositories"
	"github.com/casacustomz/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing    services.PricingEngine
	Orders     services.OrderService
	Checkout   services.CheckoutService
	Reconciler services.WebhookReconciler
	Catalog    services.CatalogService
	Admins     services.AdminAuthService
	System     services.SystemService
}

// Deps carries the infrastructure that lives outside the repository registry.
type Deps struct {
	Gateway      payments.Gateway
	Events       services.OrderEventPublisher
	Unreconciled services.UnreconciledChargePublisher
	Tokens       services.AdminTokenIssuer
	Pricing      *services.PricingRules
	Build        services.BuildInfo
	Probes       map[string]services.HealthProbe
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests supply the in-memory registry and a
// stub gateway.
func NewContainer(cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("admin token issuer is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	svc, err := buildServices(cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, deps Deps) (Services, error) {
	var svc Services

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{Rules: deps.Pricing})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	numbers, err := services.NewOrderNumberAllocator(services.OrderNumberAllocatorDeps{
		Orders: reg.Orders(),
		Prefix: cfg.Checkout.OrderNumberPrefix,
		Clock:  deps.Clock,
		Logger: observability.EventLogger(deps.Logger, "order_number"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number allocator: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Numbers:    numbers,
		Pricing:    pricing,
		UnitOfWork: reg,
		Clock:      deps.Clock,
		Events:     deps.Events,
		Logger:     observability.EventLogger(deps.Logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Catalog, err = services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Clock:   deps.Clock,
		Logger:  observability.EventLogger(deps.Logger, "catalog"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:          svc.Orders,
		Pricing:         pricing,
		Gateway:         deps.Gateway,
		Catalog:         svc.Catalog,
		CaseTypes:       svc.Catalog.CaseTypes(),
		Clock:           deps.Clock,
		Logger:          observability.EventLogger(deps.Logger, "checkout"),
		PersistAttempts: cfg.Checkout.PersistAttempts,
		PersistBackoff:  cfg.Checkout.PersistBackoff,
		ReturnURL:       cfg.Checkout.ReturnURL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	svc.Reconciler, err = services.NewWebhookReconciler(services.WebhookReconcilerDeps{
		Orders:       svc.Orders,
		Gateway:      deps.Gateway,
		Unreconciled: deps.Unreconciled,
		Clock:        deps.Clock,
		Logger:       observability.EventLogger(deps.Logger, "webhooks"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build webhook reconciler: %w", err)
	}

	svc.Admins, err = services.NewAdminAuthService(services.AdminAuthServiceDeps{
		Admins:     reg.Admins(),
		Tokens:     deps.Tokens,
		SessionTTL: cfg.Admin.SessionTTL,
		BcryptCost: cfg.Admin.BcryptCost,
		Clock:      deps.Clock,
		Logger:     observability.EventLogger(deps.Logger, "admin_auth"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build admin auth service: %w", err)
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            deps.Clock,
			Build:            deps.Build,
			Probes:           deps.Probes,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
