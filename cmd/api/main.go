package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/casacustomz/api/internal/di"
	"github.com/casacustomz/api/internal/handlers"
	"github.com/casacustomz/api/internal/payments"
	"github.com/casacustomz/api/internal/platform/auth"
	"github.com/casacustomz/api/internal/platform/config"
	pfirestore "github.com/casacustomz/api/internal/platform/firestore"
	"github.com/casacustomz/api/internal/platform/idempotency"
	"github.com/casacustomz/api/internal/platform/jobs"
	"github.com/casacustomz/api/internal/platform/observability"
	"github.com/casacustomz/api/internal/platform/secrets"
	"github.com/casacustomz/api/internal/repositories"
	firestoreRepo "github.com/casacustomz/api/internal/repositories/firestore"
	"github.com/casacustomz/api/internal/repositories/memory"
	"github.com/casacustomz/api/internal/services"
)

const secretHealthReference = "secret://system/healthz?version=latest"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	logger = logger.With(zap.String("version", buildInfo.Version), zap.String("environment", buildInfo.Environment))

	var pricingRules *services.PricingRules
	if path := strings.TrimSpace(cfg.Checkout.PricingRulesFile); path != "" {
		rules, err := config.LoadPricingRules(path)
		if err != nil {
			logger.Fatal("failed to load pricing rules", zap.String("path", path), zap.Error(err))
		}
		pricingRules = &rules
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := newRegistry(cfg, firestoreProvider, resolver)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	events, err := openEventPublishers(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise event publishers", zap.Error(err))
	}
	defer events.close()

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       cfg.Stripe.Timeout,
		Logger:        observability.EventLogger(logger, "payments"),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}

	sessions, err := auth.NewSessionIssuer(cfg.Admin.JWTSigningKey, time.Now)
	if err != nil {
		logger.Fatal("failed to initialise admin session issuer", zap.Error(err))
	}

	idemStore, probes, err := openIdempotencyStore(cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, registry, di.Deps{
		Gateway:      gateway,
		Events:       events.orders,
		Unreconciled: events.unreconciled,
		Tokens:       sessions,
		Pricing:      pricingRules,
		Build:        buildInfo,
		Probes:       probes,
		Logger:       logger,
		Clock:        time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	seedCtx, seedCancel := context.WithTimeout(ctx, 30*time.Second)
	if _, err := svc.Catalog.EnsureDefaults(seedCtx); err != nil {
		logger.Warn("catalog defaults not seeded", zap.Error(err))
	}
	seedCancel()

	var firebaseAdmins auth.FirebaseAdmins
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		verifier, err := auth.NewFirebaseAdminVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		firebaseAdmins = verifier
	}
	requireAdmin := auth.RequireAdmin(svc.Admins, firebaseAdmins)
	requireService := auth.RequireService(buildOIDCVerifier(logger.Named("auth"), cfg))

	metrics, err := observability.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Warn("metrics disabled", zap.Error(err))
	}

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	var janitorWG sync.WaitGroup
	janitorWG.Add(1)
	go func() {
		defer janitorWG.Done()
		idempotency.RunJanitor(janitorCtx, idemStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Checkout, requireAdmin, metrics,
		handlers.WithOrderCreationLimit(handlers.RateLimit(handlers.OrderCreationRateLimit, time.Now)),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(handlers.CheckoutHandlersDeps{
		Checkout:       svc.Checkout,
		Pricing:        svc.Pricing,
		PublishableKey: cfg.Stripe.PublishableKey,
		RequireAdmin:   requireAdmin,
		PaymentLimit:   handlers.RateLimit(handlers.PaymentRateLimit, time.Now),
		Metrics:        metrics,
	})
	productHandlers := handlers.NewProductHandlers(svc.Catalog, svc.Pricing, requireAdmin)
	authHandlers := handlers.NewAuthHandlers(svc.Admins)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Reconciler, metrics)
	internalHandlers := handlers.NewInternalHandlers(svc.Reconciler, metrics)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	httpLogger := logger.Named("http")
	middlewares := []func(http.Handler) http.Handler{
		handlers.CORS(cfg.Server.CORSOrigins),
		observability.Trace(traceProjectID(cfg)),
		observability.RequestLogger(httpLogger, metrics),
		observability.Recovery(httpLogger),
	}

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithIdempotency(idempotency.Middleware(idemStore, idempotency.Options{
		Header: cfg.Idempotency.Header,
		TTL:    cfg.Idempotency.TTL,
	})))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	opts = append(opts, handlers.WithCheckoutRoutes(checkoutHandlers.CheckoutRoutes))
	opts = append(opts, handlers.WithPaymentRoutes(checkoutHandlers.PaymentRoutes))
	opts = append(opts, handlers.WithProductRoutes(productHandlers.Routes))
	opts = append(opts, handlers.WithAuthRoutes(authHandlers.Routes))
	opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
	opts = append(opts, handlers.WithInternalRoutes(internalHandlers.Routes))
	opts = append(opts, handlers.WithInternalMiddlewares(requireService))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("casacustomz api listening", zap.String("storage", cfg.Storage.Driver), zap.String("events", cfg.Events.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	janitorCancel()
	janitorWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newRegistry selects the order store. Readiness probes the store and, when configured,
// Secret Manager.
func newRegistry(cfg config.Config, provider *pfirestore.Provider, resolver *secrets.Resolver) (repositories.Registry, error) {
	checks := []repositories.DependencyCheck{secretManagerCheck(resolver)}

	switch cfg.Storage.Driver {
	case "memory":
		checks = append(checks, repositories.DependencyCheck{
			Name:     "orders",
			Critical: true,
			Check:    func(context.Context) error { return nil },
		})
		health, err := repositories.NewDependencyHealthRepository(checks)
		if err != nil {
			return nil, err
		}
		return memory.NewRegistry(health), nil
	case "firestore":
		var reg *firestoreRepo.Registry
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check: func(ctx context.Context) error {
				return reg.Ping(ctx)
			},
		})
		health, err := repositories.NewDependencyHealthRepository(checks)
		if err != nil {
			return nil, err
		}
		reg, err = firestoreRepo.NewRegistry(provider, health)
		if err != nil {
			return nil, err
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func secretManagerCheck(resolver *secrets.Resolver) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := resolver.ResolveSecret(ctx, secretHealthReference)
			if err == nil || status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

type eventPublishers struct {
	orders       services.OrderEventPublisher
	unreconciled services.UnreconciledChargePublisher
	closers      []func()
}

func (e eventPublishers) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// openEventPublishers returns nil publishers for the "none" driver; the services then only log.
func openEventPublishers(ctx context.Context, cfg config.Config) (eventPublishers, error) {
	var out eventPublishers
	switch cfg.Events.Driver {
	case "", "none":
		return out, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSubProjectID)
		if err != nil {
			return out, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := jobs.OpenPubSubPublisher(client, cfg.Events.OrderTopic, cfg.Events.UnreconciledTopic)
		if err != nil {
			_ = client.Close()
			return out, err
		}
		out.orders, out.unreconciled = publisher, publisher
		out.closers = append(out.closers, func() { _ = client.Close() }, publisher.Stop)
		return out, nil
	case "kafka":
		publisher, err := jobs.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.OrderTopic, cfg.Events.UnreconciledTopic)
		if err != nil {
			return out, err
		}
		out.orders, out.unreconciled = publisher, publisher
		out.closers = append(out.closers, func() { _ = publisher.Close() })
		return out, nil
	default:
		return out, fmt.Errorf("unsupported events driver %q", cfg.Events.Driver)
	}
}

// openIdempotencyStore also returns readiness probes for stores that live outside the order store.
func openIdempotencyStore(cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, map[string]services.HealthProbe, error) {
	switch cfg.Idempotency.Store {
	case "", "memory":
		return idempotency.NewMemoryStore(), nil, nil
	case "firestore":
		store, err := idempotency.NewFirestoreStore(provider, "")
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Idempotency.RedisAddr,
			Password: cfg.Idempotency.RedisPassword,
		})
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			return nil, nil, err
		}
		return store, map[string]services.HealthProbe{"idempotencyCache": store.Ping}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store %q", cfg.Idempotency.Store)
	}
}

// buildOIDCVerifier returns nil when no audience is configured; internal routes then answer 503.
func buildOIDCVerifier(logger *zap.Logger, cfg config.Config) *auth.OIDCVerifier {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" || strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("auth: OIDC not configured; internal routes will reject requests")
		return nil
	}
	keys := auth.NewKeySet(oidc.JWKSURL, &http.Client{Timeout: 5 * time.Second}, time.Now)
	verifier, err := auth.NewOIDCVerifier(keys, oidc.Audience, oidc.Issuers, time.Now)
	if err != nil {
		logger.Warn("auth: OIDC verifier init failed", zap.Error(err))
		return nil
	}
	return verifier
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	projectID := lookup("API_SECRET_PROJECT_ID")
	if projectID == "" {
		projectID = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := secrets.Options{
		ProjectID:    projectID,
		FallbackFile: fallbackPath,
		Logger:       logger.Named("secrets"),
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts.ClientOptions = append(opts.ClientOptions, option.WithCredentialsFile(credentialsFile))
	}
	return secrets.NewResolver(ctx, opts)
}

// requiredSecretNames lists the config fields that must resolve to a value before the server starts.
// The Redis password is only required when the Redis idempotency store is selected.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Stripe.SecretKey",
		"Stripe.WebhookSecret",
		"Admin.JWTSigningKey",
	}
	if env != nil && strings.EqualFold(strings.TrimSpace(env["API_IDEMPOTENCY_STORE"]), "redis") &&
		strings.TrimSpace(env["API_IDEMPOTENCY_REDIS_PASSWORD"]) != "" {
		required = append(required, "Idempotency.RedisPassword")
	}
	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
