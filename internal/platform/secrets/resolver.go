// Package secrets resolves secret:// references against Google Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCacheTTL = 10 * time.Minute
	meterName       = "github.com/casacustomz/api/internal/platform/secrets"
)

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Options configures a Resolver.
type Options struct {
	ProjectID string
	// FallbackFile holds "secret://name=value" lines, without query strings, used when Secret Manager is unreachable.
	FallbackFile  string
	CacheTTL      time.Duration
	Logger        *zap.Logger
	ClientOptions []option.ClientOption
	Clock         func() time.Time
}

// Resolver reads secrets from Secret Manager with an in-process cache. It satisfies
// config.SecretResolver.
type Resolver struct {
	client    accessor
	projectID string
	ttl       time.Duration
	logger    *zap.Logger
	clock     func() time.Time
	latency   metric.Float64Histogram

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value   string
	expires time.Time
}

// NewResolver dials Secret Manager. A dial failure leaves the resolver in fallback-only mode.
func NewResolver(ctx context.Context, opts Options) (*Resolver, error) {
	r := newResolver(nil, opts)
	client, err := secretmanager.NewClient(ctx, opts.ClientOptions...)
	if err != nil {
		r.logger.Warn("secret manager unavailable; using fallback file only", zap.Error(err))
		return r, nil
	}
	r.client = client
	return r, nil
}

func newResolver(client accessor, opts Options) *Resolver {
	r := &Resolver{
		client:       client,
		projectID:    strings.TrimSpace(opts.ProjectID),
		ttl:          opts.CacheTTL,
		logger:       opts.Logger,
		clock:        opts.Clock,
		fallbackPath: strings.TrimSpace(opts.FallbackFile),
		cache:        make(map[string]cachedSecret),
	}
	if r.ttl <= 0 {
		r.ttl = defaultCacheTTL
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	histogram, err := otel.GetMeterProvider().Meter(meterName).Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret Manager access latency"),
	)
	if err == nil {
		r.latency = histogram
	}
	return r
}

func (r *Resolver) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// ResolveSecret returns the payload for refs like secret://stripe/webhook?version=3&project=prod.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	key := parsed.canonical + "#" + parsed.version

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && r.clock().Before(entry.expires) {
		r.mu.Unlock()
		return entry.value, nil
	}
	r.mu.Unlock()

	value, err := r.access(ctx, parsed)
	if err != nil {
		if !fallbackEligible(err) {
			return "", err
		}
		if fb, ok := r.lookupFallback(parsed.canonical); ok {
			r.logger.Warn("secret resolved from fallback file", zap.String("secret", parsed.name), zap.Error(err))
			return fb, nil
		}
		return "", err
	}

	r.mu.Lock()
	r.cache[key] = cachedSecret{value: value, expires: r.clock().Add(r.ttl)}
	r.mu.Unlock()
	return value, nil
}

func (r *Resolver) access(ctx context.Context, ref secretRef) (string, error) {
	if r.client == nil {
		return "", status.Error(codes.Unavailable, "secret manager client not configured")
	}
	project := ref.project
	if project == "" {
		project = r.projectID
	}
	if project == "" {
		return "", fmt.Errorf("secrets: no project for %s", ref.canonical)
	}

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	start := time.Now()
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if r.latency != nil {
		r.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(attribute.Bool("error", err != nil)))
	}
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) lookupFallback(canonical string) (string, bool) {
	r.fallbackOnce.Do(func() {
		r.fallback = map[string]string{}
		if r.fallbackPath == "" {
			return
		}
		file, err := os.Open(r.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("open secret fallback file", zap.Error(err))
			}
			return
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			name, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			ref, err := parseRef(strings.TrimSpace(name))
			if err != nil {
				continue
			}
			r.fallback[ref.canonical] = strings.TrimSpace(value)
		}
	})
	value, ok := r.fallback[canonical]
	return value, ok
}

type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseRef(ref string) (secretRef, error) {
	trimmed := strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		trimmed = "secret://" + rest
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q", ref)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	// Secret Manager ids cannot contain "/", so path segments are joined with "-".
	name = strings.ReplaceAll(name, "/", "-")
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return secretRef{
		canonical: "secret://" + name,
		name:      name,
		version:   version,
		project:   strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
