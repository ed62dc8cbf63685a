package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/casacustomz/api/internal/repositories"
)

const (
	defaultOrderNumberPrefix   = "LICC"
	defaultOrderNumberAttempts = 5
	orderNumberSuffixSpace     = 10000
)

var (
	// ErrOrderNumberExhausted indicates every candidate collided. Callers may retry later.
	ErrOrderNumberExhausted = errors.New("order number: attempts exhausted")
)

// OrderNumberAllocatorDeps configures the allocator.
type OrderNumberAllocatorDeps struct {
	Orders      repositories.OrderRepository
	Prefix      string
	MaxAttempts int
	Clock       func() time.Time
	// Suffix returns a value in [0, 10000). Defaults to crypto/rand.
	Suffix func() (int, error)
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderNumberAllocator struct {
	orders      repositories.OrderRepository
	prefix      string
	maxAttempts int
	clock       func() time.Time
	suffix      func() (int, error)
	logger      func(context.Context, string, map[string]any)
}

// NewOrderNumberAllocator constructs an allocator that checks candidates against the order store.
func NewOrderNumberAllocator(deps OrderNumberAllocatorDeps) (OrderNumberAllocator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order number allocator: order repository is required")
	}

	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}

	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultOrderNumberAttempts
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	suffix := deps.Suffix
	if suffix == nil {
		suffix = cryptoSuffix
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderNumberAllocator{
		orders:      deps.Orders,
		prefix:      prefix,
		maxAttempts: attempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		suffix: suffix,
		logger: logger,
	}, nil
}

// Generate formats a candidate for the given day. It does not check uniqueness.
func (a *orderNumberAllocator) Generate(now time.Time) string {
	n, err := a.suffix()
	if err != nil {
		n = int(now.UnixNano() % orderNumberSuffixSpace)
	}
	return formatOrderNumber(a.prefix, now, n)
}

func (a *orderNumberAllocator) Allocate(ctx context.Context) (string, error) {
	now := a.clock()
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := a.Generate(now)
		exists, err := a.orders.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("order number: check %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		a.logger(ctx, "order_number.collision", map[string]any{
			"candidate": candidate,
			"attempt":   attempt,
		})
	}
	return "", fmt.Errorf("%w after %d attempts", ErrOrderNumberExhausted, a.maxAttempts)
}

func formatOrderNumber(prefix string, now time.Time, suffix int) string {
	if suffix < 0 {
		suffix = -suffix
	}
	return fmt.Sprintf("%s%s%04d", prefix, now.UTC().Format("060102"), suffix%orderNumberSuffixSpace)
}

func cryptoSuffix() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(orderNumberSuffixSpace))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
