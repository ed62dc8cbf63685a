package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/requestctx"
)

// RateLimitPolicy is a per client IP budget for one group of routes.
type RateLimitPolicy struct {
	Name    string
	Limit   int
	Window  time.Duration
	Code    string
	Message string
}

var (
	// OrderCreationRateLimit guards POST /orders.
	OrderCreationRateLimit = RateLimitPolicy{
		Name:    "order_create",
		Limit:   3,
		Window:  5 * time.Minute,
		Code:    "order_rate_limited",
		Message: "too many order attempts, please wait before creating another order",
	}
	// PaymentRateLimit guards checkout and the payment intent endpoints.
	PaymentRateLimit = RateLimitPolicy{
		Name:    "payment",
		Limit:   5,
		Window:  10 * time.Minute,
		Code:    "payment_rate_limited",
		Message: "too many payment attempts, please wait before trying again",
	}
	loginRateLimit = RateLimitPolicy{
		Name:    "login",
		Limit:   loginAttemptsPerWindow,
		Window:  loginWindow,
		Code:    "rate_limited",
		Message: "too many login attempts",
	}
)

type rateLimiter interface {
	// Allow consumes one attempt for key. When the budget is spent it reports how long until reset.
	Allow(key string) (bool, time.Duration)
}

type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true, 0
	}

	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.store[key] = entry
	return true, 0
}

func (l *fixedWindowLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}

// RateLimit returns middleware enforcing policy per client IP. A nil clock uses time.Now; a policy
// without a positive limit and window disables limiting.
func RateLimit(policy RateLimitPolicy, clock func() time.Time) func(http.Handler) http.Handler {
	limiter := newFixedWindowLimiter(policy.Limit, policy.Window, clock)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowRequest(w, r, limiter, policy) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowRequest consumes an attempt for the caller and writes the 429 response when it is refused.
func allowRequest(w http.ResponseWriter, r *http.Request, limiter rateLimiter, policy RateLimitPolicy) bool {
	if limiter == nil {
		return true
	}
	ip := clientIP(r)
	ok, retryAfter := limiter.Allow(ip)
	if ok {
		return true
	}
	ctx := r.Context()
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	requestctx.Logger(ctx).Warn("rate limit exceeded",
		zap.String("policy", policy.Name),
		zap.String("ip", ip),
		zap.String("path", r.URL.Path),
	)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	httpx.WriteError(ctx, w, httpx.NewError(policy.Code, policy.Message, http.StatusTooManyRequests).WithDetails(map[string]any{
		"retryAfter": seconds,
	}))
	return false
}

func optionalMiddleware(mw func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	if mw == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{mw}
}
