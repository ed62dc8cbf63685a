package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/requestctx"
)

const (
	DefaultHeader = "Idempotency-Key"
	replayHeader  = "Idempotent-Replayed"
	maxKeyLength  = 255
)

// Options configure the middleware. Zero values take defaults.
type Options struct {
	Header string
	TTL    time.Duration
	Clock  func() time.Time
}

// Middleware replays the stored response when a request repeats an Idempotency-Key. Requests
// without the header pass through untouched. Server errors and 202 outcome-unknown responses
// release the key so that the client can retry.
func Middleware(store Store, opts Options) func(http.Handler) http.Handler {
	header := strings.TrimSpace(opts.Header)
	if header == "" {
		header = DefaultHeader
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := strings.TrimSpace(r.Header.Get(header))
			if rawKey == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(rawKey) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, httpx.DefaultBodyLimit))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := hashKey(scope(ctx), r.URL.Path, rawKey)
			fingerprint := hashKey(r.Method, r.URL.Path, string(body))
			logger := requestctx.Logger(ctx)

			state, record, err := store.Begin(ctx, key, fingerprint, clock().UTC(), ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency begin failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "request could not be processed, retry later", http.StatusServiceUnavailable))
				return
			}

			switch state {
			case StateCompleted:
				replay(w, record)
				return
			case StateInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("request_in_progress", "a request with this idempotency key is still in progress", http.StatusConflict))
				return
			}

			rec := &bufferedWriter{header: make(http.Header)}
			defer func() {
				// Keep the key usable if the handler panics.
				if p := recover(); p != nil {
					_ = store.Release(context.WithoutCancel(ctx), key)
					panic(p)
				}
			}()
			next.ServeHTTP(rec, r)

			storeCtx := context.WithoutCancel(ctx)
			if replayable(rec.status()) {
				completed := Record{
					Fingerprint: fingerprint,
					Status:      rec.status(),
					Header:      replayableHeader(rec.header),
					Body:        rec.body.Bytes(),
					CreatedAt:   clock().UTC(),
				}
				if err := store.Complete(storeCtx, key, completed, ttl); err != nil {
					logger.Warn("idempotency complete failed", zap.Error(err))
					_ = store.Release(storeCtx, key)
				}
			} else if err := store.Release(storeCtx, key); err != nil {
				logger.Warn("idempotency release failed", zap.Error(err))
			}
			rec.flush(w)
		})
	}
}

func replayable(status int) bool {
	return status < http.StatusInternalServerError && status != http.StatusAccepted
}

func scope(ctx context.Context) string {
	if actor, ok := requestctx.ActorFrom(ctx); ok {
		return string(actor.Kind) + ":" + actor.ID
	}
	return "public"
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	status := record.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}

type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.code == 0 {
		b.code = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.status())
	_, _ = w.Write(b.body.Bytes())
}

// RunJanitor purges expired keys every interval until ctx is done.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Purge(ctx, now.UTC(), batch)
			if err != nil {
				logger.Warn("idempotency purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency keys purged", zap.Int("removed", removed))
			}
		}
	}
}
