package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/casacustomz/api/internal/platform/requestctx"
)

func TestRequestLoggerLogsCompletionWithRoute(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, RequestLogger(logger, nil))
	router.Get("/api/orders/{orderNumber}", func(w http.ResponseWriter, r *http.Request) {
		if !requestctx.HasLogger(r.Context()) {
			t.Error("expected request logger on context")
		}
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/CC-1", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion line, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 404, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/api/orders/{orderNumber}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected status %v", fields["status"])
	}
	if fields["request_id"] == "" {
		t.Fatal("expected request id")
	}
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("expected panic to be logged")
	}
}

func TestTracePropagatesCloudTraceHeader(t *testing.T) {
	var seen requestctx.Trace
	handler := Trace("cc-prod")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.TraceFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected incoming trace id, got %q", seen.TraceID)
	}
	if seen.ProjectID != "cc-prod" {
		t.Fatalf("expected project id, got %q", seen.ProjectID)
	}
	if got := rec.Header().Get(cloudTraceHeader); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected echoed header %q", got)
	}
}

func TestParseCloudTraceRejectsMalformed(t *testing.T) {
	for _, header := range []string{"", "abc", "nothex/1", "105445aa7843bc8bf206b12000100000/zero", "105445aa7843bc8bf206b12000100000/0"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)

	logEvent := EventLogger(zap.New(baseCore), "checkout")
	logEvent(context.Background(), "checkout.price_mismatch", map[string]any{"difference": "1.00"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	logEvent(ctx, "checkout.persist_failed", map[string]any{"error": errors.New("unavailable")})

	if baseLogs.Len() != 1 || baseLogs.All()[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected mismatch on base logger at warn, got %v", baseLogs.All())
	}
	if reqLogs.Len() != 1 {
		t.Fatalf("expected request scoped entry, got %d", reqLogs.Len())
	}
	if reqLogs.All()[0].ContextMap()["event"] != "checkout.persist_failed" {
		t.Fatalf("unexpected fields %v", reqLogs.All()[0].ContextMap())
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest(context.Background(), http.MethodGet, "/", http.StatusOK)
	m.RecordCheckout(context.Background(), "created")
	m.RecordWebhook(context.Background(), "payment.succeeded", "created")

	metrics, err := NewMetrics(nil)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	metrics.RecordCheckout(context.Background(), "created")
}
