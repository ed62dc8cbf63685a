package idempotency

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fixedClock() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func newCountingHandler(status int, body string) (http.Handler, *int32) {
	var calls int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}), &calls
}

func send(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	next, calls := newCountingHandler(http.StatusCreated, `{"orderNumber":"CC-1"}`)
	h := Middleware(NewMemoryStore(), Options{Clock: fixedClock})(next)

	first := send(h, "key-1", `{"a":1}`)
	second := send(h, "key-1", `{"a":1}`)

	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d %d", first.Code, second.Code)
	}
	if second.Body.String() != `{"orderNumber":"CC-1"}` {
		t.Fatalf("unexpected replay body %q", second.Body.String())
	}
	if second.Header().Get(replayHeader) != "true" || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected replay headers %v", second.Header())
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	next, _ := newCountingHandler(http.StatusCreated, `{}`)
	h := Middleware(NewMemoryStore(), Options{Clock: fixedClock})(next)

	send(h, "key-1", `{"a":1}`)
	rec := send(h, "key-1", `{"a":2}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestMiddlewareReleasesKeyOnServerErrorAndUnknownOutcome(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusAccepted} {
		next, calls := newCountingHandler(status, `{}`)
		h := Middleware(NewMemoryStore(), Options{Clock: fixedClock})(next)

		send(h, "key-1", `{}`)
		send(h, "key-1", `{}`)
		if *calls != 2 {
			t.Fatalf("status %d: expected retry to reach handler, got %d calls", status, *calls)
		}
	}
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	next, calls := newCountingHandler(http.StatusCreated, `{}`)
	h := Middleware(NewMemoryStore(), Options{})(next)

	send(h, "", `{}`)
	send(h, "", `{}`)
	if *calls != 2 {
		t.Fatalf("expected both requests handled, got %d", *calls)
	}
}

func TestMiddlewareReportsInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	next, _ := newCountingHandler(http.StatusCreated, `{}`)
	h := Middleware(store, Options{Clock: fixedClock})(next)

	key := hashKey("public", "/api/orders", "key-1")
	if _, _, err := store.Begin(context.Background(), key, hashKey(http.MethodPost, "/api/orders", `{}`), fixedClock(), time.Hour); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec := send(h, "key-1", `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %d", rec.Code)
	}
}

type failingStore struct{ MemoryStore }

func (failingStore) Begin(context.Context, string, string, time.Time, time.Duration) (State, Record, error) {
	return StateInFlight, Record{}, errors.New("store down")
}

func TestMiddlewareStoreFailureIsUnavailable(t *testing.T) {
	next, calls := newCountingHandler(http.StatusCreated, `{}`)
	h := Middleware(&failingStore{}, Options{})(next)

	rec := send(h, "key-1", `{}`)
	if rec.Code != http.StatusServiceUnavailable || *calls != 0 {
		t.Fatalf("expected 503 without calling handler, got %d (%d calls)", rec.Code, *calls)
	}
}

func TestMemoryStoreExpiryAndPurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := fixedClock()

	state, _, err := store.Begin(ctx, "k", "fp", now, time.Minute)
	if err != nil || state != StateNew {
		t.Fatalf("Begin: %v %v", state, err)
	}
	if err := store.Complete(ctx, "k", Record{Fingerprint: "fp", Status: 201, CreatedAt: now}, time.Minute); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	state, record, err := store.Begin(ctx, "k", "fp", now.Add(30*time.Second), time.Minute)
	if err != nil || state != StateCompleted || record.Status != 201 {
		t.Fatalf("expected completed replay, got %v %+v %v", state, record, err)
	}

	removed, err := store.Purge(ctx, now.Add(2*time.Minute), 10)
	if err != nil || removed != 1 {
		t.Fatalf("expected one purged key, got %d %v", removed, err)
	}
	state, _, _ = store.Begin(ctx, "k", "other", now.Add(3*time.Minute), time.Minute)
	if state != StateNew {
		t.Fatalf("expected purged key to be reusable, got %v", state)
	}
}
