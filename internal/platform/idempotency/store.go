// Package idempotency replays stored responses for repeated Idempotency-Key requests.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the outcome of beginning a request under a key.
type State int

const (
	// StateNew means the caller owns the key and must Complete or Release it.
	StateNew State = iota
	// StateCompleted means Record holds a response to replay.
	StateCompleted
	// StateInFlight means another request holds the key.
	StateInFlight
)

// Record is the stored state of one key.
type Record struct {
	Fingerprint string              `json:"fingerprint"`
	Completed   bool                `json:"completed"`
	Status      int                 `json:"status,omitempty"`
	Header      map[string][]string `json:"header,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store persists keys. Keys passed in are already scoped and hashed.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error)
	Complete(ctx context.Context, key string, record Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	// Purge deletes up to limit expired keys and reports how many were removed.
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

func pendingRecord(fingerprint string, now time.Time, ttl time.Duration) Record {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Record{Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// classify decides what an existing, unexpired record means for a new attempt.
func classify(existing Record, fingerprint string) (State, error) {
	if existing.Fingerprint != fingerprint {
		return StateInFlight, ErrFingerprintMismatch
	}
	if existing.Completed {
		return StateCompleted, nil
	}
	return StateInFlight, nil
}

func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// replayableHeader drops hop-by-hop and per-response headers.
func replayableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade", "trailer":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
