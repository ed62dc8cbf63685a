package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. It is used by tests and the memory storage driver.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && !existing.expired(now) {
		state, err := classify(existing, fingerprint)
		return state, existing, err
	}
	record := pendingRecord(fingerprint, now, ttl)
	s.records[key] = record
	return StateNew, record, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, record Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && existing.Fingerprint != record.Fingerprint {
		return ErrFingerprintMismatch
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record.Completed = true
	record.Body = append([]byte(nil), record.Body...)
	record.ExpiresAt = record.CreatedAt.Add(ttl)
	s.records[key] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}
