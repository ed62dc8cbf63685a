package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/casacustomz/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

type keyDocument struct {
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d keyDocument) record() Record {
	return Record{
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		Status:      d.Status,
		Header:      d.Header,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt.UTC(),
		ExpiresAt:   d.ExpiresAt.UTC(),
	}
}

func documentFromRecord(r Record) keyDocument {
	return keyDocument{
		Fingerprint: r.Fingerprint,
		Completed:   r.Completed,
		Status:      r.Status,
		Header:      r.Header,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
	}
}

// FirestoreStore keeps keys in the idempotency_keys collection. Begin runs in a transaction so two
// concurrent requests cannot both own a key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

func NewFirestoreStore(provider *pfirestore.Provider, collection string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}, nil
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(key), nil
}

func (s *FirestoreStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return StateInFlight, Record{}, err
	}

	var (
		state  State
		record Record
	)
	err = s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var existing keyDocument
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if current := existing.record(); !current.expired(now) {
				record = current
				state, err = classify(current, fingerprint)
				return err
			}
		}
		record = pendingRecord(fingerprint, now, ttl)
		state = StateNew
		return tx.Set(ref, documentFromRecord(record))
	})
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return StateInFlight, record, ErrFingerprintMismatch
		}
		return StateInFlight, Record{}, pfirestore.WrapError("idempotency.begin", err)
	}
	return state, record, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key string, record Record, ttl time.Duration) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record.Completed = true
	record.ExpiresAt = record.CreatedAt.Add(ttl)
	if _, err := ref.Set(ctx, documentFromRecord(record)); err != nil {
		return pfirestore.WrapError("idempotency.complete", err)
	}
	return nil
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	docs, err := client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Delete(doc.Ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}
