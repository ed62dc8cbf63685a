package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/casacustomz/api/internal/platform/config"
)

func TestTransactionFromContext(t *testing.T) {
	if _, ok := TransactionFromContext(context.Background()); ok {
		t.Fatal("expected no transaction on a bare context")
	}
	tx := &firestore.Transaction{}
	got, ok := TransactionFromContext(WithTransaction(context.Background(), tx))
	if !ok || got != tx {
		t.Fatalf("expected bound transaction, got %v %v", got, ok)
	}
}

func TestProviderRunTransactionJoinsBoundTransaction(t *testing.T) {
	provider := NewProvider(config.FirestoreConfig{})
	tx := &firestore.Transaction{}
	ctx := WithTransaction(context.Background(), tx)

	var seen *firestore.Transaction
	err := provider.RunTransaction(ctx, func(_ context.Context, inner *firestore.Transaction) error {
		seen = inner
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if seen != tx {
		t.Fatal("expected the bound transaction to be reused without creating a client")
	}
}

type constraintLike struct{}

func (constraintLike) Error() string       { return "duplicate" }
func (constraintLike) IsNotFound() bool    { return false }
func (constraintLike) IsConflict() bool    { return true }
func (constraintLike) IsUnavailable() bool { return false }

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "not found", err: status.Error(codes.NotFound, "missing"), notFound: true},
		{name: "already exists", err: status.Error(codes.AlreadyExists, "dup"), conflict: true},
		{name: "unavailable", err: status.Error(codes.Unavailable, "down"), unavailable: true},
		{name: "classified passthrough", err: constraintLike{}, conflict: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("orders.get", tc.err)
			var cls interface {
				IsNotFound() bool
				IsConflict() bool
				IsUnavailable() bool
			}
			if !errors.As(wrapped, &cls) {
				t.Fatalf("expected classified error, got %T", wrapped)
			}
			if cls.IsNotFound() != tc.notFound || cls.IsConflict() != tc.conflict || cls.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %v", wrapped)
			}
		})
	}

	if err := WrapError("orders.get", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation passthrough, got %v", err)
	}
}
