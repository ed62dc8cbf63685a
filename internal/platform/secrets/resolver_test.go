package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessor struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  map[string]int
}

func newFakeAccessor() *fakeAccessor {
	return &fakeAccessor{values: map[string]string{}, calls: map[string]int{}}
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeAccessor) Close() error { return nil }

func TestResolveSecretCachesUntilTTL(t *testing.T) {
	client := newFakeAccessor()
	client.values["projects/cc-prod/secrets/stripe-webhook/versions/latest"] = "whsec_123"
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	resolver := newResolver(client, Options{ProjectID: "cc-prod", CacheTTL: time.Minute, Clock: func() time.Time { return now }})

	for i := 0; i < 2; i++ {
		value, err := resolver.ResolveSecret(context.Background(), "secret://stripe/webhook")
		if err != nil || value != "whsec_123" {
			t.Fatalf("ResolveSecret = %q, %v", value, err)
		}
	}
	if got := client.calls["projects/cc-prod/secrets/stripe-webhook/versions/latest"]; got != 1 {
		t.Fatalf("expected 1 remote call, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := resolver.ResolveSecret(context.Background(), "sm://stripe/webhook"); err != nil {
		t.Fatalf("ResolveSecret after ttl: %v", err)
	}
	if got := client.calls["projects/cc-prod/secrets/stripe-webhook/versions/latest"]; got != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", got)
	}
}

func TestResolveSecretHonoursVersionAndProject(t *testing.T) {
	client := newFakeAccessor()
	client.values["projects/other/secrets/admin-jwt/versions/3"] = "pinned"
	resolver := newResolver(client, Options{ProjectID: "cc-prod"})

	value, err := resolver.ResolveSecret(context.Background(), "secret://admin/jwt?version=3&project=other")
	if err != nil || value != "pinned" {
		t.Fatalf("ResolveSecret = %q, %v", value, err)
	}
}

func TestResolveSecretFallsBackWhenUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	content := "# local overrides\nsecret://stripe/webhook=whsec_local==\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeAccessor()
	client.err = status.Error(codes.Unavailable, "dial failed")
	resolver := newResolver(client, Options{ProjectID: "cc-prod", FallbackFile: path})

	value, err := resolver.ResolveSecret(context.Background(), "secret://stripe/webhook")
	if err != nil || value != "whsec_local==" {
		t.Fatalf("ResolveSecret = %q, %v", value, err)
	}

	if _, err := resolver.ResolveSecret(context.Background(), "secret://missing"); err == nil {
		t.Fatal("expected error for secret absent from fallback")
	}
}

func TestResolveSecretDoesNotFallBackOnNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://stripe/webhook=local\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	resolver := newResolver(newFakeAccessor(), Options{ProjectID: "cc-prod", FallbackFile: path})

	if _, err := resolver.ResolveSecret(context.Background(), "secret://stripe/webhook"); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolveSecretWithoutClientUsesFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://admin/jwt=local-signing-key\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	resolver := newResolver(nil, Options{FallbackFile: path})

	value, err := resolver.ResolveSecret(context.Background(), "secret://admin/jwt")
	if err != nil || value != "local-signing-key" {
		t.Fatalf("ResolveSecret = %q, %v", value, err)
	}
}

func TestParseRefRejectsInvalidReferences(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseRef(ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}
