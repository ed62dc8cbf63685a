package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories/memory"
)

type fakeTokenIssuer struct {
	mu     sync.Mutex
	issued map[string]domain.AdminSessionClaims
}

func (f *fakeTokenIssuer) IssueAdminToken(claims domain.AdminSessionClaims) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issued == nil {
		f.issued = map[string]domain.AdminSessionClaims{}
	}
	token := "tok_" + claims.AccountID + "_" + claims.IssuedAt.Format(time.RFC3339Nano)
	f.issued[token] = claims
	return token, nil
}

func (f *fakeTokenIssuer) ParseAdminToken(token string) (domain.AdminSessionClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims, ok := f.issued[token]
	if !ok {
		return domain.AdminSessionClaims{}, errors.New("unknown token")
	}
	return claims, nil
}

type adminFixture struct {
	svc    AdminAuthService
	repo   *memory.AdminRepository
	clock  *testClock
	tokens *fakeTokenIssuer
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	repo := memory.NewAdminRepository()
	clock := newTestClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	tokens := &fakeTokenIssuer{}
	svc, err := NewAdminAuthService(AdminAuthServiceDeps{
		Admins:     repo,
		Tokens:     tokens,
		BcryptCost: bcrypt.MinCost,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("NewAdminAuthService: %v", err)
	}
	return &adminFixture{svc: svc, repo: repo, clock: clock, tokens: tokens}
}

func TestAdminSetupCreatesSuperAdminOnce(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	needs, err := f.svc.NeedsSetup(ctx)
	if err != nil || !needs {
		t.Fatalf("expected setup to be required, got %v err %v", needs, err)
	}

	session, err := f.svc.Setup(ctx, AdminSetupCommand{Username: "owner", Email: "Owner@Example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if session.Token == "" || session.Account.Role != domain.AdminRoleSuperAdmin || session.Account.PasswordHash != "" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !strings.HasPrefix(session.Account.ID, "adm_") || session.Account.Email != "owner@example.com" {
		t.Fatalf("unexpected account %+v", session.Account)
	}
	if want := f.clock.Now().Add(24 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Fatalf("expected 24h session, got %v", session.ExpiresAt)
	}

	stored, err := f.repo.FindByUsername(ctx, "owner")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("correct horse")) != nil {
		t.Fatal("expected bcrypt hash to be stored")
	}

	if _, err := f.svc.Setup(ctx, AdminSetupCommand{Username: "second", Email: "s@example.com", Password: "password123"}); !errors.Is(err, ErrAdminSetupComplete) {
		t.Fatalf("expected second setup to be rejected, got %v", err)
	}
}

func TestAdminSetupValidatesInput(t *testing.T) {
	f := newAdminFixture(t)

	_, err := f.svc.Setup(context.Background(), AdminSetupCommand{Username: "a", Email: "nope", Password: "short"})
	if !errors.Is(err, ErrAdminInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got := len(FieldErrors(err)); got != 3 {
		t.Fatalf("expected three field errors, got %v", FieldErrors(err))
	}
}

func TestAdminLoginAndVerify(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Setup(ctx, AdminSetupCommand{Username: "owner", Email: "owner@example.com", Password: "correct horse"}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	f.clock.Advance(time.Hour)

	session, err := f.svc.Login(ctx, AdminLoginCommand{Username: "OWNER", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	account, err := f.svc.Verify(ctx, session.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if account.Username != "owner" || account.PasswordHash != "" {
		t.Fatalf("unexpected account %+v", account)
	}
	if account.LastLoginAt == nil || !account.LastLoginAt.Equal(f.clock.Now()) {
		t.Fatalf("expected last login to be stamped, got %v", account.LastLoginAt)
	}

	f.clock.Advance(25 * time.Hour)
	if _, err := f.svc.Verify(ctx, session.Token); !errors.Is(err, ErrAdminUnauthorized) {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}
}

func TestAdminLoginRejectsBadCredentials(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Setup(ctx, AdminSetupCommand{Username: "owner", Email: "owner@example.com", Password: "correct horse"}); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	tests := []AdminLoginCommand{
		{Username: "owner", Password: "wrong password"},
		{Username: "ghost", Password: "correct horse"},
	}
	for _, cmd := range tests {
		if _, err := f.svc.Login(ctx, cmd); !errors.Is(err, ErrAdminInvalidCredentials) {
			t.Errorf("Login(%s) expected invalid credentials, got %v", cmd.Username, err)
		}
	}
	if _, err := f.svc.Login(ctx, AdminLoginCommand{Username: "owner"}); !errors.Is(err, ErrAdminInvalidInput) {
		t.Fatalf("expected missing password to be invalid input, got %v", err)
	}
}

func TestAdminVerifyRejectsDisabledAccount(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	session, err := f.svc.Setup(ctx, AdminSetupCommand{Username: "owner", Email: "owner@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	stored, _ := f.repo.FindByID(ctx, session.Account.ID)
	stored.Active = false
	if err := f.repo.Update(ctx, stored); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := f.svc.Verify(ctx, session.Token); !errors.Is(err, ErrAdminUnauthorized) {
		t.Fatalf("expected disabled account to be rejected, got %v", err)
	}
	if _, err := f.svc.Verify(ctx, "garbage"); !errors.Is(err, ErrAdminUnauthorized) {
		t.Fatalf("expected unknown token to be rejected, got %v", err)
	}
}
