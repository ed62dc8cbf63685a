package auth

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	domain "github.com/casacustomz/api/internal/domain"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func TestSessionIssuerRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewSessionIssuer(testSigningKey, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}

	token, err := issuer.IssueAdminToken(domain.AdminSessionClaims{
		AccountID: "adm_1",
		Username:  "owner",
		Role:      domain.AdminRole("admin"),
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("IssueAdminToken: %v", err)
	}

	claims, err := issuer.ParseAdminToken(token)
	if err != nil {
		t.Fatalf("ParseAdminToken: %v", err)
	}
	if claims.AccountID != "adm_1" || claims.Username != "owner" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", claims.ExpiresAt)
	}
}

func TestSessionIssuerRejectsExpiredToken(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	current := now
	issuer, err := NewSessionIssuer(testSigningKey, func() time.Time { return current })
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}
	token, err := issuer.IssueAdminToken(domain.AdminSessionClaims{AccountID: "adm_1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("IssueAdminToken: %v", err)
	}

	current = now.Add(time.Hour)
	if _, err := issuer.ParseAdminToken(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestSessionIssuerRejectsForeignTokens(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewSessionIssuer(testSigningKey, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}

	other, _ := NewSessionIssuer("ffffffffffffffffffffffffffffffff", func() time.Time { return now })
	wrongKey, _ := other.IssueAdminToken(domain.AdminSessionClaims{AccountID: "adm_1", ExpiresAt: now.Add(time.Hour)})

	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "adm_1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte(testSigningKey))

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   "adm_1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"alg none":     noneAlg,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := issuer.ParseAdminToken(token); !errors.Is(err, ErrInvalidSession) {
				t.Fatalf("expected ErrInvalidSession, got %v", err)
			}
		})
	}
}

func TestNewSessionIssuerRequiresLongKey(t *testing.T) {
	if _, err := NewSessionIssuer("short", nil); err == nil {
		t.Fatal("expected error for short key")
	}
}
