// Package auth verifies admin session tokens, Firebase ID tokens and Google-signed OIDC tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	domain "github.com/casacustomz/api/internal/domain"
)

const sessionIssuer = "casacustomz-api"

var (
	// ErrInvalidSession is returned for tokens that fail signature, issuer or expiry checks.
	ErrInvalidSession = errors.New("auth: invalid session token")
)

type sessionClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// SessionIssuer signs admin session tokens with HS256.
type SessionIssuer struct {
	key   []byte
	clock func() time.Time
}

// NewSessionIssuer requires a signing key of at least 32 bytes.
func NewSessionIssuer(signingKey string, clock func() time.Time) (*SessionIssuer, error) {
	key := strings.TrimSpace(signingKey)
	if len(key) < 32 {
		return nil, errors.New("auth: session signing key must be at least 32 bytes")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{key: []byte(key), clock: clock}, nil
}

func (s *SessionIssuer) IssueAdminToken(claims domain.AdminSessionClaims) (string, error) {
	if claims.AccountID == "" {
		return "", errors.New("auth: session subject is required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Username: claims.Username,
		Role:     string(claims.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   claims.AccountID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign session: %w", err)
	}
	return signed, nil
}

func (s *SessionIssuer) ParseAdminToken(raw string) (domain.AdminSessionClaims, error) {
	var claims sessionClaims
	// Expiry is checked below against the injected clock.
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return s.key, nil }); err != nil {
		return domain.AdminSessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Issuer != sessionIssuer || claims.Subject == "" {
		return domain.AdminSessionClaims{}, fmt.Errorf("%w: unexpected issuer or subject", ErrInvalidSession)
	}
	if claims.ExpiresAt == nil || !s.clock().Before(claims.ExpiresAt.Time) {
		return domain.AdminSessionClaims{}, fmt.Errorf("%w: expired", ErrInvalidSession)
	}

	out := domain.AdminSessionClaims{
		AccountID: claims.Subject,
		Username:  claims.Username,
		Role:      domain.AdminRole(claims.Role),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return out, nil
}
