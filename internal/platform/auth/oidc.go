package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const defaultJWKSTTL = time.Hour

var (
	ErrJWKSUnavailable = errors.New("auth: jwks unavailable")
	ErrUnknownKey      = errors.New("auth: signing key not found")
	ErrInvalidOIDC     = errors.New("auth: invalid oidc token")
)

// KeySet caches a remote JWKS document. Keys are refetched after the Cache-Control max-age, or
// immediately when a token names an unknown kid.
type KeySet struct {
	url    string
	client *http.Client
	clock  func() time.Time

	mu      sync.RWMutex
	keys    map[string]jose.JSONWebKey
	expires time.Time
	fetch   sync.Mutex
}

func NewKeySet(url string, client *http.Client, clock func() time.Time) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if clock == nil {
		clock = time.Now
	}
	return &KeySet{url: url, client: client, clock: clock}
}

// Key returns the public key for kid.
func (k *KeySet) Key(ctx context.Context, kid string) (any, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	fresh := k.clock().Before(k.expires)
	k.mu.RUnlock()
	if ok && fresh {
		return key.Key, nil
	}
	if err := k.refresh(ctx); err != nil {
		if ok {
			// Stale keys stay usable while the JWKS endpoint is failing.
			return key.Key, nil
		}
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.keys[kid]; ok {
		return key.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}

func (k *KeySet) refresh(ctx context.Context) error {
	k.fetch.Lock()
	defer k.fetch.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrJWKSUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSUnavailable, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, key := range set.Keys {
		if key.KeyID != "" && key.Valid() && key.IsPublic() {
			keys[key.KeyID] = key
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrJWKSUnavailable)
	}

	k.mu.Lock()
	k.keys = keys
	k.expires = k.clock().Add(maxAge(resp.Header.Get("Cache-Control")))
	k.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultJWKSTTL
}

// ServiceClaims are the verified claims of a Google-signed OIDC token.
type ServiceClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// OIDCVerifier checks RS256 tokens against a KeySet, an audience and an issuer allow list.
type OIDCVerifier struct {
	keys     *KeySet
	audience string
	issuers  []string
	clock    func() time.Time
}

func NewOIDCVerifier(keys *KeySet, audience string, issuers []string, clock func() time.Time) (*OIDCVerifier, error) {
	if keys == nil {
		return nil, errors.New("auth: oidc key set is required")
	}
	if strings.TrimSpace(audience) == "" {
		return nil, errors.New("auth: oidc audience is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &OIDCVerifier{keys: keys, audience: strings.TrimSpace(audience), issuers: issuers, clock: clock}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (ServiceClaims, error) {
	var claims ServiceClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrJWKSUnavailable) {
			return ServiceClaims{}, err
		}
		return ServiceClaims{}, fmt.Errorf("%w: %v", ErrInvalidOIDC, err)
	}

	now := v.clock()
	switch {
	case !claims.VerifyExpiresAt(now, true):
		return ServiceClaims{}, fmt.Errorf("%w: expired", ErrInvalidOIDC)
	case !claims.VerifyAudience(v.audience, true):
		return ServiceClaims{}, fmt.Errorf("%w: audience mismatch", ErrInvalidOIDC)
	case len(v.issuers) > 0 && !slices.Contains(v.issuers, claims.Issuer):
		return ServiceClaims{}, fmt.Errorf("%w: issuer %q not allowed", ErrInvalidOIDC, claims.Issuer)
	}
	return claims, nil
}
