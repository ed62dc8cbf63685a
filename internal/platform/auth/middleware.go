package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/requestctx"
)

const iapAssertionHeader = "X-Goog-Iap-Jwt-Assertion"

// AdminSessions verifies admin session tokens; services.AdminAuthService satisfies it.
type AdminSessions interface {
	Verify(ctx context.Context, token string) (domain.AdminAccount, error)
}

// FirebaseAdmins verifies Firebase ID tokens for admins.
type FirebaseAdmins interface {
	VerifyAdmin(ctx context.Context, idToken string) (requestctx.Actor, error)
}

// RequireAdmin rejects requests without a valid admin bearer token. Session tokens are tried first;
// when firebase is non-nil a Firebase ID token is accepted as a fallback.
func RequireAdmin(sessions AdminSessions, firebase FirebaseAdmins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := BearerToken(r)
			if !ok {
				httpx.WriteError(ctx, w, httpx.ErrUnauthorized)
				return
			}

			account, err := sessions.Verify(ctx, token)
			if err == nil {
				actor := requestctx.Actor{ID: account.ID, Username: account.Username, Role: string(account.Role), Kind: requestctx.ActorAdmin}
				next.ServeHTTP(w, r.WithContext(withActor(ctx, actor)))
				return
			}
			if firebase != nil && looksLikeFirebaseToken(token) {
				actor, ferr := firebase.VerifyAdmin(ctx, token)
				if ferr == nil {
					next.ServeHTTP(w, r.WithContext(withActor(ctx, actor)))
					return
				}
				if errors.Is(ferr, ErrNotAdmin) {
					httpx.WriteError(ctx, w, httpx.ErrForbidden)
					return
				}
				err = errors.Join(err, ferr)
			}
			requestctx.Logger(ctx).Debug("admin authentication failed", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "invalid or expired session", http.StatusUnauthorized))
		})
	}
}

// RequireService protects internal endpoints with a Google-signed OIDC token, read from the
// Authorization header or the IAP assertion header.
func RequireService(verifier *OIDCVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "service authentication is not configured", http.StatusServiceUnavailable))
				return
			}
			token, ok := BearerToken(r)
			if !ok {
				token = strings.TrimSpace(r.Header.Get(iapAssertionHeader))
			}
			if token == "" {
				httpx.WriteError(ctx, w, httpx.ErrUnauthorized)
				return
			}
			claims, err := verifier.Verify(ctx, token)
			if err != nil {
				requestctx.Logger(ctx).Warn("service authentication failed", zap.Error(err))
				if errors.Is(err, ErrJWKSUnavailable) {
					httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "token verification unavailable", http.StatusServiceUnavailable))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "token verification failed", http.StatusUnauthorized))
				return
			}
			actor := requestctx.Actor{ID: claims.Subject, Username: claims.Email, Kind: requestctx.ActorService}
			next.ServeHTTP(w, r.WithContext(withActor(ctx, actor)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func withActor(ctx context.Context, actor requestctx.Actor) context.Context {
	ctx = requestctx.WithActor(ctx, actor)
	logger := requestctx.Logger(ctx).With(zap.String("principal", actor.ID))
	return requestctx.WithLogger(ctx, logger)
}

// looksLikeFirebaseToken skips the Firebase round trip for our own HS256 session tokens.
func looksLikeFirebaseToken(token string) bool {
	header, _, ok := strings.Cut(token, ".")
	// base64url of `{"alg":"RS256"` starts with eyJhbGciOiJSUzI1NiI.
	return ok && strings.HasPrefix(header, "eyJhbGciOiJSUzI1NiI")
}
