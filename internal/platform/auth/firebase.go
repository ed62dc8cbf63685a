package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/casacustomz/api/internal/platform/config"
	"github.com/casacustomz/api/internal/platform/requestctx"
)

const firebaseVerifyTimeout = 5 * time.Second

// ErrNotAdmin is returned for a valid Firebase user that lacks the admin claim.
var ErrNotAdmin = errors.New("auth: firebase user is not an admin")

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseAdminVerifier accepts Firebase ID tokens whose custom claims carry admin: true or
// role: "admin". It lets operators sign in to the admin surface with Google accounts.
type FirebaseAdminVerifier struct {
	tokens idTokenVerifier
}

func NewFirebaseAdminVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseAdminVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase auth: %w", err)
	}
	return &FirebaseAdminVerifier{tokens: client}, nil
}

// VerifyAdmin returns the admin actor for a Firebase ID token.
func (v *FirebaseAdminVerifier) VerifyAdmin(ctx context.Context, idToken string) (requestctx.Actor, error) {
	ctx, cancel := context.WithTimeout(ctx, firebaseVerifyTimeout)
	defer cancel()

	token, err := v.tokens.VerifyIDToken(ctx, idToken)
	if err != nil {
		return requestctx.Actor{}, err
	}
	isAdmin, _ := token.Claims["admin"].(bool)
	role, _ := token.Claims["role"].(string)
	if !isAdmin && !strings.EqualFold(role, "admin") {
		return requestctx.Actor{}, ErrNotAdmin
	}
	username, _ := token.Claims["email"].(string)
	return requestctx.Actor{
		ID:       "firebase:" + token.UID,
		Username: username,
		Role:     "admin",
		Kind:     requestctx.ActorAdmin,
	}, nil
}
