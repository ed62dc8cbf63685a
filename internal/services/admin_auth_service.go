package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories"
)

const (
	adminIDPrefix          = "adm_"
	defaultAdminSessionTTL = 24 * time.Hour
	minAdminPasswordLength = 8
)

var (
	// ErrAdminInvalidInput indicates the setup or login payload is malformed.
	ErrAdminInvalidInput = errors.New("admin auth: invalid input")
	// ErrAdminSetupComplete indicates an admin account already exists.
	ErrAdminSetupComplete = errors.New("admin auth: setup already completed")
	// ErrAdminInvalidCredentials indicates the username or password did not match an active account.
	ErrAdminInvalidCredentials = errors.New("admin auth: invalid credentials")
	// ErrAdminUnauthorized indicates the session token is missing, invalid or belongs to a disabled account.
	ErrAdminUnauthorized = errors.New("admin auth: unauthorized")

	adminUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)
)

// AdminAuthServiceDeps wires the admin account store and session issuer.
type AdminAuthServiceDeps struct {
	Admins      repositories.AdminRepository
	Tokens      AdminTokenIssuer
	SessionTTL  time.Duration
	BcryptCost  int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type adminAuthService struct {
	admins    repositories.AdminRepository
	tokens    AdminTokenIssuer
	ttl       time.Duration
	cost      int
	now       func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
	dummyHash []byte
}

// NewAdminAuthService constructs the admin authentication service.
func NewAdminAuthService(deps AdminAuthServiceDeps) (AdminAuthService, error) {
	if deps.Admins == nil {
		return nil, errors.New("admin auth service: admin repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("admin auth service: token issuer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultAdminSessionTTL
	}
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("admin auth service: bcrypt cost %d out of range", cost)
	}
	// Compared against when the username is unknown so both paths cost one bcrypt round.
	dummy, err := bcrypt.GenerateFromPassword([]byte("casacustomz-unknown-admin"), cost)
	if err != nil {
		return nil, fmt.Errorf("admin auth service: prepare hash: %w", err)
	}

	return &adminAuthService{
		admins: deps.Admins,
		tokens: deps.Tokens,
		ttl:    ttl,
		cost:   cost,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

func (s *adminAuthService) NeedsSetup(ctx context.Context) (bool, error) {
	count, err := s.admins.Count(ctx)
	if err != nil {
		return false, s.mapRepositoryError(err)
	}
	return count == 0, nil
}

// Setup creates the first super admin. It is rejected once any account exists.
func (s *adminAuthService) Setup(ctx context.Context, cmd AdminSetupCommand) (AdminSession, error) {
	username := strings.TrimSpace(cmd.Username)
	email := strings.ToLower(strings.TrimSpace(cmd.Email))

	verr := &ValidationError{}
	if !adminUsernamePattern.MatchString(username) {
		verr.add("username", "must be 3-32 letters, digits, dots, dashes or underscores")
	}
	if err := getCheckoutValidator().Var(email, "required,email"); err != nil {
		verr.add("email", "must be a valid email address")
	}
	if len(cmd.Password) < minAdminPasswordLength {
		verr.add("password", fmt.Sprintf("must be at least %d characters", minAdminPasswordLength))
	}
	if len(cmd.Password) > 72 {
		verr.add("password", "must be at most 72 bytes")
	}
	if len(verr.Fields) > 0 {
		return AdminSession{}, fmt.Errorf("%w: %w", ErrAdminInvalidInput, verr)
	}

	needsSetup, err := s.NeedsSetup(ctx)
	if err != nil {
		return AdminSession{}, err
	}
	if !needsSetup {
		return AdminSession{}, ErrAdminSetupComplete
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.cost)
	if err != nil {
		return AdminSession{}, fmt.Errorf("admin auth: hash password: %w", err)
	}

	now := s.now()
	account := AdminAccount{
		ID:           adminIDPrefix + s.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.AdminRoleSuperAdmin,
		Active:       true,
		LastLoginAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.admins.Insert(ctx, account); err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrAdminInvalidInput) {
			return AdminSession{}, ErrAdminSetupComplete
		}
		return AdminSession{}, mapped
	}

	s.logger(ctx, "admin.setup.completed", map[string]any{
		"adminId":  account.ID,
		"username": account.Username,
	})
	return s.issue(account, now)
}

func (s *adminAuthService) Login(ctx context.Context, cmd AdminLoginCommand) (AdminSession, error) {
	username := strings.TrimSpace(cmd.Username)
	if username == "" || cmd.Password == "" {
		return AdminSession{}, fmt.Errorf("%w: username and password are required", ErrAdminInvalidInput)
	}

	account, err := s.admins.FindByUsername(ctx, username)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(cmd.Password))
			s.logger(ctx, "admin.login.failed", map[string]any{"username": username, "reason": "unknown_user"})
			return AdminSession{}, ErrAdminInvalidCredentials
		}
		return AdminSession{}, s.mapRepositoryError(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(cmd.Password)); err != nil {
		s.logger(ctx, "admin.login.failed", map[string]any{"username": username, "reason": "password"})
		return AdminSession{}, ErrAdminInvalidCredentials
	}
	if !account.Active {
		s.logger(ctx, "admin.login.failed", map[string]any{"username": username, "reason": "inactive"})
		return AdminSession{}, ErrAdminInvalidCredentials
	}

	now := s.now()
	account.LastLoginAt = &now
	account.UpdatedAt = now
	if err := s.admins.Update(ctx, account); err != nil {
		s.logger(ctx, "admin.login.touch_failed", map[string]any{"adminId": account.ID, "error": err.Error()})
	}

	s.logger(ctx, "admin.login.succeeded", map[string]any{"adminId": account.ID})
	return s.issue(account, now)
}

// Verify resolves a session token to its active admin account.
func (s *adminAuthService) Verify(ctx context.Context, token string) (AdminAccount, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AdminAccount{}, ErrAdminUnauthorized
	}
	claims, err := s.tokens.ParseAdminToken(token)
	if err != nil {
		return AdminAccount{}, fmt.Errorf("%w: %v", ErrAdminUnauthorized, err)
	}
	if !claims.ExpiresAt.IsZero() && !s.now().Before(claims.ExpiresAt) {
		return AdminAccount{}, fmt.Errorf("%w: session expired", ErrAdminUnauthorized)
	}

	account, err := s.admins.FindByID(ctx, claims.AccountID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return AdminAccount{}, fmt.Errorf("%w: account not found", ErrAdminUnauthorized)
		}
		return AdminAccount{}, s.mapRepositoryError(err)
	}
	if !account.Active {
		return AdminAccount{}, fmt.Errorf("%w: account disabled", ErrAdminUnauthorized)
	}
	account.PasswordHash = ""
	return account, nil
}

func (s *adminAuthService) issue(account AdminAccount, now time.Time) (AdminSession, error) {
	expires := now.Add(s.ttl)
	token, err := s.tokens.IssueAdminToken(domain.AdminSessionClaims{
		AccountID: account.ID,
		Username:  account.Username,
		Role:      account.Role,
		IssuedAt:  now,
		ExpiresAt: expires,
	})
	if err != nil {
		return AdminSession{}, fmt.Errorf("admin auth: issue token: %w", err)
	}
	account.PasswordHash = ""
	return AdminSession{Token: token, ExpiresAt: expires, Account: account}, nil
}

func (s *adminAuthService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrAdminInvalidInput, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("admin auth: store unavailable: %w", err)
		}
	}
	return err
}
