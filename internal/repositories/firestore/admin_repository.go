package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/casacustomz/api/internal/domain"
	pfirestore "github.com/casacustomz/api/internal/platform/firestore"
	"github.com/casacustomz/api/internal/repositories"
)

const (
	adminsCollection         = "admins"
	adminUsernamesCollection = "admin_usernames"
)

type adminDocument struct {
	Username     string     `firestore:"username"`
	Email        string     `firestore:"email"`
	PasswordHash string     `firestore:"passwordHash"`
	Role         string     `firestore:"role"`
	Active       bool       `firestore:"active"`
	LastLoginAt  *time.Time `firestore:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

type adminUsernameDocument struct {
	AccountID string `firestore:"accountId"`
}

// AdminRepository implements repositories.AdminRepository. Usernames are reserved through a
// guard collection keyed by the lowercased username.
type AdminRepository struct {
	provider  *pfirestore.Provider
	accounts  *pfirestore.BaseRepository[adminDocument]
	usernames *pfirestore.BaseRepository[adminUsernameDocument]
}

var _ repositories.AdminRepository = (*AdminRepository)(nil)

// NewAdminRepository constructs a Firestore-backed admin account repository.
func NewAdminRepository(provider *pfirestore.Provider) (*AdminRepository, error) {
	if provider == nil {
		return nil, errors.New("admin repository requires firestore provider")
	}
	return &AdminRepository{
		provider:  provider,
		accounts:  pfirestore.NewBaseRepository[adminDocument](provider, adminsCollection, nil, nil),
		usernames: pfirestore.NewBaseRepository[adminUsernameDocument](provider, adminUsernamesCollection, nil, nil),
	}, nil
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (r *AdminRepository) Count(ctx context.Context) (int, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	results, err := client.Collection(adminsCollection).NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("admins.count", err)
	}
	raw, ok := results["total"]
	if !ok {
		return 0, nil
	}
	switch v := raw.(type) {
	case int64:
		return int(v), nil
	case interface{ GetIntegerValue() int64 }:
		return int(v.GetIntegerValue()), nil
	default:
		return 0, pfirestore.WrapError("admins.count", errors.New("unexpected aggregation result"))
	}
}

func (r *AdminRepository) Insert(ctx context.Context, account domain.AdminAccount) error {
	const op = "admins.insert"
	key := usernameKey(account.Username)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		accountRef, err := r.accounts.DocumentRef(ctx, account.ID)
		if err != nil {
			return err
		}
		usernameRef, err := r.usernames.DocumentRef(ctx, key)
		if err != nil {
			return err
		}
		exists, err := guardExists(tx, usernameRef)
		if err != nil {
			return err
		}
		if exists {
			return pfirestore.WrapError(op, status.Errorf(codes.AlreadyExists, "username %s already taken", key))
		}
		if err := tx.Create(usernameRef, adminUsernameDocument{AccountID: account.ID}); err != nil {
			return err
		}
		return tx.Create(accountRef, encodeAdmin(account))
	})
	return pfirestore.WrapError(op, err)
}

func (r *AdminRepository) Update(ctx context.Context, account domain.AdminAccount) error {
	ref, err := r.accounts.DocumentRef(ctx, account.ID)
	if err != nil {
		return err
	}
	doc := encodeAdmin(account)
	updates := []firestore.Update{
		{Path: "email", Value: doc.Email},
		{Path: "passwordHash", Value: doc.PasswordHash},
		{Path: "role", Value: doc.Role},
		{Path: "active", Value: doc.Active},
		{Path: "lastLoginAt", Value: doc.LastLoginAt},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("admins.update", err)
	}
	return nil
}

func (r *AdminRepository) FindByID(ctx context.Context, accountID string) (domain.AdminAccount, error) {
	doc, err := r.accounts.Get(ctx, strings.TrimSpace(accountID))
	if err != nil {
		return domain.AdminAccount{}, err
	}
	return decodeAdmin(doc.ID, doc.Data), nil
}

func (r *AdminRepository) FindByUsername(ctx context.Context, username string) (domain.AdminAccount, error) {
	guard, err := r.usernames.Get(ctx, usernameKey(username))
	if err != nil {
		return domain.AdminAccount{}, err
	}
	return r.FindByID(ctx, guard.Data.AccountID)
}

func encodeAdmin(account domain.AdminAccount) adminDocument {
	return adminDocument{
		Username:     account.Username,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		Role:         string(account.Role),
		Active:       account.Active,
		LastLoginAt:  utcPtr(account.LastLoginAt),
		CreatedAt:    account.CreatedAt.UTC(),
		UpdatedAt:    account.UpdatedAt.UTC(),
	}
}

func decodeAdmin(id string, doc adminDocument) domain.AdminAccount {
	return domain.AdminAccount{
		ID:           id,
		Username:     doc.Username,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		Role:         domain.AdminRole(doc.Role),
		Active:       doc.Active,
		LastLoginAt:  utcPtr(doc.LastLoginAt),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}
