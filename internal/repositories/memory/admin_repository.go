package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories"
)

// AdminRepository keeps admin accounts in memory.
type AdminRepository struct {
	mu       sync.RWMutex
	accounts map[string]domain.AdminAccount
}

var _ repositories.AdminRepository = (*AdminRepository)(nil)

// NewAdminRepository constructs an empty admin account store.
func NewAdminRepository() *AdminRepository {
	return &AdminRepository{accounts: make(map[string]domain.AdminAccount)}
}

func (r *AdminRepository) Count(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts), nil
}

func (r *AdminRepository) Insert(_ context.Context, account domain.AdminAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; exists {
		return conflict("admins.insert", "admin %s already exists", account.ID)
	}
	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Username, account.Username) {
			return conflict("admins.insert", "username %s already taken", account.Username)
		}
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *AdminRepository) Update(_ context.Context, account domain.AdminAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; !exists {
		return notFound("admins.update", "admin %s not found", account.ID)
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *AdminRepository) FindByID(_ context.Context, accountID string) (domain.AdminAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return domain.AdminAccount{}, notFound("admins.find_by_id", "admin %s not found", accountID)
	}
	return account, nil
}

func (r *AdminRepository) FindByUsername(_ context.Context, username string) (domain.AdminAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if strings.EqualFold(account.Username, strings.TrimSpace(username)) {
			return account, nil
		}
	}
	return domain.AdminAccount{}, notFound("admins.find_by_username", "admin %s not found", username)
}
