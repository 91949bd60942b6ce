package repository

import (
	"context"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

// MemorySocialAccountRepository backs the memory store driver and tests.
type MemorySocialAccountRepository struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*models.SocialAccount
}

func NewMemorySocialAccountRepository() *MemorySocialAccountRepository {
	return &MemorySocialAccountRepository{accounts: make(map[int64]*models.SocialAccount)}
}

// Put stores a copy of sa and returns its id.
func (r *MemorySocialAccountRepository) Put(sa *models.SocialAccount) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *sa
	if c.ID == 0 {
		r.nextID++
		c.ID = r.nextID
	}
	c.UpdatedAt = time.Now()
	r.accounts[c.ID] = &c
	return c.ID
}

func (r *MemorySocialAccountRepository) GetByUserAndPlatform(ctx context.Context, userID int64, platform models.Provider) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *models.SocialAccount
	for _, sa := range r.accounts {
		if sa.UserID != userID || sa.Platform != platform {
			continue
		}
		if found == nil || sa.UpdatedAt.After(found.UpdatedAt) {
			found = sa
		}
	}
	if found == nil {
		return nil, ErrAccountNotFound
	}
	c := *found
	return &c, nil
}

func (r *MemorySocialAccountRepository) ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.SocialAccount
	for _, sa := range r.accounts {
		if !sa.TokenExpiresAt.After(finalTime) {
			c := *sa
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemorySocialAccountRepository) SetToken(ctx context.Context, accountID int64, oldAccessToken string, sa *models.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[accountID]
	if !ok || stored.AccessToken != oldAccessToken {
		return ErrAccountNotFound
	}
	if sa.AccessToken != "" {
		stored.AccessToken = sa.AccessToken
	}
	if sa.RefreshToken != "" {
		stored.RefreshToken = sa.RefreshToken
	}
	if !sa.TokenExpiresAt.IsZero() {
		stored.TokenExpiresAt = sa.TokenExpiresAt
	}
	stored.UpdatedAt = time.Now()
	return nil
}
