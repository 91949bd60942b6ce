package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// PlatformPublisher publishes previously uploaded media to one platform on
// behalf of a user. Failures should be returned as *PublishError.
type PlatformPublisher interface {
	Provider() models.Provider
	Publish(ctx context.Context, userID int64, media models.MediaRef, metadata json.RawMessage) error
}

// TokenRefresher renews the stored credentials of a social account and
// returns the account with its new, encrypted tokens.
type TokenRefresher interface {
	Provider() models.Provider
	RefreshToken(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error)
}

// MediaResolver turns a content location into a URL a platform can fetch.
type MediaResolver interface {
	ResolveURL(ctx context.Context, location string) (string, error)
}

type PublisherRegistry struct {
	mu         sync.RWMutex
	publishers map[models.Provider]PlatformPublisher
	order      []models.Provider
}

func NewPublisherRegistry(publishers ...PlatformPublisher) *PublisherRegistry {
	r := &PublisherRegistry{publishers: make(map[models.Provider]PlatformPublisher)}
	for _, p := range publishers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the publisher for its provider.
func (r *PublisherRegistry) Register(p PlatformPublisher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider := p.Provider()
	if _, ok := r.publishers[provider]; !ok {
		r.order = append(r.order, provider)
	}
	r.publishers[provider] = p
}

func (r *PublisherRegistry) Lookup(provider models.Provider) (PlatformPublisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[provider]
	return p, ok
}

func (r *PublisherRegistry) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Provider(nil), r.order...)
}

type accountCall func(ctx context.Context, acc *models.SocialAccount, accessToken string) error

// accountSession loads the user's account for a platform, decrypts its token
// and runs the call. An AuthExpired failure triggers one refresh and retry.
type accountSession struct {
	provider  models.Provider
	secretKey string
	accounts  repository.SocialAccountRepository
	refresher TokenRefresher
}

func (s *accountSession) run(ctx context.Context, userID int64, call accountCall) error {
	acc, err := s.accounts.GetByUserAndPlatform(ctx, userID, s.provider)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return NewPublishError(s.provider, models.ErrorKindPermanentRejection,
				fmt.Errorf("user %d has no connected account", userID))
		}
		return NewPublishError(s.provider, models.ErrorKindInternal, err)
	}

	token, err := utils.Decrypt(acc.AccessToken, []byte(s.secretKey))
	if err != nil {
		return NewPublishError(s.provider, models.ErrorKindInternal, fmt.Errorf("decrypt access token: %w", err))
	}

	err = call(ctx, acc, token)
	if KindOf(err) != models.ErrorKindAuthExpired || s.refresher == nil {
		return err
	}

	slog.Info("access token rejected, refreshing", "provider", s.provider, "user_id", userID, "account_id", acc.ID)
	refreshed, rerr := s.refresher.RefreshToken(ctx, acc)
	if rerr != nil {
		return NewPublishError(s.provider, models.ErrorKindAuthExpired, errors.Join(err, rerr))
	}

	token, err = utils.Decrypt(refreshed.AccessToken, []byte(s.secretKey))
	if err != nil {
		return NewPublishError(s.provider, models.ErrorKindInternal, fmt.Errorf("decrypt refreshed token: %w", err))
	}

	return call(ctx, refreshed, token)
}

// storeRefreshedToken encrypts the new tokens and swaps them in place of the
// ones the refresh started from.
func storeRefreshedToken(ctx context.Context, accounts repository.SocialAccountRepository, secretKey string,
	acc *models.SocialAccount, accessToken, refreshToken string, updated *models.SocialAccount) (*models.SocialAccount, error) {

	encryptedAccessToken, err := utils.Encrypt([]byte(accessToken), []byte(secretKey))
	if err != nil {
		return nil, err
	}
	updated.AccessToken = encryptedAccessToken

	if refreshToken != "" {
		encryptedRefreshToken, err := utils.Encrypt([]byte(refreshToken), []byte(secretKey))
		if err != nil {
			return nil, err
		}
		updated.RefreshToken = encryptedRefreshToken
	}

	if err := accounts.SetToken(ctx, acc.ID, acc.AccessToken, updated); err != nil {
		return nil, err
	}

	next := *acc
	next.AccessToken = updated.AccessToken
	if updated.RefreshToken != "" {
		next.RefreshToken = updated.RefreshToken
	}
	if !updated.TokenExpiresAt.IsZero() {
		next.TokenExpiresAt = updated.TokenExpiresAt
	}
	return &next, nil
}

func decodeMetadata(provider models.Provider, metadata json.RawMessage, v any) error {
	if len(metadata) == 0 || string(metadata) == "null" {
		return nil
	}
	if err := json.Unmarshal(metadata, v); err != nil {
		return NewPublishError(provider, models.ErrorKindPermanentRejection, fmt.Errorf("decode metadata: %w", err))
	}
	return nil
}
