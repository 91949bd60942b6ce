package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/utils"
)

const instagramGraphURL = "https://graph.instagram.com"

type InstagramService interface {
	PlatformPublisher
	TokenRefresher
}

type instagramService struct {
	cfg          config.Config
	sa           repository.SocialAccountRepository
	media        MediaResolver
	api          apiClient
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
}

func NewInstagramService(cfg config.Config, sa repository.SocialAccountRepository, media MediaResolver) InstagramService {
	return &instagramService{
		cfg:          cfg,
		sa:           sa,
		media:        media,
		api:          newAPIClient(models.ProviderInstagram, &http.Client{Timeout: time.Minute}),
		baseURL:      instagramGraphURL,
		pollInterval: 5 * time.Second,
		maxPolls:     60,
	}
}

func (s *instagramService) Provider() models.Provider {
	return models.ProviderInstagram
}

func (s *instagramService) Publish(ctx context.Context, userID int64, media models.MediaRef, metadata json.RawMessage) error {
	var payload transfer.InstagramPayload
	if err := decodeMetadata(models.ProviderInstagram, metadata, &payload); err != nil {
		return err
	}

	mediaURL, err := s.media.ResolveURL(ctx, media.Location)
	if err != nil {
		return NewPublishError(models.ProviderInstagram, models.ErrorKindInternal, fmt.Errorf("resolve media: %w", err))
	}

	session := accountSession{
		provider:  models.ProviderInstagram,
		secretKey: s.cfg.SecretKey,
		accounts:  s.sa,
		refresher: s,
	}
	return session.run(ctx, userID, func(ctx context.Context, acc *models.SocialAccount, accessToken string) error {
		containerID, err := s.createContainer(ctx, acc.AccountID, accessToken, media.Type, mediaURL, payload)
		if err != nil {
			return err
		}

		if err := s.waitForContainer(ctx, containerID, accessToken); err != nil {
			return err
		}

		mediaID, err := s.publishContainer(ctx, acc.AccountID, containerID, accessToken)
		if err != nil {
			return err
		}

		slog.Info("instagram media published", "user_id", userID, "media_id", mediaID)
		return nil
	})
}

func (s *instagramService) createContainer(ctx context.Context, accountID, accessToken string, mediaType models.MediaType, mediaURL string, payload transfer.InstagramPayload) (string, error) {
	req := transfer.InstagramContainerRequest{
		Caption:     payload.Caption,
		AccessToken: accessToken,
	}
	if mediaType == models.MediaTypeVideo {
		req.MediaType = "REELS"
		req.VideoURL = mediaURL
		req.ShareToFeed = payload.ShareToFeed
	} else {
		req.ImageURL = mediaURL
	}

	var result transfer.InstagramIDResponse
	endpoint := fmt.Sprintf("%s/v21.0/%s/media", s.baseURL, accountID)
	if err := s.api.doJSON(ctx, http.MethodPost, endpoint, nil, req, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", NewPublishError(models.ProviderInstagram, models.ErrorKindPermanentRejection, errors.New("no media ID returned from Instagram"))
	}
	return result.ID, nil
}

// waitForContainer polls the container until Instagram has finished
// processing the media. Images are usually FINISHED on the first poll.
func (s *instagramService) waitForContainer(ctx context.Context, containerID, accessToken string) error {
	endpoint := fmt.Sprintf("%s/v21.0/%s?fields=status_code,status&access_token=%s",
		s.baseURL, containerID, url.QueryEscape(accessToken))

	for i := 0; i < s.maxPolls; i++ {
		var status transfer.InstagramContainerStatus
		if err := s.api.doJSON(ctx, http.MethodGet, endpoint, nil, nil, &status); err != nil {
			return err
		}

		switch status.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return NewPublishError(models.ProviderInstagram, models.ErrorKindPermanentRejection,
				fmt.Errorf("container %s %s: %s", containerID, status.StatusCode, status.Status))
		}

		if err := sleepCtx(ctx, s.pollInterval); err != nil {
			return NewPublishError(models.ProviderInstagram, models.ErrorKindTransientNetwork, err)
		}
	}

	return NewPublishError(models.ProviderInstagram, models.ErrorKindTransientNetwork,
		fmt.Errorf("container %s still processing after %d polls", containerID, s.maxPolls))
}

func (s *instagramService) publishContainer(ctx context.Context, accountID, containerID, accessToken string) (string, error) {
	var result transfer.InstagramIDResponse
	endpoint := fmt.Sprintf("%s/v21.0/%s/media_publish", s.baseURL, accountID)
	req := transfer.InstagramPublishRequest{CreationID: containerID, AccessToken: accessToken}
	if err := s.api.doJSON(ctx, http.MethodPost, endpoint, nil, req, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// RefreshToken renews a long-lived Instagram token. Instagram uses the
// access token itself as the refresh credential.
func (s *instagramService) RefreshToken(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	decryptedRefreshToken, err := utils.Decrypt(acc.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		s.baseURL, url.QueryEscape(decryptedRefreshToken))

	var result transfer.InstagramRefreshResponse
	if err := s.api.doJSON(ctx, http.MethodGet, endpoint, nil, nil, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, errors.New("instagram refresh returned an empty token")
	}

	updated := &models.SocialAccount{
		TokenExpiresAt: time.Now().Add(time.Second * time.Duration(result.ExpiresIn)),
	}
	return storeRefreshedToken(ctx, s.sa, s.cfg.SecretKey, acc, result.AccessToken, result.AccessToken, updated)
}
