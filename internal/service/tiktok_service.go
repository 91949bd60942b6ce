package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/utils"
)

const tiktokAPIURL = "https://open.tiktokapis.com"

type TiktokService interface {
	PlatformPublisher
	TokenRefresher
}

type tiktokService struct {
	cfg          config.Config
	sa           repository.SocialAccountRepository
	media        MediaResolver
	api          apiClient
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
}

func NewTiktokService(cfg config.Config, sa repository.SocialAccountRepository, media MediaResolver) TiktokService {
	return &tiktokService{
		cfg:          cfg,
		sa:           sa,
		media:        media,
		api:          newAPIClient(models.ProviderTiktok, &http.Client{Timeout: time.Minute}),
		baseURL:      tiktokAPIURL,
		pollInterval: 5 * time.Second,
		maxPolls:     60,
	}
}

func (s *tiktokService) Provider() models.Provider {
	return models.ProviderTiktok
}

func (s *tiktokService) Publish(ctx context.Context, userID int64, media models.MediaRef, metadata json.RawMessage) error {
	var payload transfer.TiktokPayload
	if err := decodeMetadata(models.ProviderTiktok, metadata, &payload); err != nil {
		return err
	}
	if payload.PrivacyLevel == "" {
		payload.PrivacyLevel = "PUBLIC_TO_EVERYONE"
	}

	mediaURL, err := s.media.ResolveURL(ctx, media.Location)
	if err != nil {
		return NewPublishError(models.ProviderTiktok, models.ErrorKindInternal, fmt.Errorf("resolve media: %w", err))
	}

	session := accountSession{
		provider:  models.ProviderTiktok,
		secretKey: s.cfg.SecretKey,
		accounts:  s.sa,
		refresher: s,
	}
	return session.run(ctx, userID, func(ctx context.Context, acc *models.SocialAccount, accessToken string) error {
		var publishID string
		var err error
		if media.Type == models.MediaTypeVideo {
			publishID, err = s.initVideo(ctx, accessToken, mediaURL, payload)
		} else {
			publishID, err = s.initPhoto(ctx, accessToken, mediaURL, payload)
		}
		if err != nil {
			return err
		}

		if err := s.waitForPublish(ctx, accessToken, publishID); err != nil {
			return err
		}

		slog.Info("tiktok post published", "user_id", userID, "publish_id", publishID)
		return nil
	})
}

func (s *tiktokService) authHeaders(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + accessToken}
}

func (s *tiktokService) initVideo(ctx context.Context, accessToken, mediaURL string, payload transfer.TiktokPayload) (string, error) {
	req := transfer.VideoUploadRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:          payload.Title,
			PrivacyLevel:   payload.PrivacyLevel,
			DisableDuet:    payload.DisableDuet,
			DisableComment: payload.DisableComment,
			DisableStitch:  payload.DisableStitch,
			IsAIGC:         payload.IsAIGC,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: mediaURL,
		},
	}
	return s.initPost(ctx, s.baseURL+"/v2/post/publish/video/init/", accessToken, req)
}

func (s *tiktokService) initPhoto(ctx context.Context, accessToken, mediaURL string, payload transfer.TiktokPayload) (string, error) {
	req := transfer.PhotoUploadRequest{
		PostInfo: transfer.PhotoPostInfo{
			Title:          payload.Title,
			Description:    payload.Description,
			PrivacyLevel:   payload.PrivacyLevel,
			DisableComment: payload.DisableComment,
		},
		SourceInfo: transfer.PhotoSourceInfo{
			Source:      "PULL_FROM_URL",
			PhotoImages: []string{mediaURL},
		},
		PostMode:  "DIRECT_POST",
		MediaType: "PHOTO",
	}
	return s.initPost(ctx, s.baseURL+"/v2/post/publish/content/init/", accessToken, req)
}

func (s *tiktokService) initPost(ctx context.Context, endpoint, accessToken string, body any) (string, error) {
	var result transfer.TiktokUploadResponse
	if err := s.api.doJSON(ctx, http.MethodPost, endpoint, s.authHeaders(accessToken), body, &result); err != nil {
		return "", err
	}
	if err := tiktokAPIError(result.Error); err != nil {
		return "", err
	}
	if result.Data.PublishID == "" {
		return "", NewPublishError(models.ProviderTiktok, models.ErrorKindPermanentRejection, errors.New("no publish id returned from TikTok"))
	}
	return result.Data.PublishID, nil
}

func (s *tiktokService) waitForPublish(ctx context.Context, accessToken, publishID string) error {
	endpoint := s.baseURL + "/v2/post/publish/status/fetch/"
	req := transfer.TiktokStatusRequest{PublishID: publishID}

	for i := 0; i < s.maxPolls; i++ {
		var result transfer.TiktokStatusResponse
		if err := s.api.doJSON(ctx, http.MethodPost, endpoint, s.authHeaders(accessToken), req, &result); err != nil {
			return err
		}
		if err := tiktokAPIError(result.Error); err != nil {
			return err
		}

		switch result.Data.Status {
		case "PUBLISH_COMPLETE", "SEND_TO_USER_INBOX":
			return nil
		case "FAILED":
			return NewPublishError(models.ProviderTiktok, models.ErrorKindPermanentRejection,
				fmt.Errorf("publish %s failed: %s", publishID, result.Data.FailReason))
		}

		if err := sleepCtx(ctx, s.pollInterval); err != nil {
			return NewPublishError(models.ProviderTiktok, models.ErrorKindTransientNetwork, err)
		}
	}

	return NewPublishError(models.ProviderTiktok, models.ErrorKindTransientNetwork,
		fmt.Errorf("publish %s still processing after %d polls", publishID, s.maxPolls))
}

// tiktokAPIError maps the error envelope TikTok returns alongside HTTP 200.
func tiktokAPIError(e transfer.TiktokError) error {
	switch e.Code {
	case "", "ok":
		return nil
	case "access_token_invalid", "scope_not_authorized", "token_not_authorized":
		return NewPublishError(models.ProviderTiktok, models.ErrorKindAuthExpired, fmt.Errorf("%s: %s", e.Code, e.Message))
	case "rate_limit_exceeded", "spam_risk_too_many_posts":
		return NewPublishError(models.ProviderTiktok, models.ErrorKindRateLimited, fmt.Errorf("%s: %s", e.Code, e.Message))
	case "internal_error":
		return NewPublishError(models.ProviderTiktok, models.ErrorKindTransientNetwork, fmt.Errorf("%s: %s", e.Code, e.Message))
	default:
		return NewPublishError(models.ProviderTiktok, models.ErrorKindPermanentRejection, fmt.Errorf("%s: %s", e.Code, e.Message))
	}
}

func (s *tiktokService) RefreshToken(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	decryptedRefreshToken, err := utils.Decrypt(acc.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	data := url.Values{}
	data.Set("client_key", s.cfg.TiktokClientKey)
	data.Set("client_secret", s.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", decryptedRefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/oauth/token/", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.api.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tiktok token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if tokenResponse.AccessToken == "" {
		return nil, errors.New("tiktok refresh returned an empty token")
	}

	updated := &models.SocialAccount{TokenExpiresAt: GetExpiresAt(tokenResponse.ExpiresIn)}
	return storeRefreshedToken(ctx, s.sa, s.cfg.SecretKey, acc, tokenResponse.AccessToken, tokenResponse.RefreshToken, updated)
}
