package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type YoutubeService interface {
	PlatformPublisher
	TokenRefresher
}

type youtubeService struct {
	cfg      config.Config
	sa       repository.SocialAccountRepository
	media    MediaResolver
	http     *http.Client
	endpoint string
	tokenURL string
}

func NewYoutubeService(cfg config.Config, sa repository.SocialAccountRepository, media MediaResolver) YoutubeService {
	return &youtubeService{
		cfg:   cfg,
		sa:    sa,
		media: media,
		http:  &http.Client{Timeout: 30 * time.Minute},
	}
}

func (s *youtubeService) Provider() models.Provider {
	return models.ProviderYoutube
}

func (s *youtubeService) oauthConfig() *oauth2.Config {
	endpoint := google.Endpoint
	if s.tokenURL != "" {
		endpoint.TokenURL = s.tokenURL
	}
	return &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		RedirectURL:  s.cfg.GoogleRedirectURI,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
		Endpoint:     endpoint,
	}
}

func (s *youtubeService) Publish(ctx context.Context, userID int64, media models.MediaRef, metadata json.RawMessage) error {
	if media.Type != models.MediaTypeVideo {
		return NewPublishError(models.ProviderYoutube, models.ErrorKindPermanentRejection,
			fmt.Errorf("youtube accepts video only, got %s", media.Type))
	}

	var payload transfer.YoutubePayload
	if err := decodeMetadata(models.ProviderYoutube, metadata, &payload); err != nil {
		return err
	}
	if payload.Title == "" {
		return NewPublishError(models.ProviderYoutube, models.ErrorKindPermanentRejection, errors.New("title is required"))
	}

	mediaURL, err := s.media.ResolveURL(ctx, media.Location)
	if err != nil {
		return NewPublishError(models.ProviderYoutube, models.ErrorKindInternal, fmt.Errorf("resolve media: %w", err))
	}

	session := accountSession{
		provider:  models.ProviderYoutube,
		secretKey: s.cfg.SecretKey,
		accounts:  s.sa,
		refresher: s,
	}
	return session.run(ctx, userID, func(ctx context.Context, acc *models.SocialAccount, accessToken string) error {
		videoID, err := s.uploadVideo(ctx, accessToken, mediaURL, payload)
		if err != nil {
			return err
		}
		slog.Info("youtube video uploaded", "user_id", userID, "video_id", videoID)
		return nil
	})
}

// uploadVideo streams the media from its URL straight into videos.insert
// without staging it on local disk.
func (s *youtubeService) uploadVideo(ctx context.Context, accessToken, mediaURL string, payload transfer.YoutubePayload) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", NewPublishError(models.ProviderYoutube, models.ErrorKindInternal, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", NewPublishError(models.ProviderYoutube, models.ErrorKindTransientNetwork, fmt.Errorf("error downloading video: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := models.ErrorKindPermanentRejection
		if resp.StatusCode >= 500 {
			kind = models.ErrorKindTransientNetwork
		}
		return "", NewPublishError(models.ProviderYoutube, kind, fmt.Errorf("unexpected media response status: %d", resp.StatusCode))
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return "", NewPublishError(models.ProviderYoutube, models.ErrorKindInternal, fmt.Errorf("error creating YouTube service: %w", err))
	}

	categoryID := payload.CategoryID
	if categoryID == "" {
		categoryID = "22"
	}
	privacy := payload.PrivacyStatus
	if privacy == "" {
		privacy = "public"
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       payload.Title,
			Description: payload.Description,
			Tags:        payload.Tags,
			CategoryId:  categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: payload.MadeForKids,
		},
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	uploaded, err := call.Context(ctx).Media(resp.Body, googleapi.ChunkSize(googleapi.DefaultUploadChunkSize)).Do()
	if err != nil {
		return "", classifyGoogleError(err)
	}

	return uploaded.Id, nil
}

func classifyGoogleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return NewPublishError(models.ProviderYoutube, ClassifyHTTPStatus(gerr.Code), err)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return NewPublishError(models.ProviderYoutube, models.ErrorKindAuthExpired, err)
	}
	return NewPublishError(models.ProviderYoutube, KindOf(err), err)
}

func (s *youtubeService) RefreshToken(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	decryptedRefreshToken, err := utils.Decrypt(acc.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.http)
	tokenSource := s.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: decryptedRefreshToken})

	token, err := tokenSource.Token()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	// Google keeps the refresh token unless it rotates it.
	refreshToken := ""
	if token.RefreshToken != "" && token.RefreshToken != decryptedRefreshToken {
		refreshToken = token.RefreshToken
	}

	updated := &models.SocialAccount{TokenExpiresAt: token.Expiry}
	return storeRefreshedToken(ctx, s.sa, s.cfg.SecretKey, acc, token.AccessToken, refreshToken, updated)
}
