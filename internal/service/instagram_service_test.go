package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type instagramAPI struct {
	polls        atomic.Int32
	refreshes    atomic.Int32
	publishes    atomic.Int32
	lastCaption  atomic.Value
	lastVideoURL atomic.Value
	statusCode   string
}

func (a *instagramAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v21.0/acct/media", func(w http.ResponseWriter, r *http.Request) {
		var req transfer.InstagramContainerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad container request: %v", err)
		}
		if req.AccessToken != "fresh" && req.AccessToken != "valid" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"Error validating access token","code":190}}`))
			return
		}
		a.lastCaption.Store(req.Caption)
		a.lastVideoURL.Store(req.VideoURL)
		json.NewEncoder(w).Encode(transfer.InstagramIDResponse{ID: "c1"})
	})

	mux.HandleFunc("GET /v21.0/c1", func(w http.ResponseWriter, r *http.Request) {
		status := "IN_PROGRESS"
		if a.polls.Add(1) > 1 {
			status = a.statusCode
		}
		json.NewEncoder(w).Encode(transfer.InstagramContainerStatus{ID: "c1", StatusCode: status})
	})

	mux.HandleFunc("POST /v21.0/acct/media_publish", func(w http.ResponseWriter, r *http.Request) {
		a.publishes.Add(1)
		json.NewEncoder(w).Encode(transfer.InstagramIDResponse{ID: "m1"})
	})

	mux.HandleFunc("GET /refresh_access_token", func(w http.ResponseWriter, r *http.Request) {
		a.refreshes.Add(1)
		if r.URL.Query().Get("grant_type") != "ig_refresh_token" {
			t.Errorf("unexpected grant type %q", r.URL.Query().Get("grant_type"))
		}
		json.NewEncoder(w).Encode(transfer.InstagramRefreshResponse{AccessToken: "fresh", ExpiresIn: 3600})
	})

	return mux
}

func newTestInstagram(t *testing.T, api *instagramAPI, accounts repository.SocialAccountRepository) *instagramService {
	t.Helper()

	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	svc := NewInstagramService(testConfig, accounts, staticResolver{}).(*instagramService)
	svc.baseURL = srv.URL
	svc.api = newAPIClient(models.ProviderInstagram, srv.Client())
	svc.pollInterval = time.Millisecond
	svc.maxPolls = 5
	return svc
}

func TestInstagram_PublishReel(t *testing.T) {
	repo := repository.NewMemorySocialAccountRepository()
	seedAccount(t, repo, models.ProviderInstagram, "valid", "valid")
	api := &instagramAPI{statusCode: "FINISHED"}
	svc := newTestInstagram(t, api, repo)

	err := svc.Publish(context.Background(), 7,
		models.MediaRef{Location: "7/abc.mp4", Type: models.MediaTypeVideo},
		json.RawMessage(`{"caption":"hello"}`))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.publishes.Load() != 1 {
		t.Errorf("expected one media_publish call, got %d", api.publishes.Load())
	}
	if api.polls.Load() != 2 {
		t.Errorf("expected two status polls, got %d", api.polls.Load())
	}
	if got := api.lastCaption.Load(); got != "hello" {
		t.Errorf("caption not sent, got %v", got)
	}
	if got := api.lastVideoURL.Load(); got != "https://cdn.example.com/7/abc.mp4" {
		t.Errorf("unexpected video url %v", got)
	}
}

func TestInstagram_ExpiredTokenIsRefreshed(t *testing.T) {
	repo := repository.NewMemorySocialAccountRepository()
	seedAccount(t, repo, models.ProviderInstagram, "expired", "expired")
	api := &instagramAPI{statusCode: "FINISHED"}
	svc := newTestInstagram(t, api, repo)

	err := svc.Publish(context.Background(), 7, models.MediaRef{Location: "7/a.png", Type: models.MediaTypeImage}, nil)

	if err != nil {
		t.Fatalf("expected publish to succeed after refresh, got %v", err)
	}
	if api.refreshes.Load() != 1 {
		t.Errorf("expected one refresh, got %d", api.refreshes.Load())
	}
	if got := storedToken(t, repo, models.ProviderInstagram); got != "fresh" {
		t.Errorf("expected stored token to be replaced, got %q", got)
	}
}

func TestInstagram_ContainerError(t *testing.T) {
	repo := repository.NewMemorySocialAccountRepository()
	seedAccount(t, repo, models.ProviderInstagram, "valid", "valid")
	api := &instagramAPI{statusCode: "ERROR"}
	svc := newTestInstagram(t, api, repo)

	err := svc.Publish(context.Background(), 7, models.MediaRef{Location: "7/abc.mp4", Type: models.MediaTypeVideo}, nil)

	if KindOf(err) != models.ErrorKindPermanentRejection {
		t.Errorf("expected PERMANENT_REJECTION, got %v", err)
	}
	if api.publishes.Load() != 0 {
		t.Error("failed container must not be published")
	}
}

func TestInstagram_ProcessingTimeout(t *testing.T) {
	repo := repository.NewMemorySocialAccountRepository()
	seedAccount(t, repo, models.ProviderInstagram, "valid", "valid")
	api := &instagramAPI{statusCode: "IN_PROGRESS"}
	svc := newTestInstagram(t, api, repo)

	err := svc.Publish(context.Background(), 7, models.MediaRef{Location: "7/abc.mp4", Type: models.MediaTypeVideo}, nil)

	if KindOf(err) != models.ErrorKindTransientNetwork {
		t.Errorf("expected TRANSIENT_NETWORK, got %v", err)
	}
	if api.polls.Load() != 5 {
		t.Errorf("expected maxPolls polls, got %d", api.polls.Load())
	}
}
