package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
)

// TokenRefreshJob renews platform tokens that expire within the window so
// publishes rarely hit an expired token.
type TokenRefreshJob struct {
	sr         repository.SocialAccountRepository
	refreshers map[models.Provider]service.TokenRefresher
	window     time.Duration
	limit      int
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, refreshers ...service.TokenRefresher) *TokenRefreshJob {
	byProvider := make(map[models.Provider]service.TokenRefresher, len(refreshers))
	for _, r := range refreshers {
		byProvider[r.Provider()] = r
	}
	return &TokenRefreshJob{
		sr:         sr,
		refreshers: byProvider,
		window:     30 * time.Minute,
		limit:      10,
	}
}

// Run implements cron.Job.
func (c *TokenRefreshJob) Run() {
	c.RefreshTokens(context.Background())
}

// RefreshTokens returns the number of accounts refreshed successfully.
func (c *TokenRefreshJob) RefreshTokens(ctx context.Context) int {
	currentTime := time.Now()

	accounts, err := c.sr.ListByTimeInterval(ctx, currentTime, currentTime.Add(c.window))
	if err != nil {
		slog.Info(err.Error())
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	refreshed := 0

	semaphore := make(chan struct{}, c.limit)

	for _, acc := range accounts {
		refresher, ok := c.refreshers[acc.Platform]
		if !ok {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("token refresh panicked", "platform", acc.Platform, "account_id", acc.ID, "panic", r)
				}
			}()

			if _, err := refresher.RefreshToken(ctx, acc); err != nil {
				slog.Info("unable to refresh token", "platform", acc.Platform, "account_id", acc.ID, "error", err)
				return
			}

			mu.Lock()
			refreshed++
			mu.Unlock()
		}(acc)
	}

	wg.Wait()
	return refreshed
}
