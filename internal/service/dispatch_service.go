package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"golang.org/x/time/rate"
)

// DispatchService makes the single publish attempt of a due post.
type DispatchService interface {
	Publish(ctx context.Context, post *models.ScheduledPost) *models.DispatchOutcome
}

type DispatchOptions struct {
	PublishTimeout time.Duration
	// RatePerMinute paces calls per provider. Zero disables pacing.
	RatePerMinute int
}

type dispatchService struct {
	registry *PublisherRegistry
	store    repository.ScheduledPostRepository
	sink     OutcomeSink
	clock    clock.Clock
	opts     DispatchOptions

	mu       sync.Mutex
	limiters map[models.Provider]*rate.Limiter
}

func NewDispatchService(
	registry *PublisherRegistry,
	store repository.ScheduledPostRepository,
	sink OutcomeSink,
	clk clock.Clock,
	opts DispatchOptions) DispatchService {
	if sink == nil {
		sink = OutcomeSinks{}
	}
	return &dispatchService{
		registry: registry,
		store:    store,
		sink:     sink,
		clock:    clk,
		opts:     opts,
		limiters: make(map[models.Provider]*rate.Limiter),
	}
}

// Publish attempts every provider of the post once, in the listed order.
// A failing provider never stops the remaining ones. Afterwards the durable
// record is removed whatever the results were: there is no retry.
//
// A persisted post is first moved to DISPATCHING. When that fails the
// record was released, removed or is dispatched by someone else, and
// Publish returns nil without calling any provider.
func (s *dispatchService) Publish(ctx context.Context, post *models.ScheduledPost) *models.DispatchOutcome {
	if post.ID != 0 {
		ok, err := s.store.MarkDispatching(ctx, post.ID)
		if err != nil {
			perr := &PersistenceError{Op: "mark dispatching", ID: post.ID, Err: err}
			slog.Error(perr.Error(), "ref", post.Ref.String())
			return nil
		}
		if !ok {
			slog.Warn("record no longer claimed, skipping dispatch", "id", post.ID, "ref", post.Ref.String())
			return nil
		}
	}

	outcome := models.NewDispatchOutcome(post, s.clock.Now())

	for _, provider := range post.Providers {
		outcome.Results[provider] = s.attempt(ctx, post, provider)
	}
	outcome.CompletedAt = s.clock.Now()

	if post.ID != 0 {
		if err := s.store.Remove(context.WithoutCancel(ctx), post.ID); err != nil {
			perr := &PersistenceError{Op: "remove", ID: post.ID, Err: err}
			slog.Error(perr.Error(), "ref", post.Ref.String())
		}
	}
	post.Posted = true

	s.sink.Record(context.WithoutCancel(ctx), outcome)
	return outcome
}

func (s *dispatchService) attempt(ctx context.Context, post *models.ScheduledPost, provider models.Provider) (result models.ProviderResult) {
	result.Provider = provider
	start := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("publisher panicked", "provider", provider, "ref", post.Ref.String(), "panic", r)
			result.Success = false
			result.Kind = models.ErrorKindInternal
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = s.clock.Now().Sub(start)
	}()

	publisher, ok := s.registry.Lookup(provider)
	if !ok {
		result.Kind = models.ErrorKindUnsupportedProvider
		result.Error = fmt.Sprintf("no publisher registered for %s", provider)
		slog.Warn(result.Error, "ref", post.Ref.String())
		return result
	}

	callCtx := ctx
	if s.opts.PublishTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.PublishTimeout)
		defer cancel()
	}

	if limiter := s.limiter(provider); limiter != nil {
		if err := limiter.Wait(callCtx); err != nil {
			result.Kind = models.ErrorKindRateLimited
			result.Error = fmt.Sprintf("waiting for rate limiter: %v", err)
			return result
		}
	}

	err := publisher.Publish(callCtx, post.UserID, post.Media(), post.Payload(provider))
	if err == nil {
		result.Success = true
		return result
	}

	result.Kind = KindOf(err)
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		result.Kind = models.ErrorKindTransientNetwork
		err = fmt.Errorf("publish timed out after %s: %w", s.opts.PublishTimeout, err)
	}
	result.Error = err.Error()
	slog.Info("provider publish failed", "provider", provider, "ref", post.Ref.String(), "kind", result.Kind, "error", err)
	return result
}

func (s *dispatchService) limiter(provider models.Provider) *rate.Limiter {
	if s.opts.RatePerMinute <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[provider]
	if !ok {
		burst := s.opts.RatePerMinute/6 + 1
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.opts.RatePerMinute)), burst)
		s.limiters[provider] = l
	}
	return l
}
