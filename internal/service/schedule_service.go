package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

var ErrAlreadyScheduled = errors.New("post already has a pending timer")

// TimerDispatcher holds one-shot wake-ups for near-term posts and hands each
// post to the dispatch service when its time comes.
type TimerDispatcher interface {
	// Schedule registers a timer for post.ScheduledTime. It returns
	// ErrAlreadyScheduled when a timer with the same key is still pending.
	Schedule(ctx context.Context, post *models.ScheduledPost) error
	// Cancel removes a pending timer owned by userID. It reports false when
	// no such timer is pending in this process.
	Cancel(ctx context.Context, userID int64, key string) bool
}

const (
	ModeNear = "near"
	ModeFar  = "far"
)

type ScheduleResult struct {
	Accepted bool
	Mode     string
	ID       int64
	Ref      uuid.UUID
	Key      string
}

type ScheduleService interface {
	SchedulePost(ctx context.Context, userID int64, req *transfer.ScheduleRequest) (*ScheduleResult, error)
	CancelPost(ctx context.Context, userID int64, key string) (bool, error)
}

type ScheduleOptions struct {
	NearTermThreshold time.Duration
	// PastDueTolerance is how far in the past a post time may be and still
	// be accepted for immediate dispatch.
	PastDueTolerance time.Duration
}

type scheduleService struct {
	registry *PublisherRegistry
	timers   TimerDispatcher
	store    repository.ScheduledPostRepository
	clock    clock.Clock
	opts     ScheduleOptions
}

func NewScheduleService(
	registry *PublisherRegistry,
	timers TimerDispatcher,
	store repository.ScheduledPostRepository,
	clk clock.Clock,
	opts ScheduleOptions) ScheduleService {
	return &scheduleService{
		registry: registry,
		timers:   timers,
		store:    store,
		clock:    clk,
		opts:     opts,
	}
}

func (s *scheduleService) SchedulePost(ctx context.Context, userID int64, req *transfer.ScheduleRequest) (*ScheduleResult, error) {
	rejected := &ScheduleResult{Accepted: false}

	if req == nil {
		metrics.ScheduleRejectedTotal.WithLabelValues("validation").Inc()
		return rejected, &ValidationError{Field: "request", Reason: "is empty"}
	}

	scheduledTime, err := time.ParseInLocation(models.PostTimeLayout, strings.TrimSpace(req.PostTime), time.UTC)
	if err != nil {
		metrics.ScheduleRejectedTotal.WithLabelValues("parse").Inc()
		return rejected, &ScheduleParseError{Value: req.PostTime, Err: err}
	}

	post, err := s.buildPost(userID, scheduledTime, req)
	if err != nil {
		metrics.ScheduleRejectedTotal.WithLabelValues("validation").Inc()
		return rejected, err
	}

	delay := scheduledTime.Sub(s.clock.Now())
	if delay < -s.opts.PastDueTolerance {
		metrics.ScheduleRejectedTotal.WithLabelValues("validation").Inc()
		return rejected, &ValidationError{Field: "post_time", Reason: "is already in the past"}
	}

	if delay < s.opts.NearTermThreshold {
		if err := s.timers.Schedule(ctx, post); err != nil {
			metrics.ScheduleRejectedTotal.WithLabelValues("timer").Inc()
			slog.Error("error registering timer", "ref", post.Ref.String(), "error", err)
			return rejected, err
		}
		metrics.ScheduledTotal.WithLabelValues(ModeNear).Inc()
		slog.Info("post scheduled in process", "user_id", userID, "ref", post.Ref.String(), "delay", delay.Round(time.Second))
		return &ScheduleResult{Accepted: true, Mode: ModeNear, Ref: post.Ref, Key: post.Key()}, nil
	}

	rec, err := post.ToRecord()
	if err != nil {
		metrics.ScheduleRejectedTotal.WithLabelValues("validation").Inc()
		return rejected, &ValidationError{Field: "payloads", Reason: err.Error()}
	}

	id, err := s.store.Add(ctx, rec)
	if err != nil {
		metrics.ScheduleRejectedTotal.WithLabelValues("persistence").Inc()
		perr := &PersistenceError{Op: "add", Err: err}
		slog.Error(perr.Error(), "user_id", userID, "ref", post.Ref.String())
		return rejected, perr
	}
	post.ID = id

	metrics.ScheduledTotal.WithLabelValues(ModeFar).Inc()
	slog.Info("post persisted for later", "user_id", userID, "id", id, "post_time", rec.PostTime)
	return &ScheduleResult{Accepted: true, Mode: ModeFar, ID: id, Ref: post.Ref, Key: post.Key()}, nil
}

func (s *scheduleService) buildPost(userID int64, scheduledTime time.Time, req *transfer.ScheduleRequest) (*models.ScheduledPost, error) {
	location := strings.TrimSpace(req.ContentLocation)
	if location == "" {
		return nil, &ValidationError{Field: "content_location", Reason: "is required"}
	}

	mediaType := models.MediaType(strings.ToUpper(strings.TrimSpace(req.MediaType)))
	if !mediaType.Valid() {
		return nil, &ValidationError{Field: "media_type", Reason: "must be IMAGE or VIDEO"}
	}

	seen := make(map[models.Provider]bool, len(req.Providers))
	var providers []models.Provider
	for _, name := range req.Providers {
		provider := models.ParseProvider(name)
		if provider == "" || seen[provider] {
			continue
		}
		if _, ok := s.registry.Lookup(provider); !ok {
			return nil, &ValidationError{Field: "providers", Reason: "unsupported provider " + string(provider)}
		}
		seen[provider] = true
		providers = append(providers, provider)
	}
	if len(providers) == 0 {
		return nil, &ValidationError{Field: "providers", Reason: "at least one provider is required"}
	}

	payloads := make(map[models.Provider]json.RawMessage, len(req.Payloads))
	for name, raw := range req.Payloads {
		provider := models.ParseProvider(name)
		if !seen[provider] {
			continue
		}
		if len(raw) > 0 && !json.Valid(raw) {
			return nil, &ValidationError{Field: "payloads", Reason: "invalid JSON for " + string(provider)}
		}
		payloads[provider] = raw
	}

	return &models.ScheduledPost{
		Ref:             uuid.New(),
		UserID:          userID,
		ContentLocation: location,
		ScheduledTime:   scheduledTime,
		MediaType:       mediaType,
		Providers:       providers,
		Payloads:        payloads,
	}, nil
}

// CancelPost withdraws a post that has not started dispatching. Persisted
// posts are deleted from the store whether or not they were promoted yet.
func (s *scheduleService) CancelPost(ctx context.Context, userID int64, key string) (bool, error) {
	switch {
	case strings.HasPrefix(key, "ref:"):
		if _, err := uuid.Parse(strings.TrimPrefix(key, "ref:")); err != nil {
			return false, &ValidationError{Field: "key", Reason: "malformed ref"}
		}
		return s.timers.Cancel(ctx, userID, key), nil

	case strings.HasPrefix(key, "post:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(key, "post:"), 10, 64)
		if err != nil || id <= 0 {
			return false, &ValidationError{Field: "key", Reason: "malformed post id"}
		}

		removed, err := s.store.RemovePending(ctx, id, userID)
		if err != nil {
			return false, &PersistenceError{Op: "remove pending", ID: id, Err: err}
		}
		if removed {
			return true, nil
		}

		if !s.timers.Cancel(ctx, userID, key) {
			return false, nil
		}
		if err := s.store.Remove(ctx, id); err != nil {
			return true, &PersistenceError{Op: "remove", ID: id, Err: err}
		}
		return true, nil

	default:
		return false, &ValidationError{Field: "key", Reason: "must start with post: or ref:"}
	}
}
