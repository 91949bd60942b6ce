package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
)

type SweepOptions struct {
	// Lookahead must be at least the sweep interval so no record falls
	// between two ticks.
	Lookahead time.Duration
	// OverdueGrace bounds how far in the past a record may be and still be
	// promoted, which picks up records missed while the process was down.
	// Unclaimed records older than that are deleted as expired.
	OverdueGrace time.Duration
	// StaleClaimAfter releases claims whose post time passed this long ago
	// without the record being removed.
	StaleClaimAfter time.Duration
	BatchSize       int
}

type SweepReport struct {
	Released int64
	Expired  int64
	Due      int
	Promoted int
	Skipped  int
	Failed   int
}

// SweepJob promotes durable records that fall due within the lookahead
// window into the timer dispatcher.
type SweepJob struct {
	store  repository.ScheduledPostRepository
	timers service.TimerDispatcher
	clock  clock.Clock
	opts   SweepOptions

	mu sync.Mutex
}

func NewSweepJob(store repository.ScheduledPostRepository, timers service.TimerDispatcher, clk clock.Clock, opts SweepOptions) *SweepJob {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &SweepJob{
		store:  store,
		timers: timers,
		clock:  clk,
		opts:   opts,
	}
}

// Run implements cron.Job.
func (j *SweepJob) Run() {
	report, err := j.Tick(context.Background())
	if err != nil {
		slog.Error("sweep tick failed", "error", err)
		return
	}
	slog.Info("sweep tick finished",
		"released", report.Released,
		"expired", report.Expired,
		"due", report.Due,
		"promoted", report.Promoted,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
}

// Tick runs one sweep. Ticks never overlap inside one process; across
// processes the claim keeps each record promoted once.
func (j *SweepJob) Tick(ctx context.Context) (report SweepReport, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	now := j.clock.Now()

	if j.opts.StaleClaimAfter > 0 {
		released, err := j.store.ReleaseStale(ctx, now.Add(-j.opts.StaleClaimAfter))
		if err != nil {
			slog.Error((&service.PersistenceError{Op: "release stale", Err: err}).Error())
		} else if released > 0 {
			slog.Warn("released stale claims", "count", released)
			report.Released = released
		}
	}

	if j.opts.OverdueGrace > 0 {
		expired, err := j.store.ExpireOverdue(ctx, now.Add(-j.opts.OverdueGrace))
		if err != nil {
			slog.Error((&service.PersistenceError{Op: "expire overdue", Err: err}).Error())
		} else if expired > 0 {
			slog.Warn("deleted records that were never dispatched", "count", expired, "older_than", j.opts.OverdueGrace)
			report.Expired = expired
			metrics.SweepExpiredTotal.Add(float64(expired))
		}
	}

	records, err := j.store.QueryDueWithin(ctx, now.Add(-j.opts.OverdueGrace), now.Add(j.opts.Lookahead), j.opts.BatchSize)
	if err != nil {
		return report, &service.PersistenceError{Op: "query due", Err: err}
	}
	report.Due = len(records)

	for _, rec := range records {
		promoted, perr := j.promote(ctx, rec)
		switch {
		case perr != nil:
			report.Failed++
			metrics.SweepFailedTotal.Inc()
			slog.Error(perr.Error())
		case promoted:
			report.Promoted++
			metrics.SweepPromotedTotal.Inc()
		default:
			report.Skipped++
		}
	}

	return report, nil
}

// promote claims one record and registers its timer. A record that another
// sweeper claimed first is skipped. If the timer cannot be registered the
// claim is released so a later tick retries it.
func (j *SweepJob) promote(ctx context.Context, rec *models.ScheduleRecord) (promoted bool, perr *service.PromotionError) {
	defer func() {
		if r := recover(); r != nil {
			promoted = false
			perr = &service.PromotionError{RecordID: rec.ID, Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()

	claimed, err := j.store.ClaimPending(ctx, rec.ID)
	if err != nil {
		return false, &service.PromotionError{RecordID: rec.ID, Stage: "claim", Err: err}
	}
	if !claimed {
		return false, nil
	}

	post, err := rec.ToPost()
	if err != nil {
		// Malformed records can never be dispatched; keep them claimed so
		// they are not selected again until the stale reaper releases them.
		return false, &service.PromotionError{RecordID: rec.ID, Stage: "decode", Err: err}
	}

	err = j.timers.Schedule(ctx, post)
	if errors.Is(err, service.ErrAlreadyScheduled) {
		return false, nil
	}
	if err != nil {
		if rerr := j.store.Release(context.WithoutCancel(ctx), rec.ID); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return false, &service.PromotionError{RecordID: rec.ID, Stage: "schedule", Err: err}
	}

	return true, nil
}
