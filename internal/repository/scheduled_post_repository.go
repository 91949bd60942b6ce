package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// ScheduledPostRepository is the durable store of far-term posts. Every
// read-then-mutate step is a single conditional statement so that two
// sweepers can never promote the same record.
type ScheduledPostRepository interface {
	EnsureSchema(ctx context.Context) error
	Add(ctx context.Context, rec *models.ScheduleRecord) (int64, error)
	QueryDueWithin(ctx context.Context, from, to time.Time, limit int) ([]*models.ScheduleRecord, error)
	ClaimPending(ctx context.Context, id int64) (bool, error)
	MarkDispatching(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
	RemovePending(ctx context.Context, id, userID int64) (bool, error)
	ReleaseStale(ctx context.Context, postTimeBefore time.Time) (int64, error)
	ExpireOverdue(ctx context.Context, postTimeBefore time.Time) (int64, error)
}

type scheduledPostRepository struct {
	db *sql.DB
}

func NewScheduledPostRepository(db *sql.DB) ScheduledPostRepository {
	return &scheduledPostRepository{db: db}
}

func (r *scheduledPostRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *scheduledPostRepository) Add(ctx context.Context, rec *models.ScheduleRecord) (int64, error) {
	query := `
		INSERT INTO scheduled_posts (user_id, content_location, post_time, media_type, providers, full_payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		rec.UserID,
		rec.ContentLocation,
		rec.PostTime,
		rec.MediaType,
		rec.Providers,
		string(rec.FullPayload),
		models.RecordStatusPending,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *scheduledPostRepository) QueryDueWithin(ctx context.Context, from, to time.Time, limit int) ([]*models.ScheduleRecord, error) {
	query := `
		SELECT id, user_id, content_location, post_time, media_type, providers, full_payload, status, claimed_at, created_at
		FROM scheduled_posts
		WHERE status = $1 AND post_time >= $2 AND post_time <= $3
		ORDER BY post_time, id
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.RecordStatusPending,
		from.UTC().Format(models.PostTimeLayout),
		to.UTC().Format(models.PostTimeLayout),
		limit,
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var records []*models.ScheduleRecord
	for rows.Next() {
		var rec models.ScheduleRecord
		var claimedAt sql.NullTime
		err := rows.Scan(&rec.ID, &rec.UserID, &rec.ContentLocation, &rec.PostTime, &rec.MediaType,
			&rec.Providers, &rec.FullPayload, &rec.Status, &claimedAt, &rec.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		if claimedAt.Valid {
			rec.ClaimedAt = &claimedAt.Time
		}
		records = append(records, &rec)
	}

	if err = rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return records, nil
}

// ClaimPending moves a record from PENDING to CLAIMED. It reports false when
// another sweeper already claimed or removed the record.
func (r *scheduledPostRepository) ClaimPending(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			claimed_at = NOW()
		WHERE id = $2 AND status = $3
	`
	return r.execAffected(ctx, query, models.RecordStatusClaimed, id, models.RecordStatusPending)
}

// MarkDispatching moves a record from CLAIMED to DISPATCHING right before
// the publish attempt. Only one holder of a claim can win this step, and the
// stale reaper never touches DISPATCHING rows.
func (r *scheduledPostRepository) MarkDispatching(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	return r.execAffected(ctx, query, models.RecordStatusDispatching, id, models.RecordStatusClaimed)
}

func (r *scheduledPostRepository) Release(ctx context.Context, id int64) error {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			claimed_at = NULL
		WHERE id = $2 AND status = $3
	`
	_, err := r.execAffected(ctx, query, models.RecordStatusPending, id, models.RecordStatusClaimed)
	return err
}

func (r *scheduledPostRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM scheduled_posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *scheduledPostRepository) RemovePending(ctx context.Context, id, userID int64) (bool, error) {
	query := `DELETE FROM scheduled_posts WHERE id = $1 AND user_id = $2 AND status = $3`
	return r.execAffected(ctx, query, id, userID, models.RecordStatusPending)
}

// ReleaseStale returns CLAIMED records whose post time is older than the
// cutoff to PENDING. Such a record never reached DISPATCHING, so its timer
// was lost or is still waiting for a worker slot.
func (r *scheduledPostRepository) ReleaseStale(ctx context.Context, postTimeBefore time.Time) (int64, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			claimed_at = NULL
		WHERE status = $2 AND post_time < $3
	`
	result, err := r.db.ExecContext(ctx, query,
		models.RecordStatusPending,
		models.RecordStatusClaimed,
		postTimeBefore.UTC().Format(models.PostTimeLayout),
	)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return result.RowsAffected()
}

// ExpireOverdue deletes PENDING and DISPATCHING records whose post time is
// older than the cutoff. Those can no longer be selected by a sweep, or were
// left behind by a process that stopped in the middle of a dispatch.
func (r *scheduledPostRepository) ExpireOverdue(ctx context.Context, postTimeBefore time.Time) (int64, error) {
	query := `
		DELETE FROM scheduled_posts
		WHERE status IN ($1, $2) AND post_time < $3
	`
	result, err := r.db.ExecContext(ctx, query,
		models.RecordStatusPending,
		models.RecordStatusDispatching,
		postTimeBefore.UTC().Format(models.PostTimeLayout),
	)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return result.RowsAffected()
}

func (r *scheduledPostRepository) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affectedRows, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affectedRows == 1, nil
}
