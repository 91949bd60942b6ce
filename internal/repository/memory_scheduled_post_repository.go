package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

// MemoryScheduledPostRepository keeps records in process memory with the
// same claim semantics as the Postgres store.
type MemoryScheduledPostRepository struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*models.ScheduleRecord
	now     func() time.Time
}

func NewMemoryScheduledPostRepository() *MemoryScheduledPostRepository {
	return &MemoryScheduledPostRepository{
		records: make(map[int64]*models.ScheduleRecord),
		now:     time.Now,
	}
}

func (r *MemoryScheduledPostRepository) EnsureSchema(ctx context.Context) error {
	return nil
}

func (r *MemoryScheduledPostRepository) Add(ctx context.Context, rec *models.ScheduleRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := *rec
	stored.ID = r.nextID
	stored.Status = models.RecordStatusPending
	stored.ClaimedAt = nil
	stored.CreatedAt = r.now().UTC()
	stored.FullPayload = append([]byte(nil), rec.FullPayload...)
	r.records[stored.ID] = &stored

	return stored.ID, nil
}

func (r *MemoryScheduledPostRepository) QueryDueWithin(ctx context.Context, from, to time.Time, limit int) ([]*models.ScheduleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lo := from.UTC().Format(models.PostTimeLayout)
	hi := to.UTC().Format(models.PostTimeLayout)

	r.mu.Lock()
	var due []*models.ScheduleRecord
	for _, rec := range r.records {
		if rec.Status != models.RecordStatusPending || rec.PostTime < lo || rec.PostTime > hi {
			continue
		}
		c := *rec
		due = append(due, &c)
	}
	r.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].PostTime != due[j].PostTime {
			return due[i].PostTime < due[j].PostTime
		}
		return due[i].ID < due[j].ID
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MemoryScheduledPostRepository) ClaimPending(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.Status != models.RecordStatusPending {
		return false, nil
	}
	now := r.now().UTC()
	rec.Status = models.RecordStatusClaimed
	rec.ClaimedAt = &now
	return true, nil
}

func (r *MemoryScheduledPostRepository) MarkDispatching(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.Status != models.RecordStatusClaimed {
		return false, nil
	}
	rec.Status = models.RecordStatusDispatching
	return true, nil
}

func (r *MemoryScheduledPostRepository) Release(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok && rec.Status == models.RecordStatusClaimed {
		rec.Status = models.RecordStatusPending
		rec.ClaimedAt = nil
	}
	return nil
}

func (r *MemoryScheduledPostRepository) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *MemoryScheduledPostRepository) RemovePending(ctx context.Context, id, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.UserID != userID || rec.Status != models.RecordStatusPending {
		return false, nil
	}
	delete(r.records, id)
	return true, nil
}

func (r *MemoryScheduledPostRepository) ReleaseStale(ctx context.Context, postTimeBefore time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := postTimeBefore.UTC().Format(models.PostTimeLayout)

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, rec := range r.records {
		if rec.Status == models.RecordStatusClaimed && rec.PostTime < cutoff {
			rec.Status = models.RecordStatusPending
			rec.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (r *MemoryScheduledPostRepository) ExpireOverdue(ctx context.Context, postTimeBefore time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := postTimeBefore.UTC().Format(models.PostTimeLayout)

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, rec := range r.records {
		if rec.Status == models.RecordStatusClaimed || rec.PostTime >= cutoff {
			continue
		}
		delete(r.records, id)
		n++
	}
	return n, nil
}

// Get returns a copy of the record, mainly for tests and diagnostics.
func (r *MemoryScheduledPostRepository) Get(id int64) (*models.ScheduleRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	c := *rec
	return &c, true
}

func (r *MemoryScheduledPostRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
