package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type publishCall struct {
	UserID   int64
	Media    models.MediaRef
	Metadata json.RawMessage
}

type fakePublisher struct {
	provider models.Provider
	err      error
	panicMsg string
	block    bool

	mu    sync.Mutex
	calls []publishCall
}

func (p *fakePublisher) Provider() models.Provider { return p.provider }

func (p *fakePublisher) Publish(ctx context.Context, userID int64, media models.MediaRef, metadata json.RawMessage) error {
	p.mu.Lock()
	p.calls = append(p.calls, publishCall{UserID: userID, Media: media, Metadata: metadata})
	p.mu.Unlock()

	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func (p *fakePublisher) Calls() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

type fakeTimers struct {
	mu        sync.Mutex
	scheduled []*models.ScheduledPost
	cancelled []string
	err       error
}

func (f *fakeTimers) Schedule(ctx context.Context, post *models.ScheduledPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, post)
	return nil
}

func (f *fakeTimers) Cancel(ctx context.Context, userID int64, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.scheduled {
		if p.Key() == key && p.UserID == userID {
			f.scheduled = append(f.scheduled[:i], f.scheduled[i+1:]...)
			f.cancelled = append(f.cancelled, key)
			return true
		}
	}
	return false
}

func (f *fakeTimers) Scheduled() []*models.ScheduledPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.ScheduledPost(nil), f.scheduled...)
}

// countingStore wraps the memory store to count calls and inject failures.
type countingStore struct {
	*repository.MemoryScheduledPostRepository

	mu        sync.Mutex
	adds      int
	removes   []int64
	addErr    error
	removeErr error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryScheduledPostRepository: repository.NewMemoryScheduledPostRepository()}
}

func (s *countingStore) Add(ctx context.Context, rec *models.ScheduleRecord) (int64, error) {
	s.mu.Lock()
	s.adds++
	err := s.addErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.MemoryScheduledPostRepository.Add(ctx, rec)
}

func (s *countingStore) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	s.removes = append(s.removes, id)
	err := s.removeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryScheduledPostRepository.Remove(ctx, id)
}

func (s *countingStore) Adds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adds
}

func (s *countingStore) Removes() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.removes...)
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []*models.DispatchOutcome
}

func (s *recordingSink) Record(ctx context.Context, o *models.DispatchOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

var errBoom = errors.New("boom")
