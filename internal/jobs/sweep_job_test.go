package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeTimers struct {
	mu        sync.Mutex
	scheduled []*models.ScheduledPost
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

func (f *fakeTimers) Cancel(ctx context.Context, userID int64, key string) bool { return false }

func (f *fakeTimers) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

func addRecord(t *testing.T, store *repository.MemoryScheduledPostRepository, at time.Time) int64 {
	t.Helper()

	post := &models.ScheduledPost{
		Ref:             uuid.New(),
		UserID:          7,
		ContentLocation: "7/abc.mp4",
		ScheduledTime:   at,
		MediaType:       models.MediaTypeVideo,
		Providers:       []models.Provider{models.ProviderYoutube},
		Payloads: map[models.Provider]json.RawMessage{
			models.ProviderYoutube: json.RawMessage(`{"title":"clip"}`),
		},
	}
	rec, err := post.ToRecord()
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.Add(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

var defaultOpts = SweepOptions{
	Lookahead:       3 * time.Hour,
	OverdueGrace:    time.Hour,
	StaleClaimAfter: time.Hour,
}

func TestSweep_PromotesRecordsInWindowOnce(t *testing.T) {
	store := repository.NewMemoryScheduledPostRepository()
	timers := &fakeTimers{}
	addRecord(t, store, base.Add(time.Hour))
	addRecord(t, store, base.Add(2*time.Hour))
	addRecord(t, store, base.Add(5*time.Hour))
	addRecord(t, store, base.Add(-2*time.Hour))

	sweep := NewSweepJob(store, timers, clock.NewFake(base), defaultOpts)

	report, err := sweep.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Due != 2 || report.Promoted != 2 || timers.Len() != 2 {
		t.Fatalf("expected 2 promoted, got %+v with %d timers", report, timers.Len())
	}
	if report.Expired != 1 {
		t.Errorf("record older than the grace should expire, got %+v", report)
	}
	for _, p := range timers.scheduled {
		if p.ID == 0 || p.Key() != fmt.Sprintf("post:%d", p.ID) {
			t.Errorf("promoted post should be keyed by record id, got %s", p.Key())
		}
	}

	report, err = sweep.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Due != 0 || report.Expired != 0 || timers.Len() != 2 {
		t.Errorf("second tick must not promote again, got %+v", report)
	}
	if store.Len() != 3 {
		t.Errorf("sweep must keep the claimed and future records, got %d", store.Len())
	}
}

func TestSweep_MalformedRecordDoesNotAbortTick(t *testing.T) {
	store := repository.NewMemoryScheduledPostRepository()
	timers := &fakeTimers{}

	bad, err := store.Add(context.Background(), &models.ScheduleRecord{
		UserID:    7,
		PostTime:  base.Add(30 * time.Minute).Format(models.PostTimeLayout),
		MediaType: "GIF",
		Providers: "YOUTUBE",
	})
	if err != nil {
		t.Fatal(err)
	}
	addRecord(t, store, base.Add(time.Hour))

	sweep := NewSweepJob(store, timers, clock.NewFake(base), defaultOpts)
	report, err := sweep.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 || report.Promoted != 1 {
		t.Errorf("expected 1 failed and 1 promoted, got %+v", report)
	}

	rec, _ := store.Get(bad)
	if rec.Status != models.RecordStatusClaimed {
		t.Errorf("malformed record should stay claimed, got %s", rec.Status)
	}
}

func TestSweep_ScheduleFailureReleasesClaim(t *testing.T) {
	store := repository.NewMemoryScheduledPostRepository()
	timers := &fakeTimers{err: errors.New("redis down")}
	id := addRecord(t, store, base.Add(time.Hour))

	sweep := NewSweepJob(store, timers, clock.NewFake(base), defaultOpts)

	report, _ := sweep.Tick(context.Background())
	if report.Failed != 1 {
		t.Fatalf("expected a failed promotion, got %+v", report)
	}
	if rec, _ := store.Get(id); rec.Status != models.RecordStatusPending {
		t.Errorf("claim should be released, got %s", rec.Status)
	}

	timers.err = nil
	report, _ = sweep.Tick(context.Background())
	if report.Promoted != 1 {
		t.Errorf("next tick should promote the record, got %+v", report)
	}
}

func TestSweep_AlreadyScheduledIsSkipped(t *testing.T) {
	store := repository.NewMemoryScheduledPostRepository()
	timers := &fakeTimers{err: service.ErrAlreadyScheduled}
	addRecord(t, store, base.Add(time.Hour))

	report, err := NewSweepJob(store, timers, clock.NewFake(base), defaultOpts).Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Failed != 0 {
		t.Errorf("expected skip, got %+v", report)
	}
}

func TestSweep_ReleasesStaleClaims(t *testing.T) {
	store := repository.NewMemoryScheduledPostRepository()
	timers := &fakeTimers{}
	id := addRecord(t, store, base.Add(-90*time.Minute))
	if ok, _ := store.ClaimPending(context.Background(), id); !ok {
		t.Fatal("claim failed")
	}

	opts := defaultOpts
	opts.OverdueGrace = 2 * time.Hour
	report, err := NewSweepJob(store, timers, clock.NewFake(base), opts).Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Released != 1 || report.Promoted != 1 {
		t.Errorf("stale claim should be released and promoted again, got %+v", report)
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (p *recordingPublisher) Provider() models.Provider { return models.ProviderYoutube }

func (p *recordingPublisher) Publish(ctx context.Context, userID int64, media models.MediaRef, metadata json.RawMessage) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func TestSweep_FarTermPostFiresOnTime(t *testing.T) {
	clk := clock.NewFake(base)
	store := repository.NewMemoryScheduledPostRepository()
	publisher := &recordingPublisher{done: make(chan struct{}, 1)}
	dispatch := service.NewDispatchService(service.NewPublisherRegistry(publisher), store, nil, clk, service.DispatchOptions{})

	timers := queue.NewTimerQueue(dispatch, clk, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		timers.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	id := addRecord(t, store, base.Add(10*time.Hour))
	sweep := NewSweepJob(store, timers, clk, defaultOpts)

	clk.Set(base.Add(6 * time.Hour))
	report, _ := sweep.Tick(ctx)
	if report.Promoted != 0 {
		t.Fatalf("record outside the window must wait, got %+v", report)
	}

	clk.Set(base.Add(7*time.Hour + 15*time.Minute))
	report, _ = sweep.Tick(ctx)
	if report.Promoted != 1 || timers.Len() != 1 {
		t.Fatalf("expected promotion at +7h15m, got %+v", report)
	}

	clk.Set(base.Add(10*time.Hour - time.Second))
	select {
	case <-publisher.done:
		t.Fatal("published before the scheduled time")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Set(base.Add(10 * time.Hour))
	select {
	case <-publisher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("post was not published at its scheduled time")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := store.Get(id); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record not removed after dispatch")
		}
		time.Sleep(time.Millisecond)
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.calls != 1 {
		t.Errorf("expected one publish, got %d", publisher.calls)
	}
}

// slowPublisher blocks every publish until release is closed.
type slowPublisher struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (p *slowPublisher) Provider() models.Provider { return models.ProviderYoutube }

func (p *slowPublisher) Publish(ctx context.Context, userID int64, media models.MediaRef, metadata json.RawMessage) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.started <- struct{}{}
	<-p.release
	return nil
}

func (p *slowPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestSweep_SlowDispatchIsNotPromotedAgain(t *testing.T) {
	clk := clock.NewFake(base)
	store := repository.NewMemoryScheduledPostRepository()
	publisher := &slowPublisher{started: make(chan struct{}, 4), release: make(chan struct{})}
	dispatch := service.NewDispatchService(service.NewPublisherRegistry(publisher), store, nil, clk, service.DispatchOptions{})

	timers := queue.NewTimerQueue(dispatch, clk, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		timers.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	released := false
	defer func() {
		if !released {
			close(publisher.release)
		}
	}()

	opts := defaultOpts
	opts.OverdueGrace = 24 * time.Hour
	id := addRecord(t, store, base.Add(30*time.Minute))
	sweep := NewSweepJob(store, timers, clk, opts)

	report, _ := sweep.Tick(ctx)
	if report.Promoted != 1 {
		t.Fatalf("expected promotion, got %+v", report)
	}

	clk.Set(base.Add(30 * time.Minute))
	select {
	case <-publisher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not start")
	}

	// Publish is still running long after the stale-claim cutoff.
	clk.Set(base.Add(3 * time.Hour))
	report, err := sweep.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Released != 0 || report.Expired != 0 || report.Due != 0 || report.Promoted != 0 {
		t.Errorf("record being dispatched must not be revived, got %+v", report)
	}
	if rec, ok := store.Get(id); !ok || rec.Status != models.RecordStatusDispatching {
		t.Errorf("expected DISPATCHING record, got %+v", rec)
	}

	select {
	case <-publisher.started:
		t.Fatal("record dispatched a second time")
	case <-time.After(50 * time.Millisecond):
	}

	close(publisher.release)
	released = true

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := store.Get(id); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record not removed after dispatch")
		}
		time.Sleep(time.Millisecond)
	}
	if publisher.Calls() != 1 {
		t.Errorf("expected one publish, got %d", publisher.Calls())
	}
}

func TestSweep_BackloggedTimerIsNotPromotedAgain(t *testing.T) {
	store := repository.NewMemoryScheduledPostRepository()
	clk := clock.NewFake(base)
	dispatch := heldDispatch{}
	timers := queue.NewTimerQueue(dispatch, clk, 1)

	opts := defaultOpts
	opts.OverdueGrace = 24 * time.Hour
	id := addRecord(t, store, base.Add(30*time.Minute))
	sweep := NewSweepJob(store, timers, clk, opts)
	if report, _ := sweep.Tick(context.Background()); report.Promoted != 1 {
		t.Fatalf("expected promotion, got %+v", report)
	}

	// The timer is still registered, so a revived claim cannot add a second one.
	clk.Set(base.Add(3 * time.Hour))
	report, err := sweep.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Released != 1 || report.Promoted != 0 || report.Skipped != 1 {
		t.Errorf("revived record should be skipped, got %+v", report)
	}
	if timers.Len() != 1 {
		t.Errorf("expected a single timer, got %d", timers.Len())
	}
	if rec, _ := store.Get(id); rec.Status != models.RecordStatusClaimed {
		t.Errorf("record should stay claimed for the pending timer, got %s", rec.Status)
	}
}

type heldDispatch struct{}

func (heldDispatch) Publish(ctx context.Context, post *models.ScheduledPost) *models.DispatchOutcome {
	return nil
}
