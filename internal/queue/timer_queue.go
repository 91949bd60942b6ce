package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
)

type timerEntry struct {
	post  *models.ScheduledPost
	index int
}

// timerHeap orders entries by scheduled time, earliest first.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].post.ScheduledTime.Before(h[j].post.ScheduledTime)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimerQueue is the in-process timer dispatcher. One loop goroutine sleeps
// until the earliest deadline; due posts are published on a bounded pool.
// Pending timers live only in memory and are lost on restart. A key stays
// registered from Schedule until its dispatch returns.
type TimerQueue struct {
	dispatch service.DispatchService
	clock    clock.Clock

	mu       sync.Mutex
	heap     timerHeap
	byKey    map[string]*timerEntry
	inflight map[string]struct{}

	wake chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup
}

func NewTimerQueue(dispatch service.DispatchService, clk clock.Clock, concurrency int) *TimerQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &TimerQueue{
		dispatch: dispatch,
		clock:    clk,
		byKey:    make(map[string]*timerEntry),
		inflight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		sem:      make(chan struct{}, concurrency),
	}
}

func (q *TimerQueue) Schedule(ctx context.Context, post *models.ScheduledPost) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := post.Key()

	q.mu.Lock()
	if q.registered(key) {
		q.mu.Unlock()
		return service.ErrAlreadyScheduled
	}
	e := &timerEntry{post: post}
	heap.Push(&q.heap, e)
	q.byKey[key] = e
	earliest := e.index == 0
	metrics.PendingTimers.Set(float64(len(q.heap)))
	q.mu.Unlock()

	if earliest {
		q.signal()
	}
	return nil
}

func (q *TimerQueue) Cancel(ctx context.Context, userID int64, key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byKey[key]
	if !ok || e.post.UserID != userID {
		return false
	}
	heap.Remove(&q.heap, e.index)
	delete(q.byKey, key)
	metrics.PendingTimers.Set(float64(len(q.heap)))

	q.signal()
	return true
}

func (q *TimerQueue) registered(key string) bool {
	if _, ok := q.byKey[key]; ok {
		return true
	}
	_, ok := q.inflight[key]
	return ok
}

// Len reports the number of pending timers.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *TimerQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drives the timers until ctx is done, then waits for dispatches that
// already started.
func (q *TimerQueue) Run(ctx context.Context) {
	slog.Info("timer queue started", "concurrency", cap(q.sem))

	for {
		var timer clock.Timer
		var fire <-chan time.Time

		q.mu.Lock()
		if len(q.heap) > 0 {
			timer = q.clock.NewTimer(q.heap[0].post.ScheduledTime)
			fire = timer.C()
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			pending := q.Len()
			q.wg.Wait()
			slog.Info("timer queue stopped", "dropped_timers", pending)
			return
		case <-q.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			q.fireDue(ctx)
		}
	}
}

func (q *TimerQueue) fireDue(ctx context.Context) {
	now := q.clock.Now()

	q.mu.Lock()
	var due []*models.ScheduledPost
	for len(q.heap) > 0 && !q.heap[0].post.ScheduledTime.After(now) {
		e := heap.Pop(&q.heap).(*timerEntry)
		key := e.post.Key()
		delete(q.byKey, key)
		q.inflight[key] = struct{}{}
		due = append(due, e.post)
	}
	metrics.PendingTimers.Set(float64(len(q.heap)))
	q.mu.Unlock()

	for i, post := range due {
		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			for _, dropped := range due[i:] {
				slog.Warn("shutting down before dispatch started", "key", dropped.Key())
				q.finish(dropped.Key())
			}
			return
		}

		q.wg.Add(1)
		go q.run(context.WithoutCancel(ctx), post)
	}
}

func (q *TimerQueue) finish(key string) {
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

func (q *TimerQueue) run(ctx context.Context, post *models.ScheduledPost) {
	defer q.wg.Done()
	defer func() { <-q.sem }()
	defer q.finish(post.Key())
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch panicked", "key", post.Key(), "panic", r)
		}
	}()

	q.dispatch.Publish(ctx, post)
}
