// Package clock abstracts wall time so the dispatch pipeline can be driven
// by a fake clock in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// NewTimer returns a timer that fires once at deadline. A deadline that
	// has already passed fires immediately.
	NewTimer(deadline time.Time) Timer
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realClock struct{}

// Real returns the system clock. All times are in UTC.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func (realClock) NewTimer(deadline time.Time) Timer {
	return &realTimer{t: time.NewTimer(time.Until(deadline))}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time {
	return r.t.C
}

func (r *realTimer) Stop() bool {
	return r.t.Stop()
}
