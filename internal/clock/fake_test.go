package clock

import (
	"testing"
	"time"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFake_TimerFiresOnAdvance(t *testing.T) {
	f := NewFake(base)
	timer := f.NewTimer(base.Add(time.Hour))

	f.Advance(59 * time.Minute)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	f.Advance(time.Minute)
	select {
	case fired := <-timer.C():
		if !fired.Equal(base.Add(time.Hour)) {
			t.Errorf("expected fire time %s, got %s", base.Add(time.Hour), fired)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if f.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", f.Pending())
	}
}

func TestFake_PastDeadlineFiresImmediately(t *testing.T) {
	f := NewFake(base)
	timer := f.NewTimer(base.Add(-time.Minute))

	select {
	case <-timer.C():
	default:
		t.Fatal("expected immediate fire for past deadline")
	}
}

func TestFake_Stop(t *testing.T) {
	f := NewFake(base)
	timer := f.NewTimer(base.Add(time.Minute))

	if !timer.Stop() {
		t.Fatal("Stop should report an armed timer")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}

	f.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestReal_NowIsUTC(t *testing.T) {
	if loc := Real().Now().Location(); loc != time.UTC {
		t.Errorf("expected UTC, got %s", loc)
	}
}
