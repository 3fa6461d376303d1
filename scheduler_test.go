package pipeline

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerScheduleOnce(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan struct{})
	s.ScheduleOnce(func() { close(fired) }, 10*time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("one-shot task never fired")
	}
}

func TestSchedulerFixedRateFiresRepeatedly(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	ticks := make(chan struct{}, 16)
	s.ScheduleAtFixedRate(func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}, 0, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatalf("fixed-rate task stopped after %d tick(s)", i)
		}
	}
}

func TestSchedulerFixedDelayFiresRepeatedly(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	ticks := make(chan struct{}, 16)
	s.ScheduleWithFixedDelay(func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}, 0, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatalf("fixed-delay task stopped after %d tick(s)", i)
		}
	}
}

func TestSchedulerFixedDelayWaitsForCompletion(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	const (
		body  = 60 * time.Millisecond
		delay = 100 * time.Millisecond
	)

	starts := make(chan time.Time, 4)
	s.ScheduleWithFixedDelay(func() {
		select {
		case starts <- time.Now():
		default:
		}
		time.Sleep(body)
	}, 0, delay)

	var first, second time.Time
	for i, target := range []*time.Time{&first, &second} {
		select {
		case ts := <-starts:
			*target = ts
		case <-time.After(2 * time.Second):
			t.Fatalf("fixed-delay task stopped after %d invocation(s)", i)
		}
	}

	// The delay is measured from completion, so consecutive starts must be
	// at least body+delay apart.
	if gap := second.Sub(first); gap < 150*time.Millisecond {
		t.Fatalf("fixed-delay rescheduled before the previous invocation finished: gap %v", gap)
	}
}

func TestSchedulerFixedRateCatchesUpAfterOverrun(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	const (
		period = 100 * time.Millisecond
		body   = 150 * time.Millisecond
	)

	var calls atomic.Int64
	starts := make(chan time.Time, 4)
	s.ScheduleAtFixedRate(func() {
		select {
		case starts <- time.Now():
		default:
		}
		// Only the first invocation overruns its period.
		if calls.Add(1) == 1 {
			time.Sleep(body)
		}
	}, 0, period)

	var first, second time.Time
	for i, target := range []*time.Time{&first, &second} {
		select {
		case ts := <-starts:
			*target = ts
		case <-time.After(2 * time.Second):
			t.Fatalf("fixed-rate task stopped after %d invocation(s)", i)
		}
	}

	// The next deadline is the previous deadline plus the period. After a
	// 150ms body the 100ms deadline has already passed, so the second
	// invocation fires straight away instead of waiting another period
	// from completion (which would put the gap at body+period = 250ms).
	if gap := second.Sub(first); gap >= 220*time.Millisecond {
		t.Fatalf("fixed-rate waited after an overrun instead of catching up: gap %v", gap)
	}
}

func TestSchedulerEarlierTaskPreempts(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	got := make(chan string, 2)
	s.ScheduleOnce(func() { got <- "late" }, 200*time.Millisecond)
	s.ScheduleOnce(func() { got <- "early" }, 10*time.Millisecond)

	select {
	case first := <-got:
		if first != "early" {
			t.Fatalf("late task fired first")
		}
	case <-time.After(time.Second):
		t.Fatal("no task fired")
	}
}

func TestSchedulerStopDiscardsPending(t *testing.T) {
	s := NewScheduler()

	var fired atomic.Bool
	s.ScheduleOnce(func() { fired.Store(true) }, 50*time.Millisecond)
	s.Stop()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Fatal("pending task ran after Stop")
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	s := NewScheduler()
	s.Stop()
	s.Stop()
}

func TestSchedulerScheduleAfterStopIsNoop(t *testing.T) {
	s := NewScheduler()
	s.Stop()

	var fired atomic.Bool
	s.ScheduleOnce(func() { fired.Store(true) }, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if fired.Load() {
		t.Fatal("task scheduled after Stop still ran")
	}
}
