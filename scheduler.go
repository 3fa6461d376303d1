package pipeline

import (
	"container/heap"
	"time"

	"github.com/sasha-s/go-deadlock"
)

type schedulePolicy int

const (
	scheduleOneShot schedulePolicy = iota
	scheduleFixedRate
	scheduleFixedDelay
)

type timedTask struct {
	fn       func()
	nextRun  time.Time
	interval time.Duration
	policy   schedulePolicy
}

// taskHeap is a min-heap ordered by next run time.
type taskHeap []*timedTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].nextRun.Before(h[j].nextRun) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*timedTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

// Scheduler executes deferred and periodic functions on a single timer
// goroutine. Fixed-rate tasks are rescheduled from the previous deadline,
// fixed-delay tasks from the moment the previous invocation finished.
// Functions run on the scheduler goroutine, so a slow function delays
// everything behind it.
type Scheduler struct {
	mu      deadlock.Mutex
	tasks   taskHeap
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// NewScheduler starts the timer goroutine.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// ScheduleOnce runs fn once after delay.
func (s *Scheduler) ScheduleOnce(fn func(), delay time.Duration) {
	s.schedule(&timedTask{
		fn:      fn,
		nextRun: time.Now().Add(delay),
		policy:  scheduleOneShot,
	})
}

// ScheduleAtFixedRate runs fn after initialDelay and then every period,
// measured deadline to deadline.
func (s *Scheduler) ScheduleAtFixedRate(fn func(), initialDelay, period time.Duration) {
	s.schedule(&timedTask{
		fn:       fn,
		nextRun:  time.Now().Add(initialDelay),
		interval: period,
		policy:   scheduleFixedRate,
	})
}

// ScheduleWithFixedDelay runs fn after initialDelay and then delay after each
// invocation completes.
func (s *Scheduler) ScheduleWithFixedDelay(fn func(), initialDelay, delay time.Duration) {
	s.schedule(&timedTask{
		fn:       fn,
		nextRun:  time.Now().Add(initialDelay),
		interval: delay,
		policy:   scheduleFixedDelay,
	})
}

// Stop halts the scheduler and joins the timer goroutine. Tasks that have not
// fired yet are discarded. Idempotent; scheduling after Stop is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.notify()
	<-s.done
}

func (s *Scheduler) schedule(task *timedTask) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	heap.Push(&s.tasks, task)
	s.mu.Unlock()

	s.notify()
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		if len(s.tasks) == 0 {
			s.mu.Unlock()
			<-s.wake
			continue
		}

		next := s.tasks[0]
		now := time.Now()

		if now.Before(next.nextRun) {
			wait := next.nextRun.Sub(now)
			s.mu.Unlock()

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				// An earlier task or a stop arrived; re-evaluate.
				timer.Stop()
			}
			continue
		}

		task := heap.Pop(&s.tasks).(*timedTask)
		s.mu.Unlock()

		task.fn()

		switch task.policy {
		case scheduleFixedRate:
			task.nextRun = task.nextRun.Add(task.interval)
			s.schedule(task)
		case scheduleFixedDelay:
			task.nextRun = time.Now().Add(task.interval)
			s.schedule(task)
		}
	}
}
