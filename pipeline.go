// Package pipeline runs a set of jobs connected by must-finish-before edges
// on a fixed pool of workers, failing fast on the first job error.
package pipeline

import (
	"context"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sasha-s/go-deadlock"
)

func init() {
	maxprocs.Set()

	deadlock.Opts.DeadlockTimeout = time.Second * 2
	deadlock.Opts.OnPotentialDeadlock = func() {
		log.Println("POTENTIAL DEADLOCK DETECTED!")
		buf := make([]byte, 1<<16)
		runtime.Stack(buf, true)
		log.Printf("Goroutine stack dump:\n%s", buf)
	}
}

// Option configures a Pipeline.
type Option[ID comparable] func(*Pipeline[ID])

// WithWorkers sets the worker count. Values below 1 are ignored. The default
// is the available hardware parallelism with a floor of 2.
func WithWorkers[ID comparable](n int) Option[ID] {
	return func(p *Pipeline[ID]) {
		if n >= 1 {
			p.workerCount = n
		}
	}
}

// WithLogger replaces the default (disabled) logger.
func WithLogger[ID comparable](logger Logger) Option[ID] {
	return func(p *Pipeline[ID]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRateLimit throttles job dispatch to rps job starts per second across
// all workers.
func WithRateLimit[ID comparable](rps float64) Option[ID] {
	return func(p *Pipeline[ID]) {
		p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithOnJobSuccess registers a callback invoked after a job body returns nil.
func WithOnJobSuccess[ID comparable](handler func(id ID)) Option[ID] {
	return func(p *Pipeline[ID]) {
		p.onJobSuccess = handler
	}
}

// WithOnJobFailure registers a callback invoked after a job body returns an
// error or panics. It observes every failure, including ones that lose the
// race to be recorded as the run's cause.
func WithOnJobFailure[ID comparable](handler func(id ID, err error)) Option[ID] {
	return func(p *Pipeline[ID]) {
		p.onJobFailure = handler
	}
}

// Metrics holds atomic counters for a run.
type Metrics struct {
	JobsSubmitted int64
	JobsExecuted  int64
	JobsSucceeded int64
	JobsFailed    int64
}

// Pipeline executes a validated job graph. All state is owned by the value;
// nothing is shared between pipelines. A Pipeline runs at most once.
type Pipeline[ID comparable] struct {
	graph *jobGraph[ID]
	queue *readyQueue[ID]

	// mu serializes indegree mutation, the completion counter, and the
	// terminal transition, so a job can never be pushed after an outcome
	// has been recorded. Job bodies run with mu released.
	mu        deadlock.Mutex
	completed int
	finished  bool
	runErr    error
	done      chan struct{}

	started atomic.Bool

	workerCount  int
	limiter      *rate.Limiter
	logger       Logger
	onJobSuccess func(id ID)
	onJobFailure func(id ID, err error)

	metrics Metrics
}

// NewPipeline builds and validates the job graph. It fails with
// ErrDuplicateJobID, ErrUnknownJobReference or ErrCycleDetected before any
// worker is started; there is no partial build.
func NewPipeline[ID comparable](jobs []Job[ID], edges []Edge[ID], options ...Option[ID]) (*Pipeline[ID], error) {
	graph, err := newJobGraph(jobs, edges)
	if err != nil {
		return nil, err
	}

	p := &Pipeline[ID]{
		graph:       graph,
		queue:       newReadyQueue[ID](),
		done:        make(chan struct{}),
		workerCount: defaultWorkerCount(),
		logger:      NewDisabledLogger(),
	}

	for _, option := range options {
		option(p)
	}

	atomic.StoreInt64(&p.metrics.JobsSubmitted, int64(len(jobs)))

	p.logger.Debug(context.Background(), "Pipeline built",
		"jobs", len(jobs),
		"edges", len(edges),
		"workers", p.workerCount)

	return p, nil
}

// Run executes every job exactly once, respecting all dependency edges. It
// returns nil when all jobs completed, a *JobError for the first recorded job
// failure, or the cancellation cause when ctx ends the run early. In-flight
// job bodies always run to natural completion; cancellation only suppresses
// further dispatch.
func (p *Pipeline[ID]) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyRan
	}

	total := len(p.graph.jobs)
	if total == 0 {
		p.logger.Debug(ctx, "Nothing to run")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, id := range p.graph.roots() {
		p.queue.push(id)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workerCount; i++ {
		workerID := i
		eg.Go(func() error {
			p.workerLoop(ctx, workerID)
			return nil
		})
	}

	// Release blocked workers if the caller gives up before the run ends.
	go func() {
		select {
		case <-ctx.Done():
			p.finish(ctx.Err())
		case <-p.done:
		}
		p.queue.shutdown()
	}()

	<-p.done
	p.queue.shutdown()
	_ = eg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runErr != nil {
		p.logger.Error(ctx, "Pipeline failed", "error", p.runErr)
	} else {
		p.logger.Info(ctx, "Pipeline completed", "jobs", total)
	}
	return p.runErr
}

// Metrics returns a snapshot of the current counters.
func (p *Pipeline[ID]) Metrics() Metrics {
	return Metrics{
		JobsSubmitted: atomic.LoadInt64(&p.metrics.JobsSubmitted),
		JobsExecuted:  atomic.LoadInt64(&p.metrics.JobsExecuted),
		JobsSucceeded: atomic.LoadInt64(&p.metrics.JobsSucceeded),
		JobsFailed:    atomic.LoadInt64(&p.metrics.JobsFailed),
	}
}

// finish records the terminal outcome. Only the first caller wins; later
// outcomes are discarded.
func (p *Pipeline[ID]) finish(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finishLocked(err)
}

func (p *Pipeline[ID]) finishLocked(err error) bool {
	if p.finished {
		return false
	}
	p.finished = true
	p.runErr = err
	close(p.done)
	return true
}

func (p *Pipeline[ID]) isFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n < 2 {
		n = 2
	}
	return n
}
