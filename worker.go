package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
)

// workerLoop is the body of one pool worker: pop a ready job, execute it,
// report the outcome. The loop exits when the queue delivers no more work.
func (p *Pipeline[ID]) workerLoop(ctx context.Context, workerID int) {
	for {
		id, ok := p.queue.pop()
		if !ok {
			p.logger.Debug(ctx, "Worker exiting", "worker_id", workerID)
			return
		}

		// A terminal outcome may have been recorded while this id sat in
		// the queue; drain it without executing.
		if p.isFinished() {
			continue
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				// The run is being torn down; the popped job never started.
				return
			}
			// A failure may have been recorded while throttled.
			if p.isFinished() {
				continue
			}
		}

		p.logger.Debug(ctx, "Running job", "worker_id", workerID, "job_id", id)

		if err := p.invoke(ctx, id); err != nil {
			p.handleFailure(ctx, id, err)
		} else {
			p.handleSuccess(ctx, id)
		}
	}
}

// invoke runs a job body with panics converted to ordinary errors, so no
// error ever crosses a worker boundary uncaught.
func (p *Pipeline[ID]) invoke(ctx context.Context, id ID) (err error) {
	atomic.AddInt64(&p.metrics.JobsExecuted, 1)

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("panic in job %v: %v", id, r)
			p.logger.Error(ctx, "Job panicked",
				"job_id", id,
				"panic", r,
				"stack", string(buf[:n]))
		}
	}()

	err = p.graph.jobs[id].Body(ctx)
	return err
}

// handleSuccess updates the graph and counter under the pipeline mutex,
// pushes newly-ready dependents while the run is still pending, and records
// Success when the last job completes.
func (p *Pipeline[ID]) handleSuccess(ctx context.Context, id ID) {
	atomic.AddInt64(&p.metrics.JobsSucceeded, 1)
	if p.onJobSuccess != nil {
		p.onJobSuccess(id)
	}

	p.mu.Lock()
	ready := p.graph.completeJob(id)
	p.completed++
	if !p.finished {
		for _, next := range ready {
			p.queue.push(next)
		}
		if p.completed == len(p.graph.jobs) {
			p.finishLocked(nil)
		}
	}
	finished := p.finished
	completed := p.completed
	p.mu.Unlock()

	p.logger.Debug(ctx, "Job completed", "job_id", id, "completed", completed, "newly_ready", len(ready))

	if finished {
		p.queue.shutdown()
	}
}

// handleFailure attempts the exactly-once Pending to Failure transition.
// Losing workers discard their own cause; winner or loser, the queue comes
// down so no further job is dispatched.
func (p *Pipeline[ID]) handleFailure(ctx context.Context, id ID, cause error) {
	atomic.AddInt64(&p.metrics.JobsFailed, 1)
	if p.onJobFailure != nil {
		p.onJobFailure(id, cause)
	}

	if p.finish(&JobError[ID]{JobID: id, Cause: cause}) {
		p.logger.Error(ctx, "Job failed", "job_id", id, "error", cause)
	}
	p.queue.shutdown()
}
