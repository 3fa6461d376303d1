package pipeline

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// readyQueue is the blocking hand-off between jobs becoming eligible and
// workers consuming them. Closing is separate from emptiness: a shutdown
// queue still drains items that were enqueued before the shutdown, but blocked
// consumers are released once nothing more can arrive. No polling anywhere.
type readyQueue[ID comparable] struct {
	mu     deadlock.Mutex
	cond   *sync.Cond
	items  []ID
	closed bool
}

func newReadyQueue[ID comparable]() *readyQueue[ID] {
	q := &readyQueue[ID]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues an id. After shutdown it is a no-op, so a finishing worker
// cannot resurrect a closed pipeline.
func (q *readyQueue[ID]) push(id ID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, id)
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is shut down with
// nothing left to drain. The second return value is false only on graceful
// end of work.
func (q *readyQueue[ID]) pop() (ID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		var zero ID
		return zero, false
	}

	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

// shutdown marks the queue closed and wakes every blocked consumer.
// Idempotent.
func (q *readyQueue[ID]) shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

func (q *readyQueue[ID]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
