package pipeline

import (
	"context"
	"fmt"
)

// Job is a unit of work identified by a unique id. The body is invoked at
// most once, only after every declared predecessor completed successfully.
// The pipeline treats the body as opaque; it only observes the returned error.
type Job[ID comparable] struct {
	ID   ID
	Body func(ctx context.Context) error
}

// Edge declares that Before must complete successfully before After may start.
type Edge[ID comparable] struct {
	Before ID
	After  ID
}

// jobGraph holds the immutable topology plus the per-job remaining-dependency
// counters. The topology never changes after newJobGraph returns; only the
// indegree table mutates during a run, and only through completeJob, which the
// Pipeline calls under its own mutex.
type jobGraph[ID comparable] struct {
	jobs       map[ID]Job[ID]
	dependents map[ID][]ID
	indegree   map[ID]int
}

func newJobGraph[ID comparable](jobs []Job[ID], edges []Edge[ID]) (*jobGraph[ID], error) {
	g := &jobGraph[ID]{
		jobs:       make(map[ID]Job[ID], len(jobs)),
		dependents: make(map[ID][]ID),
		indegree:   make(map[ID]int, len(jobs)),
	}

	for _, job := range jobs {
		if _, exists := g.jobs[job.ID]; exists {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateJobID, job.ID)
		}
		if job.Body == nil {
			return nil, fmt.Errorf("%w: %v", ErrNilJobBody, job.ID)
		}
		g.jobs[job.ID] = job
		g.indegree[job.ID] = 0
	}

	for _, edge := range edges {
		if _, known := g.jobs[edge.Before]; !known {
			return nil, fmt.Errorf("%w: %v", ErrUnknownJobReference, edge.Before)
		}
		if _, known := g.jobs[edge.After]; !known {
			return nil, fmt.Errorf("%w: %v", ErrUnknownJobReference, edge.After)
		}
		g.dependents[edge.Before] = append(g.dependents[edge.Before], edge.After)
		g.indegree[edge.After]++
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// checkAcyclic runs a dry Kahn pass over a scratch copy of the indegree
// table. If fewer jobs are removable than exist, the remainder form at least
// one cycle. Validating here means the execution phase can never hang on a
// malformed graph.
func (g *jobGraph[ID]) checkAcyclic() error {
	scratch := make(map[ID]int, len(g.indegree))
	for id, deg := range g.indegree {
		scratch[id] = deg
	}

	frontier := make([]ID, 0, len(scratch))
	for id, deg := range scratch {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	removed := 0
	for len(frontier) > 0 {
		id := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		removed++

		for _, next := range g.dependents[id] {
			scratch[next]--
			if scratch[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}

	if removed != len(g.jobs) {
		return fmt.Errorf("%w: %d job(s) form a cycle", ErrCycleDetected, len(g.jobs)-removed)
	}
	return nil
}

// roots returns the ids with no pending dependencies, used to seed the ready
// queue before any worker starts.
func (g *jobGraph[ID]) roots() []ID {
	var ids []ID
	for id, deg := range g.indegree {
		if deg == 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// completeJob marks id as successfully completed and returns the dependents
// whose indegree just reached zero. Caller must hold the Pipeline mutex.
func (g *jobGraph[ID]) completeJob(id ID) []ID {
	var ready []ID
	for _, next := range g.dependents[id] {
		g.indegree[next]--
		if g.indegree[next] == 0 {
			ready = append(ready, next)
		}
	}
	return ready
}
