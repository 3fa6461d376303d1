package pipeline

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	ErrDuplicateJobID      = errors.New("duplicate job id")
	ErrUnknownJobReference = errors.New("edge references unknown job")
	ErrCycleDetected       = errors.New("dependency cycle detected")
	ErrNilJobBody          = errors.New("job has no body")
	ErrAlreadyRan          = errors.New("pipeline has already been run")
)

// JobError is the terminal error of a failed run. It carries the id of the
// first job whose body reported a failure and the cause it reported. Later
// failures from jobs that were already in flight do not replace it.
type JobError[ID comparable] struct {
	JobID ID
	Cause error
}

func (e *JobError[ID]) Error() string {
	return fmt.Sprintf("job %v failed: %v", e.JobID, e.Cause)
}

func (e *JobError[ID]) Unwrap() error {
	return e.Cause
}
