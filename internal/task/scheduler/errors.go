package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration      = errors.New("scheduler: invalid schedule configuration")
	ErrUniquenessConflict = errors.New("scheduler: unique task already scheduled")
	ErrInvalidInstance    = errors.New("scheduler: instance is not live")
	ErrInvalidTask        = errors.New("scheduler: invalid task definition")
	ErrStopped            = errors.New("scheduler stopped")
	ErrWaitSelf           = errors.New("scheduler: instance cannot wait on itself")
)

// TaskExecutionError wraps an error returned (or a panic raised) by a task callback.
// It is only ever delivered through the failure channel, never returned to schedulers.
type TaskExecutionError struct {
	Task       string
	Instance   uint64
	Occurrence int
	Err        error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s#%d run %d: %v", e.Task, e.Instance, e.Occurrence, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }
