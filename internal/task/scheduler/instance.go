package scheduler

import (
	"context"
	"fmt"
	"time"
)

// State is the lifecycle position of an instance.
type State int

const (
	StateWaiting State = iota
	StateFiring
	StateRescheduled
	StateRetired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateFiring:
		return "firing"
	case StateRescheduled:
		return "rescheduled"
	case StateRetired:
		return "retired"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool { return s == StateRetired || s == StateCancelled }

// Instance is one scheduled activation series of a Task.
//
// Mutable fields are guarded by the owning Service's mutex.
type Instance struct {
	id    uint64
	task  *Task
	svc   *Service
	args  []any
	every time.Duration

	target    time.Duration // offset from svc.epoch
	remaining int           // -1 means unbounded
	fired     int
	state     State
	cancelReq bool
	lastErr   error

	cancelCh chan struct{}
	done     chan struct{}
}

func (i *Instance) ID() uint64           { return i.id }
func (i *Instance) Task() *Task          { return i.task }
func (i *Instance) Every() time.Duration { return i.every }
func (i *Instance) Receiver() any        { return i.task.Receiver() }

// Args returns a copy of the bound arguments.
func (i *Instance) Args() []any { return append([]any(nil), i.args...) }

// Arg returns the n-th bound argument, or nil when out of range.
func (i *Instance) Arg(n int) any {
	if n < 0 || n >= len(i.args) {
		return nil
	}
	return i.args[n]
}

// Target is the next (or last, once terminal) fire time.
func (i *Instance) Target() time.Time {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	return i.svc.epoch.Add(i.target)
}

// Remaining returns fires left. finite is false for instances that repeat forever.
func (i *Instance) Remaining() (n int, finite bool) {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	if i.remaining < 0 {
		return 0, false
	}
	return i.remaining, true
}

func (i *Instance) Fired() int {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	return i.fired
}

func (i *Instance) State() State {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	return i.state
}

// LastError is the error of the most recent failed run, if any.
func (i *Instance) LastError() error {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	return i.lastErr
}

func (i *Instance) Cancel() error                  { return i.svc.Cancel(i) }
func (i *Instance) Wait(ctx context.Context) error { return i.svc.Wait(ctx, i) }

// Done is closed once the instance reaches a terminal state and its handlers have returned.
func (i *Instance) Done() <-chan struct{} { return i.done }

func (i *Instance) String() string { return fmt.Sprintf("%s@%d", i.task.name, i.id) }

func (i *Instance) finished() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

type currentKey struct{}

func withInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, currentKey{}, inst)
}

// CurrentInstance returns the instance whose callback or handler is running with ctx.
func CurrentInstance(ctx context.Context) *Instance {
	if ctx == nil {
		return nil
	}
	inst, _ := ctx.Value(currentKey{}).(*Instance)
	return inst
}
