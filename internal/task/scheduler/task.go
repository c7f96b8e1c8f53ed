package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Func is a task callback. ctx is cancelled when the scheduler shuts down; it is not cancelled
// by Instance.Cancel. Returning ctx.Err() during shutdown is not reported as a failure.
type Func func(ctx context.Context, inst *Instance) error

// ErrorHandler receives the exact error returned by a failed run.
type ErrorHandler func(ctx context.Context, inst *Instance, err error)

// CancelHandler runs once when an instance is cancelled (explicitly or by shutdown).
type CancelHandler func(ctx context.Context, inst *Instance)

// Task is a reusable definition. Identity is the pointer: define each task once and keep it.
type Task struct {
	name   string
	fn     Func
	unique bool

	mu       sync.Mutex
	receiver any
	bound    bool
	onError  ErrorHandler
	onCancel CancelHandler
}

type TaskOption func(*Task)

// Unique allows at most one live instance of the task at a time.
func Unique() TaskOption { return func(t *Task) { t.unique = true } }

// WithReceiver binds the value handed to callbacks through Instance.Receiver.
func WithReceiver(r any) TaskOption {
	return func(t *Task) {
		t.receiver = r
		t.bound = true
	}
}

func Define(name string, fn Func, opts ...TaskOption) (*Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidTask)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s: callback required", ErrInvalidTask, name)
	}
	t := &Task{name: name, fn: fn}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t, nil
}

// MustDefine is Define for package-level task variables.
func MustDefine(name string, fn Func, opts ...TaskOption) *Task {
	t, err := Define(name, fn, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Bind captures r as the receiver unless one is already bound. Later calls are no-ops.
func (t *Task) Bind(r any) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.bound {
		t.receiver = r
		t.bound = true
	}
	return t
}

// OnError replaces the task's error handler.
func (t *Task) OnError(h ErrorHandler) *Task {
	t.mu.Lock()
	t.onError = h
	t.mu.Unlock()
	return t
}

// OnCancel replaces the task's cancel handler.
func (t *Task) OnCancel(h CancelHandler) *Task {
	t.mu.Lock()
	t.onCancel = h
	t.mu.Unlock()
	return t
}

func (t *Task) Name() string   { return t.name }
func (t *Task) Unique() bool   { return t.unique }
func (t *Task) String() string { return t.name }

func (t *Task) Receiver() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receiver
}

func (t *Task) handlers() (ErrorHandler, CancelHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onError, t.onCancel
}
