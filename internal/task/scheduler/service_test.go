package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kazbot/internal/eventbus"
	logx "kazbot/pkg/logx"
)

const tolerance = 50 * time.Millisecond

type recorder struct {
	mu    sync.Mutex
	start time.Time
	calls []time.Duration
}

func newRecorder() *recorder { return &recorder{start: time.Now()} }

func (r *recorder) mark() {
	r.mu.Lock()
	r.calls = append(r.calls, time.Since(r.start))
	r.mu.Unlock()
}

func (r *recorder) times() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.calls...)
}

func newTestService(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	svc := New(Config{}, logx.Nop(), bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc
}

func waitDone(t *testing.T, inst *Instance, within time.Duration) {
	t.Helper()
	select {
	case <-inst.Done():
	case <-time.After(within):
		t.Fatalf("%s did not finish within %s (state %s)", inst, within, inst.State())
	}
}

func assertNear(t *testing.T, label string, got, want time.Duration) {
	t.Helper()
	if got < want-tolerance || got > want+tolerance {
		t.Fatalf("%s at %s, want %s ±%s", label, got, want, tolerance)
	}
}

func TestScheduleAtFiresOnce(t *testing.T) {
	svc := newTestService(t, nil)
	rec := newRecorder()
	task := MustDefine("single", func(ctx context.Context, inst *Instance) error {
		rec.mark()
		return nil
	})

	inst, err := svc.ScheduleAt(task, rec.start.Add(800*time.Millisecond))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitDone(t, inst, 2*time.Second)

	calls := rec.times()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	assertNear(t, "call", calls[0], 800*time.Millisecond)
	if inst.State() != StateRetired {
		t.Fatalf("state = %s, want retired", inst.State())
	}
	if n := len(svc.Instances(task)); n != 0 {
		t.Fatalf("registry still holds %d instances after retirement", n)
	}
}

func TestScheduleInFiresOnce(t *testing.T) {
	svc := newTestService(t, nil)
	rec := newRecorder()
	task := MustDefine("delay", func(ctx context.Context, inst *Instance) error {
		rec.mark()
		return nil
	})

	inst, err := svc.ScheduleIn(task, 800*time.Millisecond)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitDone(t, inst, 2*time.Second)

	calls := rec.times()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	assertNear(t, "call", calls[0], 800*time.Millisecond)
}

func TestPastTargetFiresImmediately(t *testing.T) {
	svc := newTestService(t, nil)
	rec := newRecorder()
	task := MustDefine("late", func(ctx context.Context, inst *Instance) error {
		rec.mark()
		return nil
	})

	inst, err := svc.ScheduleAt(task, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitDone(t, inst, time.Second)
	assertNear(t, "call", rec.times()[0], 0)
}

func TestRecurringFiresDriftFree(t *testing.T) {
	svc := newTestService(t, nil)
	rec := newRecorder()
	task := MustDefine("recurring", func(ctx context.Context, inst *Instance) error {
		rec.mark()
		return nil
	})

	inst, err := svc.ScheduleAt(task, rec.start.Add(800*time.Millisecond), Every(500*time.Millisecond), Times(4))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n, finite := inst.Remaining(); n != 4 || !finite {
		t.Fatalf("remaining = %d finite=%v, want 4", n, finite)
	}
	waitDone(t, inst, 4*time.Second)

	want := []time.Duration{800 * time.Millisecond, 1300 * time.Millisecond, 1800 * time.Millisecond, 2300 * time.Millisecond}
	calls := rec.times()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %d", calls, len(want))
	}
	for i := range want {
		assertNear(t, "call", calls[i], want[i])
	}
	if n, _ := inst.Remaining(); n != 0 || inst.Fired() != 4 {
		t.Fatalf("remaining=%d fired=%d after retirement", n, inst.Fired())
	}
	if len(svc.Instances(task)) != 0 {
		t.Fatalf("retired instance still registered")
	}
}

func TestSlowCallbackKeepsCadence(t *testing.T) {
	svc := newTestService(t, nil)
	rec := newRecorder()
	task := MustDefine("slow", func(ctx context.Context, inst *Instance) error {
		rec.mark()
		time.Sleep(120 * time.Millisecond)
		return nil
	})

	inst, err := svc.ScheduleIn(task, 100*time.Millisecond, Every(200*time.Millisecond), Times(4))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitDone(t, inst, 3*time.Second)

	calls := rec.times()
	if len(calls) != 4 {
		t.Fatalf("calls = %v, want 4", calls)
	}
	for i, got := range calls {
		assertNear(t, "call", got, 100*time.Millisecond+time.Duration(i)*200*time.Millisecond)
	}
}

func TestCancelWaitingInstance(t *testing.T) {
	svc := newTestService(t, nil)
	rec := newRecorder()
	var cancels []time.Duration
	var mu sync.Mutex
	task := MustDefine("cancel-me", func(ctx context.Context, inst *Instance) error {
		rec.mark()
		return nil
	}).OnCancel(func(ctx context.Context, inst *Instance) {
		mu.Lock()
		cancels = append(cancels, time.Since(rec.start))
		mu.Unlock()
	})

	inst, err := svc.ScheduleAt(task, rec.start.Add(800*time.Millisecond))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	if err := inst.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(svc.Instances(task)) != 0 {
		t.Fatalf("cancelled waiting instance still registered")
	}
	if err := inst.Cancel(); err != nil {
		t.Fatalf("second cancel should be a no-op, got %v", err)
	}
	waitDone(t, inst, time.Second)
	time.Sleep(600 * time.Millisecond)

	if n := len(rec.times()); n != 0 {
		t.Fatalf("cancelled task fired %d times", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(cancels) != 1 {
		t.Fatalf("cancel handler ran %d times, want 1", len(cancels))
	}
	assertNear(t, "cancel handler", cancels[0], 400*time.Millisecond)
	if inst.State() != StateCancelled {
		t.Fatalf("state = %s, want cancelled", inst.State())
	}
	if err := inst.Cancel(); !errors.Is(err, ErrInvalidInstance) {
		t.Fatalf("cancel after cancellation completed: got %v, want ErrInvalidInstance", err)
	}
}

func TestCancelWhileFiringFinishesRun(t *testing.T) {
	svc := newTestService(t, nil)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs, cancels atomic.Int32
	task := MustDefine("busy", func(ctx context.Context, inst *Instance) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}).OnCancel(func(ctx context.Context, inst *Instance) { cancels.Add(1) })

	inst, err := svc.ScheduleIn(task, 0, Every(50*time.Millisecond))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-started
	if err := inst.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if inst.State() != StateFiring {
		t.Fatalf("state = %s, want firing until the run completes", inst.State())
	}
	if len(svc.Instances(task)) != 1 {
		t.Fatalf("firing instance should stay registered until its run completes")
	}
	if err := inst.Cancel(); err != nil {
		t.Fatalf("repeated cancel while firing: %v", err)
	}
	close(release)
	waitDone(t, inst, time.Second)
	if err := inst.Cancel(); !errors.Is(err, ErrInvalidInstance) {
		t.Fatalf("cancel after completion: got %v, want ErrInvalidInstance", err)
	}

	if runs.Load() != 1 || cancels.Load() != 1 {
		t.Fatalf("runs=%d cancels=%d, want 1/1", runs.Load(), cancels.Load())
	}
	if inst.State() != StateCancelled {
		t.Fatalf("state = %s, want cancelled", inst.State())
	}
}

func TestErrorReachesHandlerAndBus(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	svc := newTestService(t, bus)

	blah := errors.New("blah")
	handled := make(chan error, 1)
	task := MustDefine("broken", func(ctx context.Context, inst *Instance) error {
		return blah
	}).OnError(func(ctx context.Context, inst *Instance, err error) { handled <- err })

	inst, err := svc.ScheduleIn(task, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case got := <-handled:
		if got != blah {
			t.Fatalf("handler got %v, want the original error", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("error handler not called")
	}

	waitDone(t, inst, time.Second)
	if inst.LastError() != blah {
		t.Fatalf("LastError = %v", inst.LastError())
	}

	// The retired event is published after the failure, so seeing it means every
	// event of this instance has been delivered.
	failed := 0
	deadline := time.After(time.Second)
	for retired := false; !retired; {
		select {
		case ev := <-events:
			te, _ := ev.Data.(TaskEvent)
			switch ev.Type {
			case EventRetired:
				retired = true
			case EventFailed:
				failed++
				var execErr *TaskExecutionError
				if !errors.As(te.Err, &execErr) {
					t.Fatalf("failure event carries %T, want *TaskExecutionError", te.Err)
				}
				if !errors.Is(te.Err, blah) || execErr.Occurrence != 1 || execErr.Task != "broken" {
					t.Fatalf("unexpected failure %+v", execErr)
				}
				if te.Instance != inst || te.Error == "" {
					t.Fatalf("failure event missing instance or message: %+v", te)
				}
			}
		case <-deadline:
			t.Fatalf("no task.retired event published (failed=%d)", failed)
		}
	}
	time.Sleep(100 * time.Millisecond)
	for drained := false; !drained; {
		select {
		case ev := <-events:
			if ev.Type == EventFailed {
				failed++
			}
		default:
			drained = true
		}
	}
	if failed != 1 {
		t.Fatalf("task.failed published %d times, want exactly 1", failed)
	}
	select {
	case err := <-handled:
		t.Fatalf("error handler called a second time with %v", err)
	default:
	}
}

func TestWaitNilContext(t *testing.T) {
	svc := newTestService(t, nil)
	task := MustDefine("nil-ctx", func(ctx context.Context, inst *Instance) error { return nil })
	inst, err := svc.ScheduleIn(task, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	var ctx context.Context
	if err := svc.Wait(ctx, inst); err != nil {
		t.Fatalf("wait with nil ctx: %v", err)
	}
	if err := svc.WaitAll(ctx, task); err != nil {
		t.Fatalf("wait all with nil ctx: %v", err)
	}
}

func TestFailuresDoNotStopRecurrence(t *testing.T) {
	svc := newTestService(t, nil)
	var calls, handled atomic.Int32
	task := MustDefine("flaky", func(ctx context.Context, inst *Instance) error {
		calls.Add(1)
		return errors.New("still broken")
	}).OnError(func(ctx context.Context, inst *Instance, err error) { handled.Add(1) })

	inst, err := svc.ScheduleIn(task, 10*time.Millisecond, Every(50*time.Millisecond), Times(3))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitDone(t, inst, 2*time.Second)

	if calls.Load() != 3 || handled.Load() != 3 {
		t.Fatalf("calls=%d handled=%d, want 3/3", calls.Load(), handled.Load())
	}
	if inst.State() != StateRetired {
		t.Fatalf("state = %s, want retired", inst.State())
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	svc := newTestService(t, nil)
	handled := make(chan error, 1)
	task := MustDefine("panicky", func(ctx context.Context, inst *Instance) error {
		panic("kaboom")
	}).OnError(func(ctx context.Context, inst *Instance, err error) { handled <- err })

	if _, err := svc.ScheduleIn(task, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case err := <-handled:
		if !strings.Contains(err.Error(), "panic: kaboom") {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("panic was not reported")
	}
}

func TestUniqueTaskRejectsSecondInstance(t *testing.T) {
	svc := newTestService(t, nil)
	task := MustDefine("unique", nop, Unique())

	first, err := svc.ScheduleIn(task, time.Minute)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := svc.ScheduleIn(task, time.Second); !errors.Is(err, ErrUniquenessConflict) {
		t.Fatalf("second schedule: got %v", err)
	}
	if n := len(svc.Instances(task)); n != 1 {
		t.Fatalf("instances = %d, want 1", n)
	}
	if err := first.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.ScheduleIn(task, time.Minute); err != nil {
		t.Fatalf("schedule after cancel: %v", err)
	}
}

func TestUniqueTaskCannotRescheduleItselfWhileFiring(t *testing.T) {
	svc := newTestService(t, nil)
	got := make(chan error, 1)
	var task *Task
	task = MustDefine("self", func(ctx context.Context, inst *Instance) error {
		_, err := svc.ScheduleIn(task, time.Second)
		got <- err
		return nil
	}, Unique())

	if _, err := svc.ScheduleIn(task, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, ErrUniquenessConflict) {
			t.Fatalf("self reschedule: got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("callback did not run")
	}
}

func TestInstancesReflectLiveSet(t *testing.T) {
	svc := newTestService(t, nil)
	task := MustDefine("many", nop)
	other := MustDefine("other", nop)

	var insts []*Instance
	for i := 0; i < 3; i++ {
		inst, err := svc.ScheduleIn(task, time.Minute, Args(i, "user"))
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		insts = append(insts, inst)
	}
	if _, err := svc.ScheduleIn(other, time.Minute); err != nil {
		t.Fatalf("schedule other: %v", err)
	}

	live := svc.Instances(task)
	if len(live) != 3 {
		t.Fatalf("instances = %d, want 3", len(live))
	}
	for i, inst := range live {
		if inst.Arg(0) != i || inst.Arg(1) != "user" || inst.Arg(2) != nil {
			t.Fatalf("instance %d args = %v", i, inst.Args())
		}
	}
	if n := len(svc.Instances(nil)); n != 4 {
		t.Fatalf("all instances = %d, want 4", n)
	}

	if err := svc.Cancel(insts[1]); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	live = svc.Instances(task)
	if len(live) != 2 || live[0] != insts[0] || live[1] != insts[2] {
		t.Fatalf("unexpected live set after cancel: %v", live)
	}
}

func TestCancelAllSkipsCallingInstance(t *testing.T) {
	svc := newTestService(t, nil)
	result := make(chan int, 1)
	var task *Task
	task = MustDefine("sweep", func(ctx context.Context, inst *Instance) error {
		if inst.Arg(0) == "sweeper" {
			result <- svc.CancelAll(ctx, task)
		}
		return nil
	})

	a, _ := svc.ScheduleIn(task, 10*time.Second, Args("a"))
	b, _ := svc.ScheduleIn(task, 10*time.Second, Args("b"))
	sweeper, err := svc.ScheduleIn(task, 20*time.Millisecond, Args("sweeper"))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case n := <-result:
		if n != 2 {
			t.Fatalf("CancelAll cancelled %d, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not run")
	}
	for _, inst := range []*Instance{a, b, sweeper} {
		waitDone(t, inst, time.Second)
	}
	if sweeper.State() != StateRetired {
		t.Fatalf("sweeper state = %s, want retired", sweeper.State())
	}
	if a.State() != StateCancelled || b.State() != StateCancelled {
		t.Fatalf("states a=%s b=%s, want cancelled", a.State(), b.State())
	}
}

func TestCancelAllWithoutTaskCancelsEverything(t *testing.T) {
	svc := newTestService(t, nil)
	one := MustDefine("one", nop)
	two := MustDefine("two", nop, Unique())
	_, _ = svc.ScheduleIn(one, time.Minute)
	_, _ = svc.ScheduleIn(one, time.Minute)
	_, _ = svc.ScheduleIn(two, time.Minute, Every(time.Minute))

	if n := svc.CancelAll(context.Background(), nil); n != 3 {
		t.Fatalf("cancelled %d, want 3", n)
	}
	if n := len(svc.Instances(nil)); n != 0 {
		t.Fatalf("instances left: %d", n)
	}
}

func TestCancelRetiredInstanceFails(t *testing.T) {
	svc := newTestService(t, nil)
	task := MustDefine("quick", nop)
	inst, err := svc.ScheduleIn(task, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitDone(t, inst, time.Second)

	if err := svc.Cancel(inst); !errors.Is(err, ErrInvalidInstance) {
		t.Fatalf("cancel retired: got %v", err)
	}
	if err := svc.Wait(context.Background(), inst); !errors.Is(err, ErrInvalidInstance) {
		t.Fatalf("wait retired: got %v", err)
	}
	foreign := New(Config{}, logx.Nop(), nil)
	if err := foreign.Cancel(inst); !errors.Is(err, ErrInvalidInstance) {
		t.Fatalf("cancel on another scheduler: got %v", err)
	}
}

func TestWaitAndWaitAll(t *testing.T) {
	svc := newTestService(t, nil)
	task := MustDefine("waited", nop)
	start := time.Now()
	first, _ := svc.ScheduleIn(task, 100*time.Millisecond)
	second, _ := svc.ScheduleIn(task, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Wait(ctx, second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait with short deadline: got %v", err)
	}

	if err := first.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := svc.WaitAll(context.Background(), task); err != nil {
		t.Fatalf("wait all: %v", err)
	}
	assertNear(t, "wait all", time.Since(start), 200*time.Millisecond)
	if second.State() != StateRetired {
		t.Fatalf("second state = %s", second.State())
	}
}

func TestWaitOnSelfFails(t *testing.T) {
	svc := newTestService(t, nil)
	got := make(chan error, 1)
	task := MustDefine("narcissus", func(ctx context.Context, inst *Instance) error {
		got <- inst.Wait(ctx)
		return nil
	})
	if _, err := svc.ScheduleIn(task, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, ErrWaitSelf) {
			t.Fatalf("self wait: got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("callback did not run")
	}
}

func TestScheduleValidation(t *testing.T) {
	svc := newTestService(t, nil)
	task := MustDefine("validated", nop)

	cases := []struct {
		name string
		opts []ScheduleOption
	}{
		{name: "times without interval", opts: []ScheduleOption{Times(3)}},
		{name: "zero interval", opts: []ScheduleOption{Every(0), Times(2)}},
		{name: "zero times", opts: []ScheduleOption{Every(time.Second), Times(0)}},
	}
	for _, tc := range cases {
		if _, err := svc.ScheduleIn(task, time.Second, tc.opts...); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: got %v", tc.name, err)
		}
	}
	if _, err := svc.ScheduleIn(nil, time.Second); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("nil task: got %v", err)
	}
	if n := len(svc.Instances(nil)); n != 0 {
		t.Fatalf("rejected schedules left %d instances", n)
	}

	inst, err := svc.ScheduleIn(task, time.Minute, Every(time.Second))
	if err != nil {
		t.Fatalf("unbounded schedule: %v", err)
	}
	if _, finite := inst.Remaining(); finite {
		t.Fatalf("Every without Times should repeat forever")
	}
}

func TestScheduleNextUsesCron(t *testing.T) {
	svc := newTestService(t, nil)
	var calls atomic.Int32
	task := MustDefine("cron", func(ctx context.Context, inst *Instance) error {
		calls.Add(1)
		return nil
	})

	if _, err := svc.ScheduleNext(task, "not cron at all"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("invalid cron: got %v", err)
	}
	inst, err := svc.ScheduleNext(task, "@every 1s")
	if err != nil {
		t.Fatalf("schedule next: %v", err)
	}
	waitDone(t, inst, 2*time.Second)
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestStopCancelsLiveInstances(t *testing.T) {
	svc := New(Config{}, logx.Nop(), nil)
	var cancels atomic.Int32
	var failures atomic.Int32
	blocked := make(chan struct{}, 1)
	waiting := MustDefine("waiting", nop).OnCancel(func(ctx context.Context, inst *Instance) { cancels.Add(1) })
	busy := MustDefine("busy-shutdown", func(ctx context.Context, inst *Instance) error {
		blocked <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}).OnError(func(ctx context.Context, inst *Instance, err error) {
		failures.Add(1)
	}).OnCancel(func(ctx context.Context, inst *Instance) { cancels.Add(1) })

	w, _ := svc.ScheduleIn(waiting, time.Minute)
	b, _ := svc.ScheduleIn(busy, 0)
	<-blocked

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if cancels.Load() != 2 {
		t.Fatalf("cancel handlers ran %d times, want 2", cancels.Load())
	}
	if failures.Load() != 0 {
		t.Fatalf("shutdown was reported as a failure")
	}
	if w.State() != StateCancelled || b.State() != StateCancelled {
		t.Fatalf("states %s/%s, want cancelled", w.State(), b.State())
	}
	if _, err := svc.ScheduleIn(waiting, time.Second); !errors.Is(err, ErrStopped) {
		t.Fatalf("schedule after stop: got %v", err)
	}
}

func TestReceiverReachesCallback(t *testing.T) {
	svc := newTestService(t, nil)
	type counter struct{ n atomic.Int32 }
	c := &counter{}
	task := MustDefine("method", func(ctx context.Context, inst *Instance) error {
		inst.Receiver().(*counter).n.Add(1)
		return nil
	}).Bind(c)

	inst, err := svc.ScheduleIn(task, 0)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitDone(t, inst, time.Second)
	if c.n.Load() != 1 {
		t.Fatalf("receiver not used by callback")
	}
}

func TestSnapshotAndHistory(t *testing.T) {
	svc := newTestService(t, nil)
	svc.Apply(Config{HistorySize: 2, Timezone: "UTC"})
	task := MustDefine("hist", nop)

	inst, err := svc.ScheduleIn(task, 0, Every(10*time.Millisecond), Times(3))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitDone(t, inst, time.Second)
	if _, err := svc.ScheduleIn(task, time.Minute); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	snap := svc.Snapshot()
	if snap.Timezone != "UTC" {
		t.Fatalf("timezone = %s", snap.Timezone)
	}
	if len(snap.History) != 2 || snap.History[1].Occurrence != 3 {
		t.Fatalf("history = %+v, want last 2 runs", snap.History)
	}
	if len(snap.Instances) != 1 || snap.Instances[0].State != "waiting" || snap.Instances[0].Remaining != 1 {
		t.Fatalf("instances = %+v", snap.Instances)
	}
	if snap.Runners < 1 {
		t.Fatalf("runners = %d", snap.Runners)
	}
}

func TestScheduleConcurrentWithFiringRunners(t *testing.T) {
	svc := newTestService(t, nil)
	var fired atomic.Int32
	task := MustDefine("hot", func(ctx context.Context, inst *Instance) error {
		fired.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	insts := make(chan *Instance, 64)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				inst, err := svc.ScheduleIn(task, 0, Every(time.Millisecond), Times(3))
				if err != nil {
					t.Errorf("schedule: %v", err)
					return
				}
				_, _ = inst.Remaining()
				_ = inst.Target()
				insts <- inst
			}
		}()
	}
	wg.Wait()
	close(insts)

	for inst := range insts {
		waitDone(t, inst, 2*time.Second)
		if n, finite := inst.Remaining(); !finite || n != 0 || inst.Fired() != 3 {
			t.Fatalf("%s: remaining=%d fired=%d", inst, n, inst.Fired())
		}
	}
	if got := fired.Load(); got != 64*3 {
		t.Fatalf("fired %d times, want %d", got, 64*3)
	}
}
