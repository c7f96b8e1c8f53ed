package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kazbot/internal/eventbus"
	"kazbot/internal/runtime/supervisor"
	logx "kazbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone    string // IANA TZ used to evaluate cron expressions; empty means local
	HistorySize int    // executions kept for Snapshot (default 200)
}

const defaultHistorySize = 200

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	sup *supervisor.Supervisor

	// Targets are offsets from epoch, read through the monotonic clock.
	epoch time.Time

	seq      uint64
	registry map[*Task]map[uint64]*Instance
	stopped  bool
	history  []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))
	s := &Service{
		log:      log,
		bus:      bus,
		epoch:    time.Now(),
		registry: map[*Task]map[uint64]*Instance{},
	}
	s.sup = supervisor.New(context.Background(), supervisor.WithLogger(log))
	s.Apply(cfg)
	return s
}

// Apply updates timezone and history size. Live instances keep their targets.
func (s *Service) Apply(cfg Config) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid scheduler timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}

	s.mu.Lock()
	s.cfg = cfg
	s.loc = loc
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.mu.Unlock()
}

func (s *Service) now() time.Duration { return time.Since(s.epoch) }

// ScheduleAt schedules t to fire first at when. A past when fires immediately.
//
// The wall-clock distance to when is converted once; later clock changes do not move the target.
func (s *Service) ScheduleAt(t *Task, when time.Time, opts ...ScheduleOption) (*Instance, error) {
	n := time.Now()
	return s.schedule(t, n.Sub(s.epoch)+when.Sub(n), opts)
}

// ScheduleIn schedules t to fire first after delay. Negative delays fire immediately.
func (s *Service) ScheduleIn(t *Task, delay time.Duration, opts ...ScheduleOption) (*Instance, error) {
	return s.schedule(t, s.now()+max(delay, 0), opts)
}

// ScheduleNext schedules t at the next activation of a cron expression in the configured timezone.
func (s *Service) ScheduleNext(t *Task, spec string, opts ...ScheduleOption) (*Instance, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", ErrConfiguration, spec, err)
	}
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()

	next := sched.Next(time.Now().In(loc))
	if next.IsZero() {
		return nil, fmt.Errorf("%w: cron %q never fires", ErrConfiguration, spec)
	}
	return s.ScheduleAt(t, next, opts...)
}

func (s *Service) schedule(t *Task, target time.Duration, opts []ScheduleOption) (*Instance, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	live := s.registry[t]
	if t.unique && len(live) > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUniquenessConflict, t.name)
	}
	if live == nil {
		live = map[uint64]*Instance{}
		s.registry[t] = live
	}
	s.seq++
	inst := &Instance{
		id:        s.seq,
		task:      t,
		svc:       s,
		args:      o.args,
		every:     max(o.every, 0),
		target:    target,
		remaining: o.remaining(),
		state:     StateWaiting,
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	live[inst.id] = inst
	times := inst.remaining
	// Started under the lock so Stop cannot begin waiting before the runner is counted.
	s.sup.Go0("task."+t.name, func(ctx context.Context) { s.run(ctx, inst) })
	s.mu.Unlock()

	s.log.Debug("task.scheduled", logx.String("task", t.name), logx.Uint64("instance", inst.id),
		logx.Duration("in", target-s.now()), logx.Duration("every", inst.every), logx.Int("times", times))
	s.publish(EventScheduled, inst, runInfo{})
	return inst, nil
}

// Cancel stops inst from firing again and runs the task's cancel handler once.
//
// A waiting instance is removed from the registry before Cancel returns. A firing instance
// completes its current run first. Repeated cancels are no-ops until the cancellation has
// completed (Done closed); after that, and for retired instances, Cancel fails with
// ErrInvalidInstance.
func (s *Service) Cancel(inst *Instance) error {
	if inst == nil || inst.svc != s {
		return fmt.Errorf("%w: unknown instance", ErrInvalidInstance)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case inst.state == StateRetired || inst.finished():
		return fmt.Errorf("%w: %s already %s", ErrInvalidInstance, inst, inst.state)
	case inst.cancelReq:
		// cancellation still in flight
		return nil
	}
	inst.cancelReq = true
	close(inst.cancelCh)
	if inst.state == StateWaiting || inst.state == StateRescheduled {
		inst.state = StateCancelled
		s.removeLocked(inst)
	}
	return nil
}

// CancelAll cancels every live instance of t, or of all tasks when t is nil.
// The instance running the caller (see CurrentInstance) is skipped.
func (s *Service) CancelAll(ctx context.Context, t *Task) int {
	self := CurrentInstance(ctx)
	n := 0
	for _, inst := range s.Instances(t) {
		if inst == self {
			continue
		}
		if s.Cancel(inst) == nil {
			n++
		}
	}
	if n > 0 {
		name := "*"
		if t != nil {
			name = t.name
		}
		s.log.Debug("task.cancel_all", logx.String("task", name), logx.Int("cancelled", n))
	}
	return n
}

// Instances returns the live instances of t (all tasks when t is nil) in scheduling order.
func (s *Service) Instances(t *Task) []*Instance {
	s.mu.Lock()
	out := make([]*Instance, 0)
	if t != nil {
		for _, inst := range s.registry[t] {
			out = append(out, inst)
		}
	} else {
		for _, live := range s.registry {
			for _, inst := range live {
				out = append(out, inst)
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Wait blocks until inst is retired or cancelled, or ctx ends.
func (s *Service) Wait(ctx context.Context, inst *Instance) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if inst == nil || inst.svc != s {
		return fmt.Errorf("%w: unknown instance", ErrInvalidInstance)
	}
	if CurrentInstance(ctx) == inst {
		return fmt.Errorf("%w: %s", ErrWaitSelf, inst)
	}
	if inst.finished() {
		return fmt.Errorf("%w: %s already finished", ErrInvalidInstance, inst)
	}
	select {
	case <-inst.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll waits for every instance of t (all tasks when t is nil) that is live at call time.
func (s *Service) WaitAll(ctx context.Context, t *Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	self := CurrentInstance(ctx)
	for _, inst := range s.Instances(t) {
		if inst == self {
			continue
		}
		select {
		case <-inst.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop refuses new schedules, cancels every runner and waits for them to exit.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	live := 0
	for _, m := range s.registry {
		live += len(m)
	}
	s.mu.Unlock()

	if !already {
		s.log.Info("scheduler stopping", logx.Int("live", live))
	}
	return s.sup.Stop(ctx)
}

func (s *Service) removeLocked(inst *Instance) {
	live := s.registry[inst.task]
	if live == nil {
		return
	}
	delete(live, inst.id)
	if len(live) == 0 {
		delete(s.registry, inst.task)
	}
}
