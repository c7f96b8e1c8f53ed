package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "kazbot/pkg/logx"
)

// run drives one instance until it retires or is cancelled. ctx ends on Stop.
func (s *Service) run(ctx context.Context, inst *Instance) {
	for {
		s.mu.Lock()
		if inst.cancelReq {
			s.mu.Unlock()
			s.cancelled(ctx, inst)
			return
		}
		inst.state = StateWaiting
		wait := inst.target - s.now()
		s.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.cancelled(ctx, inst)
				return
			case <-inst.cancelCh:
				timer.Stop()
				s.cancelled(ctx, inst)
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			s.cancelled(ctx, inst)
			return
		}

		s.mu.Lock()
		if inst.cancelReq {
			s.mu.Unlock()
			s.cancelled(ctx, inst)
			return
		}
		inst.state = StateFiring
		inst.fired++
		occurrence := inst.fired
		s.mu.Unlock()

		if shutdown := s.fire(ctx, inst, occurrence); shutdown {
			s.cancelled(ctx, inst)
			return
		}

		s.mu.Lock()
		if inst.cancelReq {
			s.mu.Unlock()
			s.cancelled(ctx, inst)
			return
		}
		if inst.remaining > 0 {
			inst.remaining--
		}
		if inst.remaining == 0 || inst.every <= 0 {
			inst.state = StateRetired
			s.removeLocked(inst)
			s.mu.Unlock()
			s.retired(inst)
			return
		}
		// Drift free: relative to the previous target, not to now.
		inst.target += inst.every
		inst.state = StateRescheduled
		s.mu.Unlock()
	}
}

// fire runs one occurrence. It reports true when the callback stopped because of shutdown.
func (s *Service) fire(ctx context.Context, inst *Instance, occurrence int) (shutdown bool) {
	runCtx := withInstance(ctx, inst)
	started := time.Now()
	s.publish(EventStarted, inst, runInfo{occurrence: occurrence, started: started})

	err := s.invoke(runCtx, inst)
	dur := time.Since(started)

	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		s.record(inst, occurrence, started, dur, "shutdown")
		return true
	}
	if err == nil {
		s.record(inst, occurrence, started, dur, "")
		s.log.Debug("task.finished", logx.String("task", inst.task.name), logx.Uint64("instance", inst.id),
			logx.Int("run", occurrence), logx.Duration("dur", dur))
		s.publish(EventFinished, inst, runInfo{occurrence: occurrence, started: started, dur: dur})
		return false
	}

	s.mu.Lock()
	inst.lastErr = err
	s.mu.Unlock()
	s.record(inst, occurrence, started, dur, err.Error())

	execErr := &TaskExecutionError{Task: inst.task.name, Instance: inst.id, Occurrence: occurrence, Err: err}
	s.log.Error("task.failed", logx.String("task", inst.task.name), logx.Uint64("instance", inst.id),
		logx.Int("run", occurrence), logx.Duration("dur", dur), logx.Err(err))

	if onError, _ := inst.task.handlers(); onError != nil {
		s.safeHandler(inst, "error", func() { onError(runCtx, inst, err) })
	}
	s.publish(EventFailed, inst, runInfo{occurrence: occurrence, started: started, dur: dur, err: execErr})
	return false
}

// invoke guards the callback: a panic becomes an ordinary failure.
func (s *Service) invoke(ctx context.Context, inst *Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", inst.task.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return inst.task.fn(ctx, inst)
}

func (s *Service) safeHandler(inst *Instance, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task.handler_panic", logx.String("task", inst.task.name), logx.String("handler", kind),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

func (s *Service) cancelled(ctx context.Context, inst *Instance) {
	s.mu.Lock()
	inst.state = StateCancelled
	s.removeLocked(inst)
	s.mu.Unlock()

	if _, onCancel := inst.task.handlers(); onCancel != nil {
		hctx := withInstance(ctx, inst)
		s.safeHandler(inst, "cancel", func() { onCancel(hctx, inst) })
	}
	s.log.Debug("task.cancelled", logx.String("task", inst.task.name), logx.Uint64("instance", inst.id))
	s.publish(EventCancelled, inst, runInfo{})
	close(inst.done)
}

func (s *Service) retired(inst *Instance) {
	s.log.Debug("task.retired", logx.String("task", inst.task.name), logx.Uint64("instance", inst.id))
	s.publish(EventRetired, inst, runInfo{})
	close(inst.done)
}
