// Package announce posts configured recurring messages.
//
// Interval announcements are a single recurring scheduler instance. Cron
// announcements are scheduled one activation at a time: a supervised loop
// schedules the next activation, waits for that instance to retire and only
// then schedules the following one.
package announce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"kazbot/internal/runtime/supervisor"
	"kazbot/internal/task/scheduler"
	kit "kazbot/internal/transport"
	logx "kazbot/pkg/logx"
)

type Announcement struct {
	Name     string
	Schedule string
	Target   kit.ChatTarget
	Text     string
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sched  *scheduler.Service
	sender kit.Sender

	tasks []*scheduler.Task
	sup   *supervisor.Supervisor
}

func New(sched *scheduler.Service, sender kit.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log.With(logx.String("comp", "announce")), sched: sched, sender: sender}
}

// Start replaces the running set of announcements with list. Invalid entries are
// reported together; valid ones still start.
func (s *Service) Start(ctx context.Context, list []Announcement) error {
	s.stop(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	var errs []error
	for _, a := range list {
		if err := s.startOne(a); err != nil {
			errs = append(errs, fmt.Errorf("announcement %q: %w", a.Name, err))
		}
	}
	s.log.Info("announcements started", logx.Int("count", len(s.tasks)))
	return errors.Join(errs...)
}

func (s *Service) startOne(a Announcement) error {
	spec, err := scheduler.ParseSchedule(a.Schedule)
	if err != nil {
		return err
	}
	if strings.TrimSpace(a.Text) == "" || a.Target.ChatID == 0 {
		return errors.New("text and chat are required")
	}

	task, err := scheduler.Define("announce."+a.Name, s.post, scheduler.Unique(), scheduler.WithReceiver(a))
	if err != nil {
		return err
	}

	switch spec.Kind {
	case scheduler.SpecInterval:
		if _, err := s.sched.ScheduleIn(task, spec.Every, scheduler.Every(spec.Every)); err != nil {
			return err
		}
	case scheduler.SpecCron:
		// Validate now so a bad expression is reported by Start, not by the loop.
		first, err := s.sched.ScheduleNext(task, spec.Cron)
		if err != nil {
			return err
		}
		s.sup.Go("announce.cron."+a.Name, func(ctx context.Context) error {
			return s.cronLoop(ctx, task, spec.Cron, first)
		})
	}
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *Service) cronLoop(ctx context.Context, task *scheduler.Task, expr string, inst *scheduler.Instance) error {
	for {
		// ErrInvalidInstance only means it already finished; the state says how.
		if err := inst.Wait(ctx); err != nil && !errors.Is(err, scheduler.ErrInvalidInstance) {
			return err
		}
		if inst.State() != scheduler.StateRetired {
			return nil
		}
		next, err := s.sched.ScheduleNext(task, expr)
		if err != nil {
			if errors.Is(err, scheduler.ErrStopped) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			// Stop raced with the reschedule.
			_ = next.Cancel()
			return nil
		}
		inst = next
	}
}

func (s *Service) post(ctx context.Context, inst *scheduler.Instance) error {
	a, ok := inst.Receiver().(Announcement)
	if !ok {
		return fmt.Errorf("announce: unexpected receiver %T", inst.Receiver())
	}
	if _, err := s.sender.SendText(ctx, a.Target, a.Text, &kit.SendOptions{DisablePreview: true}); err != nil {
		return err
	}
	s.log.Debug("announcement posted", logx.String("name", a.Name), logx.Int64("chat_id", a.Target.ChatID))
	return nil
}

// Names lists running announcement tasks.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Name())
	}
	return out
}

// Stop cancels every announcement and waits for the cron loops to exit.
func (s *Service) Stop(ctx context.Context) error {
	return s.stop(ctx)
}

func (s *Service) stop(ctx context.Context) error {
	s.mu.Lock()
	tasks, sup := s.tasks, s.sup
	s.tasks, s.sup = nil, nil
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}
	for _, t := range tasks {
		s.sched.CancelAll(ctx, t)
	}
	if sup == nil {
		return nil
	}
	return sup.Wait(ctx)
}
