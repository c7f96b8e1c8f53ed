package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kazbot/internal/storage"
	"kazbot/internal/task/scheduler"
	kit "kazbot/internal/transport"
	logx "kazbot/pkg/logx"
)

const TaskName = "reminder.deliver"

var ErrTooMany = errors.New("reminder: too many pending reminders")

type Config struct {
	MaxPerUser    int
	MaxRetries    int
	RetryInterval time.Duration
	MaxMessageLen int
	// Output receives give-up notices (the bot's log chat). Zero disables them.
	Output kit.ChatTarget
}

func (c Config) withDefaults() Config {
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 90 * time.Second
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 1000
	}
	return c
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	sched  *scheduler.Service
	store  storage.Store
	sender kit.Sender
	task   *scheduler.Task

	reminders map[string]storage.Reminder
}

// New defines the delivery task and returns an empty service. store may be nil
// (reminders then live only as long as the process).
func New(cfg Config, sched *scheduler.Service, store storage.Store, sender kit.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:       log.With(logx.String("comp", "reminder")),
		cfg:       cfg.withDefaults(),
		sched:     sched,
		store:     store,
		sender:    sender,
		reminders: map[string]storage.Reminder{},
	}
	s.task = scheduler.MustDefine(TaskName, s.deliver, scheduler.WithReceiver(s)).
		OnError(s.onDeliverError).
		OnCancel(s.onCancel)
	return s
}

func (s *Service) Task() *scheduler.Task { return s.task }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Load drops every scheduled delivery and re-registers the reminders held by the store.
// Reminders whose time has passed fire immediately.
func (s *Service) Load(ctx context.Context) error {
	s.sched.CancelAll(ctx, s.task)
	s.mu.Lock()
	clear(s.reminders)
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	list, err := s.store.ListReminders(ctx)
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}
	every := s.config().RetryInterval
	for _, r := range list {
		s.mu.Lock()
		s.reminders[r.ID] = r
		s.mu.Unlock()
		if _, err := s.sched.ScheduleAt(s.task, r.RemindAt, scheduler.Args(r.ID), scheduler.Every(every)); err != nil {
			return fmt.Errorf("schedule reminder %s: %w", r.ID, err)
		}
	}
	s.log.Info("reminders loaded", logx.Int("count", len(list)))
	return nil
}

// Add validates r, assigns ID and CreatedAt, persists it and schedules delivery.
func (s *Service) Add(ctx context.Context, r storage.Reminder) (storage.Reminder, error) {
	cfg := s.config()
	now := time.Now().UTC()

	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return storage.Reminder{}, ErrNoMessage
	}
	if !r.RemindAt.After(now) {
		return storage.Reminder{}, ErrPast
	}
	r.Message = truncate(r.Message, cfg.MaxMessageLen)
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.RemindAt = r.RemindAt.UTC()
	r.Retries = 0

	s.mu.Lock()
	n := 0
	for _, other := range s.reminders {
		if other.UserID == r.UserID {
			n++
		}
	}
	if n >= cfg.MaxPerUser {
		s.mu.Unlock()
		s.log.Warn("reminder limit reached", logx.Int64("user_id", r.UserID), logx.Int("limit", cfg.MaxPerUser))
		return storage.Reminder{}, fmt.Errorf("%w (limit %d)", ErrTooMany, cfg.MaxPerUser)
	}
	s.reminders[r.ID] = r
	s.mu.Unlock()

	if err := s.persist(ctx, r); err != nil {
		s.forget(r.ID)
		return storage.Reminder{}, err
	}
	if _, err := s.sched.ScheduleAt(s.task, r.RemindAt, scheduler.Args(r.ID), scheduler.Every(cfg.RetryInterval)); err != nil {
		s.forget(r.ID)
		s.unpersist(ctx, r.ID)
		return storage.Reminder{}, err
	}
	s.log.Info("reminder set",
		logx.String("id", r.ID),
		logx.Int64("user_id", r.UserID),
		logx.Time("remind_at", r.RemindAt),
	)
	return r, nil
}

// List returns the user's pending reminders, soonest first.
func (s *Service) List(userID int64) []storage.Reminder {
	s.mu.Lock()
	out := make([]storage.Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RemindAt.Equal(out[j].RemindAt) {
			return out[i].RemindAt.Before(out[j].RemindAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clear cancels and deletes every pending reminder of the user. It returns how many were removed.
func (s *Service) Clear(ctx context.Context, userID int64) (int, error) {
	var errs []error
	n := 0
	for _, inst := range s.sched.Instances(s.task) {
		id, _ := inst.Arg(0).(string)
		r, ok := s.lookup(id)
		if !ok || r.UserID != userID {
			continue
		}
		if err := inst.Cancel(); err != nil && !errors.Is(err, scheduler.ErrInvalidInstance) {
			errs = append(errs, err)
			continue
		}
		s.forget(id)
		if err := s.unpersist(ctx, id); err != nil {
			errs = append(errs, err)
		}
		n++
	}
	s.log.Info("reminders cleared", logx.Int64("user_id", userID), logx.Int("count", n))
	return n, errors.Join(errs...)
}

func (s *Service) lookup(id string) (storage.Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	return r, ok
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.reminders, id)
	s.mu.Unlock()
}

func (s *Service) persist(ctx context.Context, r storage.Reminder) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.PutReminder(ctx, r); err != nil {
		return fmt.Errorf("save reminder: %w", err)
	}
	return nil
}

func (s *Service) unpersist(ctx context.Context, id string) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.DeleteReminder(ctx, id); err != nil {
		s.log.Warn("reminder delete failed", logx.String("id", id), logx.Err(err))
		return err
	}
	return nil
}

// deliver runs on every occurrence of a reminder instance until one send succeeds.
func (s *Service) deliver(ctx context.Context, inst *scheduler.Instance) error {
	id, _ := inst.Arg(0).(string)
	r, ok := s.lookup(id)
	if !ok {
		// Removed behind our back (Clear raced with firing); stop retrying.
		_ = inst.Cancel()
		return nil
	}
	s.log.Info("reminder due", logx.String("id", r.ID), logx.Int("retries", r.Retries))

	text := fmt.Sprintf("Reminder: at %s UTC you asked me to remind you: %s",
		r.CreatedAt.UTC().Format("2006-01-02 15:04"), r.Message)
	if _, err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: r.UserID}, text, nil); err != nil {
		return err
	}

	_ = inst.Cancel()
	s.forget(r.ID)
	_ = s.unpersist(ctx, r.ID)
	s.log.Info("reminder delivered", logx.String("id", r.ID))
	return nil
}

func (s *Service) onDeliverError(ctx context.Context, inst *scheduler.Instance, err error) {
	id, _ := inst.Arg(0).(string)
	cfg := s.config()

	s.mu.Lock()
	r, ok := s.reminders[id]
	if ok {
		r.Retries++
		s.reminders[id] = r
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	reason := ""
	switch {
	case errors.Is(err, kit.ErrPermanent):
		reason = "user cannot be messaged"
		s.notify(ctx, kit.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}, r.ChatID != r.UserID, fmt.Sprintf(
			"%s I could not send you a reminder by private message. Start a chat with me first. (reminder missed)",
			mention(r)))
	case r.Retries > cfg.MaxRetries:
		reason = "too many retries"
	}

	if reason == "" {
		s.log.Warn("reminder delivery failed, will retry",
			logx.String("id", id), logx.Int("retries", r.Retries), logx.Err(err))
		_ = s.persist(ctx, r)
		return
	}

	s.log.Error("giving up on reminder", logx.String("id", id), logx.String("reason", reason), logx.Err(err))
	_ = inst.Cancel()
	s.forget(id)
	_ = s.unpersist(ctx, id)
	s.notify(ctx, cfg.Output, true, fmt.Sprintf("Giving up on reminder %s for user %d: %s", id, r.UserID, reason))
}

func (s *Service) onCancel(_ context.Context, inst *scheduler.Instance) {
	s.log.Debug("reminder instance cancelled", logx.Any("id", inst.Arg(0)))
}

func (s *Service) notify(ctx context.Context, to kit.ChatTarget, enabled bool, text string) {
	if !enabled || to.ChatID == 0 {
		return
	}
	if _, err := s.sender.SendText(ctx, to, text, nil); err != nil {
		s.log.Warn("reminder notice failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func mention(r storage.Reminder) string {
	if r.Username != "" {
		return "@" + r.Username
	}
	return fmt.Sprintf("user %d:", r.UserID)
}
