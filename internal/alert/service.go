package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"kazbot/internal/eventbus"
	"kazbot/internal/runtime/supervisor"
	"kazbot/internal/task/scheduler"
	kit "kazbot/internal/transport"
	logx "kazbot/pkg/logx"
)

// Config controls failure alerts.
type Config struct {
	Enabled    bool
	RatePerSec int
	Burst      int
	// Target is the log chat. A zero ChatID disables sending; failures are still logged.
	Target kit.ChatTarget
}

type HistoryItem struct {
	At   time.Time
	Text string
}

const maxHistory = 100

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	cfg        Config
	limiter    *rate.Limiter
	suppressed uint64

	sup   *supervisor.Supervisor
	unsub func()

	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log.With(logx.String("comp", "alert")), bus: bus}
	s.applyLocked(cfg)
	return s
}

// Apply swaps config and limiter. The suppressed counter survives.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
}

// Start subscribes to the bus. It is a no-op when already running or without a bus.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || s.bus == nil {
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.Go0("alert.loop", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type == scheduler.EventFailed {
					s.handle(c, ev)
				}
			}
		}
	})
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	unsub()
	return sup.Stop(ctx)
}

// Suppressed reports alerts dropped by the limiter that have not been reported yet.
func (s *Service) Suppressed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}

func (s *Service) Snapshot() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) handle(ctx context.Context, ev eventbus.Event) {
	te, ok := ev.Data.(scheduler.TaskEvent)
	if !ok {
		return
	}
	s.log.Warn("task failure observed",
		logx.String("task", te.Name),
		logx.Uint64("instance", te.ID),
		logx.Int("occurrence", te.Occurrence),
		logx.String("error", te.Error),
	)

	s.mu.Lock()
	cfg := s.cfg
	if !cfg.Enabled || cfg.Target.ChatID == 0 || s.sender == nil {
		s.mu.Unlock()
		return
	}
	if !s.limiter.Allow() {
		s.suppressed++
		s.mu.Unlock()
		return
	}
	dropped := s.suppressed
	s.suppressed = 0
	s.mu.Unlock()

	text := formatAlert(te, dropped)
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := s.sender.SendText(sctx, cfg.Target, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn("alert send failed", logx.Err(err))
		}
		// Count it so the next alert still mentions the loss.
		s.mu.Lock()
		s.suppressed += dropped + 1
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()
}

func formatAlert(te scheduler.TaskEvent, suppressed uint64) string {
	msg := fmt.Sprintf("task %s#%d failed (run %d): %s", te.Name, te.ID, te.Occurrence, te.Error)
	if suppressed > 0 {
		msg += fmt.Sprintf("\n(+%d suppressed)", suppressed)
	}
	return msg
}
