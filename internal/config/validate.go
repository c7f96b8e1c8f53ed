package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"kazbot/internal/task/scheduler"
)

// Validate checks fields that the strict decoder cannot: durations, chat refs,
// timezones and announcement schedules. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	check(err)
	_, _, err = ParseChatRef("telegram.group_log", cfg.Telegram.GroupLog)
	check(err)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "memory", "file", "sqlite", "sqlite3":
		default:
			check(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		check(err)
	}

	if raw := strings.TrimSpace(cfg.Reminders.RetryInterval); raw != "" {
		if _, err := scheduler.ParseInterval(raw); err != nil {
			check(fmt.Errorf("reminders.retry_interval: %w", err))
		}
	}
	if cfg.Reminders.MaxPerUser < 0 || cfg.Reminders.MaxRetries < 0 || cfg.Reminders.MaxMessageLen < 0 {
		check(errors.New("reminders: limits must be >= 0"))
	}
	if cfg.Alerts.RatePerSec < 0 || cfg.Alerts.Burst < 0 {
		check(errors.New("alerts: rate_per_sec and burst must be >= 0"))
	}

	seen := map[string]bool{}
	for i, a := range cfg.Announcements {
		path := fmt.Sprintf("announcements[%d]", i)
		name := strings.TrimSpace(a.Name)
		switch {
		case name == "":
			check(fmt.Errorf("%s.name: required", path))
		case seen[name]:
			check(fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true
		if _, err := scheduler.ParseSchedule(a.Schedule); err != nil {
			check(fmt.Errorf("%s.schedule: %w", path, err))
		}
		if strings.TrimSpace(a.Chat) == "" {
			check(fmt.Errorf("%s.chat: required", path))
		} else {
			_, _, err := ParseChatRef(path+".chat", a.Chat)
			check(err)
		}
		if strings.TrimSpace(a.Text) == "" {
			check(fmt.Errorf("%s.text: required", path))
		}
	}
	return errors.Join(errs...)
}
