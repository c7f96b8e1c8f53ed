package app

import (
	"fmt"
	"strings"
	"time"

	"kazbot/internal/alert"
	"kazbot/internal/announce"
	"kazbot/internal/config"
	"kazbot/internal/reminder"
	"kazbot/internal/storage"
	"kazbot/internal/task/scheduler"
	kit "kazbot/internal/transport"
	logx "kazbot/pkg/logx"
)

// Mapping functions turn the on-disk config into component configs. They run on
// every reload through the validator, so a config that cannot be mapped is never committed.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Timezone:    strings.TrimSpace(cfg.Scheduler.Timezone),
		HistorySize: cfg.Scheduler.HistorySize,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func logChat(cfg *config.Config) (kit.ChatTarget, error) {
	chatID, threadID, err := config.ParseChatRef("telegram.group_log", cfg.Telegram.GroupLog)
	if err != nil {
		return kit.ChatTarget{}, err
	}
	return kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, nil
}

func mapAlertConfig(cfg *config.Config) (alert.Config, error) {
	target, err := logChat(cfg)
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{
		Enabled:    cfg.Alerts.Enabled,
		RatePerSec: cfg.Alerts.RatePerSec,
		Burst:      cfg.Alerts.Burst,
		Target:     target,
	}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	out, err := logChat(cfg)
	if err != nil {
		return reminder.Config{}, err
	}
	var retry time.Duration
	if raw := strings.TrimSpace(cfg.Reminders.RetryInterval); raw != "" {
		retry, err = scheduler.ParseInterval(raw)
		if err != nil {
			return reminder.Config{}, fmt.Errorf("reminders.retry_interval: %w", err)
		}
	}
	return reminder.Config{
		MaxPerUser:    cfg.Reminders.MaxPerUser,
		MaxRetries:    cfg.Reminders.MaxRetries,
		RetryInterval: retry,
		MaxMessageLen: cfg.Reminders.MaxMessageLen,
		Output:        out,
	}, nil
}

func mapAnnouncements(cfg *config.Config) ([]announce.Announcement, error) {
	out := make([]announce.Announcement, 0, len(cfg.Announcements))
	for i, a := range cfg.Announcements {
		chatID, threadID, err := config.ParseChatRef(fmt.Sprintf("announcements[%d].chat", i), a.Chat)
		if err != nil {
			return nil, err
		}
		out = append(out, announce.Announcement{
			Name:     strings.TrimSpace(a.Name),
			Schedule: a.Schedule,
			Target:   kit.ChatTarget{ChatID: chatID, ThreadID: threadID},
			Text:     a.Text,
		})
	}
	return out, nil
}

// validateMapped is installed as the config manager validator.
func validateMapped(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAlertConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	_, err := mapAnnouncements(cfg)
	return err
}
