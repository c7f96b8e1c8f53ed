package config

// Config is the on-disk bot configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "90s", "1h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Reminders RemindersConfig `json:"reminders"`
	Alerts    AlertsConfig    `json:"alerts"`

	Announcements []AnnouncementConfig `json:"announcements,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the bot's log chat: "<chat_id>" or "<chat_id>:<thread_id>".
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the task scheduler.
type SchedulerConfig struct {
	// Timezone (IANA, e.g. "Asia/Jakarta") used for cron announcements.
	Timezone    string `json:"timezone,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// StorageConfig controls reminder persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./kazbot.db", "busy_timeout": "2s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// RemindersConfig controls the /remind command.
//
// Defaults (when fields are omitted/zero):
//   - max_per_user: 10
//   - max_retries: 10
//   - retry_interval: "90s"
//   - max_message_len: 1000
type RemindersConfig struct {
	MaxPerUser    int    `json:"max_per_user,omitempty"`
	MaxRetries    int    `json:"max_retries,omitempty"`
	RetryInterval string `json:"retry_interval,omitempty"`
	MaxMessageLen int    `json:"max_message_len,omitempty"`
}

// AlertsConfig controls forwarding of task failures to the log chat.
type AlertsConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec,omitempty"` // default 1
	Burst      int  `json:"burst,omitempty"`        // default 3
}

// AnnouncementConfig is a recurring message posted by the bot.
//
// Schedule is a cron expression ("0 9 * * MON", "@weekly") or an interval ("24h", "12:00").
type AnnouncementConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Chat     string `json:"chat"` // "<chat_id>" or "<chat_id>:<thread_id>"
	Text     string `json:"text"`
}
