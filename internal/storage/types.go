package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage. An empty Driver or "none" disables persistence.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Reminder is the persisted form of a user reminder. Keep it schema-stable.
type Reminder struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	RemindAt  time.Time `json:"remind_at"`
	Message   string    `json:"message"`
	Retries   int       `json:"retries,omitempty"`
}
