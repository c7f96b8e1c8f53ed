package storage

import (
	"context"
	"errors"
	"strings"

	logx "kazbot/pkg/logx"
)

// Store is the persistence API used by the reminder service.
type Store interface {
	ListReminders(ctx context.Context) ([]Reminder, error)
	// PutReminder inserts or replaces by ID.
	PutReminder(ctx context.Context, r Reminder) error
	// DeleteReminder removes by ID; deleting a missing ID is not an error.
	DeleteReminder(ctx context.Context, id string) error
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func validReminder(r Reminder) error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("storage: reminder id required")
	}
	return nil
}
