package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "kazbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) ListReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, username, chat_id, thread_id, created_at, remind_at, message, retries
		 FROM reminders ORDER BY remind_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			r                Reminder
			username         sql.NullString
			createdMS, dueMS int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &username, &r.ChatID, &r.ThreadID, &createdMS, &dueMS, &r.Message, &r.Retries); err != nil {
			return nil, err
		}
		r.Username = username.String
		r.CreatedAt = time.UnixMilli(createdMS)
		r.RemindAt = time.UnixMilli(dueMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutReminder(ctx context.Context, r Reminder) error {
	if err := validReminder(r); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, user_id, username, chat_id, thread_id, created_at, remind_at, message, retries)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, username=excluded.username, chat_id=excluded.chat_id,
		   thread_id=excluded.thread_id, created_at=excluded.created_at, remind_at=excluded.remind_at,
		   message=excluded.message, retries=excluded.retries`,
		r.ID, r.UserID, nullStr(r.Username), r.ChatID, r.ThreadID,
		r.CreatedAt.UnixMilli(), r.RemindAt.UnixMilli(), r.Message, r.Retries,
	)
	return err
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
