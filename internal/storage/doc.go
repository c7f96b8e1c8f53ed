// Package storage persists reminders so they survive restarts.
//
// Drivers:
//   - "memory": process-local map (tests, throwaway runs)
//   - "file":   JSON snapshot plus an append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
