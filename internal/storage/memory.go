package storage

import (
	"context"
	"sort"
	"sync"
)

type memoryStore struct {
	mu     sync.Mutex
	items  map[string]Reminder
	closed bool
}

// NewMemory returns a Store that lives only as long as the process.
func NewMemory() Store {
	return &memoryStore{items: map[string]Reminder{}}
}

func (s *memoryStore) ListReminders(ctx context.Context) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedReminders(s.items), nil
}

func (s *memoryStore) PutReminder(ctx context.Context, r Reminder) error {
	if err := validReminder(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.items[r.ID] = r
	return nil
}

func (s *memoryStore) DeleteReminder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.items, id)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// sortedReminders orders by due time, then ID, so listings are stable across drivers.
func sortedReminders(m map[string]Reminder) []Reminder {
	out := make([]Reminder, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RemindAt.Equal(out[j].RemindAt) {
			return out[i].RemindAt.Before(out[j].RemindAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
