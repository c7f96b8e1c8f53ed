package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kazbot/internal/storage"
	"kazbot/internal/task/scheduler"
	kit "kazbot/internal/transport"
	logx "kazbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

// fakeSender fails the first failN private sends with failErr.
type fakeSender struct {
	mu      sync.Mutex
	failN   int
	failErr error
	calls   int
	sent    []sent
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil && (f.failN < 0 || f.calls <= f.failN) && to.ChatID > 0 {
		return kit.MessageRef{}, f.failErr
	}
	f.sent = append(f.sent, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

type fixture struct {
	svc    *Service
	sched  *scheduler.Service
	store  storage.Store
	sender *fakeSender
}

func newFixture(t *testing.T, cfg Config, sender *fakeSender) fixture {
	t.Helper()
	sched := scheduler.New(scheduler.Config{}, logx.Nop(), nil)
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	if sender == nil {
		sender = &fakeSender{}
	}
	return fixture{svc: New(cfg, sched, store, sender, logx.Nop()), sched: sched, store: store, sender: sender}
}

func storedCount(t *testing.T, st storage.Store) int {
	t.Helper()
	list, err := st.ListReminders(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return len(list)
}

func TestAdd_DeliversAndCleansUp(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	r, err := f.svc.Add(ctx, storage.Reminder{UserID: 42, ChatID: -100, RemindAt: time.Now().Add(100 * time.Millisecond), Message: "  feed the dog "})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.ID == "" || r.CreatedAt.IsZero() || r.Message != "feed the dog" {
		t.Fatalf("bad reminder: %+v", r)
	}
	if storedCount(t, f.store) != 1 || len(f.svc.List(42)) != 1 {
		t.Fatalf("reminder not registered")
	}

	waitFor(t, 2*time.Second, func() bool { return len(f.sender.snapshot()) == 1 })
	got := f.sender.snapshot()[0]
	if got.to.ChatID != 42 || !strings.Contains(got.text, "feed the dog") {
		t.Fatalf("sent %+v", got)
	}
	waitFor(t, time.Second, func() bool { return len(f.sched.Instances(f.svc.Task())) == 0 })
	if storedCount(t, f.store) != 0 || len(f.svc.List(42)) != 0 {
		t.Fatalf("reminder not removed after delivery")
	}
}

func TestAdd_Validation(t *testing.T) {
	f := newFixture(t, Config{MaxPerUser: 2}, nil)
	ctx := context.Background()
	later := time.Now().Add(time.Hour)

	if _, err := f.svc.Add(ctx, storage.Reminder{UserID: 1, RemindAt: later, Message: "  "}); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("empty message: %v", err)
	}
	if _, err := f.svc.Add(ctx, storage.Reminder{UserID: 1, RemindAt: time.Now().Add(-time.Second), Message: "x"}); !errors.Is(err, ErrPast) {
		t.Fatalf("past: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Add(ctx, storage.Reminder{UserID: 1, RemindAt: later, Message: "x"}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if _, err := f.svc.Add(ctx, storage.Reminder{UserID: 1, RemindAt: later, Message: "x"}); !errors.Is(err, ErrTooMany) {
		t.Fatalf("limit: %v", err)
	}
	if _, err := f.svc.Add(ctx, storage.Reminder{UserID: 2, RemindAt: later, Message: "x"}); err != nil {
		t.Fatalf("other user: %v", err)
	}
}

func TestAdd_TruncatesMessage(t *testing.T) {
	f := newFixture(t, Config{MaxMessageLen: 5}, nil)
	r, err := f.svc.Add(context.Background(), storage.Reminder{UserID: 1, RemindAt: time.Now().Add(time.Hour), Message: "abcdefgh"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.Message != "abcde" {
		t.Fatalf("message=%q", r.Message)
	}
}

func TestDeliver_RetriesTransientErrors(t *testing.T) {
	sender := &fakeSender{failN: 2, failErr: errors.New("network down")}
	f := newFixture(t, Config{RetryInterval: 50 * time.Millisecond}, sender)

	if _, err := f.svc.Add(context.Background(), storage.Reminder{UserID: 7, RemindAt: time.Now().Add(50 * time.Millisecond), Message: "retry me"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(sender.snapshot()) == 1 })
	waitFor(t, time.Second, func() bool { return len(f.sched.Instances(f.svc.Task())) == 0 })

	sender.mu.Lock()
	calls := sender.calls
	sender.mu.Unlock()
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
	if storedCount(t, f.store) != 0 {
		t.Fatalf("store not cleaned")
	}
}

func TestDeliver_GivesUpAfterMaxRetries(t *testing.T) {
	sender := &fakeSender{failN: -1, failErr: errors.New("timeout")}
	out := kit.ChatTarget{ChatID: -500}
	f := newFixture(t, Config{RetryInterval: 30 * time.Millisecond, MaxRetries: 2, Output: out}, sender)

	if _, err := f.svc.Add(context.Background(), storage.Reminder{UserID: 7, RemindAt: time.Now().Add(30 * time.Millisecond), Message: "never"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(sender.snapshot()) == 1 })
	got := sender.snapshot()[0]
	if got.to != out || !strings.Contains(got.text, "too many retries") {
		t.Fatalf("notice %+v", got)
	}
	waitFor(t, time.Second, func() bool { return len(f.sched.Instances(f.svc.Task())) == 0 })

	sender.mu.Lock()
	calls := sender.calls
	sender.mu.Unlock()
	// 3 failed deliveries (retries 1..3, the third exceeds the limit) plus the notice.
	if calls != 4 {
		t.Fatalf("calls=%d want 4", calls)
	}
	if storedCount(t, f.store) != 0 || len(f.svc.List(7)) != 0 {
		t.Fatalf("reminder kept after giving up")
	}
}

func TestDeliver_PermanentErrorNotifiesOriginChat(t *testing.T) {
	sender := &fakeSender{failN: -1, failErr: fmt.Errorf("%w: blocked", kit.ErrPermanent)}
	f := newFixture(t, Config{RetryInterval: 30 * time.Millisecond}, sender)

	if _, err := f.svc.Add(context.Background(), storage.Reminder{
		UserID: 7, Username: "kaz", ChatID: -100, ThreadID: 3,
		RemindAt: time.Now().Add(30 * time.Millisecond), Message: "x",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(sender.snapshot()) == 1 })
	got := sender.snapshot()[0]
	if got.to != (kit.ChatTarget{ChatID: -100, ThreadID: 3}) || !strings.Contains(got.text, "@kaz") {
		t.Fatalf("notice %+v", got)
	}
	waitFor(t, time.Second, func() bool { return len(f.sched.Instances(f.svc.Task())) == 0 })
	time.Sleep(100 * time.Millisecond)

	sender.mu.Lock()
	calls := sender.calls
	sender.mu.Unlock()
	if calls != 2 {
		t.Fatalf("calls=%d want 2 (no retries after a permanent error)", calls)
	}
}

func TestLoad_ReRegistersFromStore(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, at := range []time.Duration{2 * time.Hour, time.Hour} {
		r := storage.Reminder{ID: fmt.Sprintf("r%d", i), UserID: 9, RemindAt: now.Add(at), CreatedAt: now, Message: "m"}
		if err := f.store.PutReminder(ctx, r); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := f.svc.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := len(f.sched.Instances(f.svc.Task())); n != 2 {
		t.Fatalf("instances=%d", n)
	}
	list := f.svc.List(9)
	if len(list) != 2 || list[0].ID != "r1" {
		t.Fatalf("list order: %+v", list)
	}

	// Loading again replaces, never duplicates.
	if err := f.svc.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(f.sched.Instances(f.svc.Task())) == 2 })
}

func TestClear_RemovesOnlyThatUser(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	later := time.Now().Add(time.Hour)

	for _, uid := range []int64{1, 1, 2} {
		if _, err := f.svc.Add(ctx, storage.Reminder{UserID: uid, RemindAt: later, Message: "x"}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	n, err := f.svc.Clear(ctx, 1)
	if err != nil || n != 2 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	if len(f.svc.List(1)) != 0 || len(f.svc.List(2)) != 1 {
		t.Fatalf("wrong reminders removed")
	}
	if storedCount(t, f.store) != 1 {
		t.Fatalf("store=%d", storedCount(t, f.store))
	}
	if len(f.sched.Instances(f.svc.Task())) != 1 {
		t.Fatalf("instances not cancelled")
	}
}
