package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kazbot/internal/reminder"
	"kazbot/internal/storage"
	"kazbot/internal/task/scheduler"
	"kazbot/internal/transport/telegram/router"
	logx "kazbot/pkg/logx"
	"kazbot/pkg/tgui"
)

const timeLayout = "2006-01-02 15:04"

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "remind",
			Aliases:     []string{"reminder"},
			Description: "send yourself a reminder later",
			Usage:       "/remind <when>: <message>   e.g. /remind in 2h: feed the dog",
			Timeout:     10 * time.Second,
			Handle:      a.cmdRemind,
		},
		{
			Name:        "reminders",
			Aliases:     []string{"reminder_list"},
			Description: "list your pending reminders",
			Timeout:     10 * time.Second,
			Handle:      a.cmdReminders,
		},
		{
			Name:        "reminders_clear",
			Aliases:     []string{"reminder_clear"},
			Description: "remove all your pending reminders",
			Timeout:     10 * time.Second,
			Handle:      a.cmdRemindersClear,
		},
		{
			Name:        "tasks",
			Description: "show scheduled tasks and recent runs",
			Access:      router.AccessOwnerOnly,
			Handle:      a.cmdTasks,
		},
	}
}

func (a *App) cmdRemind(ctx context.Context, req *router.Request) error {
	spec, msg, err := reminder.SplitArgs(req.RawArgs)
	if err != nil {
		return req.Reply(ctx, remindErrorText(err))
	}
	now := time.Now().UTC()
	when, err := reminder.ParseWhen(now, spec)
	if err != nil {
		return req.Reply(ctx, remindErrorText(err))
	}

	r, err := a.reminders.Add(ctx, storage.Reminder{
		UserID:   req.FromID,
		Username: req.FromUsername,
		ChatID:   req.Chat.ChatID,
		ThreadID: req.Chat.ThreadID,
		RemindAt: when,
		Message:  msg,
	})
	if err != nil {
		if rerr := req.Reply(ctx, remindErrorText(err)); rerr != nil {
			return rerr
		}
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Got it! I'll remind you by private message at %s UTC (in %s).",
		r.RemindAt.Format(timeLayout), r.RemindAt.Sub(now).Round(time.Second)))
}

func remindErrorText(err error) string {
	switch {
	case errors.Is(err, reminder.ErrNoMessage):
		return "You need to give a message for your reminder. Separate it from the time with a colon and a space: /remind in 10m: message"
	case errors.Is(err, reminder.ErrPast):
		return "Oops! You can't set a reminder in the past!"
	case errors.Is(err, reminder.ErrBadTimespec):
		return "Sorry, I don't understand that time. Try 'in 2h30m', '45m', '01:30' or '2026-03-07 12:00'."
	case errors.Is(err, reminder.ErrTooMany):
		return "Oops! You already have too many pending reminders."
	default:
		return "Sorry, I could not save that reminder."
	}
}

func (a *App) cmdReminders(ctx context.Context, req *router.Request) error {
	list := a.reminders.List(req.FromID)
	if len(list) == 0 {
		return req.Reply(ctx, "Your reminders: none")
	}
	now := time.Now()
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, "Your reminders:")
	for i, r := range list {
		lines = append(lines, fmt.Sprintf("%d. at %s UTC (in %s): %s",
			i+1, r.RemindAt.UTC().Format(timeLayout), max(r.RemindAt.Sub(now), 0).Round(time.Second), r.Message))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (a *App) cmdRemindersClear(ctx context.Context, req *router.Request) error {
	n, err := a.reminders.Clear(ctx, req.FromID)
	if err != nil {
		req.Logger.Warn("reminder clear incomplete", logx.Err(err))
	}
	return req.Reply(ctx, fmt.Sprintf("All your reminders have been cleared (%d).", n))
}

func (a *App) cmdTasks(ctx context.Context, req *router.Request) error {
	return req.ReplyHTML(ctx, formatSnapshot(a.sched.Snapshot(), 5))
}

func formatSnapshot(snap scheduler.Snapshot, lastRuns int) tgui.H {
	lines := []tgui.H{
		tgui.Concat(tgui.B("scheduler"), tgui.Esc(fmt.Sprintf(" (%s): %d live, %d runners", snap.Timezone, len(snap.Instances), snap.Runners))),
	}
	for _, it := range snap.Instances {
		line := fmt.Sprintf(" %s next %s", it.State, it.Target.UTC().Format(timeLayout))
		if it.Every > 0 {
			line += fmt.Sprintf(" every %s", it.Every)
		}
		if it.LastError != "" {
			line += fmt.Sprintf(" (last error: %s)", it.LastError)
		}
		lines = append(lines, tgui.Concat(tgui.Esc("- "), tgui.Code(fmt.Sprintf("%s#%d", it.Task, it.ID)), tgui.Esc(line)))
	}

	hist := snap.History
	if len(hist) > lastRuns {
		hist = hist[len(hist)-lastRuns:]
	}
	if len(hist) > 0 {
		lines = append(lines, tgui.B("recent runs"))
	}
	for _, h := range hist {
		status := "ok"
		if h.Error != "" {
			status = h.Error
		}
		lines = append(lines, tgui.Concat(
			tgui.Esc("- "),
			tgui.Code(fmt.Sprintf("%s#%d", h.Name, h.Instance)),
			tgui.Esc(fmt.Sprintf(" run %d (%s): %s", h.Occurrence, h.Duration.Round(time.Millisecond), status)),
		))
	}
	return tgui.JoinH("\n", lines...)
}
