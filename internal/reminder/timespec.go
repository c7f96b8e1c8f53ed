package reminder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"kazbot/internal/task/scheduler"
)

var (
	ErrNoMessage   = errors.New("reminder: message required (separate it with a colon and a space)")
	ErrBadTimespec = errors.New("reminder: unrecognised time")
	ErrPast        = errors.New("reminder: time is in the past")
)

var (
	reSeparator = regexp.MustCompile(`:\s+|,`)
	reUnit      = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|w|days?|d|hours?|hrs?|h|minutes?|mins?|m|seconds?|secs?|s)\b`)
)

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// SplitArgs splits "<timespec>: <message>" at the first colon-space or comma.
func SplitArgs(args string) (timespec, message string, err error) {
	loc := reSeparator.FindStringIndex(args)
	if loc == nil {
		return "", "", ErrNoMessage
	}
	timespec = strings.TrimSpace(args[:loc[0]])
	message = strings.TrimSpace(args[loc[1]:])
	if timespec == "" {
		return "", "", ErrBadTimespec
	}
	if message == "" {
		return "", "", ErrNoMessage
	}
	return timespec, message, nil
}

// ParseWhen resolves a timespec relative to now. Accepted forms:
//
//	in 2h30m | 90s | 01:30 | in 2 hours 15 minutes | 3d
//	2026-03-07 12:00[:05] | 2026-03-07 | RFC3339 (absolute times without zone are UTC)
func ParseWhen(now time.Time, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	if strings.HasPrefix(low, "in ") {
		s, low = strings.TrimSpace(s[3:]), strings.TrimSpace(low[3:])
	}
	if s == "" {
		return time.Time{}, ErrBadTimespec
	}

	var when time.Time
	if d, err := scheduler.ParseInterval(low); err == nil {
		when = now.Add(d)
	} else if d, ok := parseUnits(low); ok {
		when = now.Add(d)
	} else {
		for _, layout := range absoluteLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				when = t
				break
			}
		}
	}
	if when.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimespec, truncate(raw, 64))
	}
	if !when.After(now) {
		return time.Time{}, ErrPast
	}
	return when, nil
}

// parseUnits handles "2 hours 15 minutes" style spans. Everything in s must be consumed.
func parseUnits(s string) (time.Duration, bool) {
	matches := reUnit.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	var total time.Duration
	last := 0
	for _, m := range matches {
		if strings.Trim(s[last:m[0]], " ,and") != "" {
			return 0, false
		}
		last = m[1]
		n, err := strconv.Atoi(s[m[2]:m[3]])
		if err != nil {
			return 0, false
		}
		total += time.Duration(n) * unitOf(strings.ToLower(s[m[4]:m[5]]))
	}
	if strings.TrimSpace(s[last:]) != "" || total <= 0 {
		return 0, false
	}
	return total, true
}

func unitOf(u string) time.Duration {
	switch {
	case strings.HasPrefix(u, "w"):
		return 7 * 24 * time.Hour
	case strings.HasPrefix(u, "d"):
		return 24 * time.Hour
	case strings.HasPrefix(u, "h"):
		return time.Hour
	case strings.HasPrefix(u, "m"):
		return time.Minute
	default:
		return time.Second
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
