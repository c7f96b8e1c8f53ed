package scheduler

import (
	"fmt"
	"time"
)

// ScheduleOption configures a single ScheduleAt/ScheduleIn/ScheduleNext call.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	args     []any
	every    time.Duration
	times    int
	timesSet bool
}

// Args binds positional arguments to the instance (see Instance.Arg).
func Args(args ...any) ScheduleOption {
	return func(o *scheduleOptions) { o.args = append([]any(nil), args...) }
}

// Every repeats the task at a fixed interval measured from the previous target.
func Every(d time.Duration) ScheduleOption {
	return func(o *scheduleOptions) { o.every = d }
}

// Times caps the total number of fires. Without Every only 1 is valid.
func Times(n int) ScheduleOption {
	return func(o *scheduleOptions) {
		o.times = n
		o.timesSet = true
	}
}

func buildOptions(opts []ScheduleOption) (scheduleOptions, error) {
	var o scheduleOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.timesSet && o.times < 1 {
		return o, fmt.Errorf("%w: times must be >= 1 (got %d)", ErrConfiguration, o.times)
	}
	if o.every <= 0 && o.timesSet && o.times > 1 {
		return o, fmt.Errorf("%w: %d repetitions need a positive interval", ErrConfiguration, o.times)
	}
	return o, nil
}

// remaining is the initial fire budget: -1 for unbounded repetition.
func (o scheduleOptions) remaining() int {
	switch {
	case o.every <= 0:
		return 1
	case o.timesSet:
		return o.times
	default:
		return -1
	}
}
