package scheduler

import (
	"time"

	"kazbot/internal/eventbus"
)

const (
	EventScheduled = "task.scheduled"
	EventStarted   = "task.started"
	EventFinished  = "task.finished"
	EventFailed    = "task.failed"
	EventCancelled = "task.cancelled"
	EventRetired   = "task.retired"
)

// TaskEvent is the Data of every task.* event on the bus.
//
// On task.failed, Err is the *TaskExecutionError and Error its message.
type TaskEvent struct {
	ID         uint64        `json:"id"`
	Name       string        `json:"name"`
	State      string        `json:"state"`
	Occurrence int           `json:"occurrence,omitempty"`
	Target     time.Time     `json:"target"`
	Started    time.Time     `json:"started,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`

	Task     *Task     `json:"-"`
	Instance *Instance `json:"-"`
	Err      error     `json:"-"`
}

type runInfo struct {
	occurrence int
	started    time.Time
	dur        time.Duration
	err        error
}

func (s *Service) publish(typ string, inst *Instance, run runInfo) {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	ev := TaskEvent{
		ID:         inst.id,
		Name:       inst.task.name,
		State:      inst.state.String(),
		Occurrence: run.occurrence,
		Target:     s.epoch.Add(inst.target),
		Started:    run.started,
		Duration:   run.dur,
		Task:       inst.task,
		Instance:   inst,
		Err:        run.err,
	}
	s.mu.Unlock()
	if run.err != nil {
		ev.Error = run.err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
