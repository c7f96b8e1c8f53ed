package scheduler

import "time"

// HistoryItem records one execution.
type HistoryItem struct {
	Instance   uint64        `json:"instance"`
	Name       string        `json:"name"`
	Occurrence int           `json:"occurrence"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// InstanceInfo is a point-in-time view of a live instance.
type InstanceInfo struct {
	ID        uint64        `json:"id"`
	Task      string        `json:"task"`
	State     string        `json:"state"`
	Target    time.Time     `json:"target"`
	Every     time.Duration `json:"every,omitempty"`
	Remaining int           `json:"remaining"` // -1 means unbounded
	Fired     int           `json:"fired"`
	LastError string        `json:"last_error,omitempty"`
}

type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Runners   int64          `json:"runners"`
	Instances []InstanceInfo `json:"instances"`
	History   []HistoryItem  `json:"history"`
}

// Snapshot is intended for diagnostics, not for synchronization.
func (s *Service) Snapshot() Snapshot {
	live := s.Instances(nil)

	s.mu.Lock()
	snap := Snapshot{
		Timezone:  s.loc.String(),
		Instances: make([]InstanceInfo, 0, len(live)),
		History:   append([]HistoryItem(nil), s.history...),
	}
	for _, inst := range live {
		it := InstanceInfo{
			ID:        inst.id,
			Task:      inst.task.name,
			State:     inst.state.String(),
			Target:    s.epoch.Add(inst.target),
			Every:     inst.every,
			Remaining: inst.remaining,
			Fired:     inst.fired,
		}
		if inst.lastErr != nil {
			it.LastError = inst.lastErr.Error()
		}
		snap.Instances = append(snap.Instances, it)
	}
	s.mu.Unlock()

	snap.Runners = s.sup.Counters().Active
	return snap
}

func (s *Service) record(inst *Instance, occurrence int, started time.Time, dur time.Duration, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryItem{
		Instance:   inst.id,
		Name:       inst.task.name,
		Occurrence: occurrence,
		Started:    started,
		Duration:   dur,
		Error:      errText,
	})
	if size := s.cfg.HistorySize; len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}
