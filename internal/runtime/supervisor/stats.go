package supervisor

import (
	"sort"
	"time"
)

// TaskStats aggregates every run of tasks sharing a name.
type TaskStats struct {
	Name        string    `json:"name"`
	Active      int       `json:"active"`
	Runs        uint64    `json:"runs"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

func (t *TaskStats) started(restart bool) {
	t.Active++
	t.Runs++
	if restart {
		t.Restarts++
	}
	t.LastStartAt = time.Now()
}

func (t *TaskStats) stopped(err error) {
	t.Active = max(0, t.Active-1)
	if err != nil {
		t.LastErr = err.Error()
	}
}

type Snapshot struct {
	Active     int         `json:"active"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

func (s *Supervisor) track(name string, fn func(*TaskStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		t = &TaskStats{Name: name}
		s.tasks[name] = t
	}
	fn(t)
}

// Snapshot copies the task table, running tasks first. A nil Supervisor
// yields an empty snapshot.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{Tasks: make([]TaskStats, 0, len(s.tasks))}
	if s.firstErr != nil {
		snap.FirstError = s.firstErr.Error()
	}
	for _, t := range s.tasks {
		snap.Active += t.Active
		snap.Tasks = append(snap.Tasks, *t)
	}
	s.mu.Unlock()

	sort.Slice(snap.Tasks, func(i, j int) bool {
		a, b := snap.Tasks[i], snap.Tasks[j]
		if a.Active != b.Active {
			return a.Active > b.Active
		}
		return a.Name < b.Name
	})
	return snap
}
