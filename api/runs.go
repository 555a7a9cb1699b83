package api

import (
	"sync"
	"time"
)

// ============================================================
// Run store
// ============================================================

// defaultRunHistory bounds how many run records are retained.
const defaultRunHistory = 256

// runStore is a bounded in-memory record of submitted runs, newest evicting
// oldest. Reads return copies so callers never observe in-place updates.
type runStore struct {
	mu    sync.RWMutex
	max   int
	order []string
	runs  map[string]*RunRecord
}

func newRunStore(max int) *runStore {
	if max <= 0 {
		max = defaultRunHistory
	}
	return &runStore{
		max:  max,
		runs: make(map[string]*RunRecord),
	}
}

// add registers a new record, evicting the oldest when the store is full.
func (s *runStore) add(rec *RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[rec.RunID]; !exists {
		for len(s.order) >= s.max {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.runs, oldest)
		}
		s.order = append(s.order, rec.RunID)
	}
	s.runs[rec.RunID] = rec
}

// get returns a copy of the record for id.
func (s *runStore) get(id string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// list returns copies of all retained records, newest first.
func (s *runStore) list() []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RunRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if rec, ok := s.runs[s.order[i]]; ok {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

// setRunning marks the record as executing.
func (s *runStore) setRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return
	}
	now := time.Now()
	rec.Status = RunRunning
	rec.StartedAt = &now
}

// finish records the terminal state of a run.
func (s *runStore) finish(id string, action string, store map[string]any, elapsed time.Duration, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return
	}
	now := time.Now()
	rec.FinishedAt = &now
	rec.Duration = elapsed.String()
	if runErr != nil {
		rec.Status = RunFailed
		rec.Error = runErr.Error()
		return
	}
	rec.Status = RunSucceeded
	rec.Action = action
	rec.Store = store
}

func copyRecord(rec *RunRecord) *RunRecord {
	out := *rec
	if rec.StartedAt != nil {
		started := *rec.StartedAt
		out.StartedAt = &started
	}
	if rec.FinishedAt != nil {
		finished := *rec.FinishedAt
		out.FinishedAt = &finished
	}
	if rec.Store != nil {
		out.Store = make(map[string]any, len(rec.Store))
		for k, v := range rec.Store {
			out.Store[k] = v
		}
	}
	return &out
}
