package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryManager is the in-memory Manager used by tests, samples and
// short-lived single-process workflows.
//
// Snapshots are deep-copied on Save and Load, so callers can never mutate
// stored state through retained references. Thread-safe; runs are fully
// independent, matching the cross-run isolation contract.
//
// Data is lost when the process exits. For durable checkpoints use
// SQLiteManager or MySQLManager.
type MemoryManager struct {
	mu   sync.RWMutex
	runs map[string][]entry // runID -> entries ordered by step
}

type entry struct {
	info Info
	snap Snapshot
}

// NewMemoryManager creates an empty in-memory checkpoint manager.
//
// Example:
//
//	mgr := checkpoint.NewMemoryManager()
//	run, _ := workflow.NewRun(wf, workflow.WithCheckpointManager(mgr))
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{runs: make(map[string][]entry)}
}

// Save implements Manager. Returns ErrAlreadyExists for a duplicate
// (run id, step) pair.
func (m *MemoryManager) Save(_ context.Context, snap Snapshot) (Info, error) {
	stored, err := clone(snap)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		ID:        stored.ComputeID(),
		RunID:     stored.RunID,
		Step:      stored.Step,
		Label:     stored.Label,
		Timestamp: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.runs[snap.RunID] {
		if e.info.Step == snap.Step {
			return Info{}, ErrAlreadyExists
		}
	}

	entries := append(m.runs[snap.RunID], entry{info: info, snap: stored})
	sort.Slice(entries, func(i, j int) bool { return entries[i].info.Step < entries[j].info.Step })
	m.runs[snap.RunID] = entries

	return info, nil
}

// Load implements Manager. The handle is matched by (RunID, Step); when
// the Info carries a content ID it must also match.
func (m *MemoryManager) Load(_ context.Context, info Info) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.runs[info.RunID] {
		if e.info.Step != info.Step {
			continue
		}
		if info.ID != "" && info.ID != e.info.ID {
			continue
		}
		return clone(e.snap)
	}
	return Snapshot{}, ErrNotFound
}

// List implements Manager.
func (m *MemoryManager) List(_ context.Context, runID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.runs[runID]
	infos := make([]Info, len(entries))
	for i, e := range entries {
		infos[i] = e.info
	}
	return infos, nil
}

// Latest implements Manager.
func (m *MemoryManager) Latest(_ context.Context, runID string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.runs[runID]
	if len(entries) == 0 {
		return Info{}, ErrNotFound
	}
	return entries[len(entries)-1].info, nil
}
