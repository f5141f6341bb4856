package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// run history analysis. Events are organized by runID for efficient
// retrieval and filtering.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by runID with optional filtering
//   - Filter by executorID, message, step range
//   - Clear events by runID or all events
//
// Use cases:
//   - Development and debugging
//   - Testing and validation
//   - Post-execution analysis
//
// Warning: This emitter stores all events in memory. For production
// deployments with long-running workflows or high event volume, use a
// persistent backend or implement event rotation/cleanup.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	run := workflow.NewRun(wf, workflow.WithEmitter(emitter))
//
//	// ... run the workflow ...
//
//	allEvents := emitter.GetHistory(run.ID())
//	errorEvents := emitter.GetHistoryWithFilter(run.ID(), emit.HistoryFilter{Msg: "workflow_error"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering run history.
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic (all conditions must match).
//
// Fields:
//   - ExecutorID: Filter by specific executor
//   - Msg: Filter by message type (e.g., "executor_invoked")
//   - MinStep: Filter events with step >= MinStep (nil = no lower bound)
//   - MaxStep: Filter events with step <= MaxStep (nil = no upper bound)
type HistoryFilter struct {
	ExecutorID string // Filter by executor ID (empty = no filter)
	Msg        string // Filter by message (empty = no filter)
	MinStep    *int   // Minimum step number (nil = no filter)
	MaxStep    *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
//
// Returns a BufferedEmitter that stores all events in memory and
// provides query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
//
// Events are organized by runID for efficient retrieval. This method is
// thread-safe and can be called concurrently from multiple goroutines.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory retrieves all events for a specific runID.
//
// Returns events in the order they were emitted. Returns an empty slice
// if no events exist for the given runID.
//
// This method is thread-safe and returns a copy of the events to prevent
// concurrent modification issues.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{} // Return empty slice instead of nil
	}

	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves filtered events for a specific runID.
//
// Applies the provided filter criteria to select matching events. All
// filter conditions must match for an event to be included (AND logic).
//
// Returns events in the order they were emitted. Returns an empty slice
// if no events match the filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{}
	}

	// If filter is empty, return all events
	if filter.ExecutorID == "" && filter.Msg == "" && filter.MinStep == nil && filter.MaxStep == nil {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	var result []Event
	for _, event := range events {
		if !b.matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{}
	}
	return result
}

func (b *BufferedEmitter) matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.ExecutorID != "" && event.ExecutorID != filter.ExecutorID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear removes stored events.
//
// If runID is non-empty, clears only events for that specific run.
// If runID is empty, clears all stored events across all runs.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, runID)
	}
}
