package emit

// Event represents an observability event emitted during workflow execution.
//
// Events provide detailed insight into run behavior:
//   - Executor invocation start/complete
//   - Message routing decisions
//   - Errors and warnings
//   - Checkpoint commits
//   - External request lifecycle
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Store in time-series databases
//   - Trigger alerts
type Event struct {
	// RunID identifies the workflow run that emitted this event.
	RunID string

	// Step is the super-step number in the run (1-indexed).
	// Zero for run-level events (start, complete, error).
	Step int

	// ExecutorID identifies which executor emitted this event.
	// Empty string for run-level events.
	ExecutorID string

	// Msg is a short machine-friendly description of the event,
	// e.g. "executor_invoked", "superstep_completed".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "checkpoint_id": Checkpoint identifier
	//   - "request_id": External request identifier
	//   - "status": Routing outcome for dropped messages
	Meta map[string]interface{}
}
