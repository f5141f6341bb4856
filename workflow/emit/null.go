package emit

// NullEmitter implements Emitter by discarding all events.
//
// This is a no-op emitter for environments where event logging is not
// desired. It implements the Emitter interface but does nothing with
// emitted events.
//
// Use cases:
//   - Production deployments where observability overhead is unwanted
//   - Testing scenarios where event capture is not needed
//   - Disabling event emission without changing code
//
// Example usage:
//
//	run := workflow.NewRun(wf, workflow.WithEmitter(emit.NewNullEmitter()))
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
//
// Returns a NullEmitter that discards all events without any processing.
// This is safe for concurrent use and has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
