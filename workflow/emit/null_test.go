package emit

import "testing"

func TestNullEmitter(t *testing.T) {
	var _ Emitter = NewNullEmitter()

	// Must accept any event without side effects or panics.
	emitter := NewNullEmitter()
	emitter.Emit(Event{})
	emitter.Emit(Event{
		RunID:      "run-001",
		Step:       3,
		ExecutorID: "x",
		Msg:        "executor_invoked",
		Meta:       map[string]interface{}{"status": "success"},
	})
}
