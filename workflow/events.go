package workflow

import (
	"github.com/dshills/superstep-go/checkpoint"
)

// Event is an observable occurrence surfaced on a run's event stream.
//
// The stream is pull-based: the scheduler writes events to a bounded
// channel and the consumer drains it at its own pace. Production blocks
// when the buffer is full; events are never dropped to keep up.
//
// Executors may publish custom events through WorkflowContext.AddEvent;
// any type with a Kind method qualifies.
type Event interface {
	// Kind returns a stable, lowercase identifier for the event type
	// (e.g. "executor_completed"). Used for logging and filtering.
	Kind() string
}

// ExecutorInvokedEvent is emitted when a delivery reaches an executor
// handler. One event per delivered message.
type ExecutorInvokedEvent struct {
	// ExecutorID is the executor whose handler ran.
	ExecutorID string

	// Message is the delivered payload.
	Message any

	// Step is the super-step during which the invocation happened.
	Step int
}

// Kind implements Event.
func (ExecutorInvokedEvent) Kind() string { return "executor_invoked" }

// ExecutorCompletedEvent is emitted when a handler invocation returns
// without error. One event per delivered message, after the matching
// ExecutorInvokedEvent.
type ExecutorCompletedEvent struct {
	ExecutorID string
	Step       int
}

// Kind implements Event.
func (ExecutorCompletedEvent) Kind() string { return "executor_completed" }

// SuperStepCompletedEvent is emitted at every super-step boundary.
//
// When checkpointing is enabled the event carries the Info of the
// checkpoint captured for the completed step, letting callers record
// step-granular resume points.
type SuperStepCompletedEvent struct {
	// Step is the super-step that just completed (1-indexed).
	Step int

	// Checkpoint references the snapshot taken at this boundary.
	// Nil when no checkpoint manager is configured.
	Checkpoint *checkpoint.Info
}

// Kind implements Event.
func (SuperStepCompletedEvent) Kind() string { return "superstep_completed" }

// WorkflowOutputEvent is emitted when an executor yields a workflow-level
// output via WorkflowContext.YieldOutput.
type WorkflowOutputEvent struct {
	// SourceID is the executor that yielded the output.
	SourceID string

	// Output is the yielded value.
	Output any

	Step int
}

// Kind implements Event.
func (WorkflowOutputEvent) Kind() string { return "workflow_output" }

// WorkflowCompletedEvent is the terminal event of a successful run.
//
// Outputs holds every value yielded during the run, in yield order. A run
// that completed without yielding anything carries an empty slice, letting
// callers distinguish "completed with output" from "completed idle".
type WorkflowCompletedEvent struct {
	Outputs []any
	Step    int
}

// Kind implements Event.
func (WorkflowCompletedEvent) Kind() string { return "workflow_completed" }

// WorkflowErrorEvent is the terminal event of a failed run. The original
// handler error is carried unwrapped.
type WorkflowErrorEvent struct {
	// ExecutorID is the executor whose handler failed, when attributable.
	ExecutorID string

	// Err is the failure.
	Err error

	Step int
}

// Kind implements Event.
func (WorkflowErrorEvent) Kind() string { return "workflow_error" }

// WorkflowWarningEvent reports a non-fatal anomaly (for example a
// super-step that had zero effect). Execution continues.
type WorkflowWarningEvent struct {
	Message string
	Step    int
}

// Kind implements Event.
func (WorkflowWarningEvent) Kind() string { return "workflow_warning" }

// RequestInfoEvent is emitted when a handler requests external input.
// The run suspends after the current step until a matching response is
// submitted via Run.SendResponse.
type RequestInfoEvent struct {
	// Request describes what is being asked for and how to address the
	// response.
	Request *ExternalRequest

	Step int
}

// Kind implements Event.
func (RequestInfoEvent) Kind() string { return "request_info" }

// AgentRunUpdateEvent surfaces an incremental response update from an
// agent executor, enabling streaming display of model output while a
// turn is in progress.
type AgentRunUpdateEvent struct {
	// ExecutorID is the agent executor producing the update.
	ExecutorID string

	// Delta is the incremental text produced since the last update.
	Delta string

	Step int
}

// Kind implements Event.
func (AgentRunUpdateEvent) Kind() string { return "agent_run_update" }
