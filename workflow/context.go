package workflow

import "context"

// WorkflowContext is the only surface through which an executor handler
// produces side effects. All methods buffer their effect; the scheduler
// applies the buffered effects at the super-step boundary in
// deterministic order, which is what makes replay reproducible.
//
// A WorkflowContext is valid only for the duration of the handler
// invocation it was passed to.
type WorkflowContext interface {
	// RunID returns the id of the executing run.
	RunID() string

	// ExecutorID returns the id of the executor being invoked.
	ExecutorID() string

	// SendMessage emits a message to the edge map. With no target the
	// message is broadcast along every outgoing edge whose type and
	// condition match; with a target id the message is routed only along
	// edges reaching that target. Mismatches are recorded as drops, not
	// errors.
	SendMessage(ctx context.Context, message any, targetID ...string) error

	// YieldOutput registers a workflow-level output, observable as a
	// WorkflowOutputEvent and through Run.Outputs.
	YieldOutput(ctx context.Context, output any) error

	// AddEvent publishes a custom event on the run's event stream.
	AddEvent(ctx context.Context, event Event) error

	// RequestExternal issues an external-input request on the named port.
	// After the current super-step the run suspends until the caller
	// submits a matching response via Run.SendResponse. Returns the
	// request id the response must carry.
	RequestExternal(ctx context.Context, port string, payload any) (string, error)
}

// sentMessage is one buffered SendMessage call.
type sentMessage struct {
	message any
	target  string // "" = broadcast
}

// stepContext implements WorkflowContext for one handler invocation,
// buffering every effect for deterministic merge at the step boundary.
type stepContext struct {
	runID      string
	executorID string

	sent     []sentMessage
	outputs  []any
	events   []Event
	requests []*ExternalRequest

	// newRequestID mints run-scoped deterministic request ids.
	newRequestID func(executorID, port string) string
}

func (s *stepContext) RunID() string      { return s.runID }
func (s *stepContext) ExecutorID() string { return s.executorID }

func (s *stepContext) SendMessage(_ context.Context, message any, targetID ...string) error {
	target := ""
	if len(targetID) > 0 {
		target = targetID[0]
	}
	s.sent = append(s.sent, sentMessage{message: message, target: target})
	return nil
}

func (s *stepContext) YieldOutput(_ context.Context, output any) error {
	s.outputs = append(s.outputs, output)
	return nil
}

func (s *stepContext) AddEvent(_ context.Context, event Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stepContext) RequestExternal(_ context.Context, port string, payload any) (string, error) {
	req := &ExternalRequest{
		ID:         s.newRequestID(s.executorID, port),
		Port:       port,
		ExecutorID: s.executorID,
		Payload:    payload,
	}
	s.requests = append(s.requests, req)
	return req.ID, nil
}

// hadEffect reports whether the invocation produced anything observable.
// Used for the zero-effect super-step warning.
func (s *stepContext) hadEffect() bool {
	return len(s.sent) > 0 || len(s.outputs) > 0 || len(s.events) > 0 || len(s.requests) > 0
}
