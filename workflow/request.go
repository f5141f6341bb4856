package workflow

// External request/response ports.
//
// A handler that needs input the workflow cannot produce itself (human
// approval, out-of-band data) calls WorkflowContext.RequestExternal. The
// run finishes the current super-step, transitions to RunSuspended and
// surfaces the request as a RequestInfoEvent. The host answers by calling
// Run.SendResponse with a correspondingly addressed ExternalResponse; the
// response is validated against the outstanding request table and then
// injected as a delivery to the requesting executor for the next step.
// The requesting executor must therefore register a handler for
// ExternalResponse.

// ExternalRequest describes one outstanding request for external input.
type ExternalRequest struct {
	// ID addresses the request. Responses must carry the same id.
	// IDs are deterministic within a run (executor, port, sequence), so
	// replays issue identical ids.
	ID string `json:"id"`

	// Port names what is being requested (e.g. "function_approval").
	Port string `json:"port"`

	// ExecutorID is the executor awaiting the response.
	ExecutorID string `json:"executor_id"`

	// Payload describes the request to the host (opaque to the runtime).
	Payload any `json:"payload"`

	// Step is the super-step during which the request was raised.
	Step int `json:"step"`
}

// ExternalResponse answers an ExternalRequest.
//
// It is delivered verbatim to the requesting executor, which dispatches
// on it like any other message type.
type ExternalResponse struct {
	// RequestID must match an outstanding request's ID. Unknown ids fail
	// with ErrUnknownRequest; answering twice fails with
	// ErrRequestAlreadyAnswered.
	RequestID string `json:"request_id"`

	// Port echoes the request's port. Filled in by the runtime on
	// injection if left empty.
	Port string `json:"port"`

	// Payload carries the supplied input (e.g. an approval decision).
	Payload any `json:"payload"`
}
