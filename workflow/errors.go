// Package workflow provides the super-step workflow execution runtime.
package workflow

import "errors"

// ErrMaxSuperStepsExceeded indicates that a run reached the configured
// super-step limit without completing. This prevents infinite loops and
// runaway executions; raise the limit via WithMaxSuperSteps if the
// workflow legitimately needs more rounds.
var ErrMaxSuperStepsExceeded = errors.New("execution exceeded maximum super-step limit")

// ErrUnknownRequest is returned by Run.SendResponse when the response
// names a request id that was never issued by this run.
var ErrUnknownRequest = errors.New("no outstanding external request with that id")

// ErrRequestAlreadyAnswered is returned by Run.SendResponse when the
// named request has already received a response.
var ErrRequestAlreadyAnswered = errors.New("external request already answered")

// ErrRunNotStarted is returned by operations that require Start to have
// been called first (e.g. SendResponse, Wait).
var ErrRunNotStarted = errors.New("run not started")

// ErrRunActive is returned when an operation requires the run loop to be
// stopped (e.g. RestoreCheckpoint while the run is still progressing).
var ErrRunActive = errors.New("run is still active")

// ErrRunFinished is returned by Run.SendResponse when the run has
// already reached a terminal status; a response submitted then could
// never be consumed.
var ErrRunFinished = errors.New("run already finished")

// WorkflowError represents a configuration or runtime error from the
// workflow engine, carrying a machine-readable code alongside the
// human-readable message.
type WorkflowError struct {
	Message string
	Code    string
}

func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
