package workflow

import (
	"github.com/dshills/superstep-go/checkpoint"
	"github.com/dshills/superstep-go/workflow/emit"
)

// RunOption configures a Run.
type RunOption func(*runOptions)

type runOptions struct {
	runID         string
	maxSuperSteps int
	eventBuffer   int
	ckpt          checkpoint.Manager
	emitter       emit.Emitter
	metrics       Metrics
}

const (
	defaultMaxSuperSteps = 100
	defaultEventBuffer   = 64
)

func defaultRunOptions() runOptions {
	return runOptions{
		maxSuperSteps: defaultMaxSuperSteps,
		eventBuffer:   defaultEventBuffer,
		emitter:       emit.NewNullEmitter(),
		metrics:       NewNoOpMetrics(),
	}
}

// WithRunID sets an explicit run identifier. When unset a random id is
// generated. Resumed runs always receive a fresh id regardless of this
// option so checkpoint history stays append-only per run.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithMaxSuperSteps bounds how many super-steps a run may execute before
// failing with ErrMaxSuperStepsExceeded. Values below 1 are ignored.
func WithMaxSuperSteps(n int) RunOption {
	return func(o *runOptions) {
		if n > 0 {
			o.maxSuperSteps = n
		}
	}
}

// WithEventBuffer sets the capacity of the run's event channel. When the
// buffer is full the run blocks at the next emission until the consumer
// drains events, providing natural backpressure. Values below 1 are
// ignored.
func WithEventBuffer(n int) RunOption {
	return func(o *runOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithCheckpointManager enables checkpointing. A snapshot is committed at
// every super-step boundary; without a manager the run executes without
// durability.
func WithCheckpointManager(m checkpoint.Manager) RunOption {
	return func(o *runOptions) { o.ckpt = m }
}

// WithEmitter routes run telemetry through the given emitter.
func WithEmitter(e emit.Emitter) RunOption {
	return func(o *runOptions) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithMetrics records run metrics through the given collector.
func WithMetrics(m Metrics) RunOption {
	return func(o *runOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}
