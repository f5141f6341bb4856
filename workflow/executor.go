package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Executor is a named unit of computation in the workflow graph.
//
// An executor declares which message types it accepts by registering one
// handler per exact type in ConfigureRoutes. At run time the scheduler
// delivers type-matching messages to those handlers; everything else an
// executor does (emitting messages, yielding outputs, raising events,
// requesting external input) goes through the WorkflowContext it is
// handed. Executors must not call each other directly.
//
// Executor identity is the (declared Go type, ID) pair: a restored
// checkpoint rebinds custom state only to an executor whose type name and
// id both match what was captured.
//
// Example:
//
//	type Uppercase struct{}
//
//	func (Uppercase) ID() string { return "uppercase" }
//
//	func (Uppercase) ConfigureRoutes(rb *workflow.RouteBuilder) *workflow.RouteBuilder {
//	    return workflow.AddHandler(rb, func(ctx context.Context, wc workflow.WorkflowContext, s string) error {
//	        return wc.SendMessage(ctx, strings.ToUpper(s))
//	    })
//	}
type Executor interface {
	// ID returns the stable identifier of this executor, unique within a
	// workflow graph.
	ID() string

	// ConfigureRoutes registers one handler per accepted message type on
	// the builder and returns it. Called once per executor when the
	// workflow is built.
	ConfigureRoutes(rb *RouteBuilder) *RouteBuilder
}

// CheckpointingExecutor is implemented by executors that carry custom
// state across super-steps and want it captured in checkpoints.
//
// The state is an opaque named blob store: the runtime persists the map
// verbatim and never inspects the values. OnCheckpointing is called before
// every checkpoint write; OnCheckpointRestored is called after every
// checkpoint load, including rewinds to earlier steps.
type CheckpointingExecutor interface {
	Executor

	// OnCheckpointing serializes the executor's custom state. Keys are
	// executor-defined state names.
	OnCheckpointing(ctx context.Context) (map[string]json.RawMessage, error)

	// OnCheckpointRestored rehydrates custom state from a checkpoint.
	// The map holds exactly what a prior OnCheckpointing returned.
	OnCheckpointRestored(ctx context.Context, state map[string]json.RawMessage) error
}

// ResettableExecutor is implemented by stateful executors that can be
// reused across runs. Reset is called when a fresh run starts (not on
// checkpoint resume) so no state leaks between runs.
type ResettableExecutor interface {
	Executor

	// Reset clears all internal state accumulated by previous runs.
	Reset()
}

// MessageHandler is the untyped form a registered handler is stored in.
// Use AddHandler to register a typed handler; the runtime guarantees the
// message passed here has the exact registered type.
type MessageHandler func(ctx context.Context, wc WorkflowContext, msg any) error

// RouteBuilder accumulates the typed handler table for one executor.
//
// One handler per exact message type. Registering two handlers for the
// same type is rejected deterministically: the second registration is
// recorded as an error and surfaced by Builder.Build alongside any other
// validation problems (it does not overwrite the first).
type RouteBuilder struct {
	handlers map[reflect.Type]MessageHandler
	order    []reflect.Type
	errs     []error
}

// NewRouteBuilder creates an empty RouteBuilder.
//
// Application code normally never calls this; the workflow Builder creates
// one per executor and passes it to ConfigureRoutes.
func NewRouteBuilder() *RouteBuilder {
	return &RouteBuilder{
		handlers: make(map[reflect.Type]MessageHandler),
	}
}

// AddHandler registers a handler for messages of exact type T.
//
// Dispatch is by exact runtime type: a handler for string never sees a
// []string and vice versa. The handler receives the WorkflowContext
// through which all side effects flow.
//
// Example:
//
//	func (e *Judge) ConfigureRoutes(rb *workflow.RouteBuilder) *workflow.RouteBuilder {
//	    rb = workflow.AddHandler(rb, e.handleGuess)
//	    return workflow.AddHandler(rb, e.handleHint)
//	}
func AddHandler[T any](rb *RouteBuilder, handler func(ctx context.Context, wc WorkflowContext, msg T) error) *RouteBuilder {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if _, exists := rb.handlers[t]; exists {
		rb.errs = append(rb.errs, &WorkflowError{
			Message: "duplicate handler registration for type " + t.String(),
			Code:    "DUPLICATE_HANDLER",
		})
		return rb
	}

	rb.handlers[t] = func(ctx context.Context, wc WorkflowContext, msg any) error {
		typed, ok := msg.(T)
		if !ok {
			return &WorkflowError{
				Message: fmt.Sprintf("handler for %s received %T", t, msg),
				Code:    "HANDLER_TYPE_MISMATCH",
			}
		}
		return handler(ctx, wc, typed)
	}
	rb.order = append(rb.order, t)
	return rb
}

// HandlerTypes returns the registered message types in registration order.
func (rb *RouteBuilder) HandlerTypes() []reflect.Type {
	out := make([]reflect.Type, len(rb.order))
	copy(out, rb.order)
	return out
}

// Handles reports whether a handler is registered for exactly t.
func (rb *RouteBuilder) Handles(t reflect.Type) bool {
	_, ok := rb.handlers[t]
	return ok
}

// handlerFor returns the handler registered for exactly t.
func (rb *RouteBuilder) handlerFor(t reflect.Type) (MessageHandler, bool) {
	h, ok := rb.handlers[t]
	return h, ok
}

// typeNameFor returns the registered type whose stable name matches name.
// Used when rehydrating checkpointed messages back into typed payloads.
func (rb *RouteBuilder) typeByName(name string) (reflect.Type, bool) {
	for _, t := range rb.order {
		if t.String() == name {
			return t, true
		}
	}
	return nil, false
}

// FuncExecutor adapts a pair of plain values (id + route configuration)
// into an Executor without defining a named type. Useful for tests and
// small stateless stages.
//
// Example:
//
//	reverse := workflow.NewFuncExecutor("reverse", func(rb *workflow.RouteBuilder) *workflow.RouteBuilder {
//	    return workflow.AddHandler(rb, func(ctx context.Context, wc workflow.WorkflowContext, s string) error {
//	        return wc.YieldOutput(ctx, reverseString(s))
//	    })
//	})
type FuncExecutor struct {
	id        string
	configure func(*RouteBuilder) *RouteBuilder
}

// NewFuncExecutor creates a FuncExecutor with the given id and route
// configuration function.
func NewFuncExecutor(id string, configure func(*RouteBuilder) *RouteBuilder) *FuncExecutor {
	return &FuncExecutor{id: id, configure: configure}
}

// ID implements Executor.
func (f *FuncExecutor) ID() string { return f.id }

// ConfigureRoutes implements Executor.
func (f *FuncExecutor) ConfigureRoutes(rb *RouteBuilder) *RouteBuilder {
	if f.configure == nil {
		return rb
	}
	return f.configure(rb)
}

// executorTypeName returns the stable declared-type identity used to match
// checkpointed state back to executors.
func executorTypeName(e Executor) string {
	return reflect.TypeOf(e).String()
}
