package workflow

import "reflect"

// Envelope wraps a message in flight between two executors.
//
// Envelopes are the unit the routing layer and the scheduler operate on.
// The payload itself is opaque to the runtime; routing decisions only look
// at its runtime type and the declared handler types of the target.
type Envelope struct {
	// SourceID is the executor that emitted the message.
	// Empty string for the initial workflow input and injected responses.
	SourceID string

	// TargetID is the executor this envelope is destined for.
	TargetID string

	// Message is the opaque payload. Its runtime type drives routing.
	Message any
}

// MessageType returns the exact runtime type of the payload.
//
// Routing requires an exact match between this type and a handler type
// declared by the target executor. There is no supertype or interface
// matching; a handler for string never receives a fmt.Stringer.
func (e Envelope) MessageType() reflect.Type {
	return reflect.TypeOf(e.Message)
}

// DeliveryStatus records the outcome of one routing decision.
//
// Every attempt to route an emitted message against an edge produces a
// status. Drops are not errors: execution continues and the drop is
// visible through the emitter and metrics instead.
type DeliveryStatus string

const (
	// StatusDelivered means the message was enqueued for the target.
	StatusDelivered DeliveryStatus = "delivered"

	// StatusBuffered means a fan-in edge stored the message while waiting
	// for the remaining sources of the aggregation round.
	StatusBuffered DeliveryStatus = "buffered"

	// StatusDroppedTypeMismatch means the target declares no handler for
	// the message's exact runtime type.
	StatusDroppedTypeMismatch DeliveryStatus = "dropped_type_mismatch"

	// StatusDroppedTargetMismatch means an explicit target was named but
	// no edge reaches it from the sending executor.
	StatusDroppedTargetMismatch DeliveryStatus = "dropped_target_mismatch"

	// StatusDroppedConditionFalse means an edge guard predicate rejected
	// the message.
	StatusDroppedConditionFalse DeliveryStatus = "dropped_condition_false"

	// StatusException means evaluating the edge itself failed (for example
	// a panicking condition predicate).
	StatusException DeliveryStatus = "exception"
)

// RoutingRecord describes one routing decision for observability.
//
// Records are forwarded to the configured emitter and counted by the
// Prometheus metrics; they are never surfaced as errors.
type RoutingRecord struct {
	// EdgeID identifies the edge that was evaluated. Empty for decisions
	// that never matched an edge (e.g. an unknown explicit target).
	EdgeID string

	// SourceID is the emitting executor.
	SourceID string

	// TargetID is the candidate target, when known.
	TargetID string

	// Status is the outcome of the decision.
	Status DeliveryStatus

	// Detail carries optional human-readable context (e.g. the mismatched
	// type name).
	Detail string
}
