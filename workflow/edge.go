package workflow

import (
	"fmt"
	"strings"
)

// EdgeKind identifies the routing behavior of an edge.
type EdgeKind int

const (
	// KindDirect is a single source to single target edge with an
	// optional guard condition.
	KindDirect EdgeKind = iota

	// KindFanOut delivers one message from a single source to every
	// listed target, optionally partitioned per message.
	KindFanOut

	// KindFanIn aggregates exactly one message from each named source
	// before delivering the combined set to a single target.
	KindFanIn

	// KindSwitch routes a message from one source to the first of several
	// targets whose case condition matches.
	KindSwitch
)

// String returns the lowercase kind name used in edge ids and metrics.
func (k EdgeKind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindFanOut:
		return "fanout"
	case KindFanIn:
		return "fanin"
	case KindSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

// Condition is a guard predicate evaluated against a message.
//
// Conditions should be pure functions of the message: deterministic and
// side-effect free, since they are re-evaluated on replay.
type Condition func(message any) bool

// Partitioner selects which targets of a fan-out edge receive a message.
//
// It is given the message and the number of targets and returns the
// indices to deliver to. A nil Partitioner delivers to every target.
// Out-of-range indices are ignored.
type Partitioner func(message any, targetCount int) []int

// SwitchCase is one arm of a switch edge. A nil When marks the default
// arm, taken when no earlier case matched. Cases are evaluated in
// declaration order; the first match wins.
type SwitchCase struct {
	// Target is the executor to deliver to when this case matches.
	Target string

	// When guards the case. Nil means default (always matches).
	When Condition
}

// Edge is a typed routing rule connecting source executors to target
// executors. Edges are created through the Builder (Connect, FanOut,
// FanIn, Switch) and are immutable once the workflow is built.
//
// Every edge carries a stable ID derived from its kind, endpoints and
// position in the edge list. Checkpoints address fan-in buffers by this
// id, so the id is stable across process restarts as long as the graph
// shape is unchanged.
type Edge struct {
	// ID is the stable identifier used for checkpoint addressing and
	// observability.
	ID string

	// Kind selects the routing behavior.
	Kind EdgeKind

	// Sources are the source executor ids. Exactly one for every kind
	// except KindFanIn.
	Sources []string

	// Targets are the target executor ids. Exactly one for KindDirect and
	// KindFanIn.
	Targets []string

	// When optionally guards a direct edge. Ignored for other kinds.
	When Condition

	// Cases are the arms of a switch edge. Ignored for other kinds.
	Cases []SwitchCase

	// Partition optionally partitions a fan-out edge. Ignored for other
	// kinds.
	Partition Partitioner
}

// edgeID derives the stable id for an edge from its shape and its index
// in the workflow's edge list. Two otherwise identical edges (same kind
// and endpoints) get distinct ids through the index.
func edgeID(kind EdgeKind, sources, targets []string, index int) string {
	return fmt.Sprintf("%s:%s->%s#%d",
		kind,
		strings.Join(sources, "+"),
		strings.Join(targets, "+"),
		index,
	)
}
