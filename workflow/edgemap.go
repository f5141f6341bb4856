package workflow

import (
	"fmt"
	"reflect"
)

// edgeMap is the per-run routing table.
//
// Given a just-emitted message from a source executor it computes the
// deliveries for the next super-step, applying exact-type compatibility
// checks, guard conditions, fan-out partitioning and fan-in aggregation.
// Every attempted routing decision yields a RoutingRecord; drops are
// observability, never errors.
//
// The fan-in buffers are the only mutable state. They persist across
// super-steps until an aggregation round completes and are captured into
// checkpoints, so a half-complete fan-in survives suspend and resume
// exactly as it was.
//
// edgeMap is confined to the run loop goroutine and needs no locking.
type edgeMap struct {
	wf *Workflow

	// buffers holds fan-in partials: edge id -> source id -> envelope.
	// At most one buffered message per source per round; a retry from the
	// same source replaces the earlier message (duplicates collapse).
	buffers map[string]map[string]Envelope
}

func newEdgeMap(wf *Workflow) *edgeMap {
	return &edgeMap{
		wf:      wf,
		buffers: make(map[string]map[string]Envelope),
	}
}

// route computes the deliveries produced by one emitted message.
//
// explicitTarget narrows routing to edges that reach the named target
// ("" broadcasts along all matching outgoing edges). The returned
// envelopes are in edge-declaration order, which keeps enqueue order
// (and therefore replay) deterministic.
func (m *edgeMap) route(sourceID string, message any, explicitTarget string) ([]Envelope, []RoutingRecord) {
	var deliveries []Envelope
	var records []RoutingRecord

	matchedTarget := false
	for _, edge := range m.wf.edgesFrom(sourceID) {
		if explicitTarget != "" && !edgeReaches(edge, explicitTarget) {
			continue
		}
		matchedTarget = true

		switch edge.Kind {
		case KindDirect:
			d, r := m.routeDirect(edge, sourceID, message)
			deliveries = append(deliveries, d...)
			records = append(records, r...)
		case KindFanOut:
			d, r := m.routeFanOut(edge, sourceID, message, explicitTarget)
			deliveries = append(deliveries, d...)
			records = append(records, r...)
		case KindSwitch:
			d, r := m.routeSwitch(edge, sourceID, message)
			deliveries = append(deliveries, d...)
			records = append(records, r...)
		case KindFanIn:
			d, r := m.routeFanIn(edge, sourceID, message)
			deliveries = append(deliveries, d...)
			records = append(records, r...)
		}
	}

	if explicitTarget != "" && !matchedTarget {
		records = append(records, RoutingRecord{
			SourceID: sourceID,
			TargetID: explicitTarget,
			Status:   StatusDroppedTargetMismatch,
			Detail:   "no edge reaches target " + explicitTarget,
		})
	}

	return deliveries, records
}

func (m *edgeMap) routeDirect(edge *Edge, sourceID string, message any) ([]Envelope, []RoutingRecord) {
	target := edge.Targets[0]

	if rec, ok := m.checkType(edge, sourceID, target, message); !ok {
		return nil, []RoutingRecord{rec}
	}

	ok, rec := m.evalCondition(edge, sourceID, target, edge.When, message)
	if rec != nil {
		return nil, []RoutingRecord{*rec}
	}
	if !ok {
		return nil, []RoutingRecord{{
			EdgeID:   edge.ID,
			SourceID: sourceID,
			TargetID: target,
			Status:   StatusDroppedConditionFalse,
		}}
	}

	return []Envelope{{SourceID: sourceID, TargetID: target, Message: message}},
		[]RoutingRecord{{EdgeID: edge.ID, SourceID: sourceID, TargetID: target, Status: StatusDelivered}}
}

func (m *edgeMap) routeFanOut(edge *Edge, sourceID string, message any, explicitTarget string) ([]Envelope, []RoutingRecord) {
	indices := make([]int, 0, len(edge.Targets))
	if edge.Partition != nil {
		for _, i := range edge.Partition(message, len(edge.Targets)) {
			if i >= 0 && i < len(edge.Targets) {
				indices = append(indices, i)
			}
		}
	} else {
		for i := range edge.Targets {
			indices = append(indices, i)
		}
	}

	var deliveries []Envelope
	var records []RoutingRecord
	for _, i := range indices {
		target := edge.Targets[i]
		if explicitTarget != "" && target != explicitTarget {
			continue
		}
		if rec, ok := m.checkType(edge, sourceID, target, message); !ok {
			records = append(records, rec)
			continue
		}
		deliveries = append(deliveries, Envelope{SourceID: sourceID, TargetID: target, Message: message})
		records = append(records, RoutingRecord{EdgeID: edge.ID, SourceID: sourceID, TargetID: target, Status: StatusDelivered})
	}
	return deliveries, records
}

func (m *edgeMap) routeSwitch(edge *Edge, sourceID string, message any) ([]Envelope, []RoutingRecord) {
	for _, c := range edge.Cases {
		matched, rec := m.evalCondition(edge, sourceID, c.Target, c.When, message)
		if rec != nil {
			return nil, []RoutingRecord{*rec}
		}
		if !matched {
			continue
		}
		if typeRec, ok := m.checkType(edge, sourceID, c.Target, message); !ok {
			return nil, []RoutingRecord{typeRec}
		}
		return []Envelope{{SourceID: sourceID, TargetID: c.Target, Message: message}},
			[]RoutingRecord{{EdgeID: edge.ID, SourceID: sourceID, TargetID: c.Target, Status: StatusDelivered}}
	}

	return nil, []RoutingRecord{{
		EdgeID:   edge.ID,
		SourceID: sourceID,
		Status:   StatusDroppedConditionFalse,
		Detail:   "no switch case matched",
	}}
}

func (m *edgeMap) routeFanIn(edge *Edge, sourceID string, message any) ([]Envelope, []RoutingRecord) {
	target := edge.Targets[0]

	if rec, ok := m.checkType(edge, sourceID, target, message); !ok {
		return nil, []RoutingRecord{rec}
	}

	buf := m.buffers[edge.ID]
	if buf == nil {
		buf = make(map[string]Envelope)
		m.buffers[edge.ID] = buf
	}
	// Replacing an existing entry collapses duplicate sends from one
	// source within the round.
	buf[sourceID] = Envelope{SourceID: sourceID, TargetID: target, Message: message}

	for _, src := range edge.Sources {
		if _, ok := buf[src]; !ok {
			return nil, []RoutingRecord{{
				EdgeID:   edge.ID,
				SourceID: sourceID,
				TargetID: target,
				Status:   StatusBuffered,
				Detail:   fmt.Sprintf("waiting for %d of %d sources", missing(edge, buf), len(edge.Sources)),
			}}
		}
	}

	// Round complete: combine in declared source order, clear the buffer.
	deliveries := make([]Envelope, 0, len(edge.Sources))
	records := make([]RoutingRecord, 0, len(edge.Sources))
	for _, src := range edge.Sources {
		deliveries = append(deliveries, buf[src])
		records = append(records, RoutingRecord{EdgeID: edge.ID, SourceID: src, TargetID: target, Status: StatusDelivered})
	}
	delete(m.buffers, edge.ID)
	return deliveries, records
}

func missing(edge *Edge, buf map[string]Envelope) int {
	n := 0
	for _, src := range edge.Sources {
		if _, ok := buf[src]; !ok {
			n++
		}
	}
	return n
}

// checkType verifies the target declares a handler for the message's
// exact runtime type.
func (m *edgeMap) checkType(edge *Edge, sourceID, target string, message any) (RoutingRecord, bool) {
	t := reflect.TypeOf(message)
	routes, ok := m.wf.routesFor(target)
	if !ok || !routes.Handles(t) {
		return RoutingRecord{
			EdgeID:   edge.ID,
			SourceID: sourceID,
			TargetID: target,
			Status:   StatusDroppedTypeMismatch,
			Detail:   "no handler for " + typeName(t),
		}, false
	}
	return RoutingRecord{}, true
}

// evalCondition evaluates a guard, converting a panic into an Exception
// record so one bad predicate cannot take down the run loop.
func (m *edgeMap) evalCondition(edge *Edge, sourceID, target string, cond Condition, message any) (matched bool, exception *RoutingRecord) {
	if cond == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			matched = false
			exception = &RoutingRecord{
				EdgeID:   edge.ID,
				SourceID: sourceID,
				TargetID: target,
				Status:   StatusException,
				Detail:   fmt.Sprintf("condition panicked: %v", r),
			}
		}
	}()
	return cond(message), nil
}

func edgeReaches(edge *Edge, target string) bool {
	for _, t := range edge.Targets {
		if t == target {
			return true
		}
	}
	return false
}

// snapshotBuffers copies the fan-in buffers for checkpointing.
func (m *edgeMap) snapshotBuffers() map[string]map[string]Envelope {
	out := make(map[string]map[string]Envelope, len(m.buffers))
	for edgeID, buf := range m.buffers {
		cp := make(map[string]Envelope, len(buf))
		for src, env := range buf {
			cp[src] = env
		}
		out[edgeID] = cp
	}
	return out
}

// restoreBuffers replaces the fan-in buffers from a checkpoint.
func (m *edgeMap) restoreBuffers(buffers map[string]map[string]Envelope) {
	m.buffers = make(map[string]map[string]Envelope, len(buffers))
	for edgeID, buf := range buffers {
		cp := make(map[string]Envelope, len(buf))
		for src, env := range buf {
			cp[src] = env
		}
		m.buffers[edgeID] = cp
	}
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
