package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/superstep-go/checkpoint"
)

// captureSnapshot serializes the run's full mutable state at a
// super-step boundary. Everything is JSON: typed message payloads are
// stored with the stable name of their Go type so they can be rehydrated
// against the target executor's registered handlers.
func (r *Run) captureSnapshot(ctx context.Context, step int) (checkpoint.Snapshot, error) {
	snap := checkpoint.Snapshot{
		RunID: r.id,
		Step:  step,
	}

	for _, env := range r.queue {
		msg, err := encodeEnvelope("", env)
		if err != nil {
			return checkpoint.Snapshot{}, err
		}
		snap.Messages = append(snap.Messages, msg)
	}

	buffers := r.edges.snapshotBuffers()
	if len(buffers) > 0 {
		snap.Buffers = make(map[string]map[string]checkpoint.Message, len(buffers))
		for edgeID, buf := range buffers {
			encoded := make(map[string]checkpoint.Message, len(buf))
			for src, env := range buf {
				msg, err := encodeEnvelope(edgeID, env)
				if err != nil {
					return checkpoint.Snapshot{}, err
				}
				encoded[src] = msg
			}
			snap.Buffers[edgeID] = encoded
		}
	}

	for _, id := range r.wf.ExecutorIDs() {
		e, _ := r.wf.Executor(id)
		ce, ok := e.(CheckpointingExecutor)
		if !ok {
			continue
		}
		values, err := ce.OnCheckpointing(ctx)
		if err != nil {
			return checkpoint.Snapshot{}, fmt.Errorf("executor %s checkpoint state: %w", id, err)
		}
		if snap.Executors == nil {
			snap.Executors = make(map[string]checkpoint.ExecutorState)
		}
		snap.Executors[id] = checkpoint.ExecutorState{
			TypeName: executorTypeName(ce),
			Values:   values,
		}
	}

	r.mu.Lock()
	requests := make([]*ExternalRequest, 0, len(r.pending))
	for _, req := range r.pending {
		requests = append(requests, req)
	}
	outputs := make([]any, len(r.outputs))
	copy(outputs, r.outputs)
	r.mu.Unlock()

	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	for _, req := range requests {
		payload, err := json.Marshal(req.Payload)
		if err != nil {
			return checkpoint.Snapshot{}, fmt.Errorf("marshal request %s payload: %w", req.ID, err)
		}
		snap.Requests = append(snap.Requests, checkpoint.Request{
			ID:         req.ID,
			Port:       req.Port,
			ExecutorID: req.ExecutorID,
			Payload:    payload,
			Step:       req.Step,
		})
	}

	for _, out := range outputs {
		raw, err := json.Marshal(out)
		if err != nil {
			return checkpoint.Snapshot{}, fmt.Errorf("marshal output: %w", err)
		}
		snap.Outputs = append(snap.Outputs, raw)
	}

	return snap, nil
}

// restoreSnapshot rehydrates a run from a checkpointed snapshot. The
// workflow must still be shape-compatible with the capture: every stored
// message type must match a handler registered by its target, and
// executor custom state rebinds only when both the executor id and its
// declared type name match.
func (r *Run) restoreSnapshot(ctx context.Context, snap checkpoint.Snapshot) error {
	r.step = snap.Step

	for _, msg := range snap.Messages {
		env, err := r.decodeMessage(msg)
		if err != nil {
			return err
		}
		r.queue = append(r.queue, env)
	}

	if len(snap.Buffers) > 0 {
		buffers := make(map[string]map[string]Envelope, len(snap.Buffers))
		for edgeID, buf := range snap.Buffers {
			decoded := make(map[string]Envelope, len(buf))
			for src, msg := range buf {
				env, err := r.decodeMessage(msg)
				if err != nil {
					return err
				}
				decoded[src] = env
			}
			buffers[edgeID] = decoded
		}
		r.edges.restoreBuffers(buffers)
	}

	for id, state := range snap.Executors {
		e, ok := r.wf.Executor(id)
		if !ok {
			return &WorkflowError{
				Message: "checkpoint carries state for unknown executor " + id,
				Code:    "RESTORE_UNKNOWN_EXECUTOR",
			}
		}
		if got := executorTypeName(e); got != state.TypeName {
			return &WorkflowError{
				Message: fmt.Sprintf("executor %s is %s, checkpoint state was captured from %s",
					id, got, state.TypeName),
				Code: "RESTORE_TYPE_MISMATCH",
			}
		}
		ce, ok := e.(CheckpointingExecutor)
		if !ok {
			return &WorkflowError{
				Message: "executor " + id + " no longer supports checkpoint state",
				Code:    "RESTORE_NOT_CHECKPOINTING",
			}
		}
		if err := ce.OnCheckpointRestored(ctx, state.Values); err != nil {
			return fmt.Errorf("restore executor %s state: %w", id, err)
		}
	}

	for _, req := range snap.Requests {
		var payload any
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &payload); err != nil {
				return fmt.Errorf("unmarshal request %s payload: %w", req.ID, err)
			}
		}
		r.pending[req.ID] = &ExternalRequest{
			ID:         req.ID,
			Port:       req.Port,
			ExecutorID: req.ExecutorID,
			Payload:    payload,
			Step:       req.Step,
		}
		r.bumpRequestSeq(req.ID)
	}

	for _, raw := range snap.Outputs {
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("unmarshal checkpointed output: %w", err)
		}
		r.outputs = append(r.outputs, out)
	}

	return nil
}

func encodeEnvelope(edgeID string, env Envelope) (checkpoint.Message, error) {
	payload, err := json.Marshal(env.Message)
	if err != nil {
		return checkpoint.Message{}, fmt.Errorf("marshal message for %s: %w", env.TargetID, err)
	}
	return checkpoint.Message{
		EdgeID:   edgeID,
		SourceID: env.SourceID,
		TargetID: env.TargetID,
		Type:     typeName(env.MessageType()),
		Payload:  payload,
	}, nil
}

// decodeMessage rehydrates a stored message into its typed payload by
// matching the stored type name against the target executor's registered
// handler types.
func (r *Run) decodeMessage(msg checkpoint.Message) (Envelope, error) {
	routes, ok := r.wf.routesFor(msg.TargetID)
	if !ok {
		return Envelope{}, &WorkflowError{
			Message: "checkpointed message targets unknown executor " + msg.TargetID,
			Code:    "RESTORE_UNKNOWN_TARGET",
		}
	}
	t, ok := routes.typeByName(msg.Type)
	if !ok {
		return Envelope{}, &WorkflowError{
			Message: fmt.Sprintf("executor %s registers no handler for checkpointed type %s",
				msg.TargetID, msg.Type),
			Code: "RESTORE_TYPE_UNKNOWN",
		}
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(msg.Payload, ptr.Interface()); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal %s payload for %s: %w", msg.Type, msg.TargetID, err)
	}

	return Envelope{
		SourceID: msg.SourceID,
		TargetID: msg.TargetID,
		Message:  ptr.Elem().Interface(),
	}, nil
}

// bumpRequestSeq advances the request-id sequence past a restored
// request's id so resumed execution never reissues a pending id.
func (r *Run) bumpRequestSeq(id string) {
	i := strings.LastIndex(id, ":")
	if i < 0 {
		return
	}
	seq, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return
	}
	key := id[:i]
	if seq > r.reqSeq[key] {
		r.reqSeq[key] = seq
	}
}
