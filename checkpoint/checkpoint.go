// Package checkpoint provides persistence for workflow run snapshots.
//
// The Manager interface is the sole persistence boundary of the runtime:
// the scheduler hands it an opaque, fully JSON-serializable Snapshot at
// super-step boundaries and later asks for it back by handle. Any storage
// engine works if it satisfies append-and-retrieve-by-handle semantics;
// MemoryManager, SQLiteManager and MySQLManager are provided.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested run id or checkpoint does not
// exist.
var ErrNotFound = errors.New("checkpoint not found")

// ErrAlreadyExists is returned by Save when a checkpoint for the same
// (run id, step) pair has already been committed. Checkpoints are
// append-only; nothing is ever silently overwritten.
var ErrAlreadyExists = errors.New("checkpoint already exists for run and step")

// Info is the addressable handle of a persisted checkpoint.
//
// A checkpoint is referenced either by (RunID, Step) or by its content
// hash ID. Infos returned by List are ordered by step, giving callers an
// ordered history to pick a rollback target from.
type Info struct {
	// ID is a content-derived hash of the snapshot, stable across
	// identical captures. Format: "sha256:<hex>".
	ID string `json:"id"`

	// RunID identifies the execution this checkpoint belongs to.
	RunID string `json:"run_id"`

	// Step is the super-step number the snapshot was taken after.
	Step int `json:"step"`

	// Label is an optional user-defined name ("after-validation").
	// Empty for automatic per-step checkpoints.
	Label string `json:"label,omitempty"`

	// Timestamp records when the checkpoint was written.
	Timestamp time.Time `json:"timestamp"`
}

// Message is a serialized in-flight message: either a pending delivery
// for the next super-step or a buffered fan-in partial.
//
// Payloads are stored as raw JSON together with the stable name of their
// Go type; the runtime rehydrates them by matching the name against the
// target executor's registered handler types.
type Message struct {
	// EdgeID addresses the fan-in buffer this message sits in. Empty for
	// ordinary pending deliveries.
	EdgeID string `json:"edge_id,omitempty"`

	// SourceID is the emitting executor ("" for workflow input).
	SourceID string `json:"source_id"`

	// TargetID is the destination executor.
	TargetID string `json:"target_id"`

	// Type is the stable name of the payload's Go type (reflect
	// Type.String form, e.g. "string", "[]workflow.ChatMessage").
	Type string `json:"type"`

	// Payload is the JSON-encoded message.
	Payload json.RawMessage `json:"payload"`
}

// ExecutorState is the opaque custom state one executor contributed to
// the snapshot. The runtime never inspects Values.
type ExecutorState struct {
	// TypeName is the declared Go type of the executor that produced the
	// state. Restore rebinds state only when both the executor id and
	// this type name match.
	TypeName string `json:"type_name"`

	// Values is the executor's named blob store.
	Values map[string]json.RawMessage `json:"values,omitempty"`
}

// Request is an outstanding external-input request captured with the
// snapshot, so a resumed run still knows which responses it is waiting
// for.
type Request struct {
	ID         string          `json:"id"`
	Port       string          `json:"port"`
	ExecutorID string          `json:"executor_id"`
	Payload    json.RawMessage `json:"payload"`
	Step       int             `json:"step"`
}

// Snapshot is the full mutable state of a run at a super-step boundary:
// everything needed to resume (or rewind) execution exactly from that
// point.
type Snapshot struct {
	// RunID identifies the captured execution.
	RunID string `json:"run_id"`

	// Step is the super-step the snapshot was taken after.
	Step int `json:"step"`

	// Messages are the deliveries pending for the next super-step, in
	// enqueue order.
	Messages []Message `json:"messages"`

	// Buffers are the partially-filled fan-in buffers, keyed by edge id
	// then source id. A fan-in can be half-complete when the snapshot is
	// taken; resumption brings the buffer back exactly as it was.
	Buffers map[string]map[string]Message `json:"buffers,omitempty"`

	// Executors maps executor id to its captured custom state.
	Executors map[string]ExecutorState `json:"executors,omitempty"`

	// Requests are the external-input requests still awaiting responses.
	Requests []Request `json:"requests,omitempty"`

	// Outputs are the workflow outputs yielded so far, JSON-encoded.
	Outputs []json.RawMessage `json:"outputs,omitempty"`

	// Label is an optional user-defined name carried into the Info.
	Label string `json:"label,omitempty"`
}

// ComputeID derives the content hash used as the checkpoint handle.
//
// The hash covers every field of the snapshot: run id, step, pending
// messages (in order), fan-in buffers (in sorted key order), executor
// state blobs (in sorted id order), outstanding requests, yielded
// outputs and the label, so identical captures produce identical ids
// and a round-tripped snapshot can be verified against its handle.
func (s Snapshot) ComputeID() string {
	h := sha256.New()
	h.Write([]byte(s.RunID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(s.Step))
	h.Write(stepBytes)

	for _, m := range s.Messages {
		h.Write([]byte(m.SourceID))
		h.Write([]byte(m.TargetID))
		h.Write([]byte(m.Type))
		h.Write(m.Payload)
	}

	edgeIDs := make([]string, 0, len(s.Buffers))
	for id := range s.Buffers {
		edgeIDs = append(edgeIDs, id)
	}
	sort.Strings(edgeIDs)
	for _, edgeID := range edgeIDs {
		h.Write([]byte(edgeID))
		sources := make([]string, 0, len(s.Buffers[edgeID]))
		for src := range s.Buffers[edgeID] {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			m := s.Buffers[edgeID][src]
			h.Write([]byte(src))
			h.Write([]byte(m.Type))
			h.Write(m.Payload)
		}
	}

	execIDs := make([]string, 0, len(s.Executors))
	for id := range s.Executors {
		execIDs = append(execIDs, id)
	}
	sort.Strings(execIDs)
	for _, id := range execIDs {
		st := s.Executors[id]
		h.Write([]byte(id))
		h.Write([]byte(st.TypeName))
		keys := make([]string, 0, len(st.Values))
		for k := range st.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write(st.Values[k])
		}
	}

	for _, req := range s.Requests {
		h.Write([]byte(req.ID))
		h.Write([]byte(req.Port))
		h.Write([]byte(req.ExecutorID))
		h.Write(req.Payload)
	}

	for _, out := range s.Outputs {
		h.Write(out)
	}
	h.Write([]byte(s.Label))

	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Manager persists and retrieves run snapshots.
//
// Save is append-only from the caller's perspective: committing a second
// snapshot for the same (run id, step) returns ErrAlreadyExists instead
// of overwriting. Implementations must support concurrent use keyed by
// distinct run ids without cross-run interference; pruning superseded
// checkpoints is a storage-layer policy the runtime does not mandate.
type Manager interface {
	// Save persists a snapshot and returns its handle.
	Save(ctx context.Context, snap Snapshot) (Info, error)

	// Load returns the exact previously-captured snapshot for the handle.
	// Returns ErrNotFound for unknown handles.
	Load(ctx context.Context, info Info) (Snapshot, error)

	// List returns the ordered (by step, ascending) checkpoint history of
	// a run. An unknown run id yields an empty list, not an error.
	List(ctx context.Context, runID string) ([]Info, error)

	// Latest returns the handle of the highest-step checkpoint of a run.
	// Returns ErrNotFound when the run has no checkpoints.
	Latest(ctx context.Context, runID string) (Info, error)
}

// clone deep-copies a snapshot through a JSON round-trip so stored state
// can never be mutated through retained references.
func clone(snap Snapshot) (Snapshot, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, err
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return Snapshot{}, err
	}
	return out, nil
}
