package workflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/dshills/superstep-go/checkpoint"
	"github.com/dshills/superstep-go/workflow/emit"
)

// RunStatus describes where a run is in its lifecycle.
type RunStatus int

const (
	// RunPending means the run was created but Start has not been called.
	RunPending RunStatus = iota

	// RunRunning means the super-step loop is executing.
	RunRunning

	// RunSuspended means external requests are outstanding and the loop
	// halted at a step boundary; the run is waiting for SendResponse.
	// Deliveries queued behind the request resume with it.
	RunSuspended

	// RunCompleted means the run reached quiescence with no outstanding
	// requests. Terminal.
	RunCompleted

	// RunFailed means a handler error, checkpoint failure or step-limit
	// violation stopped the run. Terminal.
	RunFailed

	// RunCancelled means the context was cancelled at a super-step
	// boundary. Terminal.
	RunCancelled
)

// String returns a stable lowercase name for the status.
func (s RunStatus) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunSuspended:
		return "suspended"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Run is one execution of a Workflow.
//
// A Run owns the super-step loop, the pending delivery queue, the fan-in
// buffers and the event stream. Create one with NewRun (fresh execution)
// or ResumeRun (continue from a checkpoint), call Start, then drain
// Events until it closes:
//
//	run := workflow.NewRun(wf, workflow.WithCheckpointManager(mgr))
//	if err := run.Start(ctx, "hello"); err != nil {
//	    return err
//	}
//	for ev := range run.Events() {
//	    switch e := ev.(type) {
//	    case workflow.WorkflowOutputEvent:
//	        fmt.Println(e.Output)
//	    }
//	}
//	err := run.Wait(ctx)
//
// The event stream covers one execution segment. It closes when the run
// reaches a terminal status, or when the run suspends on outstanding
// external requests. After answering a request with SendResponse the run
// resumes and Events returns a fresh stream for the next segment:
//
//	for run.Status() == workflow.RunSuspended {
//	    for _, req := range run.PendingRequests() {
//	        run.SendResponse(ctx, workflow.ExternalResponse{RequestID: req.ID, Payload: answer})
//	    }
//	    for ev := range run.Events() {
//	        // next segment
//	    }
//	}
//
// The event channel is bounded; when the consumer stops draining, the
// loop blocks at the next emission rather than dropping events.
//
// Run methods are safe for concurrent use.
type Run struct {
	wf   *Workflow
	id   string
	opts runOptions

	mu       sync.Mutex
	status   RunStatus
	step     int
	err      error
	outputs  []any
	pending  map[string]*ExternalRequest
	answered map[string]bool
	injected []Envelope
	reqSeq   map[string]int
	events   chan Event
	done     chan struct{}

	// loop-confined state
	queue []Envelope
	edges *edgeMap

	// restored marks a run created by ResumeRun; Start then takes no
	// seed input and continues from the rehydrated queue.
	restored bool
}

// NewRun creates a fresh run of wf. The run does not execute anything
// until Start is called.
func NewRun(wf *Workflow, opts ...RunOption) *Run {
	o := defaultRunOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = newRunID()
	}
	return &Run{
		wf:       wf,
		id:       o.runID,
		opts:     o,
		events:   make(chan Event, o.eventBuffer),
		status:   RunPending,
		pending:  make(map[string]*ExternalRequest),
		answered: make(map[string]bool),
		reqSeq:   make(map[string]int),
		done:     make(chan struct{}),
		edges:    newEdgeMap(wf),
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Events returns the event stream of the current execution segment.
// The channel closes at terminal status or suspension; after resuming a
// suspended run, call Events again for the next segment's stream.
func (r *Run) Events() <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

// Status returns the current lifecycle status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Step returns the number of super-steps completed so far.
func (r *Run) Step() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step
}

// Err returns the terminal error of a failed or cancelled run, nil
// otherwise.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Outputs returns the workflow outputs yielded so far, in yield order.
func (r *Run) Outputs() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.outputs))
	copy(out, r.outputs)
	return out
}

// PendingRequests returns the external requests still awaiting
// responses, most useful while the run is suspended.
func (r *Run) PendingRequests() []*ExternalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ExternalRequest, 0, len(r.pending))
	for _, req := range r.pending {
		out = append(out, req)
	}
	return out
}

// Start begins executing the run with the given workflow input.
//
// The input's exact type must match a handler registered by the start
// executor; otherwise Start returns an error without executing anything.
// For resumed runs input must be nil; execution continues from the
// restored queue instead.
//
// Start launches the super-step loop in a goroutine and returns
// immediately. Use Events to observe progress and Wait for the segment
// result.
func (r *Run) Start(ctx context.Context, input any) error {
	r.mu.Lock()
	if r.status != RunPending {
		r.mu.Unlock()
		return ErrRunActive
	}

	if r.restored {
		if input != nil {
			r.mu.Unlock()
			return &WorkflowError{
				Message: "resumed run takes no input; execution continues from the checkpoint",
				Code:    "RESUME_WITH_INPUT",
			}
		}
	} else {
		t := reflect.TypeOf(input)
		routes, ok := r.wf.routesFor(r.wf.StartID())
		if !ok || t == nil || !routes.Handles(t) {
			r.mu.Unlock()
			return &WorkflowError{
				Message: fmt.Sprintf("start executor %s has no handler for input type %s",
					r.wf.StartID(), typeName(t)),
				Code: "INPUT_TYPE_MISMATCH",
			}
		}
		r.queue = []Envelope{{TargetID: r.wf.StartID(), Message: input}}

		// Stateful executors must not leak state between fresh runs.
		for _, id := range r.wf.ExecutorIDs() {
			e, _ := r.wf.Executor(id)
			if res, ok := e.(ResettableExecutor); ok {
				res.Reset()
			}
		}
	}

	r.status = RunRunning
	r.mu.Unlock()

	go r.loop(ctx)
	return nil
}

// Wait blocks until the current execution segment ends (terminal status
// or suspension) or ctx is done. It returns nil for completion and
// suspension, the causing error for failure, and the context error for
// cancellation.
func (r *Run) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendResponse submits the answer to an outstanding external request.
//
// The response is delivered to the requesting executor as an
// ExternalResponse message in the next super-step. If the run is
// suspended this resumes it, opening a fresh Events stream. Unknown
// request ids return ErrUnknownRequest, answering the same request twice
// returns ErrRequestAlreadyAnswered, and responses to a run that already
// reached a terminal status return ErrRunFinished.
func (r *Run) SendResponse(ctx context.Context, resp ExternalResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case RunPending:
		return ErrRunNotStarted
	case RunCompleted, RunFailed, RunCancelled:
		return fmt.Errorf("request %s: %w", resp.RequestID, ErrRunFinished)
	}
	if r.answered[resp.RequestID] {
		return fmt.Errorf("request %s: %w", resp.RequestID, ErrRequestAlreadyAnswered)
	}
	req, ok := r.pending[resp.RequestID]
	if !ok {
		return fmt.Errorf("request %s: %w", resp.RequestID, ErrUnknownRequest)
	}
	if resp.Port != "" && resp.Port != req.Port {
		return &WorkflowError{
			Message: fmt.Sprintf("response for request %s names port %q, request was raised on %q",
				resp.RequestID, resp.Port, req.Port),
			Code: "PORT_MISMATCH",
		}
	}
	routes, ok := r.wf.routesFor(req.ExecutorID)
	if !ok || !routes.Handles(reflect.TypeOf(ExternalResponse{})) {
		return &WorkflowError{
			Message: "executor " + req.ExecutorID + " registers no ExternalResponse handler",
			Code:    "NO_RESPONSE_HANDLER",
		}
	}

	resp.Port = req.Port
	delete(r.pending, resp.RequestID)
	r.answered[resp.RequestID] = true
	r.injected = append(r.injected, Envelope{TargetID: req.ExecutorID, Message: resp})

	// A suspended run resumes on a fresh execution segment.
	if r.status == RunSuspended {
		r.status = RunRunning
		r.events = make(chan Event, r.opts.eventBuffer)
		r.done = make(chan struct{})
		go r.loop(ctx)
	}
	return nil
}

// loop is the super-step scheduler for one execution segment. It exits
// at terminal status or suspension.
func (r *Run) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			r.finish(RunCancelled, ctx.Err())
			return
		}

		// Boundary bookkeeping is atomic with the suspension decision so
		// a concurrent SendResponse can never be lost.
		r.mu.Lock()
		injected := len(r.injected) > 0
		if injected {
			r.queue = append(r.queue, r.injected...)
			r.injected = nil
		}
		// An outstanding request halts automatic progress at the step
		// boundary; only an injected response lets the loop continue.
		// Remaining deliveries stay queued and are part of the boundary
		// checkpoint, so they execute after the response arrives.
		if len(r.pending) > 0 && !injected {
			r.status = RunSuspended
			step := r.step
			events := r.events
			close(events)
			close(r.done)
			r.mu.Unlock()
			r.opts.emitter.Emit(emit.Event{RunID: r.id, Step: step, Msg: "run_suspended"})
			return
		}
		if len(r.queue) == 0 {
			r.mu.Unlock()
			r.complete(ctx)
			return
		}
		if r.step >= r.opts.maxSuperSteps {
			step := r.step
			r.mu.Unlock()
			r.emitEvent(ctx, WorkflowErrorEvent{Err: ErrMaxSuperStepsExceeded, Step: step})
			r.finish(RunFailed, ErrMaxSuperStepsExceeded)
			return
		}
		r.step++
		step := r.step
		r.mu.Unlock()

		if err := r.superStep(ctx, step); err != nil {
			r.finish(RunFailed, err)
			return
		}
	}
}

// invocation is one delivery bound for execution, tracked by queue
// position so effects merge back in enqueue order.
type invocation struct {
	env Envelope
	sc  *stepContext
	err error
}

// superStep executes one super-step: concurrent invocation of every
// executor with pending deliveries, then a deterministic merge of the
// buffered effects in enqueue order, then routing, checkpointing and the
// step-boundary event.
func (r *Run) superStep(ctx context.Context, step int) error {
	started := time.Now()
	queue := r.queue
	r.queue = nil

	invocations := make([]*invocation, len(queue))
	byTarget := make(map[string][]*invocation)
	var targets []string
	for i, env := range queue {
		inv := &invocation{env: env}
		invocations[i] = inv
		if _, seen := byTarget[env.TargetID]; !seen {
			targets = append(targets, env.TargetID)
		}
		byTarget[env.TargetID] = append(byTarget[env.TargetID], inv)
	}

	// Distinct targets run concurrently; deliveries to one target run in
	// order on a single goroutine, so an executor never sees two of its
	// handlers racing.
	r.opts.metrics.UpdateInflightExecutors(len(targets))
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target string, invs []*invocation) {
			defer wg.Done()
			for _, inv := range invs {
				inv.sc = &stepContext{
					runID:        r.id,
					executorID:   target,
					newRequestID: r.nextRequestID,
				}
				inv.err = r.invoke(ctx, target, inv)
				if inv.err != nil {
					return
				}
			}
		}(target, byTarget[target])
	}
	wg.Wait()
	r.opts.metrics.UpdateInflightExecutors(0)

	// Merge effects in enqueue order. The concurrency above never
	// reorders anything observable.
	hadEffect := false
	var firstErr error
	var failedExecutor string
	for _, inv := range invocations {
		if inv.sc == nil {
			// Skipped: an earlier delivery to the same target failed.
			continue
		}

		r.emitEvent(ctx, ExecutorInvokedEvent{ExecutorID: inv.env.TargetID, Message: inv.env.Message, Step: step})

		if inv.err != nil {
			if firstErr == nil {
				firstErr = inv.err
				failedExecutor = inv.env.TargetID
			}
			continue
		}

		r.emitEvent(ctx, ExecutorCompletedEvent{ExecutorID: inv.env.TargetID, Step: step})
		if inv.sc.hadEffect() {
			hadEffect = true
		}

		for _, out := range inv.sc.outputs {
			r.mu.Lock()
			r.outputs = append(r.outputs, out)
			r.mu.Unlock()
			r.emitEvent(ctx, WorkflowOutputEvent{SourceID: inv.env.TargetID, Output: out, Step: step})
		}

		for _, ev := range inv.sc.events {
			r.emitEvent(ctx, ev)
		}

		for _, req := range inv.sc.requests {
			req.Step = step
			r.mu.Lock()
			r.pending[req.ID] = req
			r.mu.Unlock()
			r.opts.metrics.IncrementExternalRequests(r.id, req.Port)
			r.opts.emitter.Emit(emit.Event{
				RunID: r.id, Step: step, ExecutorID: req.ExecutorID,
				Msg:  "request_raised",
				Meta: map[string]interface{}{"request_id": req.ID, "port": req.Port},
			})
			r.emitEvent(ctx, RequestInfoEvent{Request: req, Step: step})
		}

		for _, sent := range inv.sc.sent {
			deliveries, records := r.edges.route(inv.env.TargetID, sent.message, sent.target)
			r.queue = append(r.queue, deliveries...)
			r.recordRouting(step, records)
		}
	}

	if firstErr != nil {
		r.opts.emitter.Emit(emit.Event{
			RunID: r.id, Step: step, ExecutorID: failedExecutor,
			Msg:  "workflow_error",
			Meta: map[string]interface{}{"error": firstErr.Error()},
		})
		r.emitEvent(ctx, WorkflowErrorEvent{ExecutorID: failedExecutor, Err: firstErr, Step: step})
		return firstErr
	}

	if !hadEffect {
		r.emitEvent(ctx, WorkflowWarningEvent{
			Message: "super-step had no effect: no messages, outputs, events or requests produced",
			Step:    step,
		})
	}

	r.opts.metrics.UpdatePendingDeliveries(len(r.queue))
	r.opts.metrics.RecordSuperStepLatency(r.id, step, time.Since(started))

	var info *checkpoint.Info
	if r.opts.ckpt != nil {
		snap, err := r.captureSnapshot(ctx, step)
		if err != nil {
			return fmt.Errorf("capture checkpoint at step %d: %w", step, err)
		}
		saved, err := r.opts.ckpt.Save(ctx, snap)
		if err != nil {
			return fmt.Errorf("save checkpoint at step %d: %w", step, err)
		}
		info = &saved
		r.opts.metrics.IncrementCheckpointCommits(r.id)
		r.opts.emitter.Emit(emit.Event{
			RunID: r.id, Step: step,
			Msg:  "checkpoint_committed",
			Meta: map[string]interface{}{"checkpoint_id": saved.ID},
		})
	}

	r.opts.emitter.Emit(emit.Event{
		RunID: r.id, Step: step,
		Msg:  "superstep_completed",
		Meta: map[string]interface{}{"duration_ms": time.Since(started).Milliseconds()},
	})
	r.emitEvent(ctx, SuperStepCompletedEvent{Step: step, Checkpoint: info})
	return nil
}

// invoke dispatches one delivery to its handler, converting panics into
// errors so a bad handler cannot take down the scheduler.
func (r *Run) invoke(ctx context.Context, target string, inv *invocation) (err error) {
	routes, ok := r.wf.routesFor(target)
	if !ok {
		return &WorkflowError{Message: "no routes for executor " + target, Code: "UNKNOWN_EXECUTOR"}
	}
	handler, ok := routes.handlerFor(inv.env.MessageType())
	if !ok {
		return &WorkflowError{
			Message: fmt.Sprintf("executor %s has no handler for %s", target, typeName(inv.env.MessageType())),
			Code:    "NO_HANDLER",
		}
	}

	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = &WorkflowError{
				Message: fmt.Sprintf("executor %s panicked: %v", target, rec),
				Code:    "HANDLER_PANIC",
			}
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		r.opts.metrics.RecordExecutorLatency(r.id, target, time.Since(started), status)
		r.opts.emitter.Emit(emit.Event{
			RunID: r.id, ExecutorID: target,
			Msg:  "executor_invoked",
			Meta: map[string]interface{}{"duration_ms": time.Since(started).Milliseconds(), "status": status},
		})
	}()

	return handler(ctx, inv.sc, inv.env.Message)
}

func (r *Run) recordRouting(step int, records []RoutingRecord) {
	for _, rec := range records {
		switch rec.Status {
		case StatusDelivered, StatusBuffered:
			continue
		}
		r.opts.metrics.IncrementDroppedMessages(r.id, rec.Status)
		r.opts.emitter.Emit(emit.Event{
			RunID: r.id, Step: step, ExecutorID: rec.SourceID,
			Msg: "message_dropped",
			Meta: map[string]interface{}{
				"status": string(rec.Status),
				"target": rec.TargetID,
				"detail": rec.Detail,
			},
		})
	}
}

func (r *Run) complete(ctx context.Context) {
	r.emitEvent(ctx, WorkflowCompletedEvent{Outputs: r.Outputs(), Step: r.Step()})
	r.opts.emitter.Emit(emit.Event{RunID: r.id, Step: r.Step(), Msg: "workflow_completed"})
	r.finish(RunCompleted, nil)
}

func (r *Run) finish(status RunStatus, err error) {
	r.mu.Lock()
	r.status = status
	r.err = err
	close(r.events)
	close(r.done)
	r.mu.Unlock()
}

// nextRequestID mints deterministic request ids of the form
// "executor:port:seq". Sequence numbers are per (executor, port) so a
// replayed run reissues identical ids.
func (r *Run) nextRequestID(executorID, port string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := executorID + ":" + port
	r.reqSeq[key]++
	return fmt.Sprintf("%s:%s:%d", executorID, port, r.reqSeq[key])
}

func (r *Run) emitEvent(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

// RunSync executes a workflow to a terminal state and returns its
// outputs. Events are drained internally; runs that suspend on external
// requests fail with an error naming the first pending request, since
// nothing can answer it.
//
// Convenience for linear workflows and tests:
//
//	outputs, err := workflow.RunSync(ctx, wf, "Hello, World!")
func RunSync(ctx context.Context, wf *Workflow, input any, opts ...RunOption) ([]any, error) {
	run := NewRun(wf, opts...)
	if err := run.Start(ctx, input); err != nil {
		return nil, err
	}
	for range run.Events() {
	}
	if err := run.Wait(ctx); err != nil {
		return nil, err
	}
	if run.Status() == RunSuspended {
		reqs := run.PendingRequests()
		return nil, &WorkflowError{
			Message: fmt.Sprintf("run suspended on external request %s with no responder", reqs[0].ID),
			Code:    "SYNC_SUSPENDED",
		}
	}
	return run.Outputs(), nil
}

// ResumeRun creates a run that continues a checkpointed execution.
//
// The snapshot referenced by info is loaded from mgr and rehydrated
// against wf: pending deliveries, half-complete fan-in buffers,
// outstanding requests, yielded outputs and executor custom state all
// come back exactly as captured. Executors implementing
// CheckpointingExecutor receive OnCheckpointRestored.
//
// The returned run carries a NEW run id (or the WithRunID option's
// value): checkpoint history is append-only per run, so rewinding to an
// earlier step forks a fresh timeline instead of overwriting the steps
// recorded after it. Call Start(ctx, nil) to begin executing.
//
// Rehydration fails if the workflow shape has drifted from the capture:
// a checkpointed message type no executor registers, or custom state
// whose executor id or declared type no longer matches.
func ResumeRun(ctx context.Context, wf *Workflow, mgr checkpoint.Manager, info checkpoint.Info, opts ...RunOption) (*Run, error) {
	snap, err := mgr.Load(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", info.ID, err)
	}

	run := NewRun(wf, append(opts, WithCheckpointManager(mgr))...)
	if run.id == snap.RunID {
		return nil, &WorkflowError{
			Message: "resumed run must use a new run id, got the checkpointed run's own id " + snap.RunID,
			Code:    "RUN_ID_REUSED",
		}
	}

	if err := run.restoreSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	run.restored = true
	return run, nil
}

func newRunID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// a time-based id rather than panicking.
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return "run-" + hex.EncodeToString(b[:])
}
