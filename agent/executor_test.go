package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/superstep-go/checkpoint"
	"github.com/dshills/superstep-go/workflow"
)

// buildAgentFlow wires a driver executor in front of the agent so a
// single run can deliver the conversation and then the turn token. The
// driver receives the prompt as a string and forwards it as a user
// message followed by a TurnToken.
func buildAgentFlow(t *testing.T, agentExec *Executor, emitUpdates bool) *workflow.Workflow {
	t.Helper()

	driver := workflow.NewFuncExecutor("driver", func(rb *workflow.RouteBuilder) *workflow.RouteBuilder {
		return workflow.AddHandler(rb, func(ctx context.Context, wc workflow.WorkflowContext, prompt string) error {
			msgs := []workflow.ChatMessage{{Role: workflow.RoleUser, Content: prompt}}
			if err := wc.SendMessage(ctx, msgs); err != nil {
				return err
			}
			return wc.SendMessage(ctx, workflow.TurnToken{EmitUpdates: emitUpdates})
		})
	})

	wf, err := workflow.NewBuilder().
		AddExecutor(driver).
		AddExecutor(agentExec).
		StartAt("driver").
		Connect("driver", agentExec.ID(), nil).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return wf
}

// drainEvents consumes the run's current event segment.
func drainEvents(r *workflow.Run) []workflow.Event {
	var evs []workflow.Event
	for ev := range r.Events() {
		evs = append(evs, ev)
	}
	return evs
}

// TestExecutor_SimpleTurn verifies that a turn with no tool calls
// produces the model's reply as a workflow output, and that the model
// sees the system prompt followed by the accumulated conversation.
func TestExecutor_SimpleTurn(t *testing.T) {
	mock := &MockChatModel{
		Responses: []ChatOut{{Text: "Paris", Usage: Usage{InputTokens: 12, OutputTokens: 3}}},
	}
	assistant := NewExecutor("assistant", mock, WithSystemPrompt("You are terse."))
	wf := buildAgentFlow(t, assistant, false)

	outputs, err := workflow.RunSync(context.Background(), wf, "What is the capital of France?")
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}

	if len(outputs) != 1 {
		t.Fatalf("outputs = %v, want one assistant reply", outputs)
	}
	reply, ok := outputs[0].(workflow.ChatMessage)
	if !ok {
		t.Fatalf("output type = %T, want workflow.ChatMessage", outputs[0])
	}
	if reply.Role != workflow.RoleAssistant || reply.Content != "Paris" {
		t.Errorf("reply = %+v, want assistant 'Paris'", reply)
	}

	if mock.CallCount() != 1 {
		t.Fatalf("CallCount() = %d, want 1", mock.CallCount())
	}
	sent := mock.Calls[0].Messages
	if len(sent) != 2 {
		t.Fatalf("model saw %d messages, want system + user", len(sent))
	}
	if sent[0].Role != workflow.RoleSystem || sent[0].Content != "You are terse." {
		t.Errorf("first message = %+v, want the system prompt", sent[0])
	}
	if sent[1].Role != workflow.RoleUser || sent[1].Content != "What is the capital of France?" {
		t.Errorf("second message = %+v, want the user prompt", sent[1])
	}

	conv := assistant.Conversation()
	if len(conv) != 2 {
		t.Fatalf("Conversation() has %d messages, want user + assistant", len(conv))
	}
	if conv[1].Role != workflow.RoleAssistant || conv[1].Content != "Paris" {
		t.Errorf("conversation tail = %+v, want the assistant reply", conv[1])
	}
}

// TestExecutor_ToolCall verifies the tool loop: the model requests a
// tool, its result is appended to the conversation as a user message,
// and the follow-up invocation produces the final reply.
func TestExecutor_ToolCall(t *testing.T) {
	mock := &MockChatModel{
		Responses: []ChatOut{
			{ToolCalls: []ToolCall{{Name: "add", Input: map[string]interface{}{"a": 40.0, "b": 2.0}}}},
			{Text: "The answer is 42"},
		},
	}
	var gotInput map[string]interface{}
	add := Tool{
		Spec: ToolSpec{Name: "add", Description: "Add two numbers"},
		Fn: func(_ context.Context, input map[string]interface{}) (string, error) {
			gotInput = input
			return "42", nil
		},
	}
	assistant := NewExecutor("assistant", mock, WithTools(add))
	wf := buildAgentFlow(t, assistant, false)

	outputs, err := workflow.RunSync(context.Background(), wf, "What is 40 + 2?")
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}

	if len(outputs) != 1 || outputs[0].(workflow.ChatMessage).Content != "The answer is 42" {
		t.Fatalf("outputs = %v, want the final reply", outputs)
	}
	if gotInput["a"] != 40.0 || gotInput["b"] != 2.0 {
		t.Errorf("tool input = %v, want the model's arguments", gotInput)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("CallCount() = %d, want 2 (tool round + final reply)", mock.CallCount())
	}

	// The second invocation must see the tool result.
	second := mock.Calls[1].Messages
	last := second[len(second)-1]
	if last.Role != workflow.RoleUser || last.Content != "[tool add] 42" {
		t.Errorf("tool result message = %+v, want user '[tool add] 42'", last)
	}

	// The model was offered the tool spec on both rounds.
	if len(mock.Calls[0].Tools) != 1 || mock.Calls[0].Tools[0].Name != "add" {
		t.Errorf("Calls[0].Tools = %v, want the add spec", mock.Calls[0].Tools)
	}
}

// TestExecutor_UnknownTool verifies that a call to an unregistered tool
// is answered with an "unknown tool" result instead of failing the run.
func TestExecutor_UnknownTool(t *testing.T) {
	mock := &MockChatModel{
		Responses: []ChatOut{
			{ToolCalls: []ToolCall{{Name: "missing"}}},
			{Text: "done"},
		},
	}
	assistant := NewExecutor("assistant", mock)
	wf := buildAgentFlow(t, assistant, false)

	outputs, err := workflow.RunSync(context.Background(), wf, "go")
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if len(outputs) != 1 || outputs[0].(workflow.ChatMessage).Content != "done" {
		t.Fatalf("outputs = %v, want 'done'", outputs)
	}

	second := mock.Calls[1].Messages
	last := second[len(second)-1]
	if last.Content != "[tool missing] unknown tool" {
		t.Errorf("tool result = %q, want '[tool missing] unknown tool'", last.Content)
	}
}

// TestExecutor_ToolRoundLimit verifies that a model which keeps
// requesting tools fails the run instead of looping forever.
func TestExecutor_ToolRoundLimit(t *testing.T) {
	mock := &MockChatModel{
		// Repeat-last semantics make every round request the tool again.
		Responses: []ChatOut{{ToolCalls: []ToolCall{{Name: "spin"}}}},
	}
	spin := Tool{
		Spec: ToolSpec{Name: "spin"},
		Fn:   func(context.Context, map[string]interface{}) (string, error) { return "again", nil },
	}
	assistant := NewExecutor("assistant", mock, WithTools(spin))
	wf := buildAgentFlow(t, assistant, false)

	_, err := workflow.RunSync(context.Background(), wf, "go")
	if err == nil {
		t.Fatal("RunSync() error = nil, want tool round limit error")
	}
	if !strings.Contains(err.Error(), "kept requesting tools") {
		t.Errorf("error = %v, want the round limit message", err)
	}
}

// TestExecutor_ModelError verifies that provider errors fail the run
// with the agent's id in the message.
func TestExecutor_ModelError(t *testing.T) {
	boom := errors.New("API down")
	mock := &MockChatModel{Err: boom}
	assistant := NewExecutor("assistant", mock)
	wf := buildAgentFlow(t, assistant, false)

	_, err := workflow.RunSync(context.Background(), wf, "hello")
	if !errors.Is(err, boom) {
		t.Fatalf("RunSync() error = %v, want wrapped %v", err, boom)
	}
	if !strings.Contains(err.Error(), "agent assistant") {
		t.Errorf("error = %v, want the agent id in the message", err)
	}
}

// TestExecutor_StreamingUpdates verifies that a TurnToken asking for
// updates surfaces model deltas as AgentRunUpdateEvents.
func TestExecutor_StreamingUpdates(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "hello there"}}}
	assistant := NewExecutor("assistant", mock)
	wf := buildAgentFlow(t, assistant, true)

	run := workflow.NewRun(wf)
	if err := run.Start(context.Background(), "hi"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	evs := drainEvents(run)
	if err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	var updates []workflow.AgentRunUpdateEvent
	for _, ev := range evs {
		if up, ok := ev.(workflow.AgentRunUpdateEvent); ok {
			updates = append(updates, up)
		}
	}
	if len(updates) != 1 {
		t.Fatalf("got %d agent run updates, want 1", len(updates))
	}
	if updates[0].ExecutorID != "assistant" || updates[0].Delta != "hello there" {
		t.Errorf("update = %+v, want the full reply as one delta", updates[0])
	}
}

// TestExecutor_ApprovalFlow verifies that a RequireApproval tool raises
// an external request on the approval port, suspends the run, and that
// answering the request resumes the turn.
func TestExecutor_ApprovalFlow(t *testing.T) {
	ctx := context.Background()

	newFlow := func(t *testing.T, finalText string) (*workflow.Workflow, *workflow.Run, *[]string) {
		t.Helper()
		mock := &MockChatModel{
			Responses: []ChatOut{
				{ToolCalls: []ToolCall{{Name: "deploy", Input: map[string]interface{}{"version": "v2"}}}},
				{Text: finalText},
			},
		}
		var toolRuns []string
		deploy := Tool{
			Spec:            ToolSpec{Name: "deploy", Description: "Ship a release"},
			RequireApproval: true,
			Fn: func(_ context.Context, input map[string]interface{}) (string, error) {
				toolRuns = append(toolRuns, input["version"].(string))
				return "deployed v2", nil
			},
		}
		assistant := NewExecutor("assistant", mock, WithTools(deploy))
		wf := buildAgentFlow(t, assistant, false)
		return wf, workflow.NewRun(wf), &toolRuns
	}

	suspendOnApproval := func(t *testing.T, run *workflow.Run) *workflow.ExternalRequest {
		t.Helper()
		if err := run.Start(ctx, "ship it"); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		drainEvents(run)
		if err := run.Wait(ctx); err != nil {
			t.Fatalf("Wait() during suspension error = %v", err)
		}
		if run.Status() != workflow.RunSuspended {
			t.Fatalf("Status() = %v, want RunSuspended", run.Status())
		}
		reqs := run.PendingRequests()
		if len(reqs) != 1 {
			t.Fatalf("PendingRequests() = %v, want one approval request", reqs)
		}
		return reqs[0]
	}

	t.Run("approved", func(t *testing.T) {
		_, run, toolRuns := newFlow(t, "Deployment finished")
		req := suspendOnApproval(t, run)

		if req.Port != ApprovalPort {
			t.Errorf("request port = %q, want %q", req.Port, ApprovalPort)
		}
		if req.ID != "assistant:function_approval:1" {
			t.Errorf("request id = %q, want deterministic assistant:function_approval:1", req.ID)
		}
		ar, ok := req.Payload.(ApprovalRequest)
		if !ok {
			t.Fatalf("request payload type = %T, want ApprovalRequest", req.Payload)
		}
		if ar.ToolName != "deploy" || ar.Input["version"] != "v2" {
			t.Errorf("approval request = %+v, want the gated call", ar)
		}

		err := run.SendResponse(ctx, workflow.ExternalResponse{
			RequestID: req.ID,
			Payload:   ApprovalResponse{Approved: true},
		})
		if err != nil {
			t.Fatalf("SendResponse() error = %v", err)
		}
		drainEvents(run)
		if err := run.Wait(ctx); err != nil {
			t.Fatalf("Wait() after approval error = %v", err)
		}

		if run.Status() != workflow.RunCompleted {
			t.Fatalf("Status() = %v, want RunCompleted", run.Status())
		}
		if len(*toolRuns) != 1 || (*toolRuns)[0] != "v2" {
			t.Errorf("tool executions = %v, want one run with the approved input", *toolRuns)
		}
		outputs := run.Outputs()
		if len(outputs) != 1 || outputs[0].(workflow.ChatMessage).Content != "Deployment finished" {
			t.Errorf("Outputs() = %v, want the final reply", outputs)
		}
	})

	t.Run("denied", func(t *testing.T) {
		wf, run, toolRuns := newFlow(t, "Not deploying")
		req := suspendOnApproval(t, run)

		err := run.SendResponse(ctx, workflow.ExternalResponse{
			RequestID: req.ID,
			Payload:   ApprovalResponse{Approved: false, Reason: "too risky"},
		})
		if err != nil {
			t.Fatalf("SendResponse() error = %v", err)
		}
		drainEvents(run)
		if err := run.Wait(ctx); err != nil {
			t.Fatalf("Wait() after denial error = %v", err)
		}

		if len(*toolRuns) != 0 {
			t.Errorf("tool executions = %v, want none after denial", *toolRuns)
		}
		outputs := run.Outputs()
		if len(outputs) != 1 || outputs[0].(workflow.ChatMessage).Content != "Not deploying" {
			t.Errorf("Outputs() = %v, want the denial-aware reply", outputs)
		}

		// The model was told the call was rejected.
		exec, _ := wf.Executor("assistant")
		conv := exec.(*Executor).Conversation()
		found := false
		for _, m := range conv {
			if m.Content == "[tool deploy] call was not approved: too risky" {
				found = true
			}
		}
		if !found {
			t.Errorf("conversation = %+v, want the denial message", conv)
		}
	})
}

// TestExecutor_ApprovalSurvivesRestart checkpoints a run suspended on
// tool approval, resumes it on a fresh executor, and answers the
// request there. The gated call must come back from executor state.
func TestExecutor_ApprovalSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	mgr := checkpoint.NewMemoryManager()

	newWorkflow := func(t *testing.T, responses ...ChatOut) *workflow.Workflow {
		t.Helper()
		mock := &MockChatModel{Responses: responses}
		deploy := Tool{
			Spec:            ToolSpec{Name: "deploy"},
			RequireApproval: true,
			Fn: func(context.Context, map[string]interface{}) (string, error) {
				return "release live", nil
			},
		}
		return buildAgentFlow(t, NewExecutor("assistant", mock, WithTools(deploy)), false)
	}

	// First process: run until the approval suspends, then stop.
	orig := workflow.NewRun(
		newWorkflow(t, ChatOut{ToolCalls: []ToolCall{{Name: "deploy"}}}),
		workflow.WithCheckpointManager(mgr),
	)
	if err := orig.Start(ctx, "ship it"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	drainEvents(orig)
	if err := orig.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if orig.Status() != workflow.RunSuspended {
		t.Fatalf("Status() = %v, want RunSuspended", orig.Status())
	}

	latest, err := mgr.Latest(ctx, orig.ID())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}

	// Second process: fresh workflow, fresh executor, restored state.
	// The restored pending call skips the tool round entirely, so the
	// only model call left is the post-approval reply.
	wf2 := newWorkflow(t, ChatOut{Text: "shipped"})
	resumed, err := workflow.ResumeRun(ctx, wf2, mgr, latest)
	if err != nil {
		t.Fatalf("ResumeRun() error = %v", err)
	}
	if err := resumed.Start(ctx, nil); err != nil {
		t.Fatalf("resumed Start() error = %v", err)
	}
	drainEvents(resumed)
	if err := resumed.Wait(ctx); err != nil {
		t.Fatalf("resumed Wait() error = %v", err)
	}
	if resumed.Status() != workflow.RunSuspended {
		t.Fatalf("resumed Status() = %v, want RunSuspended again", resumed.Status())
	}

	reqs := resumed.PendingRequests()
	if len(reqs) != 1 || reqs[0].ID != "assistant:function_approval:1" {
		t.Fatalf("resumed PendingRequests() = %v, want the original approval", reqs)
	}

	err = resumed.SendResponse(ctx, workflow.ExternalResponse{
		RequestID: reqs[0].ID,
		Payload:   ApprovalResponse{Approved: true},
	})
	if err != nil {
		t.Fatalf("SendResponse() error = %v", err)
	}
	drainEvents(resumed)
	if err := resumed.Wait(ctx); err != nil {
		t.Fatalf("Wait() after approval error = %v", err)
	}
	if resumed.Status() != workflow.RunCompleted {
		t.Fatalf("resumed Status() = %v, want RunCompleted", resumed.Status())
	}

	exec, _ := wf2.Executor("assistant")
	conv := exec.(*Executor).Conversation()
	found := false
	for _, m := range conv {
		if m.Content == "[tool deploy] release live" {
			found = true
		}
	}
	if !found {
		t.Errorf("restored conversation = %+v, want the tool result", conv)
	}
}

// TestExecutor_CheckpointStateRoundTrip exercises OnCheckpointing and
// OnCheckpointRestored directly: conversation and pending calls must
// survive a marshal/unmarshal cycle into a fresh executor.
func TestExecutor_CheckpointStateRoundTrip(t *testing.T) {
	ctx := context.Background()

	src := NewExecutor("assistant", &MockChatModel{})
	src.conversation = []workflow.ChatMessage{
		{Role: workflow.RoleUser, Content: "deploy v2"},
	}
	src.pendingCalls["assistant:function_approval:1"] = pendingCall{
		Call:        ToolCall{Name: "deploy", Input: map[string]interface{}{"version": "v2"}},
		EmitUpdates: true,
	}

	state, err := src.OnCheckpointing(ctx)
	if err != nil {
		t.Fatalf("OnCheckpointing() error = %v", err)
	}
	if _, ok := state["conversation"]; !ok {
		t.Error("checkpoint state missing conversation key")
	}
	if _, ok := state["pending_calls"]; !ok {
		t.Error("checkpoint state missing pending_calls key")
	}

	dst := NewExecutor("assistant", &MockChatModel{})
	if err := dst.OnCheckpointRestored(ctx, state); err != nil {
		t.Fatalf("OnCheckpointRestored() error = %v", err)
	}

	conv := dst.Conversation()
	if len(conv) != 1 || conv[0].Content != "deploy v2" {
		t.Errorf("restored conversation = %+v", conv)
	}
	pc, ok := dst.pendingCalls["assistant:function_approval:1"]
	if !ok {
		t.Fatal("restored state missing the pending call")
	}
	if pc.Call.Name != "deploy" || !pc.EmitUpdates {
		t.Errorf("restored pending call = %+v", pc)
	}
	if pc.Call.Input["version"] != "v2" {
		t.Errorf("restored call input = %v, want version v2", pc.Call.Input)
	}
}

// TestExecutor_Reset verifies Reset clears both conversation and
// pending approval state.
func TestExecutor_Reset(t *testing.T) {
	e := NewExecutor("assistant", &MockChatModel{})
	e.conversation = []workflow.ChatMessage{{Role: workflow.RoleUser, Content: "hi"}}
	e.pendingCalls["x:function_approval:1"] = pendingCall{Call: ToolCall{Name: "x"}}

	e.Reset()

	if len(e.Conversation()) != 0 {
		t.Errorf("Conversation() after Reset = %v, want empty", e.Conversation())
	}
	if len(e.pendingCalls) != 0 {
		t.Errorf("pending calls after Reset = %v, want empty", e.pendingCalls)
	}
}

// TestDecodeApproval covers the payload shapes an approval answer can
// arrive in: the struct, a pointer, and the JSON map form produced by a
// checkpoint round-trip.
func TestDecodeApproval(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		got, err := decodeApproval(ApprovalResponse{Approved: true, Reason: "ok"})
		if err != nil {
			t.Fatalf("decodeApproval() error = %v", err)
		}
		if !got.Approved || got.Reason != "ok" {
			t.Errorf("decodeApproval() = %+v", got)
		}
	})

	t.Run("pointer", func(t *testing.T) {
		got, err := decodeApproval(&ApprovalResponse{Approved: true})
		if err != nil {
			t.Fatalf("decodeApproval() error = %v", err)
		}
		if !got.Approved {
			t.Errorf("decodeApproval() = %+v, want approved", got)
		}
	})

	t.Run("json map", func(t *testing.T) {
		got, err := decodeApproval(map[string]any{"approved": true, "reason": "looks fine"})
		if err != nil {
			t.Fatalf("decodeApproval() error = %v", err)
		}
		if !got.Approved || got.Reason != "looks fine" {
			t.Errorf("decodeApproval() = %+v", got)
		}
	})

	t.Run("bad payload", func(t *testing.T) {
		if _, err := decodeApproval("yes"); err == nil {
			t.Fatal("decodeApproval() error = nil, want unmarshal failure")
		}
	})
}

// TestExecutor_CostTracking verifies that model token usage flows into
// an attached cost tracker.
func TestExecutor_CostTracking(t *testing.T) {
	mock := &MockChatModel{
		Responses: []ChatOut{{Text: "hi", Usage: Usage{InputTokens: 100, OutputTokens: 20}}},
	}
	tracker := NewCostTracker("run-cost", "USD")
	assistant := NewExecutor("assistant", mock, WithCostTracker(tracker))
	wf := buildAgentFlow(t, assistant, false)

	if _, err := workflow.RunSync(context.Background(), wf, "hello"); err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}

	calls := tracker.GetCallHistory()
	if len(calls) != 1 {
		t.Fatalf("GetCallHistory() has %d calls, want 1", len(calls))
	}
	if calls[0].InputTokens != 100 || calls[0].OutputTokens != 20 {
		t.Errorf("recorded call = %+v, want the mock's usage", calls[0])
	}
	if calls[0].ExecutorID != "assistant" {
		t.Errorf("recorded executor id = %q, want assistant", calls[0].ExecutorID)
	}
}
