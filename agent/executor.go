package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/superstep-go/workflow"
)

// ApprovalPort is the external-request port agent executors use to ask
// for human sign-off before running a tool marked RequireApproval.
const ApprovalPort = "function_approval"

// maxToolRounds bounds tool-call loops within one turn so a model that
// keeps requesting tools cannot spin forever.
const maxToolRounds = 4

// ToolFunc executes one tool call and returns its result as text fed
// back into the conversation.
type ToolFunc func(ctx context.Context, input map[string]interface{}) (string, error)

// Tool pairs a ToolSpec with its implementation.
type Tool struct {
	Spec ToolSpec
	Fn   ToolFunc

	// RequireApproval gates execution behind an external request on
	// ApprovalPort. The workflow suspends until the request is answered.
	RequireApproval bool
}

// ApprovalRequest is the payload of an ApprovalPort external request.
type ApprovalRequest struct {
	ToolName string                 `json:"tool_name"`
	Input    map[string]interface{} `json:"input,omitempty"`
}

// ApprovalResponse is the expected payload of the answer submitted via
// Run.SendResponse for an ApprovalPort request.
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Executor is a workflow executor backed by an LLM chat model.
//
// It implements the chat protocol: []workflow.ChatMessage deliveries
// accumulate in the conversation, and a workflow.TurnToken triggers a
// model invocation whose reply is sent downstream as []ChatMessage and
// yielded as a workflow output. When the TurnToken asks for updates and
// the model supports streaming, incremental deltas surface as
// workflow.AgentRunUpdateEvent on the run's event stream.
//
// Tools registered with RequireApproval raise an external request on
// ApprovalPort instead of executing; the run suspends until the caller
// answers with an ApprovalResponse.
//
// The conversation and any pending tool calls are captured in
// checkpoints, so a suspended approval survives process restarts.
//
// Example:
//
//	assistant := agent.NewExecutor("assistant", model,
//	    agent.WithSystemPrompt("You are a terse assistant."),
//	    agent.WithTools(agent.Tool{Spec: weatherSpec, Fn: getWeather}),
//	)
//	wf, err := workflow.NewBuilder().
//	    AddExecutor(assistant).
//	    StartAt("assistant").
//	    WithChatProtocol().
//	    Build()
type Executor struct {
	id     string
	model  ChatModel
	system string
	tools  []Tool
	cost   *CostTracker

	conversation []workflow.ChatMessage

	// pendingCalls maps approval request ids to the gated tool call and
	// whether updates were requested for the interrupted turn.
	pendingCalls map[string]pendingCall
}

type pendingCall struct {
	Call        ToolCall `json:"call"`
	EmitUpdates bool     `json:"emit_updates"`
}

// Option configures an agent Executor.
type Option func(*Executor)

// WithSystemPrompt prepends a system message to every model invocation.
func WithSystemPrompt(prompt string) Option {
	return func(e *Executor) { e.system = prompt }
}

// WithTools registers the tools the model may call.
func WithTools(tools ...Tool) Option {
	return func(e *Executor) { e.tools = append(e.tools, tools...) }
}

// WithCostTracker records token usage of every model invocation.
func WithCostTracker(ct *CostTracker) Option {
	return func(e *Executor) { e.cost = ct }
}

// NewExecutor creates an agent executor with the given id and model.
func NewExecutor(id string, model ChatModel, opts ...Option) *Executor {
	e := &Executor{
		id:           id,
		model:        model,
		pendingCalls: make(map[string]pendingCall),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID implements workflow.Executor.
func (e *Executor) ID() string { return e.id }

// ConfigureRoutes implements workflow.Executor.
func (e *Executor) ConfigureRoutes(rb *workflow.RouteBuilder) *workflow.RouteBuilder {
	rb = workflow.AddHandler(rb, e.handleMessages)
	rb = workflow.AddHandler(rb, e.handleTurn)
	return workflow.AddHandler(rb, e.handleApproval)
}

// handleMessages accumulates incoming conversation. No model call
// happens until a TurnToken arrives.
func (e *Executor) handleMessages(_ context.Context, _ workflow.WorkflowContext, msgs []workflow.ChatMessage) error {
	e.conversation = append(e.conversation, msgs...)
	return nil
}

// handleTurn runs one conversational turn.
func (e *Executor) handleTurn(ctx context.Context, wc workflow.WorkflowContext, token workflow.TurnToken) error {
	return e.runTurn(ctx, wc, token.EmitUpdates)
}

// handleApproval resumes a turn interrupted by a RequireApproval tool.
func (e *Executor) handleApproval(ctx context.Context, wc workflow.WorkflowContext, resp workflow.ExternalResponse) error {
	pc, ok := e.pendingCalls[resp.RequestID]
	if !ok {
		return fmt.Errorf("agent %s: no pending tool call for request %s", e.id, resp.RequestID)
	}
	delete(e.pendingCalls, resp.RequestID)

	approval, err := decodeApproval(resp.Payload)
	if err != nil {
		return fmt.Errorf("agent %s: %w", e.id, err)
	}

	if !approval.Approved {
		reason := approval.Reason
		if reason == "" {
			reason = "denied"
		}
		e.appendToolResult(pc.Call.Name, "call was not approved: "+reason)
		return e.runTurn(ctx, wc, pc.EmitUpdates)
	}

	result, err := e.execTool(ctx, pc.Call)
	if err != nil {
		return err
	}
	e.appendToolResult(pc.Call.Name, result)
	return e.runTurn(ctx, wc, pc.EmitUpdates)
}

// runTurn invokes the model, executing tool calls (or parking them on
// approval) until it produces a text reply.
func (e *Executor) runTurn(ctx context.Context, wc workflow.WorkflowContext, emitUpdates bool) error {
	for round := 0; round < maxToolRounds; round++ {
		out, err := e.invokeModel(ctx, wc, emitUpdates)
		if err != nil {
			return fmt.Errorf("agent %s: %w", e.id, err)
		}

		if len(out.ToolCalls) == 0 {
			reply := workflow.ChatMessage{Role: workflow.RoleAssistant, Content: out.Text}
			e.conversation = append(e.conversation, reply)
			if err := wc.YieldOutput(ctx, reply); err != nil {
				return err
			}
			return wc.SendMessage(ctx, []workflow.ChatMessage{reply})
		}

		for _, call := range out.ToolCalls {
			tool, ok := e.findTool(call.Name)
			if !ok {
				e.appendToolResult(call.Name, "unknown tool")
				continue
			}
			if tool.RequireApproval {
				reqID, err := wc.RequestExternal(ctx, ApprovalPort, ApprovalRequest{
					ToolName: call.Name,
					Input:    call.Input,
				})
				if err != nil {
					return err
				}
				e.pendingCalls[reqID] = pendingCall{Call: call, EmitUpdates: emitUpdates}
				// The turn resumes in handleApproval once answered.
				return nil
			}
			result, err := e.execTool(ctx, call)
			if err != nil {
				return err
			}
			e.appendToolResult(call.Name, result)
		}
	}
	return fmt.Errorf("agent %s: model kept requesting tools after %d rounds", e.id, maxToolRounds)
}

func (e *Executor) invokeModel(ctx context.Context, wc workflow.WorkflowContext, emitUpdates bool) (ChatOut, error) {
	messages := e.promptMessages()
	specs := e.toolSpecs()

	var out ChatOut
	var err error
	if sm, ok := e.model.(StreamingChatModel); ok && emitUpdates {
		out, err = sm.ChatStream(ctx, messages, specs, func(delta string) {
			_ = wc.AddEvent(ctx, workflow.AgentRunUpdateEvent{ExecutorID: e.id, Delta: delta})
		})
	} else {
		out, err = e.model.Chat(ctx, messages, specs)
	}
	if err != nil {
		return ChatOut{}, err
	}

	if e.cost != nil {
		e.cost.RecordModelCall(e.modelName(), out.Usage.InputTokens, out.Usage.OutputTokens, e.id)
	}
	return out, nil
}

func (e *Executor) promptMessages() []workflow.ChatMessage {
	if e.system == "" {
		return e.conversation
	}
	messages := make([]workflow.ChatMessage, 0, len(e.conversation)+1)
	messages = append(messages, workflow.ChatMessage{Role: workflow.RoleSystem, Content: e.system})
	return append(messages, e.conversation...)
}

func (e *Executor) toolSpecs() []ToolSpec {
	if len(e.tools) == 0 {
		return nil
	}
	specs := make([]ToolSpec, len(e.tools))
	for i, t := range e.tools {
		specs[i] = t.Spec
	}
	return specs
}

func (e *Executor) findTool(name string) (Tool, bool) {
	for _, t := range e.tools {
		if t.Spec.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func (e *Executor) execTool(ctx context.Context, call ToolCall) (string, error) {
	tool, ok := e.findTool(call.Name)
	if !ok {
		return "", fmt.Errorf("agent %s: unknown tool %s", e.id, call.Name)
	}
	result, err := tool.Fn(ctx, call.Input)
	if err != nil {
		return "", fmt.Errorf("agent %s: tool %s: %w", e.id, call.Name, err)
	}
	return result, nil
}

// appendToolResult records a tool outcome in the conversation so the
// next model invocation sees it.
func (e *Executor) appendToolResult(name, result string) {
	e.conversation = append(e.conversation, workflow.ChatMessage{
		Role:    workflow.RoleUser,
		Content: fmt.Sprintf("[tool %s] %s", name, result),
	})
}

// modelName reports the model identifier for cost attribution when the
// provider exposes one.
func (e *Executor) modelName() string {
	type named interface{ ModelName() string }
	if n, ok := e.model.(named); ok {
		return n.ModelName()
	}
	return "unknown"
}

// Conversation returns a copy of the accumulated conversation.
func (e *Executor) Conversation() []workflow.ChatMessage {
	out := make([]workflow.ChatMessage, len(e.conversation))
	copy(out, e.conversation)
	return out
}

// OnCheckpointing implements workflow.CheckpointingExecutor. The
// conversation and any approval-gated tool calls are captured so a
// suspended turn survives restart.
func (e *Executor) OnCheckpointing(_ context.Context) (map[string]json.RawMessage, error) {
	conv, err := json.Marshal(e.conversation)
	if err != nil {
		return nil, err
	}
	calls, err := json.Marshal(e.pendingCalls)
	if err != nil {
		return nil, err
	}
	return map[string]json.RawMessage{
		"conversation":  conv,
		"pending_calls": calls,
	}, nil
}

// OnCheckpointRestored implements workflow.CheckpointingExecutor.
func (e *Executor) OnCheckpointRestored(_ context.Context, state map[string]json.RawMessage) error {
	e.conversation = nil
	e.pendingCalls = make(map[string]pendingCall)

	if raw, ok := state["conversation"]; ok {
		if err := json.Unmarshal(raw, &e.conversation); err != nil {
			return fmt.Errorf("agent %s: restore conversation: %w", e.id, err)
		}
	}
	if raw, ok := state["pending_calls"]; ok {
		if err := json.Unmarshal(raw, &e.pendingCalls); err != nil {
			return fmt.Errorf("agent %s: restore pending calls: %w", e.id, err)
		}
	}
	return nil
}

// Reset implements workflow.ResettableExecutor.
func (e *Executor) Reset() {
	e.conversation = nil
	e.pendingCalls = make(map[string]pendingCall)
}

// decodeApproval accepts either an ApprovalResponse value or its JSON
// map form (how it arrives after a checkpoint round-trip).
func decodeApproval(payload any) (ApprovalResponse, error) {
	switch v := payload.(type) {
	case ApprovalResponse:
		return v, nil
	case *ApprovalResponse:
		return *v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ApprovalResponse{}, fmt.Errorf("approval payload: %w", err)
		}
		var resp ApprovalResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return ApprovalResponse{}, fmt.Errorf("approval payload: %w", err)
		}
		return resp, nil
	}
}
