// Package agent hosts conversational executors backed by LLM chat
// models. An agent executor speaks the workflow chat protocol: it
// accumulates []workflow.ChatMessage deliveries and produces an
// assistant reply when a workflow.TurnToken arrives.
package agent

import (
	"context"

	"github.com/dshills/superstep-go/workflow"
)

// ChatModel defines the interface for LLM chat providers.
//
// This interface abstracts the differences between providers (OpenAI,
// Anthropic, Google, local models), giving agent executors a unified
// chat API.
//
// Implementations should:
//   - Handle provider-specific authentication.
//   - Convert workflow.ChatMessage values to the provider format.
//   - Parse provider responses back to the ChatOut format.
//   - Respect context cancellation and timeouts.
//   - Handle retries and rate limiting appropriately.
//
// Example usage:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	out, err := m.Chat(ctx, []workflow.ChatMessage{
//	    {Role: workflow.RoleUser, Content: "What is the capital of France?"},
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Text)
type ChatModel interface {
	// Chat sends the conversation to the model and returns its reply.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control.
	//   - messages: Conversation history (system, user, assistant).
	//   - tools: Optional tool specifications the model may call (nil if
	//     no tools).
	//
	// Returns:
	//   - ChatOut: Model response containing text and/or tool calls plus
	//     token usage.
	//   - error: Provider errors, network errors, or context
	//     cancellation.
	Chat(ctx context.Context, messages []workflow.ChatMessage, tools []ToolSpec) (ChatOut, error)
}

// StreamingChatModel is implemented by providers that can deliver the
// reply incrementally. The callback receives each text delta as it is
// produced; the final ChatOut carries the complete reply.
type StreamingChatModel interface {
	ChatModel

	ChatStream(ctx context.Context, messages []workflow.ChatMessage, tools []ToolSpec, onDelta func(delta string)) (ChatOut, error)
}

// ToolSpec describes a tool the model can request a call to.
//
// The Schema field follows JSON Schema format and describes the expected
// input parameters.
//
// Example:
//
//	weather := agent.ToolSpec{
//	    Name:        "get_weather",
//	    Description: "Get current weather for a location",
//	    Schema: map[string]interface{}{
//	        "type": "object",
//	        "properties": map[string]interface{}{
//	            "location": map[string]interface{}{"type": "string"},
//	        },
//	        "required": []string{"location"},
//	    },
//	}
type ToolSpec struct {
	// Name uniquely identifies the tool. Must be a valid function name
	// (alphanumeric + underscores).
	Name string

	// Description explains what the tool does. The model uses this to
	// decide when to call it.
	Description string

	// Schema defines the tool's input parameters using JSON Schema
	// format. Optional for tools with no parameters.
	Schema map[string]interface{}
}

// ToolCall is a request from the model to invoke a specific tool.
type ToolCall struct {
	// Name identifies which tool to call. Matches a ToolSpec.Name.
	Name string

	// Input contains the parameters for the call, matching the tool's
	// schema. May be nil for tools without parameters.
	Input map[string]interface{}
}

// Usage records the token consumption of one model invocation.
type Usage struct {
	// InputTokens is the number of prompt tokens consumed.
	InputTokens int

	// OutputTokens is the number of completion tokens generated.
	OutputTokens int
}

// ChatOut is the output of one model invocation.
//
// Models can respond with text only, tool calls only, or both.
type ChatOut struct {
	// Text contains the generated reply. May be empty if the model only
	// wants to call tools.
	Text string

	// ToolCalls contains tools the model wants to invoke. Empty for a
	// direct text response.
	ToolCalls []ToolCall

	// Usage reports token consumption, when the provider supplies it.
	Usage Usage
}
