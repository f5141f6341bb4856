package agent

import (
	"context"
	"sync"

	"github.com/dshills/superstep-go/workflow"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use MockChatModel in tests to verify workflow behavior without making
// actual LLM API calls. It provides:
//   - Configurable responses
//   - Call history tracking
//   - Error injection
//   - Thread-safe operation
//
// Example usage:
//
//	mock := &agent.MockChatModel{
//	    Responses: []agent.ChatOut{
//	        {Text: "First response"},
//	        {Text: "Second response"},
//	    },
//	}
//	out, err := mock.Chat(ctx, messages, nil)
//	// Returns "First response", then "Second response" on subsequent calls
//
// Example with error injection:
//
//	mock := &agent.MockChatModel{Err: errors.New("API error")}
//	_, err := mock.Chat(ctx, messages, nil)
//	// Returns the configured error
type MockChatModel struct {
	// Responses contains the sequence of responses to return. Each call
	// to Chat returns the next response in order. If all responses are
	// consumed, the last response repeats.
	Responses []ChatOut

	// Err, if set, is returned by Chat instead of a response.
	Err error

	// Calls tracks the history of all Chat invocations. Useful for
	// verifying that executors called the model with expected inputs.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records a single invocation of Chat.
type MockChatCall struct {
	Messages []workflow.ChatMessage
	Tools    []ToolSpec
}

// Chat implements the ChatModel interface.
//
// Returns the next response from Responses (repeating the last one when
// exhausted), or Err if configured. Always records the call in Calls.
func (m *MockChatModel) Chat(ctx context.Context, messages []workflow.ChatMessage, tools []ToolSpec) (ChatOut, error) {
	// Check context cancellation first (before acquiring lock)
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{
		Messages: messages,
		Tools:    tools,
	})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}

	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1 // Repeat last response
	} else {
		m.callIndex++
	}

	return m.Responses[idx], nil
}

// ChatStream implements StreamingChatModel by emitting the reply text as
// a single delta before returning it.
func (m *MockChatModel) ChatStream(ctx context.Context, messages []workflow.ChatMessage, tools []ToolSpec, onDelta func(delta string)) (ChatOut, error) {
	out, err := m.Chat(ctx, messages, tools)
	if err != nil {
		return ChatOut{}, err
	}
	if out.Text != "" && onDelta != nil {
		onDelta(out.Text)
	}
	return out, nil
}

// Reset clears the call history and resets the response index.
//
// Useful when reusing the same mock across multiple test cases.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Chat has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
