// Package anthropic adapts Anthropic's Messages API to the agent
// ChatModel interface.
package anthropic

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/superstep-go/agent"
	"github.com/dshills/superstep-go/workflow"
)

// defaultMaxTokens caps reply length when the caller does not configure
// one. Matches Claude's common completion ceiling.
const defaultMaxTokens = 4096

// ChatModel implements agent.ChatModel for Anthropic's Claude models.
//
// Claude treats system prompts as a dedicated request field rather than
// a message role; system-role messages in the conversation are collected
// into that field. Tool specifications are not forwarded to the API;
// in-process tool orchestration happens in the agent executor.
//
// Safe for concurrent use after creation; the underlying SDK client
// handles concurrent requests.
//
// Example usage:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "claude-3-5-sonnet-20241022")
//	out, err := m.Chat(ctx, []workflow.ChatMessage{
//	    {Role: workflow.RoleUser, Content: "Summarize this design."},
//	}, nil)
type ChatModel struct {
	client    *anthropic.Client
	modelName string
	maxTokens int64
}

// NewChatModel creates a new Anthropic ChatModel.
//
// Parameters:
//   - apiKey: Anthropic API key from https://console.anthropic.com/.
//     Never hardcode keys; read them from the environment.
//   - modelName: Claude model identifier (e.g.,
//     "claude-3-5-sonnet-20241022"). Empty string uses a default.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-3-5-sonnet-20241022"
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &ChatModel{
		client:    &client,
		modelName: modelName,
		maxTokens: defaultMaxTokens,
	}
}

// ModelName returns the configured model identifier.
func (m *ChatModel) ModelName() string { return m.modelName }

// Chat implements agent.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []workflow.ChatMessage, _ []agent.ToolSpec) (agent.ChatOut, error) {
	if ctx.Err() != nil {
		return agent.ChatOut{}, ctx.Err()
	}

	system, params := convertMessages(messages)

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  params,
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := m.client.Messages.New(ctx, req)
	if err != nil {
		return agent.ChatOut{}, err
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" && len(message.Content) == 0 {
		return agent.ChatOut{}, errors.New("no response from Anthropic API")
	}

	return agent.ChatOut{
		Text: text,
		Usage: agent.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

// convertMessages splits out system text and maps the rest to Anthropic
// message params.
func convertMessages(messages []workflow.ChatMessage) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case workflow.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case workflow.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, out
}
