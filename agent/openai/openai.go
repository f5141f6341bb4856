// Package openai adapts OpenAI's chat completion API to the agent
// ChatModel interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/superstep-go/agent"
	"github.com/dshills/superstep-go/workflow"
)

// ChatModel implements agent.ChatModel for OpenAI's API.
//
// Provides access to OpenAI models (GPT-4o, GPT-4o-mini, etc.) with:
//   - Automatic retry logic for transient errors
//   - Rate limit handling with backoff
//   - Context cancellation
//
// Tool specifications are not forwarded to the API; in-process tool
// orchestration happens in the agent executor.
//
// Example usage:
//
//	apiKey := os.Getenv("OPENAI_API_KEY")
//	m := openai.NewChatModel(apiKey, "gpt-4o-mini")
//
//	out, err := m.Chat(ctx, []workflow.ChatMessage{
//	    {Role: workflow.RoleUser, Content: "What is the capital of France?"},
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Text)
type ChatModel struct {
	client     *openai.Client
	modelName  string
	maxRetries int
	retryDelay time.Duration
}

// NewChatModel creates a new OpenAI ChatModel.
//
// Parameters:
//   - apiKey: OpenAI API key (get from https://platform.openai.com/api-keys).
//     Never hardcode keys; read them from the environment.
//   - modelName: Model to use (e.g., "gpt-4o", "gpt-4o-mini"). Empty
//     string uses the default.
//
// Returns a ChatModel configured with 3 retry attempts for transient
// errors and linear backoff for rate limits.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &ChatModel{
		client:     &client,
		modelName:  modelName,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// ModelName returns the configured model identifier.
func (m *ChatModel) ModelName() string { return m.modelName }

// Chat implements agent.ChatModel.
//
// Sends the conversation to OpenAI's chat completions API and returns
// the reply with token usage. Transient errors (network issues, rate
// limits, 5xx) are retried automatically.
func (m *ChatModel) Chat(ctx context.Context, messages []workflow.ChatMessage, _ []agent.ToolSpec) (agent.ChatOut, error) {
	if ctx.Err() != nil {
		return agent.ChatOut{}, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.createChatCompletion(ctx, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isTransientError(err) {
			return agent.ChatOut{}, err
		}
		if attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay * time.Duration(attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return agent.ChatOut{}, ctx.Err()
		}
	}

	return agent.ChatOut{}, fmt.Errorf("OpenAI API failed after %d retries: %w", m.maxRetries, lastErr)
}

func (m *ChatModel) createChatCompletion(ctx context.Context, messages []workflow.ChatMessage) (agent.ChatOut, error) {
	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	})
	if err != nil {
		return agent.ChatOut{}, err
	}

	if len(completion.Choices) == 0 {
		return agent.ChatOut{}, errors.New("no response from OpenAI API")
	}

	return agent.ChatOut{
		Text: completion.Choices[0].Message.Content,
		Usage: agent.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []workflow.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case workflow.RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case workflow.RoleAssistant:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}
	return out
}

// isTransientError determines if an error should trigger a retry.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	msgLower := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"network",
		"connection",
		"temporary",
		"rate limit",
		"429",
		"503",
		"502",
		"500",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}

	return false
}
