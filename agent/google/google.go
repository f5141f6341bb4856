// Package google adapts Google's Gemini API to the agent ChatModel
// interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/superstep-go/agent"
	"github.com/dshills/superstep-go/workflow"
)

// DefaultModel is the Gemini model used when none is specified.
const DefaultModel = "gemini-1.5-flash"

// ChatModel implements agent.ChatModel for Google's Gemini models.
//
// Gemini has no assistant role; assistant messages map to the "model"
// role the API expects, and system messages become the model's system
// instruction. Tool specifications are not forwarded to the API;
// in-process tool orchestration happens in the agent executor.
//
// The client holds a connection; call Close when done.
//
// Example usage:
//
//	m, err := google.NewChatModel(ctx, "", "gemini-1.5-flash")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
type ChatModel struct {
	client    *genai.Client
	modelName string
}

// NewChatModel creates a new Gemini ChatModel.
//
// Parameters:
//   - ctx: Context for client construction.
//   - apiKey: Google API key. If empty, reads from the GOOGLE_API_KEY
//     environment variable. Never hardcode keys.
//   - modelName: Gemini model to use (e.g., "gemini-1.5-flash",
//     "gemini-1.5-pro"). Empty string uses DefaultModel.
//
// Returns an error if no API key can be found or the client cannot be
// constructed.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, errors.New("Google API key not provided and GOOGLE_API_KEY environment variable not set")
		}
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &ChatModel{
		client:    client,
		modelName: modelName,
	}, nil
}

// ModelName returns the configured model identifier.
func (m *ChatModel) ModelName() string { return m.modelName }

// Close closes the underlying Gemini client and releases resources.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements agent.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []workflow.ChatMessage, _ []agent.ToolSpec) (agent.ChatOut, error) {
	if ctx.Err() != nil {
		return agent.ChatOut{}, ctx.Err()
	}

	model := m.client.GenerativeModel(m.modelName)

	history, last, system := convertMessages(messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	if last == "" {
		return agent.ChatOut{}, errors.New("conversation has no user message to send")
	}

	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return agent.ChatOut{}, err
	}

	text, err := extractText(resp)
	if err != nil {
		return agent.ChatOut{}, err
	}

	out := agent.ChatOut{Text: text}
	if resp.UsageMetadata != nil {
		out.Usage = agent.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// convertMessages maps the conversation to Gemini chat history plus the
// final user message to send. System messages are collected separately.
func convertMessages(messages []workflow.ChatMessage) (history []*genai.Content, last string, system string) {
	var turns []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case workflow.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case workflow.RoleAssistant:
			turns = append(turns, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		default:
			turns = append(turns, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}

	// The final user turn is sent as the message; everything before it
	// is history.
	if n := len(turns); n > 0 && turns[n-1].Role == "user" {
		if text, ok := turns[n-1].Parts[0].(genai.Text); ok {
			last = string(text)
		}
		turns = turns[:n-1]
	}
	return turns, last, system
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response from Gemini API")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return text, nil
}
