package workflow

// Chat protocol message types.
//
// A workflow intended to be driven by conversational turns declares that it
// understands two inputs: the accumulated conversation ([]ChatMessage) and a
// turn marker (TurnToken) signalling that the driver is done sending
// messages for the current turn. Builder.WithChatProtocol validates the
// contract at build time so conversational hosts fail fast instead of
// discovering a silent type-mismatch drop at run time.

// ChatMessage is a single message in a conversation.
//
// The runtime never interprets the content; it only routes values of this
// type. The roles align with the conventions used by the major LLM
// providers.
type ChatMessage struct {
	// Role identifies the sender. Use the Role* constants.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Standard role constants for chat messages.
const (
	// RoleSystem sets context or instructions, typically first.
	RoleSystem = "system"

	// RoleUser is input from the human user or driving host.
	RoleUser = "user"

	// RoleAssistant is a model-generated reply.
	RoleAssistant = "assistant"
)

// TurnToken marks the end of a conversational turn.
//
// Drivers send the accumulated []ChatMessage followed by a TurnToken; an
// executor speaking the chat protocol responds to the token, not to the
// individual messages.
type TurnToken struct {
	// EmitUpdates asks agent executors to surface incremental response
	// updates as AgentRunUpdateEvents while the turn is being produced.
	EmitUpdates bool `json:"emit_updates"`
}
