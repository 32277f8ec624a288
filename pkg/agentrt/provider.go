package agentrt

import "context"

// Role is a conversation participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one piece of a message: plain text, or a tool-use/
// tool-result block. Exactly one of the typed fields is populated,
// discriminated by Type.
type ContentBlock struct {
	Type string // "text" | "tool_use" | "tool_result"

	Text string

	// tool_use fields, set on assistant responses.
	ToolUseID string
	ToolName  string
	ToolInput map[string]any

	// tool_result fields, set when building the next turn's user message.
	ToolResultForID string
	ToolResultText  string
}

// Message is one turn in the conversation.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// ToolSchema describes the single `shell` tool the agent exposes, per
// spec.md §4.5.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Response is what the provider returns for one turn.
type Response struct {
	Content []ContentBlock
}

// ToolUses extracts the tool_use blocks from a response, in order.
func (r Response) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, c := range r.Content {
		if c.Type == "tool_use" {
			out = append(out, c)
		}
	}
	return out
}

// Provider is the language-model contract C5 drives: a system prompt,
// message history, and tool schemas in; content blocks (possibly
// including tool-use blocks) out.
type Provider interface {
	Respond(ctx context.Context, system string, tools []ToolSchema, messages []Message) (Response, error)
}
