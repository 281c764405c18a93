// Package chat defines the provider-agnostic conversation model shared by
// every translator, decoder, and the orchestration loop. It is a pure data
// contract: no behavior beyond small constructors.
package chat

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-issued request to execute a named tool. Arguments is a
// serialized JSON object; during streaming it is assembled fragment by
// fragment and is only valid once the call's end marker has been observed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one turn in a canonical conversation.
//
// ToolCalls is populated only on assistant turns that request execution.
// ToolResultID is set on tool turns and references the ToolCall.ID being
// answered. Ext carries backend-scoped extensions (for example a batched
// tool-result variant); translators read only the key matching their own
// backend and ignore the rest.
type Message struct {
	Role         Role
	Content      string
	ToolCalls    []ToolCall
	ToolResultID string
	Ext          map[string]any
}

// SystemMessage builds a system-instruction turn.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant turn from a decoded response.
func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage builds a tool turn answering the given ToolCall.ID.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolResultID: callID}
}

// ExtAnthropicBatch is the Ext key under which a single tool turn may carry
// multiple batched results for the messages-API family. Other translators
// ignore it.
const ExtAnthropicBatch = "anthropic_batch"

// ToolResult is one entry of the batched tool-result extension.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// ToolSchema describes one tool offered to the model: a name, a human
// description, and a JSON-schema parameter object.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage holds token counters for one request. Estimated is set when the
// backend reported nothing and the counters were derived locally.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Estimated        bool
}

// Response is the normalized result of one request, identical in shape
// regardless of which backend served it.
type Response struct {
	Content    string
	Model      string
	StopReason string
	ToolCalls  []ToolCall
	Usage      *Usage
}

// Request is the canonical input handed to a message translator.
type Request struct {
	Model     string
	Messages  []Message
	Tools     []ToolSchema
	Stream    bool
	MaxTokens int
}
