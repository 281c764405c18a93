package providers

import (
	"encoding/json"
	"fmt"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/transport"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion         = "2023-06-01"
	defaultAnthropicMaxTok   = 4096
)

// AnthropicProvider covers the messages-API family. It has no tool role:
// tool calls are typed content blocks inside the assistant turn, and tool
// results must be rewritten into a user turn of tool_result blocks, merging
// adjacent canonical tool turns into a single backend-native turn. System
// instructions move to a dedicated top-level field.
type AnthropicProvider struct {
	name string
}

func NewAnthropicProvider() *AnthropicProvider {
	return &AnthropicProvider{name: "anthropic"}
}

func (p *AnthropicProvider) Name() string {
	return p.name
}

func (p *AnthropicProvider) SupportsStreaming() bool {
	return true
}

func (p *AnthropicProvider) NeedsAPIKey() bool {
	return true
}

// Wire structures

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason,omitempty"`
	Usage      *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Streaming event envelope. The type field discriminates; the rest of the
// fields are populated per event type.
type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	Message      *anthropicResponse `json:"message,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// EncodeRequest translates a canonical conversation into the messages-API
// wire shape. This is a structural rewrite, not a field rename: system turns
// are hoisted out of the conversation and runs of tool turns collapse into
// one user turn of tool_result blocks.
func (p *AnthropicProvider) EncodeRequest(endpoint, apiKey string, req *chat.Request) (*transport.Request, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTok
	}

	system, messages := p.encodeMessages(req.Messages)

	wire := anthropicRequest{
		Model:     req.Model,
		System:    system,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    req.Stream,
	}
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		wire.Tools = append(wire.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	if endpoint == "" {
		endpoint = defaultAnthropicEndpoint
	}

	return &transport.Request{
		URL:  endpoint,
		Body: body,
		Headers: map[string]string{
			"X-API-Key":         apiKey,
			"Anthropic-Version": anthropicVersion,
		},
	}, nil
}

func (p *AnthropicProvider) encodeMessages(messages []chat.Message) (string, []anthropicMessage) {
	var system string
	out := make([]anthropicMessage, 0, len(messages))

	flushResults := func(blocks []anthropicContent) []anthropicContent {
		if len(blocks) > 0 {
			out = append(out, anthropicMessage{Role: "user", Content: blocks})
		}
		return nil
	}

	var pendingResults []anthropicContent
	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			pendingResults = flushResults(pendingResults)
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case chat.RoleTool:
			// Adjacent tool turns merge into one user turn below.
			pendingResults = append(pendingResults, p.encodeToolResults(m)...)
		case chat.RoleAssistant:
			pendingResults = flushResults(pendingResults)
			out = append(out, anthropicMessage{
				Role:    "assistant",
				Content: p.encodeAssistantBlocks(m),
			})
		default:
			pendingResults = flushResults(pendingResults)
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		}
	}
	flushResults(pendingResults)

	return system, out
}

func (p *AnthropicProvider) encodeAssistantBlocks(m chat.Message) []anthropicContent {
	var blocks []anthropicContent
	if m.Content != "" {
		blocks = append(blocks, anthropicContent{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		input := tc.Arguments
		if input == "" {
			input = "{}"
		}
		blocks = append(blocks, anthropicContent{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: json.RawMessage(input),
		})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicContent{Type: "text", Text: ""})
	}
	return blocks
}

func (p *AnthropicProvider) encodeToolResults(m chat.Message) []anthropicContent {
	// The batched extension lets one canonical turn carry several results.
	if batch, ok := m.Ext[chat.ExtAnthropicBatch].([]chat.ToolResult); ok && len(batch) > 0 {
		blocks := make([]anthropicContent, 0, len(batch))
		for _, r := range batch {
			blocks = append(blocks, anthropicContent{
				Type:      "tool_result",
				ToolUseID: r.CallID,
				Content:   r.Content,
				IsError:   r.IsError,
			})
		}
		return blocks
	}

	return []anthropicContent{{
		Type:      "tool_result",
		ToolUseID: m.ToolResultID,
		Content:   m.Content,
	}}
}

// ParseResponse parses a complete messages-API body.
func (p *AnthropicProvider) ParseResponse(body []byte) (*chat.Response, error) {
	var wire anthropicResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}

	resp := &chat.Response{
		Model:      wire.Model,
		StopReason: wire.StopReason,
	}
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			arguments := string(block.Input)
			if arguments == "" {
				arguments = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: arguments,
			})
		}
	}
	if wire.Usage != nil {
		resp.Usage = &chat.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
		}
	}

	return resp, nil
}

// DecodeStream decodes one messages-API stream event. Content blocks are
// correlated by index; input_json_delta fragments concatenate in arrival
// order and a call completes only on its content_block_stop.
func (p *AnthropicProvider) DecodeStream(record []byte, st *StreamState) ([]chat.Delta, error) {
	var event anthropicStreamEvent
	if err := json.Unmarshal(record, &event); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic stream event: %w", err)
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil {
			st.MessageID = event.Message.ID
			st.Model = event.Message.Model
			if event.Message.Usage != nil {
				st.Usage = &chat.Usage{PromptTokens: event.Message.Usage.InputTokens}
			}
		}
		return nil, nil

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			_, delta := st.StartCall(event.ContentBlock.ID, event.ContentBlock.Name, event.Index)
			return []chat.Delta{delta}, nil
		}
		return nil, nil

	case "content_block_delta":
		if event.Delta == nil {
			return nil, nil
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text == "" {
				return nil, nil
			}
			return []chat.Delta{st.AppendText(event.Delta.Text)}, nil
		case "input_json_delta":
			call := st.CallByIndex(event.Index)
			if call == nil || event.Delta.PartialJSON == "" {
				return nil, nil
			}
			return []chat.Delta{st.AppendArgs(call, event.Delta.PartialJSON)}, nil
		}
		return nil, nil

	case "content_block_stop":
		if call := st.CallByIndex(event.Index); call != nil {
			return []chat.Delta{st.EndCall(call)}, nil
		}
		return nil, nil

	case "message_delta":
		var deltas []chat.Delta
		if event.Usage != nil {
			usage := st.Usage
			if usage == nil {
				usage = &chat.Usage{}
			}
			usage.CompletionTokens = event.Usage.OutputTokens
			deltas = append(deltas, st.SetUsage(usage))
		}
		if event.Delta != nil && event.Delta.StopReason != "" {
			st.StopReason = event.Delta.StopReason
		}
		return deltas, nil

	case "message_stop":
		return []chat.Delta{st.Finish("")}, nil
	}

	// ping and unknown event types carry nothing to decode.
	return nil, nil
}
