package providers

import (
	"encoding/json"
	"fmt"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/transport"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider covers the OpenAI chat-completions family: flat tool_calls
// arrays on assistant messages, separate tool-role result messages, system
// instructions in-band, SSE data frames terminated by [DONE]. Any
// OpenAI-compatible backend (OpenRouter, Nvidia, Groq, vLLM) is served by
// pointing its endpoint here.
type OpenAIProvider struct {
	name string
}

func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{name: "openai"}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) SupportsStreaming() bool {
	return true
}

func (p *OpenAIProvider) NeedsAPIKey() bool {
	return true
}

// Wire request structures

type openAIRequest struct {
	Model         string            `json:"model"`
	Messages      []openAIMessage   `json:"messages"`
	Tools         []openAITool      `json:"tools,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *openAIStreamOpts `json:"stream_options,omitempty"`
	MaxTokens     int               `json:"max_completion_tokens,omitempty"`
}

type openAIStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	Index    *int           `json:"index,omitempty"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openAITool struct {
	Type     string           `json:"type"`
	Function openAIToolSchema `json:"function"`
}

type openAIToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Wire response structures

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
}

type openAIChoice struct {
	Message      *openAIMessage `json:"message,omitempty"`
	Delta        *openAIDelta   `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason,omitempty"`
}

type openAIDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// EncodeRequest translates a canonical conversation into the chat-completions
// wire shape.
func (p *OpenAIProvider) EncodeRequest(endpoint, apiKey string, req *chat.Request) (*transport.Request, error) {
	wire := openAIRequest{
		Model:     req.Model,
		Messages:  p.encodeMessages(req.Messages),
		MaxTokens: req.MaxTokens,
	}
	if req.Stream {
		wire.Stream = true
		wire.StreamOptions = &openAIStreamOpts{IncludeUsage: true}
	}
	if len(req.Tools) > 0 {
		wire.Tools = encodeFunctionTools(req.Tools)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}

	return &transport.Request{
		URL:  endpoint,
		Body: body,
		Headers: map[string]string{
			"Authorization": "Bearer " + apiKey,
		},
	}, nil
}

func (p *OpenAIProvider) encodeMessages(messages []chat.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case chat.RoleTool:
			out = append(out, openAIMessage{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolResultID,
			})
		case chat.RoleAssistant:
			msg := openAIMessage{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				arguments := tc.Arguments
				if arguments == "" {
					arguments = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openAIFunction{
						Name:      tc.Name,
						Arguments: arguments,
					},
				})
			}
			out = append(out, msg)
		default:
			out = append(out, openAIMessage{Role: string(m.Role), Content: m.Content})
		}
	}

	return out
}

// encodeFunctionTools builds the function-tool declarations shared by the
// openai and ollama families.
func encodeFunctionTools(tools []chat.ToolSchema) []openAITool {
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// ParseResponse parses a complete chat-completions body into the canonical
// Response.
func (p *OpenAIProvider) ParseResponse(body []byte) (*chat.Response, error) {
	var wire openAIResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	choice := wire.Choices[0]
	if choice.Message == nil {
		return nil, fmt.Errorf("openai response has no message in choice")
	}

	resp := &chat.Response{
		Content: choice.Message.Content,
		Model:   wire.Model,
	}
	if choice.FinishReason != nil {
		resp.StopReason = p.convertStopReason(*choice.FinishReason)
	}
	for _, tc := range choice.Message.ToolCalls {
		arguments := tc.Function.Arguments
		if arguments == "" {
			arguments = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: arguments,
		})
	}
	if wire.Usage != nil {
		resp.Usage = &chat.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
		}
	}

	return resp, nil
}

// DecodeStream decodes one SSE data record. Tool-call argument fragments are
// correlated by the chunk's positional index (falling back to id) and
// concatenated in arrival order; calls complete when finish_reason arrives.
func (p *OpenAIProvider) DecodeStream(record []byte, st *StreamState) ([]chat.Delta, error) {
	if string(record) == "[DONE]" {
		return []chat.Delta{st.Finish("")}, nil
	}

	var chunk openAIResponse
	if err := json.Unmarshal(record, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal openai stream chunk: %w", err)
	}

	var deltas []chat.Delta

	if st.MessageID == "" {
		st.MessageID = chunk.ID
	}
	if st.Model == "" {
		st.Model = chunk.Model
	}

	// Usage-only final chunk has an empty choices array.
	if chunk.Usage != nil {
		deltas = append(deltas, st.SetUsage(&chat.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
		}))
	}

	if len(chunk.Choices) == 0 {
		return deltas, nil
	}
	choice := chunk.Choices[0]

	if choice.Delta != nil {
		// A single chunk may carry both text and tool-call fragments.
		if choice.Delta.Content != "" {
			deltas = append(deltas, st.AppendText(choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			deltas = append(deltas, p.decodeToolCallChunk(tc, st)...)
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		deltas = append(deltas, st.EndOpenCalls()...)
		deltas = append(deltas, st.Finish(p.convertStopReason(*choice.FinishReason)))
	}

	return deltas, nil
}

func (p *OpenAIProvider) decodeToolCallChunk(tc openAIToolCall, st *StreamState) []chat.Delta {
	var deltas []chat.Delta

	wireIndex := -1
	if tc.Index != nil {
		wireIndex = *tc.Index
	}

	var call *ToolCallState
	if wireIndex >= 0 {
		call = st.CallByIndex(wireIndex)
	}
	if call == nil && tc.ID != "" {
		call = st.CallByID(tc.ID)
	}

	// The first chunk for a call carries its id and name.
	if call == nil {
		if tc.ID == "" {
			return nil
		}
		var startDelta chat.Delta
		call, startDelta = st.StartCall(tc.ID, tc.Function.Name, wireIndex)
		deltas = append(deltas, startDelta)
	} else if call.Name == "" && tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}

	if tc.Function.Arguments != "" {
		deltas = append(deltas, st.AppendArgs(call, tc.Function.Arguments))
	}

	return deltas
}

func (p *OpenAIProvider) convertStopReason(reason string) string {
	mapping := map[string]string{
		"stop":           "end_turn",
		"length":         "max_tokens",
		"tool_calls":     "tool_use",
		"function_call":  "tool_use",
		"content_filter": "stop_sequence",
	}

	if normalized, exists := mapping[reason]; exists {
		return normalized
	}
	return "end_turn"
}
