package providers

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/transport"
)

const defaultOllamaEndpoint = "http://localhost:11434/api/chat"

// OllamaProvider covers the local /api/chat family: OpenAI-like message
// roles but tool-call arguments travel as JSON objects rather than strings,
// the wire carries no tool-call ids, and streaming is newline-delimited JSON
// terminated by a done record instead of SSE.
type OllamaProvider struct {
	name string
}

func NewOllamaProvider() *OllamaProvider {
	return &OllamaProvider{name: "ollama"}
}

func (p *OllamaProvider) Name() string {
	return p.name
}

func (p *OllamaProvider) SupportsStreaming() bool {
	return true
}

// NeedsAPIKey is false: local daemons are unauthenticated, so the provider
// is enabled without a credential.
func (p *OllamaProvider) NeedsAPIKey() bool {
	return false
}

// Wire structures

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ollamaResponse struct {
	Model           string         `json:"model"`
	Message         *ollamaMessage `json:"message,omitempty"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason,omitempty"`
	PromptEvalCount int            `json:"prompt_eval_count,omitempty"`
	EvalCount       int            `json:"eval_count,omitempty"`
}

// EncodeRequest translates a canonical conversation into the /api/chat wire
// shape. Serialized argument strings are re-parsed into objects because the
// wire expects structured arguments; tool-call ids are dropped since the
// protocol has no channel for them.
func (p *OllamaProvider) EncodeRequest(endpoint, apiKey string, req *chat.Request) (*transport.Request, error) {
	wire := ollamaRequest{
		Model:  req.Model,
		Stream: req.Stream,
	}

	for _, m := range req.Messages {
		msg := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			if tc.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
			}
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
				Function: ollamaFunction{Name: tc.Name, Arguments: args},
			})
		}
		wire.Messages = append(wire.Messages, msg)
	}

	if len(req.Tools) > 0 {
		wire.Tools = encodeFunctionTools(req.Tools)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}

	return &transport.Request{URL: endpoint, Body: body}, nil
}

// ParseResponse parses a complete /api/chat body.
func (p *OllamaProvider) ParseResponse(body []byte) (*chat.Response, error) {
	var wire ollamaResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal ollama response: %w", err)
	}
	if wire.Message == nil {
		return nil, fmt.Errorf("ollama response has no message")
	}

	resp := &chat.Response{
		Content: wire.Message.Content,
		Model:   wire.Model,
	}
	for _, tc := range wire.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
			ID:        newOllamaCallID(),
			Name:      tc.Function.Name,
			Arguments: marshalArgs(tc.Function.Arguments),
		})
	}
	resp.StopReason = p.convertStopReason(wire.DoneReason, len(resp.ToolCalls) > 0)
	if wire.PromptEvalCount > 0 || wire.EvalCount > 0 {
		resp.Usage = &chat.Usage{
			PromptTokens:     wire.PromptEvalCount,
			CompletionTokens: wire.EvalCount,
		}
	}

	return resp, nil
}

// DecodeStream decodes one NDJSON record. Tool calls arrive whole; the
// done:true record is the explicit completion marker.
func (p *OllamaProvider) DecodeStream(record []byte, st *StreamState) ([]chat.Delta, error) {
	var chunk ollamaResponse
	if err := json.Unmarshal(record, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal ollama stream chunk: %w", err)
	}

	var deltas []chat.Delta

	if st.Model == "" {
		st.Model = chunk.Model
	}

	hadCalls := false
	if chunk.Message != nil {
		if chunk.Message.Content != "" {
			deltas = append(deltas, st.AppendText(chunk.Message.Content))
		}
		for _, tc := range chunk.Message.ToolCalls {
			hadCalls = true
			call, startDelta := st.StartCall(newOllamaCallID(), tc.Function.Name, -1)
			deltas = append(deltas, startDelta)
			deltas = append(deltas, st.AppendArgs(call, marshalArgs(tc.Function.Arguments)))
			deltas = append(deltas, st.EndCall(call))
		}
	}

	if chunk.Done {
		if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
			deltas = append(deltas, st.SetUsage(&chat.Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
			}))
		}
		deltas = append(deltas, st.Finish(p.convertStopReason(chunk.DoneReason, hadCalls || len(st.byID) > 0)))
	}

	return deltas, nil
}

func (p *OllamaProvider) convertStopReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_use"
	}

	switch reason {
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func newOllamaCallID() string {
	return "call_" + uuid.NewString()
}
