package providers

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/transport"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiProvider covers the generateContent family: user/model roles,
// functionCall/functionResponse parts, tools as functionDeclarations, and a
// dedicated systemInstruction field. The wire protocol carries no tool-call
// ids, so canonical ids are synthesized at decode time and mapped back to
// function names on encode.
type GeminiProvider struct {
	name string
}

func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{name: "gemini"}
}

func (p *GeminiProvider) Name() string {
	return p.name
}

func (p *GeminiProvider) SupportsStreaming() bool {
	return true
}

func (p *GeminiProvider) NeedsAPIKey() bool {
	return true
}

// Wire structures

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	Tools             []geminiTool     `json:"tools,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates,omitempty"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	ResponseID    string            `json:"responseId,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
}

// EncodeRequest translates a canonical conversation into the generateContent
// wire shape. Tool results become functionResponse parts whose name is
// resolved from the assistant turn that issued the call, since the wire has
// no id channel.
func (p *GeminiProvider) EncodeRequest(endpoint, apiKey string, req *chat.Request) (*transport.Request, error) {
	wire := geminiRequest{}

	callNames := make(map[string]string)
	for _, m := range req.Messages {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Name
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleSystem:
			if wire.SystemInstruction == nil {
				wire.SystemInstruction = &geminiContent{}
			}
			wire.SystemInstruction.Parts = append(wire.SystemInstruction.Parts,
				geminiPart{Text: m.Content})
		case chat.RoleAssistant:
			wire.Contents = append(wire.Contents, p.encodeAssistantContent(m))
		case chat.RoleTool:
			name := callNames[m.ToolResultID]
			if name == "" {
				// Orphaned result: no assistant turn issued this id. Fall
				// back to the id itself so the mismatch stays visible on
				// the wire instead of sending a nameless response.
				name = m.ToolResultID
			}
			wire.Contents = append(wire.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     name,
						Response: map[string]any{"content": m.Content},
					},
				}},
			})
		default:
			wire.Contents = append(wire.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		wire.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if req.MaxTokens > 0 {
		wire.GenerationConfig = &geminiGenConfig{MaxOutputTokens: req.MaxTokens}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	url := fmt.Sprintf("%s/%s:generateContent", endpoint, req.Model)
	if req.Stream {
		url = fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", endpoint, req.Model)
	}

	return &transport.Request{
		URL:  url,
		Body: body,
		Headers: map[string]string{
			"X-Goog-Api-Key": apiKey,
		},
	}, nil
}

func (p *GeminiProvider) encodeAssistantContent(m chat.Message) geminiContent {
	content := geminiContent{Role: "model"}
	if m.Content != "" {
		content.Parts = append(content.Parts, geminiPart{Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		if tc.Arguments != "" {
			// Unparseable arguments degrade to an empty object rather than
			// failing the whole encode.
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
		}
		content.Parts = append(content.Parts, geminiPart{
			FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args},
		})
	}
	if len(content.Parts) == 0 {
		content.Parts = append(content.Parts, geminiPart{Text: ""})
	}
	return content
}

// ParseResponse parses a complete generateContent body.
func (p *GeminiProvider) ParseResponse(body []byte) (*chat.Response, error) {
	var wire geminiResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal gemini response: %w", err)
	}
	if len(wire.Candidates) == 0 {
		return nil, fmt.Errorf("gemini response has no candidates")
	}

	candidate := wire.Candidates[0]
	resp := &chat.Response{Model: wire.ModelVersion}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				resp.Content += part.Text
			}
			if part.FunctionCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
					ID:        newGeminiCallID(),
					Name:      part.FunctionCall.Name,
					Arguments: marshalArgs(part.FunctionCall.Args),
				})
			}
		}
	}
	if candidate.FinishReason != "" {
		resp.StopReason = p.convertStopReason(candidate.FinishReason, len(resp.ToolCalls) > 0)
	}
	if wire.UsageMetadata != nil {
		resp.Usage = &chat.Usage{
			PromptTokens:     wire.UsageMetadata.PromptTokenCount,
			CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
		}
	}

	return resp, nil
}

// DecodeStream decodes one SSE data record. Function calls arrive whole in a
// single part, so each produces a start/arg/end delta triple at once.
func (p *GeminiProvider) DecodeStream(record []byte, st *StreamState) ([]chat.Delta, error) {
	var chunk geminiResponse
	if err := json.Unmarshal(record, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal gemini stream chunk: %w", err)
	}

	var deltas []chat.Delta

	if st.MessageID == "" {
		st.MessageID = chunk.ResponseID
	}
	if st.Model == "" {
		st.Model = chunk.ModelVersion
	}

	if len(chunk.Candidates) == 0 {
		return deltas, nil
	}
	candidate := chunk.Candidates[0]

	hadCalls := false
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				deltas = append(deltas, st.AppendText(part.Text))
			}
			if part.FunctionCall != nil {
				hadCalls = true
				call, startDelta := st.StartCall(newGeminiCallID(), part.FunctionCall.Name, -1)
				deltas = append(deltas, startDelta)
				deltas = append(deltas, st.AppendArgs(call, marshalArgs(part.FunctionCall.Args)))
				deltas = append(deltas, st.EndCall(call))
			}
		}
	}

	if candidate.FinishReason != "" {
		if chunk.UsageMetadata != nil {
			deltas = append(deltas, st.SetUsage(&chat.Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			}))
		}
		deltas = append(deltas, st.Finish(p.convertStopReason(candidate.FinishReason, hadCalls || len(st.byID) > 0)))
	}

	return deltas, nil
}

func (p *GeminiProvider) convertStopReason(reason string, hasToolCalls bool) string {
	// Gemini reports STOP even when the turn ends on a function call.
	if hasToolCalls && reason == "STOP" {
		return "tool_use"
	}

	mapping := map[string]string{
		"STOP":               "end_turn",
		"MAX_TOKENS":         "max_tokens",
		"SAFETY":             "stop_sequence",
		"RECITATION":         "stop_sequence",
		"BLOCKLIST":          "stop_sequence",
		"PROHIBITED_CONTENT": "stop_sequence",
	}

	if normalized, exists := mapping[reason]; exists {
		return normalized
	}
	return "end_turn"
}

func newGeminiCallID() string {
	return "call_" + uuid.NewString()
}

func marshalArgs(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
