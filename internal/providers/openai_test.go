package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paneldesk/assistant-bridge/internal/chat"
)

func TestOpenAIProvider_BasicMethods(t *testing.T) {
	provider := NewOpenAIProvider()

	assert.Equal(t, "openai", provider.Name())
	assert.True(t, provider.SupportsStreaming())
	assert.True(t, provider.NeedsAPIKey())
}

func TestOpenAIProvider_EncodeRequest(t *testing.T) {
	provider := NewOpenAIProvider()

	req := &chat.Request{
		Model: "gpt-4o",
		Messages: []chat.Message{
			chat.SystemMessage("You are a CMS assistant"),
			chat.UserMessage("List draft articles"),
		},
		Tools: []chat.ToolSchema{
			{
				Name:        "list_articles",
				Description: "List articles by status",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"status": map[string]any{"type": "string"},
					},
				},
			},
		},
		MaxTokens: 256,
	}

	wireReq, err := provider.EncodeRequest("", "sk-test", req)
	require.NoError(t, err)

	assert.Equal(t, defaultOpenAIEndpoint, wireReq.URL)
	assert.Equal(t, "Bearer sk-test", wireReq.Headers["Authorization"])

	var wire map[string]any
	require.NoError(t, json.Unmarshal(wireReq.Body, &wire))

	assert.Equal(t, "gpt-4o", wire["model"])
	assert.Equal(t, float64(256), wire["max_completion_tokens"])
	assert.NotContains(t, wire, "stream")

	// System instructions stay in-band as a regular message.
	messages := wire["messages"].([]any)
	require.Len(t, messages, 2)
	systemMsg := messages[0].(map[string]any)
	assert.Equal(t, "system", systemMsg["role"])
	assert.Equal(t, "You are a CMS assistant", systemMsg["content"])

	tools := wire["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "function", tool["type"])
	fn := tool["function"].(map[string]any)
	assert.Equal(t, "list_articles", fn["name"])
	assert.Contains(t, fn["parameters"], "properties")
}

func TestOpenAIProvider_EncodeRequestStreaming(t *testing.T) {
	provider := NewOpenAIProvider()

	req := &chat.Request{
		Model:    "gpt-4o",
		Messages: []chat.Message{chat.UserMessage("hi")},
		Stream:   true,
	}

	wireReq, err := provider.EncodeRequest("https://proxy.internal/v1/chat", "sk-test", req)
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.internal/v1/chat", wireReq.URL)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(wireReq.Body, &wire))
	assert.Equal(t, true, wire["stream"])
	streamOpts := wire["stream_options"].(map[string]any)
	assert.Equal(t, true, streamOpts["include_usage"])
}

func TestOpenAIProvider_EncodeToolRoundTrip(t *testing.T) {
	provider := NewOpenAIProvider()

	// A conversation that already went through one tool round.
	req := &chat.Request{
		Model: "gpt-4o",
		Messages: []chat.Message{
			chat.UserMessage("What is in the media library?"),
			chat.AssistantMessage("", []chat.ToolCall{
				{ID: "call_1", Name: "list_media", Arguments: `{"folder":"images"}`},
				{ID: "call_2", Name: "count_media", Arguments: ""},
			}),
			chat.ToolResultMessage("call_1", `["hero.png","logo.svg"]`),
			chat.ToolResultMessage("call_2", "2"),
		},
	}

	wireReq, err := provider.EncodeRequest("", "sk-test", req)
	require.NoError(t, err)

	var wire struct {
		Messages []openAIMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(wireReq.Body, &wire))
	require.Len(t, wire.Messages, 4)

	assistant := wire.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "function", assistant.ToolCalls[0].Type)
	assert.Equal(t, `{"folder":"images"}`, assistant.ToolCalls[0].Function.Arguments)
	// Empty arguments are normalized so the wire never carries a bare string.
	assert.Equal(t, "{}", assistant.ToolCalls[1].Function.Arguments)

	result := wire.Messages[2]
	assert.Equal(t, "tool", result.Role)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, `["hero.png","logo.svg"]`, result.Content)
}

func TestOpenAIProvider_ParseResponse(t *testing.T) {
	provider := NewOpenAIProvider()

	body := `{
		"id": "chatcmpl-1",
		"model": "gpt-4o-2024-08-06",
		"choices": [{
			"message": {
				"role": "assistant",
				"content": "Here are the drafts.",
				"tool_calls": [{
					"id": "call_9",
					"type": "function",
					"function": {"name": "list_articles", "arguments": "{\"status\":\"draft\"}"}
				}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 40, "completion_tokens": 12}
	}`

	resp, err := provider.ParseResponse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "Here are the drafts.", resp.Content)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, `{"status":"draft"}`, resp.ToolCalls[0].Arguments)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 40, resp.Usage.PromptTokens)
	assert.Equal(t, 12, resp.Usage.CompletionTokens)
	assert.False(t, resp.Usage.Estimated)
}

func TestOpenAIProvider_ParseResponseErrors(t *testing.T) {
	provider := NewOpenAIProvider()

	_, err := provider.ParseResponse([]byte("not json"))
	assert.Error(t, err)

	_, err = provider.ParseResponse([]byte(`{"choices": []}`))
	assert.Error(t, err)
}

func TestOpenAIProvider_DecodeStreamText(t *testing.T) {
	provider := NewOpenAIProvider()
	st := &StreamState{}

	records := []string{
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"delta":{"content":"Hel"}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"delta":{"content":"lo"}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
		`[DONE]`,
	}

	var all []chat.Delta
	for _, record := range records {
		deltas, err := provider.DecodeStream([]byte(record), st)
		require.NoError(t, err)
		all = append(all, deltas...)
	}

	assert.True(t, st.Done)
	resp := st.Finalize()
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.PromptTokens)

	var texts []string
	for _, d := range all {
		if d.Type == chat.DeltaText {
			texts = append(texts, d.Text)
		}
	}
	assert.Equal(t, []string{"Hel", "lo"}, texts)
}

func TestOpenAIProvider_DecodeStreamToolCalls(t *testing.T) {
	provider := NewOpenAIProvider()
	st := &StreamState{}

	// Two interleaved calls: the first chunk of each carries id and name,
	// later chunks carry only the positional index and an argument fragment.
	records := []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"list_articles","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"sta"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"count_media","arguments":"{"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"tus\":\"draft\"}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	}

	for _, record := range records {
		_, err := provider.DecodeStream([]byte(record), st)
		require.NoError(t, err)
	}

	resp := st.Finalize()
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call_a", resp.ToolCalls[0].ID)
	assert.Equal(t, "list_articles", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"status":"draft"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, "call_b", resp.ToolCalls[1].ID)
	assert.Equal(t, "{}", resp.ToolCalls[1].Arguments)
}

func TestOpenAIProvider_DecodeStreamMixedChunk(t *testing.T) {
	provider := NewOpenAIProvider()
	st := &StreamState{}

	// One chunk carrying assistant text and a tool-call fragment together:
	// both must survive.
	records := []string{
		`{"choices":[{"delta":{"content":"Let me check.","tool_calls":[{"index":0,"id":"call_a","function":{"name":"lookup","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	}

	var all []chat.Delta
	for _, record := range records {
		deltas, err := provider.DecodeStream([]byte(record), st)
		require.NoError(t, err)
		all = append(all, deltas...)
	}

	resp := st.Finalize()
	assert.Equal(t, "Let me check.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_a", resp.ToolCalls[0].ID)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)

	// The live stream saw the text too, before the call started.
	require.GreaterOrEqual(t, len(all), 2)
	assert.Equal(t, chat.DeltaText, all[0].Type)
	assert.Equal(t, "Let me check.", all[0].Text)
	assert.Equal(t, chat.DeltaToolCallStart, all[1].Type)
}

func TestOpenAIProvider_DecodeStreamMalformedRecord(t *testing.T) {
	provider := NewOpenAIProvider()
	st := &StreamState{}

	_, err := provider.DecodeStream([]byte(`{"choices":[{"delta":{"content":"ok"}}]}`), st)
	require.NoError(t, err)

	// A corrupt frame errors without touching accumulated state.
	_, err = provider.DecodeStream([]byte(`{"choices":[{"delta"`), st)
	require.Error(t, err)

	_, err = provider.DecodeStream([]byte(`{"choices":[{"delta":{"content":"!"}}]}`), st)
	require.NoError(t, err)

	assert.Equal(t, "ok!", st.Finalize().Content)
}

func TestOpenAIProvider_ConvertStopReason(t *testing.T) {
	provider := NewOpenAIProvider()

	tests := []struct {
		reason   string
		expected string
	}{
		{"stop", "end_turn"},
		{"length", "max_tokens"},
		{"tool_calls", "tool_use"},
		{"function_call", "tool_use"},
		{"content_filter", "stop_sequence"},
		{"something_new", "end_turn"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.expected, provider.convertStopReason(tt.reason))
		})
	}
}
