package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paneldesk/assistant-bridge/internal/chat"
)

func TestAnthropicProvider_BasicMethods(t *testing.T) {
	provider := NewAnthropicProvider()

	assert.Equal(t, "anthropic", provider.Name())
	assert.True(t, provider.SupportsStreaming())
	assert.True(t, provider.NeedsAPIKey())
}

func TestAnthropicProvider_EncodeRequest(t *testing.T) {
	provider := NewAnthropicProvider()

	req := &chat.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []chat.Message{
			chat.SystemMessage("You are a CMS assistant"),
			chat.UserMessage("Summarize the latest article"),
		},
		Tools: []chat.ToolSchema{
			{Name: "get_article", Description: "Fetch one article"},
		},
	}

	wireReq, err := provider.EncodeRequest("", "sk-ant", req)
	require.NoError(t, err)

	assert.Equal(t, defaultAnthropicEndpoint, wireReq.URL)
	assert.Equal(t, "sk-ant", wireReq.Headers["X-API-Key"])
	assert.Equal(t, anthropicVersion, wireReq.Headers["Anthropic-Version"])

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(wireReq.Body, &wire))

	// System turns are hoisted out of the conversation.
	assert.Equal(t, "You are a CMS assistant", wire.System)
	require.Len(t, wire.Messages, 1)
	assert.Equal(t, "user", wire.Messages[0].Role)
	assert.Equal(t, "Summarize the latest article", wire.Messages[0].Content[0].Text)

	assert.Equal(t, defaultAnthropicMaxTok, wire.MaxTokens)

	require.Len(t, wire.Tools, 1)
	assert.Equal(t, "get_article", wire.Tools[0].Name)
	// A missing parameter schema still produces a valid input_schema.
	assert.Equal(t, map[string]any{"type": "object"}, wire.Tools[0].InputSchema)
}

func TestAnthropicProvider_EncodeToolTurns(t *testing.T) {
	provider := NewAnthropicProvider()

	req := &chat.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []chat.Message{
			chat.UserMessage("Archive stale pages"),
			chat.AssistantMessage("Let me check.", []chat.ToolCall{
				{ID: "toolu_1", Name: "list_pages", Arguments: `{"status":"stale"}`},
				{ID: "toolu_2", Name: "count_pages", Arguments: ""},
			}),
			chat.ToolResultMessage("toolu_1", `["about","pricing"]`),
			chat.ToolResultMessage("toolu_2", "2"),
			chat.UserMessage("Go ahead"),
		},
	}

	wireReq, err := provider.EncodeRequest("", "sk-ant", req)
	require.NoError(t, err)

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(wireReq.Body, &wire))

	// user, assistant, merged tool results, user.
	require.Len(t, wire.Messages, 4)

	assistant := wire.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 3)
	assert.Equal(t, "text", assistant.Content[0].Type)
	assert.Equal(t, "Let me check.", assistant.Content[0].Text)
	assert.Equal(t, "tool_use", assistant.Content[1].Type)
	assert.Equal(t, "toolu_1", assistant.Content[1].ID)
	assert.Equal(t, "list_pages", assistant.Content[1].Name)
	assert.JSONEq(t, `{"status":"stale"}`, string(assistant.Content[1].Input))
	assert.JSONEq(t, `{}`, string(assistant.Content[2].Input))

	// The two adjacent tool turns collapse into one user turn.
	merged := wire.Messages[2]
	assert.Equal(t, "user", merged.Role)
	require.Len(t, merged.Content, 2)
	assert.Equal(t, "tool_result", merged.Content[0].Type)
	assert.Equal(t, "toolu_1", merged.Content[0].ToolUseID)
	assert.Equal(t, `["about","pricing"]`, merged.Content[0].Content)
	assert.Equal(t, "toolu_2", merged.Content[1].ToolUseID)

	assert.Equal(t, "user", wire.Messages[3].Role)
	assert.Equal(t, "Go ahead", wire.Messages[3].Content[0].Text)
}

func TestAnthropicProvider_EncodeBatchedToolResults(t *testing.T) {
	provider := NewAnthropicProvider()

	batched := chat.Message{
		Role: chat.RoleTool,
		Ext: map[string]any{
			chat.ExtAnthropicBatch: []chat.ToolResult{
				{CallID: "toolu_1", Content: "ok"},
				{CallID: "toolu_2", Content: "permission denied", IsError: true},
			},
		},
	}

	req := &chat.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []chat.Message{
			chat.UserMessage("run both"),
			chat.AssistantMessage("", []chat.ToolCall{
				{ID: "toolu_1", Name: "a"},
				{ID: "toolu_2", Name: "b"},
			}),
			batched,
		},
	}

	wireReq, err := provider.EncodeRequest("", "sk-ant", req)
	require.NoError(t, err)

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(wireReq.Body, &wire))
	require.Len(t, wire.Messages, 3)

	results := wire.Messages[2]
	assert.Equal(t, "user", results.Role)
	require.Len(t, results.Content, 2)
	assert.Equal(t, "toolu_1", results.Content[0].ToolUseID)
	assert.False(t, results.Content[0].IsError)
	assert.Equal(t, "toolu_2", results.Content[1].ToolUseID)
	assert.True(t, results.Content[1].IsError)
}

func TestAnthropicProvider_ParseResponse(t *testing.T) {
	provider := NewAnthropicProvider()

	body := `{
		"id": "msg_1",
		"model": "claude-sonnet-4-20250514",
		"content": [
			{"type": "text", "text": "Checking the archive."},
			{"type": "tool_use", "id": "toolu_7", "name": "list_pages", "input": {"status": "archived"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 30, "output_tokens": 11}
	}`

	resp, err := provider.ParseResponse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "Checking the archive.", resp.Content)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_7", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"status":"archived"}`, resp.ToolCalls[0].Arguments)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 30, resp.Usage.PromptTokens)
	assert.Equal(t, 11, resp.Usage.CompletionTokens)
}

func TestAnthropicProvider_DecodeStream(t *testing.T) {
	provider := NewAnthropicProvider()
	st := &StreamState{}

	records := []string{
		`{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":25}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"look."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_3","name":"search_pages"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"faq\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":14}}`,
		`{"type":"message_stop"}`,
	}

	var all []chat.Delta
	for _, record := range records {
		deltas, err := provider.DecodeStream([]byte(record), st)
		require.NoError(t, err)
		all = append(all, deltas...)
	}

	assert.True(t, st.Done)
	assert.Equal(t, "msg_1", st.MessageID)

	resp := st.Finalize()
	assert.Equal(t, "Let me look.", resp.Content)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_3", resp.ToolCalls[0].ID)
	assert.Equal(t, "search_pages", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"query":"faq"}`, resp.ToolCalls[0].Arguments)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 25, resp.Usage.PromptTokens)
	assert.Equal(t, 14, resp.Usage.CompletionTokens)

	// The argument fragments surface in arrival order before the end marker.
	var argDeltas []chat.Delta
	for _, d := range all {
		if d.Type == chat.DeltaToolCallArg {
			argDeltas = append(argDeltas, d)
		}
	}
	require.Len(t, argDeltas, 2)
	assert.Equal(t, `{"query":`, argDeltas[0].Text)
	assert.Equal(t, `"faq"}`, argDeltas[1].Text)
}

func TestAnthropicProvider_DecodeStreamIgnoresPing(t *testing.T) {
	provider := NewAnthropicProvider()
	st := &StreamState{}

	deltas, err := provider.DecodeStream([]byte(`{"type":"ping"}`), st)
	require.NoError(t, err)
	assert.Empty(t, deltas)

	_, err = provider.DecodeStream([]byte(`{"type":`), st)
	assert.Error(t, err)
}
