package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paneldesk/assistant-bridge/internal/chat"
)

func TestFuncCatalog_ListTools(t *testing.T) {
	catalog := NewFuncCatalog()
	catalog.Register(chat.ToolSchema{Name: "update_page", Description: "Update a page"}, nil)
	catalog.Register(chat.ToolSchema{Name: "list_pages", Description: "List pages"}, nil)
	catalog.Register(chat.ToolSchema{Name: "add_tag", Description: "Attach a tag"}, nil)

	schemas, err := catalog.ListTools(context.Background())
	require.NoError(t, err)

	// Stable, sorted order regardless of registration order.
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"add_tag", "list_pages", "update_page"}, names)
}

func TestFuncCatalog_CallTool(t *testing.T) {
	catalog := NewFuncCatalog()
	catalog.Register(chat.ToolSchema{Name: "echo"},
		func(ctx context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("%v", args["text"]), nil
		})

	out, err := catalog.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestFuncCatalog_CallUnknownTool(t *testing.T) {
	catalog := NewFuncCatalog()

	_, err := catalog.CallTool(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestFuncCatalog_RegisterReplaces(t *testing.T) {
	catalog := NewFuncCatalog()
	catalog.Register(chat.ToolSchema{Name: "echo"},
		func(ctx context.Context, args map[string]any) (string, error) {
			return "old", nil
		})
	catalog.Register(chat.ToolSchema{Name: "echo"},
		func(ctx context.Context, args map[string]any) (string, error) {
			return "new", nil
		})

	schemas, err := catalog.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, schemas, 1)

	out, err := catalog.CallTool(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "new", out)
}
