// Package tools defines the catalog contract through which the orchestration
// loop discovers and executes named tools, plus two implementations: an
// in-process function catalog and an MCP-backed one.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/paneldesk/assistant-bridge/internal/chat"
)

// Catalog is the external tool surface this layer consumes. Implementations
// may be stateful; the orchestration loop serializes its own access per run
// but makes no cross-run guarantee.
type Catalog interface {
	// ListTools returns the currently available tools with their input schemas.
	ListTools(ctx context.Context) ([]chat.ToolSchema, error)

	// CallTool executes a named tool with already-parsed arguments and
	// returns its textual result.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Func is an in-process tool implementation.
type Func func(ctx context.Context, args map[string]any) (string, error)

// FuncCatalog is a Catalog over plain Go functions, used to embed native
// tools and throughout the tests.
type FuncCatalog struct {
	schemas map[string]chat.ToolSchema
	funcs   map[string]Func
}

func NewFuncCatalog() *FuncCatalog {
	return &FuncCatalog{
		schemas: make(map[string]chat.ToolSchema),
		funcs:   make(map[string]Func),
	}
}

// Register adds a tool. Re-registering a name replaces the previous entry.
func (c *FuncCatalog) Register(schema chat.ToolSchema, fn Func) {
	c.schemas[schema.Name] = schema
	c.funcs[schema.Name] = fn
}

func (c *FuncCatalog) ListTools(ctx context.Context) ([]chat.ToolSchema, error) {
	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]chat.ToolSchema, 0, len(names))
	for _, name := range names {
		out = append(out, c.schemas[name])
	}
	return out, nil
}

func (c *FuncCatalog) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	fn, ok := c.funcs[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return fn(ctx, args)
}
