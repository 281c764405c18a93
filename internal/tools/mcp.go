package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/config"
)

// MCPCatalog aggregates the tools of one or more MCP servers behind the
// Catalog contract, routing each call to the server that advertised the tool.
type MCPCatalog struct {
	logger   *slog.Logger
	sessions map[string]*mcp.ClientSession
	tool2srv map[string]string
	tools    []chat.ToolSchema
}

// ConnectMCP connects to every configured server and collects its tools.
// Servers that fail to connect or list are skipped with a warning so one bad
// server does not take the whole catalog down.
func ConnectMCP(ctx context.Context, servers map[string]config.MCPServer, logger *slog.Logger) (*MCPCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &MCPCatalog{
		logger:   logger,
		sessions: make(map[string]*mcp.ClientSession),
		tool2srv: make(map[string]string),
	}

	for name, spec := range servers {
		var tp mcp.Transport
		switch {
		case spec.Command != "":
			tp = &mcp.CommandTransport{Command: exec.Command(spec.Command, spec.Args...)}
		case spec.URL != "":
			tp = &mcp.SSEClientTransport{Endpoint: spec.URL}
		default:
			continue
		}

		cli := mcp.NewClient(&mcp.Implementation{Name: "assistant-bridge", Version: "0.1.0"}, nil)
		session, err := cli.Connect(ctx, tp, nil)
		if err != nil {
			logger.Warn("Failed to connect to MCP server", "server", name, "error", err)
			continue
		}
		c.sessions[name] = session

		resp, err := session.ListTools(ctx, nil)
		if err != nil {
			logger.Warn("Failed to list MCP tools", "server", name, "error", err)
			continue
		}
		for _, tl := range resp.Tools {
			schema, err := flattenSchema(tl.InputSchema)
			if err != nil {
				logger.Warn("Skipping tool with bad schema", "tool", tl.Name, "error", err)
				continue
			}
			c.tools = append(c.tools, chat.ToolSchema{
				Name:        tl.Name,
				Description: tl.Description,
				Parameters:  schema,
			})
			c.tool2srv[tl.Name] = name
		}
	}

	return c, nil
}

func (c *MCPCatalog) ListTools(ctx context.Context) ([]chat.ToolSchema, error) {
	return c.tools, nil
}

func (c *MCPCatalog) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	serverName, ok := c.tool2srv[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	session, ok := c.sessions[serverName]
	if !ok {
		return "", fmt.Errorf("server not connected for tool: %s", name)
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	// Flatten the content blocks into a single string for the model.
	out, err := json.Marshal(res.Content)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(out), nil
}

// Close shuts down all server sessions.
func (c *MCPCatalog) Close() error {
	var firstErr error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close MCP session %s: %w", name, err)
		}
	}
	return firstErr
}

// flattenSchema converts the SDK's schema representation into the plain
// JSON-schema map the translators embed in wire requests.
func flattenSchema(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object"}, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}
