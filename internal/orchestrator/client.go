// Package orchestrator dispatches canonical conversations to a selected
// provider and drives the bounded tool-call loop until the model produces a
// final answer.
package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/config"
	"github.com/paneldesk/assistant-bridge/internal/providers"
	"github.com/paneldesk/assistant-bridge/internal/tools"
	"github.com/paneldesk/assistant-bridge/internal/transport"
)

// Transport issues the outbound requests built by the translators. Satisfied
// by transport.Client; stubbed in tests.
type Transport interface {
	Do(ctx context.Context, req *transport.Request) ([]byte, error)
	Open(ctx context.Context, req *transport.Request) (io.ReadCloser, error)
}

// Options selects the backend and shapes one SendMessage run.
type Options struct {
	Provider  string
	Model     string
	Tools     []chat.ToolSchema
	Stream    bool
	MaxTokens int

	// MaxRounds bounds the number of tool-call rounds; 0 applies the
	// configured default.
	MaxRounds int

	// OnDelta receives live decoded fragments during streaming.
	OnDelta func(chat.Delta)
}

// Client is the dispatch orchestrator.
type Client struct {
	registry  *providers.Registry
	transport Transport
	catalog   tools.Catalog
	logger    *slog.Logger
}

// New creates a Client. catalog may be nil when no tools are available;
// a nil logger falls back to slog.Default().
func New(registry *providers.Registry, tr Transport, catalog tools.Catalog, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		registry:  registry,
		transport: tr,
		catalog:   catalog,
		logger:    logger,
	}
}

// SendMessage validates the provider selection, advertises the available
// tools, and runs the conversation through the tool-call loop until the
// model answers without requesting execution. The input conversation is
// never mutated.
func (c *Client) SendMessage(ctx context.Context, conversation []chat.Message, opts Options) (*chat.Response, error) {
	provider, pc, err := c.registry.Lookup(opts.Provider)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" && len(pc.Models) > 0 {
		model = pc.Models[0]
	}
	if model == "" {
		return nil, fmt.Errorf("%q: %w", opts.Provider, chat.ErrModelNotFound)
	}
	if opts.Model != "" && len(pc.Models) > 0 && !containsModel(pc.Models, opts.Model) {
		return nil, fmt.Errorf("%q on %q: %w", opts.Model, opts.Provider, chat.ErrModelNotFound)
	}

	toolSchemas := opts.Tools
	if toolSchemas == nil && c.catalog != nil {
		toolSchemas, err = c.catalog.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
	}

	return c.runLoop(ctx, provider, pc, model, conversation, toolSchemas, opts)
}

// dispatch performs one model turn: translate, send, decode.
func (c *Client) dispatch(ctx context.Context, provider providers.Provider, pc *config.Provider, model string, conversation []chat.Message, toolSchemas []chat.ToolSchema, opts Options) (*chat.Response, error) {
	streaming := opts.Stream && provider.SupportsStreaming()

	req := &chat.Request{
		Model:     model,
		Messages:  conversation,
		Tools:     toolSchemas,
		Stream:    streaming,
		MaxTokens: opts.MaxTokens,
	}

	wireReq, err := provider.EncodeRequest(pc.APIBase, pc.ResolveAPIKey(), req)
	if err != nil {
		return nil, fmt.Errorf("encode request for %s: %w", provider.Name(), err)
	}

	c.logger.Debug("Dispatching request",
		"provider", provider.Name(),
		"model", model,
		"streaming", streaming,
		"messages", len(conversation),
	)

	var resp *chat.Response
	if streaming {
		body, err := c.transport.Open(ctx, wireReq)
		if err != nil {
			return nil, err
		}
		resp, err = c.decodeStream(ctx, provider, body, opts.OnDelta)
		body.Close()
		if err != nil {
			return nil, err
		}
	} else {
		data, err := c.transport.Do(ctx, wireReq)
		if err != nil {
			return nil, err
		}
		resp, err = provider.ParseResponse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s response: %w", provider.Name(), err)
		}
	}

	if resp.Usage == nil {
		resp.Usage = estimateUsage(req, resp)
	}
	if resp.Model == "" {
		resp.Model = model
	}

	return resp, nil
}

// decodeStream frames the raw stream into records and feeds them to the
// provider's decoder. Framing covers both SSE (event/data lines) and
// newline-delimited JSON; malformed records are skipped so one corrupt frame
// cannot kill an otherwise healthy stream. Exhaustion without an explicit
// completion marker still finalizes cleanly.
func (c *Client) decodeStream(ctx context.Context, provider providers.Provider, body io.Reader, onDelta func(chat.Delta)) (*chat.Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	state := &providers.StreamState{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			// Abandoned decode: partial accumulations are discarded.
			return nil, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}

		record := line
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			record = strings.TrimSpace(data)
		}
		if record == "" {
			continue
		}

		deltas, err := provider.DecodeStream([]byte(record), state)
		if err != nil {
			c.logger.Warn("Skipping malformed stream record",
				"provider", provider.Name(), "error", err)
			continue
		}

		if onDelta != nil {
			for _, d := range deltas {
				onDelta(d)
			}
		}

		if state.Done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("Stream read ended with error", "provider", provider.Name(), "error", err)
	}

	return state.Finalize(), nil
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
