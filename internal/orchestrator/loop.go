package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/config"
	"github.com/paneldesk/assistant-bridge/internal/providers"
)

// loopState names the phases of one orchestration run.
type loopState int

const (
	stateAwaitingModel loopState = iota
	stateExecutingTools
	stateFinal
)

// runLoop drives the tool-call state machine: awaiting-model →
// executing-tools → awaiting-model until a response carries no tool calls or
// the round bound is hit. The bound is structural — a counter, not a
// recursion depth — so termination is guaranteed even against a backend that
// never stops requesting tools.
func (c *Client) runLoop(ctx context.Context, provider providers.Provider, pc *config.Provider, model string, conversation []chat.Message, toolSchemas []chat.ToolSchema, opts Options) (*chat.Response, error) {
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = config.DefaultMaxToolRounds
	}

	// The run appends to its own copy; the caller's conversation and all
	// prior turns stay untouched.
	conv := append([]chat.Message(nil), conversation...)

	rounds := 0
	state := stateAwaitingModel

	var resp *chat.Response
	for state != stateFinal {
		switch state {
		case stateAwaitingModel:
			var err error
			resp, err = c.dispatch(ctx, provider, pc, model, conv, toolSchemas, opts)
			if err != nil {
				return nil, err
			}

			if len(resp.ToolCalls) == 0 {
				state = stateFinal
				break
			}
			if rounds >= maxRounds {
				return nil, fmt.Errorf("%d tool rounds on %s: %w",
					rounds, provider.Name(), chat.ErrMaxRoundsExceeded)
			}
			state = stateExecutingTools

		case stateExecutingTools:
			rounds++
			conv = append(conv, chat.AssistantMessage(resp.Content, resp.ToolCalls))

			// Sequential, in the order the model emitted them: some backends
			// rely on that ordering for id correlation.
			for _, call := range resp.ToolCalls {
				result := c.executeCall(ctx, call)
				conv = append(conv, chat.ToolResultMessage(call.ID, result))
			}
			state = stateAwaitingModel
		}
	}

	return resp, nil
}

// executeCall resolves one tool call. Failures never abort the run: they are
// folded into the result text so the model can react on its next turn.
func (c *Client) executeCall(ctx context.Context, call chat.ToolCall) string {
	args, err := parseArguments(call.Arguments)
	if err != nil {
		c.logger.Warn("Tool call has invalid arguments", "tool", call.Name, "error", err)
		return "ERROR: invalid tool arguments: " + err.Error()
	}

	if c.catalog == nil {
		return "ERROR: no tool catalog available"
	}

	c.logger.Debug("Executing tool call", "tool", call.Name, "id", call.ID)
	out, err := c.catalog.CallTool(ctx, call.Name, args)
	if err != nil {
		c.logger.Warn("Tool call failed", "tool", call.Name, "error", err)
		return "ERROR: " + err.Error()
	}
	return out
}

// parseArguments enforces that only fully-formed argument objects reach the
// catalog; partially-assembled fragments fail here instead.
func parseArguments(arguments string) (map[string]any, error) {
	if arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
