// Package providers contains one message translator and stream decoder per
// backend family, plus the registry that validates provider selection before
// any network activity.
package providers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/config"
	"github.com/paneldesk/assistant-bridge/internal/transport"
)

// Provider is the contract every backend family implements: encode a
// canonical request into the family's wire shape, parse a complete response
// body, and decode one framed stream record at a time.
type Provider interface {
	Name() string
	SupportsStreaming() bool
	NeedsAPIKey() bool

	// EncodeRequest is a pure function of its inputs: it never touches the
	// network and never mutates the conversation it is given.
	EncodeRequest(endpoint, apiKey string, req *chat.Request) (*transport.Request, error)

	// ParseResponse parses a complete (non-streaming) response body.
	ParseResponse(body []byte) (*chat.Response, error)

	// DecodeStream decodes one framed record, mutating st and returning the
	// delta events the record produced. A malformed record returns an error;
	// the caller skips it and keeps decoding.
	DecodeStream(record []byte, st *StreamState) ([]chat.Delta, error)
}

// StreamState accumulates one streaming decode pass: assistant text, per-call
// argument buffers keyed by id, and usage. It serves the live delta consumer
// and the final Response from the same pass, and lives only for that pass.
type StreamState struct {
	MessageID  string
	Model      string
	StopReason string
	Done       bool
	Usage      *chat.Usage

	content strings.Builder
	calls   []*ToolCallState
	byID    map[string]*ToolCallState
	byIndex map[int]*ToolCallState
}

// ToolCallState tracks a single tool call during streaming. Arguments are
// concatenated strictly in arrival order; Complete is set only by an explicit
// end marker from the backend.
type ToolCallState struct {
	ID       string
	Name     string
	Complete bool

	args strings.Builder
}

// Arguments returns the argument JSON accumulated so far.
func (t *ToolCallState) Arguments() string {
	return t.args.String()
}

// AppendText records an assistant text fragment and returns its delta.
func (st *StreamState) AppendText(text string) chat.Delta {
	st.content.WriteString(text)
	return chat.Delta{Type: chat.DeltaText, Text: text}
}

// StartCall registers a new tool call. wireIndex is the backend's own
// positional key for later fragment correlation (-1 when the backend
// correlates by id only).
func (st *StreamState) StartCall(id, name string, wireIndex int) (*ToolCallState, chat.Delta) {
	if st.byID == nil {
		st.byID = make(map[string]*ToolCallState)
	}
	if st.byIndex == nil {
		st.byIndex = make(map[int]*ToolCallState)
	}

	call := &ToolCallState{ID: id, Name: name}
	st.calls = append(st.calls, call)
	st.byID[id] = call
	if wireIndex >= 0 {
		st.byIndex[wireIndex] = call
	}

	return call, chat.Delta{Type: chat.DeltaToolCallStart, ToolCallID: id, ToolName: name}
}

// CallByID looks up an in-flight call by its id.
func (st *StreamState) CallByID(id string) *ToolCallState {
	return st.byID[id]
}

// CallByIndex looks up an in-flight call by the backend's positional key.
func (st *StreamState) CallByIndex(wireIndex int) *ToolCallState {
	return st.byIndex[wireIndex]
}

// AppendArgs concatenates an argument fragment in arrival order and returns
// its delta.
func (st *StreamState) AppendArgs(call *ToolCallState, fragment string) chat.Delta {
	call.args.WriteString(fragment)
	return chat.Delta{Type: chat.DeltaToolCallArg, ToolCallID: call.ID, Text: fragment}
}

// EndCall marks a call's arguments fully assembled and returns its delta.
func (st *StreamState) EndCall(call *ToolCallState) chat.Delta {
	call.Complete = true
	return chat.Delta{Type: chat.DeltaToolCallEnd, ToolCallID: call.ID}
}

// EndOpenCalls completes every call that has not seen its own end marker.
// Used by families whose terminal record closes all calls at once.
func (st *StreamState) EndOpenCalls() []chat.Delta {
	var deltas []chat.Delta
	for _, call := range st.calls {
		if !call.Complete {
			deltas = append(deltas, st.EndCall(call))
		}
	}
	return deltas
}

// SetUsage records reported token counters and returns the usage delta.
func (st *StreamState) SetUsage(usage *chat.Usage) chat.Delta {
	st.Usage = usage
	return chat.Delta{Type: chat.DeltaUsage, Usage: usage}
}

// Finish marks the stream complete and returns the done delta.
func (st *StreamState) Finish(stopReason string) chat.Delta {
	if stopReason != "" {
		st.StopReason = stopReason
	}
	st.Done = true
	return chat.Delta{Type: chat.DeltaDone}
}

// Finalize assembles the canonical Response once decoding ends. Calls that
// never saw an end marker are kept only when their accumulated arguments
// already form a valid JSON object; partially-assembled calls are dropped so
// they can never reach the tool executor.
func (st *StreamState) Finalize() *chat.Response {
	resp := &chat.Response{
		Content:    st.content.String(),
		Model:      st.Model,
		StopReason: st.StopReason,
		Usage:      st.Usage,
	}

	for _, call := range st.calls {
		args := call.args.String()
		if args == "" {
			args = "{}"
		}
		if !call.Complete && !json.Valid([]byte(args)) {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: args,
		})
	}

	return resp
}

// Registry maps provider names to implementations and their static
// configuration. It is read-only after Configure.
type Registry struct {
	providers map[string]Provider
	configs   map[string]config.Provider
}

func NewRegistry() *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		configs:   make(map[string]config.Provider),
	}
	r.Register(NewOpenAIProvider())
	r.Register(NewAnthropicProvider())
	r.Register(NewGeminiProvider())
	r.Register(NewOllamaProvider())
	return r
}

// Register adds a provider implementation to the registry.
func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

// Configure installs the static backend configuration.
func (r *Registry) Configure(cfg *config.Config) {
	for _, pc := range cfg.Providers {
		r.configs[pc.Name] = pc
	}
}

// Lookup validates a provider selection and returns the implementation plus
// its configuration. Unknown or disabled providers fail here, before any
// network attempt.
func (r *Registry) Lookup(name string) (Provider, *config.Provider, error) {
	provider, exists := r.providers[name]
	if !exists {
		return nil, nil, fmt.Errorf("%q: %w", name, chat.ErrProviderNotFound)
	}

	pc, configured := r.configs[name]
	if !configured {
		return nil, nil, fmt.Errorf("%q: %w", name, chat.ErrProviderNotFound)
	}
	if pc.Disabled {
		return nil, nil, fmt.Errorf("%q: %w", name, chat.ErrProviderDisabled)
	}
	if provider.NeedsAPIKey() && pc.ResolveAPIKey() == "" {
		return nil, nil, fmt.Errorf("%q has no credential: %w", name, chat.ErrProviderDisabled)
	}

	return provider, &pc, nil
}

// IsEnabled reports whether the named provider would pass Lookup.
func (r *Registry) IsEnabled(name string) bool {
	_, _, err := r.Lookup(name)
	return err == nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns the configured model list for a provider.
func (r *Registry) Models(name string) []string {
	if pc, ok := r.configs[name]; ok {
		return pc.Models
	}
	return nil
}
