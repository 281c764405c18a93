package orchestrator

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/paneldesk/assistant-bridge/internal/chat"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateUsage derives token counters locally when a backend reports none,
// so the admin panel's usage display never shows zeros. Counts use the
// cl100k_base encoding, which is close enough across vendors for display
// purposes; the result is marked Estimated.
func estimateUsage(req *chat.Request, resp *chat.Response) *chat.Usage {
	encodingOnce.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding == nil {
		return nil
	}

	usage := &chat.Usage{Estimated: true}

	for _, m := range req.Messages {
		usage.PromptTokens += len(encoding.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			usage.PromptTokens += len(encoding.Encode(tc.Arguments, nil, nil))
		}
	}

	usage.CompletionTokens = len(encoding.Encode(resp.Content, nil, nil))
	for _, tc := range resp.ToolCalls {
		usage.CompletionTokens += len(encoding.Encode(tc.Arguments, nil, nil))
	}

	return usage
}
