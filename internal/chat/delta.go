package chat

// DeltaType discriminates the incremental events emitted by a stream decoder.
type DeltaType string

const (
	// DeltaText carries a fragment of assistant text.
	DeltaText DeltaType = "text"
	// DeltaToolCallStart announces a new tool call (id and name known).
	DeltaToolCallStart DeltaType = "tool_call_start"
	// DeltaToolCallArg carries a fragment of a tool call's argument JSON.
	DeltaToolCallArg DeltaType = "tool_call_arg"
	// DeltaToolCallEnd marks a tool call's arguments as fully assembled.
	DeltaToolCallEnd DeltaType = "tool_call_end"
	// DeltaUsage carries token counters reported mid-stream.
	DeltaUsage DeltaType = "usage"
	// DeltaDone marks the end of the stream.
	DeltaDone DeltaType = "done"
)

// Delta is one unit of decoded streaming output. Text doubles as the argument
// fragment for DeltaToolCallArg events.
type Delta struct {
	Type       DeltaType
	Text       string
	ToolCallID string
	ToolName   string
	Usage      *Usage
}
