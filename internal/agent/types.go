package agent

import (
	"encoding/json"

	"github.com/chadiek/algoviz/internal/playback"
)

// Player is the slice of the playback engine the agent may drive.
type Player interface {
	Pause(origin playback.Origin)
	GoToIndex(i int, origin playback.Origin)
	PlayRange(from, to int, origin playback.Origin)
	State() playback.State
}

// CodeDisplay is the source panel's agent-driven highlight.
type CodeDisplay interface {
	HighlightLines(start, end int)
	ClearHighlight()
}

// Conn is the outbound half of the agent connection. Sends must not block.
type Conn interface {
	Connected() bool
	SendText(text string) error
	SendFunctionResult(callID string, result any) error
}

// FunctionCall is one tool invocation received from the agent.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	CallID    string          `json:"call_id"`
}

// Result is the JSON object returned for a tool call.
type Result map[string]any

func errorResult(msg string) Result { return Result{"error": msg} }

// Failed reports whether r is an error result.
func (r Result) Failed() bool {
	_, ok := r["error"]
	return ok
}
