// Package agent talks to the external coding agent that researches,
// drafts, fixes and documents a skill.
package agent

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrStreamClosed is returned when a response stream ends without a
// terminal fragment.
var ErrStreamClosed = errors.New("agent stream closed without a result")

// Fragment is one piece of a streamed agent response: *Text, *ToolUse or
// *Terminal.
type Fragment interface {
	fragment()
}

type Text struct {
	Text string
}

// ToolUse reports that the agent invoked a tool. It is informational only.
type ToolUse struct {
	Name  string
	Input json.RawMessage
}

// Terminal ends a response. Err is set when the round failed.
type Terminal struct {
	Err       error
	SessionID string
	CostUSD   float64
}

func (*Text) fragment()     {}
func (*ToolUse) fragment()  {}
func (*Terminal) fragment() {}

// Agent accepts one instruction at a time and streams the response.
// Instructions sent to the same Agent share conversational context.
// The channel is closed after the terminal fragment or when ctx is done.
type Agent interface {
	Send(ctx context.Context, instruction string) (<-chan Fragment, error)
}

// Factory creates a fresh agent session for the named task.
type Factory func(taskName string) (Agent, error)
