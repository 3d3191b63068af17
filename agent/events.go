package agent

import (
	"context"
	"encoding/json"
)

// Event is an execution signal produced by the scheduler in real time.
// The concrete types are ModelTokenEvent, ToolStartEvent, ToolEndEvent,
// TerminalEvent and FailureEvent.
type Event interface {
	eventName() string
}

// ModelTokenEvent carries one incremental fragment of model output.
type ModelTokenEvent struct {
	Text string
}

// ToolStartEvent is emitted right before a tool call is dispatched.
type ToolStartEvent struct {
	ToolName string
	CallID   string
	Input    json.RawMessage
}

// ToolEndEvent is emitted once a tool call has a result.
type ToolEndEvent struct {
	ToolName string
	CallID   string
	Output   any
	IsError  bool
}

// TerminalEvent ends a successful execution.
type TerminalEvent struct {
	FinalMessage Message
}

// FailureEvent ends a failed execution.
type FailureEvent struct {
	Reason string
	Err    error
}

func (ModelTokenEvent) eventName() string { return "model_token" }
func (ToolStartEvent) eventName() string  { return "tool_start" }
func (ToolEndEvent) eventName() string    { return "tool_end" }
func (TerminalEvent) eventName() string   { return "terminal" }
func (FailureEvent) eventName() string    { return "failure" }

// EventName returns a stable name for logging and metrics.
func EventName(ev Event) string {
	return ev.eventName()
}

// Sink consumes execution events in emission order. Emit blocks while the
// consumer applies backpressure and returns an error wrapping
// ErrTransportClosed once nothing downstream can receive events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
