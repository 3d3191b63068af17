package agent

import "errors"

// Execution errors. Node failures are wrapped with one of these sentinels and
// classified by the scheduler with errors.Is.
var (
	// ErrModelInvocation marks an unreachable backend or a malformed response.
	ErrModelInvocation = errors.New("model invocation failed")

	// ErrToolExecution marks a failed tool call. It is folded into the tool
	// result and never ends an execution.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrTransportClosed is returned by a Sink once the client is gone.
	ErrTransportClosed = errors.New("transport closed")

	// ErrCheckpointPersistence marks a failed checkpoint write.
	ErrCheckpointPersistence = errors.New("checkpoint persistence failed")

	// ErrMaxCyclesExceeded is the failure reason when the model keeps
	// requesting tools past the configured cycle budget.
	ErrMaxCyclesExceeded = errors.New("maximum tool cycles exceeded")

	// ErrUnknownToolCall marks a tool result that answers no live call.
	ErrUnknownToolCall = errors.New("tool result references unknown or resolved call")

	// ErrExecutionCancelled marks an execution stopped by its context
	// (explicit stop or request timeout).
	ErrExecutionCancelled = errors.New("execution cancelled")

	// ErrEmptyMessage is returned when an execution is started without input.
	ErrEmptyMessage = errors.New("new message is empty")
)
