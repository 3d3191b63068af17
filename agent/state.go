package agent

import (
	"context"
	"fmt"
	"time"
)

// ExecutionState is the per-thread working history owned by one in-flight
// execution. The checkpoint store keeps the latest snapshot per thread.
type ExecutionState struct {
	ThreadID  string    `json:"threadId"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewExecutionState returns an empty state for the given thread.
func NewExecutionState(threadID string) *ExecutionState {
	return &ExecutionState{
		ThreadID: threadID,
		Messages: make([]Message, 0),
	}
}

// Clone returns a copy whose message slice can be appended to independently.
func (s *ExecutionState) Clone() *ExecutionState {
	if s == nil {
		return nil
	}
	messages := make([]Message, len(s.Messages))
	copy(messages, s.Messages)
	return &ExecutionState{
		ThreadID:  s.ThreadID,
		Messages:  messages,
		UpdatedAt: s.UpdatedAt,
	}
}

// IsEmpty reports whether the thread has no committed history yet.
func (s *ExecutionState) IsEmpty() bool {
	return s == nil || len(s.Messages) == 0
}

// Append adds messages to the working history.
func (s *ExecutionState) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now()
}

// LastAssistant returns the most recent assistant message, if any.
func (s *ExecutionState) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// PendingCalls returns the tool calls of the latest assistant message that
// have no tool result yet, keyed by call id.
func (s *ExecutionState) PendingCalls() map[string]ToolCallRequest {
	pending := make(map[string]ToolCallRequest)
	idx := -1
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			idx = i
			break
		}
	}
	if idx < 0 {
		return pending
	}
	for _, call := range s.Messages[idx].ToolCalls {
		pending[call.CallID] = call
	}
	for _, msg := range s.Messages[idx+1:] {
		if msg.Role == RoleTool {
			delete(pending, msg.CallID)
		}
	}
	return pending
}

// AppendToolResults appends tool messages after checking that every result
// answers a live call of the preceding assistant message exactly once.
func (s *ExecutionState) AppendToolResults(results []ToolResult) error {
	pending := s.PendingCalls()
	for _, r := range results {
		if _, ok := pending[r.CallID]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownToolCall, r.CallID)
		}
		delete(pending, r.CallID)
	}
	for _, r := range results {
		s.Append(ToolMessage(r))
	}
	return nil
}

// CheckpointStore persists execution state between node invocations.
// Load returns an empty state, not an error, for an unknown thread.
type CheckpointStore interface {
	Load(ctx context.Context, threadID string) (*ExecutionState, error)
	Save(ctx context.Context, threadID string, state *ExecutionState) error
}
