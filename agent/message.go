/*
Package agent contains the execution engine that drives a tool-augmented
conversation: the message model, the message window trimmer, the agent and
tool dispatch nodes, and the graph scheduler that moves an execution between
them until it reaches a terminal state.

Every intermediate signal (model tokens, tool starts and completions, the
final answer or a failure) is pushed to a Sink as it happens, so callers can
translate the execution into a live stream.
*/
package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleSystem is only used for the instruction prepended by the trimmer.
	RoleSystem Role = "system"
)

// ToolCallRequest is a single tool invocation requested by the model.
type ToolCallRequest struct {
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input"`
	CallID   string          `json:"callId"`
}

// ToolResult is the outcome of one ToolCallRequest.
type ToolResult struct {
	CallID   string `json:"callId"`
	ToolName string `json:"toolName"`
	Output   any    `json:"output"`
	IsError  bool   `json:"isError,omitempty"`
}

// Message is one entry of a conversation. Messages are treated as immutable
// once they have been appended to an ExecutionState.
type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []ToolCallRequest `json:"toolCalls,omitempty"`
	CallID    string            `json:"callId,omitempty"`   // set on tool messages
	ToolName  string            `json:"toolName,omitempty"` // set on tool messages
	CreatedAt time.Time         `json:"createdAt"`
}

// UserMessage builds a user-authored message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// AssistantMessage builds a model-authored message.
func AssistantMessage(content string, calls []ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls, CreatedAt: time.Now()}
}

// ToolMessage builds the history entry carrying a tool result back to the model.
func ToolMessage(result ToolResult) Message {
	return Message{
		Role:      RoleTool,
		Content:   encodeOutput(result.Output),
		CallID:    result.CallID,
		ToolName:  result.ToolName,
		CreatedAt: time.Now(),
	}
}

// NeedsTools is the conditional edge out of the agent step: an assistant
// message carrying at least one tool call routes to the tool node.
func NeedsTools(msg Message) bool {
	return msg.Role == RoleAssistant && len(msg.ToolCalls) > 0
}

// encodeOutput renders a tool output as the text content the model reads.
func encodeOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}
