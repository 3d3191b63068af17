/*
This file defines the request and response types of the HTTP API. They are
the contract between the client and the server.
*/
package core

import (
	"time"

	"chatgraph/agent"
	"chatgraph/checkpoint"
	"chatgraph/store"
)

// HistoryMessage is one prior turn supplied by the client.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest starts an execution. History only seeds a thread that has no
// checkpoint yet; afterwards the server's own record wins.
type ChatRequest struct {
	ThreadID   string           `json:"threadId"`
	History    []HistoryMessage `json:"history"`
	NewMessage string           `json:"newMessage"`
}

// ChatResponse is returned by the non-streaming chat endpoint.
type ChatResponse struct {
	Response    string `json:"response"`
	ThreadID    string `json:"threadId"`
	ExecutionID string `json:"executionId"`
	Cycles      int    `json:"cycles"`
}

// StopRequest asks the server to stop a running execution.
type StopRequest struct {
	ExecutionID string `json:"executionId"`
}

// StopResponse reports the outcome of a stop request.
type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stopped bool   `json:"stopped"`
}

// StatusResponse is served by the health endpoint.
type StatusResponse struct {
	Status           string           `json:"status"`
	Version          string           `json:"version"`
	LLMProvider      string           `json:"llmProvider"`
	Model            string           `json:"model"`
	Tools            int              `json:"tools"`
	ActiveExecutions []Execution      `json:"activeExecutions"`
	Checkpoints      checkpoint.Stats `json:"checkpoints"`
	Uptime           string           `json:"uptime"`
	Timestamp        time.Time        `json:"timestamp"`
}

// ThreadResponse combines the stored thread with its checkpointed state.
type ThreadResponse struct {
	Thread   *store.Thread   `json:"thread"`
	Messages []agent.Message `json:"messages"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// historyMessages converts client history into engine messages. Roles other
// than user and assistant are dropped: tool traffic is never accepted from
// clients.
func historyMessages(history []HistoryMessage) []agent.Message {
	out := make([]agent.Message, 0, len(history))
	for _, h := range history {
		switch agent.Role(h.Role) {
		case agent.RoleUser:
			out = append(out, agent.UserMessage(h.Content))
		case agent.RoleAssistant:
			out = append(out, agent.AssistantMessage(h.Content, nil))
		}
	}
	return out
}
