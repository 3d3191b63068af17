/*
Package tools provides the tool services the agent can call.

A Service advertises tool schemas to the model and executes calls by name.
Registry serves local langchaingo tools, MCPService proxies a remote MCP
server, and MultiService merges several services into one.
*/
package tools

import (
	"context"
	"encoding/json"
	"errors"

	"chatgraph/agent"
)

// ErrUnknownTool is returned when no service provides the requested tool.
var ErrUnknownTool = errors.New("unknown tool")

// Service is a tool backend.
type Service interface {
	Schemas() []agent.ToolSchema
	Invoke(ctx context.Context, toolName string, input json.RawMessage) (any, error)
}

// stringInputSchema is advertised for tools that take a single free-form string.
func stringInputSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{"input"},
	}
}
