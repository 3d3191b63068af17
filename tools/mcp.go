package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chatgraph/agent"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

// ErrRemoteTool marks a call the MCP server answered with isError.
var ErrRemoteTool = errors.New("remote tool reported an error")

// MCPService proxies tool calls to a Model Context Protocol server.
type MCPService struct {
	client *client.Client
	logger logrus.FieldLogger

	mu      sync.RWMutex
	schemas []agent.ToolSchema
	known   map[string]struct{}
}

// ConnectMCP dials a streamable HTTP MCP server and loads its tool list.
func ConnectMCP(ctx context.Context, url string) (*MCPService, error) {
	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	svc, err := NewMCPService(ctx, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return svc, nil
}

// NewMCPService initializes c and loads its tool list.
func NewMCPService(ctx context.Context, c *client.Client) (*MCPService, error) {
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "chatgraph", Version: "1.0.0"}
	info, err := c.Initialize(ctx, initReq)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	s := &MCPService{
		client: c,
		logger: logrus.WithFields(logrus.Fields{
			"component": "mcp",
			"server":    info.ServerInfo.Name,
		}),
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh reloads the remote tool list.
func (s *MCPService) Refresh(ctx context.Context) error {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}

	schemas := make([]agent.ToolSchema, 0, len(res.Tools))
	known := make(map[string]struct{}, len(res.Tools))
	for _, t := range res.Tools {
		params, err := inputSchema(t)
		if err != nil {
			s.logger.WithError(err).WithField("tool", t.Name).Warn("Skipping MCP tool with unreadable schema")
			continue
		}
		schemas = append(schemas, agent.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
		known[t.Name] = struct{}{}
	}

	s.mu.Lock()
	s.schemas = schemas
	s.known = known
	s.mu.Unlock()

	s.logger.WithField("toolCount", len(schemas)).Info("Loaded MCP tools")
	return nil
}

// inputSchema reads the tool's JSON schema through its wire form, which
// covers both structured and raw schemas.
func inputSchema(t mcp.Tool) (map[string]any, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	if wire.InputSchema == nil {
		wire.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return wire.InputSchema, nil
}

// Schemas implements Service.
func (s *MCPService) Schemas() []agent.ToolSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]agent.ToolSchema(nil), s.schemas...)
}

// Invoke implements Service. Text content is concatenated; a result that
// parses as JSON is returned decoded.
func (s *MCPService) Invoke(ctx context.Context, toolName string, input json.RawMessage) (any, error) {
	s.mu.RLock()
	_, ok := s.known[toolName]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
	}

	args := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("arguments for %q must be a JSON object: %w", toolName, err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call %q failed: %w", toolName, err)
	}

	text := resultText(res)
	if res.IsError {
		return nil, fmt.Errorf("%w: %s", ErrRemoteTool, text)
	}
	var decoded any
	if json.Valid([]byte(text)) && json.Unmarshal([]byte(text), &decoded) == nil {
		return decoded, nil
	}
	return text, nil
}

func resultText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close ends the MCP session.
func (s *MCPService) Close() error {
	return s.client.Close()
}

var _ Service = (*MCPService)(nil)
