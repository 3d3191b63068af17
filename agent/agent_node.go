package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// AgentNode asks the language model for the next assistant message. It is
// the only node whose progress is observable token by token.
type AgentNode struct {
	model       llms.Model
	prompt      prompts.PromptTemplate
	schemas     []ToolSchema
	window      int
	callOptions []llms.CallOption
	logger      logrus.FieldLogger
	now         func() time.Time
}

// AgentOption configures an AgentNode.
type AgentOption func(*AgentNode)

// WithInstruction overrides the system instruction template.
func WithInstruction(template string) AgentOption {
	return func(n *AgentNode) {
		n.prompt = NewPrompt(template, n.schemas)
	}
}

// WithWindow bounds the history sent to the model, in messages.
func WithWindow(maxMessages int) AgentOption {
	return func(n *AgentNode) {
		n.window = maxMessages
	}
}

// WithCallOptions appends langchaingo call options (temperature, max tokens...).
func WithCallOptions(opts ...llms.CallOption) AgentOption {
	return func(n *AgentNode) {
		n.callOptions = append(n.callOptions, opts...)
	}
}

// WithAgentLogger sets the logger used by the node.
func WithAgentLogger(logger logrus.FieldLogger) AgentOption {
	return func(n *AgentNode) {
		n.logger = logger
	}
}

// NewAgentNode creates an agent node bound to a model and the tools it may call.
func NewAgentNode(model llms.Model, schemas []ToolSchema, opts ...AgentOption) *AgentNode {
	n := &AgentNode{
		model:   model,
		schemas: schemas,
		prompt:  NewPrompt("", schemas),
		logger:  logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Invoke runs one model turn over the given history. Every streamed fragment
// is emitted as a ModelTokenEvent before Invoke returns.
func (n *AgentNode) Invoke(ctx context.Context, history []Message, sink Sink) (Message, error) {
	instruction, err := FormatInstruction(n.prompt, n.now())
	if err != nil {
		return Message{}, fmt.Errorf("%w: format instruction: %v", ErrModelInvocation, err)
	}
	system := Message{Role: RoleSystem, Content: instruction}
	window := TrimHistory(history, TrimOptions{MaxMessages: n.window, System: &system})

	n.logger.WithFields(logrus.Fields{
		"historyLength": len(history),
		"windowLength":  len(window),
		"toolCount":     len(n.schemas),
	}).Debug("Invoking model")

	var (
		streamed bool
		emitErr  error
	)
	stream := func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		streamed = true
		if err := sink.Emit(ctx, ModelTokenEvent{Text: string(chunk)}); err != nil {
			emitErr = err
			return err
		}
		return nil
	}

	opts := make([]llms.CallOption, 0, len(n.callOptions)+2)
	opts = append(opts, n.callOptions...)
	opts = append(opts, llms.WithStreamingFunc(stream))
	if len(n.schemas) > 0 {
		opts = append(opts, llms.WithTools(toolDefinitions(n.schemas)))
	}

	resp, err := n.model.GenerateContent(ctx, toMessageContent(window), opts...)
	if emitErr != nil {
		return Message{}, emitErr
	}
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrModelInvocation, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return Message{}, fmt.Errorf("%w: empty response", ErrModelInvocation)
	}

	choice := resp.Choices[0]
	calls, err := toolCallRequests(choice)
	if err != nil {
		return Message{}, err
	}

	// Backends without streaming support still produce one token frame.
	if !streamed && choice.Content != "" {
		if err := sink.Emit(ctx, ModelTokenEvent{Text: choice.Content}); err != nil {
			return Message{}, err
		}
	}

	n.logger.WithFields(logrus.Fields{
		"contentLength": len(choice.Content),
		"toolCalls":     len(calls),
		"stopReason":    choice.StopReason,
	}).Debug("Model responded")

	return AssistantMessage(choice.Content, calls), nil
}

func toolCallRequests(choice *llms.ContentChoice) ([]ToolCallRequest, error) {
	raw := choice.ToolCalls
	if len(raw) == 0 && choice.FuncCall != nil {
		raw = []llms.ToolCall{{Type: "function", FunctionCall: choice.FuncCall}}
	}
	if len(raw) == 0 {
		return nil, nil
	}

	calls := make([]ToolCallRequest, 0, len(raw))
	for _, tc := range raw {
		if tc.FunctionCall == nil || tc.FunctionCall.Name == "" {
			return nil, fmt.Errorf("%w: tool call without a function name", ErrModelInvocation)
		}
		args := tc.FunctionCall.Arguments
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return nil, fmt.Errorf("%w: tool %q called with malformed arguments", ErrModelInvocation, tc.FunctionCall.Name)
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		calls = append(calls, ToolCallRequest{
			ToolName: tc.FunctionCall.Name,
			Input:    json.RawMessage(args),
			CallID:   id,
		})
	}
	return calls, nil
}

func toolDefinitions(schemas []ToolSchema) []llms.Tool {
	defs := make([]llms.Tool, 0, len(schemas))
	for _, s := range schemas {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}

func toMessageContent(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case RoleAssistant:
			parts := make([]llms.ContentPart, 0, len(m.ToolCalls)+1)
			if m.Content != "" || len(m.ToolCalls) == 0 {
				parts = append(parts, llms.TextPart(m.Content))
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   call.CallID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.ToolName,
						Arguments: string(call.Input),
					},
				})
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.CallID,
					Name:       m.ToolName,
					Content:    m.Content,
				}},
			})
		}
	}
	return out
}
