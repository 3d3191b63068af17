package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// scriptedTurn is one canned model response.
type scriptedTurn struct {
	chunks  []string
	content string
	calls   []llms.ToolCall
	err     error
	// wait blocks until the request context is done.
	wait bool
}

// scriptedModel replays turns in order and records what it was sent.
type scriptedModel struct {
	mu    sync.Mutex
	turns []scriptedTurn
	seen  [][]llms.MessageContent
	tools [][]llms.Tool
}

func newScriptedModel(turns ...scriptedTurn) *scriptedModel {
	return &scriptedModel{turns: turns}
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	idx := len(m.seen)
	m.seen = append(m.seen, messages)
	m.tools = append(m.tools, opts.Tools)
	m.mu.Unlock()

	if idx >= len(m.turns) {
		return nil, errors.New("script exhausted")
	}
	turn := m.turns[idx]
	if turn.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if turn.err != nil {
		return nil, turn.err
	}
	for _, chunk := range turn.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}
	content := turn.content
	if content == "" {
		content = strings.Join(turn.chunks, "")
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content, ToolCalls: turn.calls}},
	}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *scriptedModel) request(i int) []llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[i]
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

type invokerFunc func(ctx context.Context, toolName string, input json.RawMessage) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, toolName string, input json.RawMessage) (any, error) {
	return f(ctx, toolName, input)
}

// recordingSink keeps every accepted event. When failAt is positive, the
// failAt-th event (1-based) and all later ones are rejected with
// ErrTransportClosed.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	failAt int
	seen   int
	onEmit func(Event)
}

func (s *recordingSink) Emit(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.seen++
	if s.failAt > 0 && s.seen >= s.failAt {
		s.mu.Unlock()
		return ErrTransportClosed
	}
	s.events = append(s.events, ev)
	hook := s.onEmit
	s.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = EventName(ev)
	}
	return out
}

func (s *recordingSink) tokens() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, ev := range s.events {
		if tok, ok := ev.(ModelTokenEvent); ok {
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

func (s *recordingSink) last() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

// mapStore is a minimal CheckpointStore that counts saves.
type mapStore struct {
	mu      sync.Mutex
	states  map[string]*ExecutionState
	saves   int
	saveErr error
}

func newMapStore() *mapStore {
	return &mapStore{states: make(map[string]*ExecutionState)}
}

func (s *mapStore) Load(_ context.Context, threadID string) (*ExecutionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[threadID]; ok {
		return st.Clone(), nil
	}
	return NewExecutionState(threadID), nil
}

func (s *mapStore) Save(_ context.Context, threadID string, state *ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.states[threadID] = state.Clone()
	return nil
}

func (s *mapStore) messages(threadID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[threadID]; ok {
		return st.Clone().Messages
	}
	return nil
}

func roles(msgs []Message) []Role {
	out := make([]Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}
