package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chatgraph/agent"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

// Parameterized is implemented by local tools that accept a structured
// argument object. Such tools receive the raw JSON arguments as their input
// string; every other tool receives the "input" field.
type Parameterized interface {
	Parameters() map[string]any
}

// Registry serves langchaingo tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]tools.Tool
	order  []string
	logger logrus.FieldLogger
}

// NewRegistry creates a registry holding ts.
func NewRegistry(ts ...tools.Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]tools.Tool),
		logger: logrus.WithField("component", "tools"),
	}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t tools.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
	r.logger.WithField("tool", name).Debug("Registered tool")
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Schemas implements Service. Schemas are returned in registration order.
func (r *Registry) Schemas() []agent.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]agent.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := stringInputSchema("Input for the " + name + " tool")
		if p, ok := t.(Parameterized); ok {
			params = p.Parameters()
		}
		schemas = append(schemas, agent.ToolSchema{
			Name:        name,
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return schemas
}

// Invoke implements Service.
func (r *Registry) Invoke(ctx context.Context, toolName string, input json.RawMessage) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
	}

	arg := string(input)
	if _, structured := t.(Parameterized); !structured {
		arg = textInput(input)
	}

	out, err := t.Call(ctx, arg)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(out), nil
}

// textInput extracts the free-form argument of a string tool. Models are
// inconsistent here: some send {"input": "..."}, some a bare JSON string,
// some an object with a different key.
func textInput(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(input, &obj); err == nil {
		if v, ok := obj["input"].(string); ok {
			return v
		}
		if len(obj) == 1 {
			for _, v := range obj {
				if s, ok := v.(string); ok {
					return s
				}
			}
		}
		if len(obj) == 0 {
			return ""
		}
	}
	return string(input)
}

var _ Service = (*Registry)(nil)
