package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"chatgraph/agent"

	"github.com/sirupsen/logrus"
)

// MultiService merges services. When two services expose the same tool name
// the one listed first wins.
type MultiService struct {
	services []Service
	logger   logrus.FieldLogger
}

// NewMultiService combines services in priority order.
func NewMultiService(services ...Service) *MultiService {
	return &MultiService{
		services: services,
		logger:   logrus.WithField("component", "tools"),
	}
}

// Schemas implements Service.
func (m *MultiService) Schemas() []agent.ToolSchema {
	seen := make(map[string]struct{})
	var schemas []agent.ToolSchema
	for _, svc := range m.services {
		for _, schema := range svc.Schemas() {
			if _, dup := seen[schema.Name]; dup {
				m.logger.WithField("tool", schema.Name).Warn("Duplicate tool name, keeping the first provider")
				continue
			}
			seen[schema.Name] = struct{}{}
			schemas = append(schemas, schema)
		}
	}
	return schemas
}

// Invoke implements Service.
func (m *MultiService) Invoke(ctx context.Context, toolName string, input json.RawMessage) (any, error) {
	for _, svc := range m.services {
		for _, schema := range svc.Schemas() {
			if schema.Name == toolName {
				return svc.Invoke(ctx, toolName, input)
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
}

var _ Service = (*MultiService)(nil)
