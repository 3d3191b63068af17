package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/prompts"
)

// defaultInstruction is the system instruction used when none is configured.
const defaultInstruction = `Today is {{.today}}.
You are a helpful assistant with access to external tools. Answer the user's
question directly when you can. When a question needs live data or exact
computation, call the most relevant tool, read its result and then answer.

If a tool result contains an "error" field the call failed: decide whether to
retry with different input, use another tool, or explain the failure to the
user. Never invent tool output.

Available tools ({{.tool_names}}):
{{.tool_descriptions}}`

// ToolSchema describes one tool the model may call.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// NewPrompt builds the system instruction template for the given tools.
// An empty template selects the built-in instruction.
func NewPrompt(template string, schemas []ToolSchema) prompts.PromptTemplate {
	if strings.TrimSpace(template) == "" {
		template = defaultInstruction
	}

	toolNames := make([]string, 0, len(schemas))
	toolDescriptions := make([]string, 0, len(schemas))
	for _, schema := range schemas {
		toolNames = append(toolNames, schema.Name)
		toolDescriptions = append(toolDescriptions, fmt.Sprintf("- %s: %s", schema.Name, schema.Description))
	}
	if len(toolNames) == 0 {
		toolDescriptions = append(toolDescriptions, "(none)")
	}

	return prompts.PromptTemplate{
		Template:       template,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
		InputVariables: []string{"today"},
		PartialVariables: map[string]any{
			"tool_names":        strings.Join(toolNames, ", "),
			"tool_descriptions": strings.Join(toolDescriptions, "\n"),
		},
	}
}

// FormatInstruction renders the prompt for the given moment.
func FormatInstruction(p prompts.PromptTemplate, now time.Time) (string, error) {
	return p.Format(map[string]any{"today": now.Format("Monday, January 2, 2006")})
}
