package tools

import (
	"github.com/tmc/langchaingo/tools"
)

// Builtin returns a registry holding the tools shipped with the server.
func Builtin() *Registry {
	return NewRegistry(
		tools.Calculator{},
		NewDateTimeTool(),
		NewSysInfoTool(),
	)
}
