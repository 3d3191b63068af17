package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var datetimeLogger = logrus.WithField("tool", "datetime")

// DateTimeTool reports the current date and time in a given time zone.
type DateTimeTool struct {
	now func() time.Time
}

func NewDateTimeTool() *DateTimeTool {
	datetimeLogger.Debug("Initializing datetime tool")
	return &DateTimeTool{now: time.Now}
}

func (d *DateTimeTool) Name() string {
	return "datetime"
}

func (d *DateTimeTool) Description() string {
	return "Get the current date and time. Optional 'timezone' is an IANA name such as 'Europe/Paris' (default UTC). Optional 'format' is 'rfc3339' (default), 'date', 'time' or 'unix'."
}

func (d *DateTimeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA time zone name, e.g. America/New_York",
			},
			"format": map[string]any{
				"type": "string",
				"enum": []string{"rfc3339", "date", "time", "unix"},
			},
		},
	}
}

type datetimeArgs struct {
	Timezone string `json:"timezone"`
	Format   string `json:"format"`
}

func (d *DateTimeTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := datetimeLogger.WithField("input", input)
	toolLogger.Info("DateTime tool called")
	startTime := time.Now()

	var args datetimeArgs
	if trimmed := strings.TrimSpace(input); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			// Tolerate a bare zone name.
			args.Timezone = strings.Trim(trimmed, `"`)
		}
	}

	loc := time.UTC
	if args.Timezone != "" {
		l, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown time zone %q", args.Timezone)
		}
		loc = l
	}

	now := d.now().In(loc)
	var out string
	switch strings.ToLower(args.Format) {
	case "", "rfc3339":
		out = now.Format(time.RFC3339)
	case "date":
		out = now.Format("2006-01-02 (Monday)")
	case "time":
		out = now.Format("15:04:05 MST")
	case "unix":
		out = fmt.Sprintf("%d", now.Unix())
	default:
		return "", fmt.Errorf("unsupported format %q", args.Format)
	}

	toolLogger.WithFields(logrus.Fields{
		"timezone":      loc.String(),
		"executionTime": time.Since(startTime),
	}).Info("DateTime tool completed")
	return out, nil
}

var (
	_ tools.Tool    = (*DateTimeTool)(nil)
	_ Parameterized = (*DateTimeTool)(nil)
)
