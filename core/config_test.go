package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "8080", config.Port)
	assert.Equal(t, "ollama", config.LLMProvider)
	assert.Equal(t, 10, config.MaxToolCycles)
	assert.Equal(t, 300*time.Second, config.RequestTimeout)
	assert.Equal(t, 30*time.Second, config.ToolTimeout)
	assert.Equal(t, 1024, config.StreamHighWaterMark)
	assert.Equal(t, "memory", config.CheckpointBackend)
	assert.Zero(t, config.CheckpointTTL)
	require.NoError(t, config.Validate())
	assert.Equal(t, config.RequestTimeout+time.Minute, config.ThreadLockTTL)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:8000/v1")
	t.Setenv("MAX_TOOL_CYCLES", "3")
	t.Setenv("REQUEST_TIMEOUT", "45")
	t.Setenv("TOOL_TIMEOUT", "5")
	t.Setenv("CONTEXT_LIMIT", "0")
	t.Setenv("CHECKPOINT_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CHECKPOINT_TTL_HOURS", "24")
	t.Setenv("TEMPERATURE", "0.7")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", config.Port)
	assert.Equal(t, "openai", config.LLMProvider)
	assert.Equal(t, "gpt-4o-mini", config.ModelName())
	assert.Equal(t, "http://localhost:8000/v1", config.OpenAIBaseURL)
	assert.Equal(t, 3, config.MaxToolCycles)
	assert.Equal(t, 45*time.Second, config.RequestTimeout)
	assert.Equal(t, 5*time.Second, config.ToolTimeout)
	assert.Equal(t, 0, config.ContextLimit)
	assert.Equal(t, "redis", config.CheckpointBackend)
	assert.Equal(t, "redis:6379", config.RedisAddr)
	assert.Equal(t, 24*time.Hour, config.CheckpointTTL)
	assert.InDelta(t, 0.7, config.Temperature, 1e-9)
	assert.Equal(t, 45*time.Second+time.Minute, config.ThreadLockTTL)
}

func TestLoadConfigIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_TOOL_CYCLES", "lots")
	t.Setenv("REQUEST_TIMEOUT", "-5")
	t.Setenv("STREAM_HIGH_WATER_MARK", "0")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, config.MaxToolCycles)
	assert.Equal(t, 300*time.Second, config.RequestTimeout)
	assert.Equal(t, 1024, config.StreamHighWaterMark)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
llm_provider: gemini
gemini_api_key: key
max_tool_cycles: 4
request_timeout: 60
tool_timeout: 10
mcp_server_url: http://tools.internal/mcp
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7001")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7001", config.Port, "environment wins over the file")
	assert.Equal(t, "gemini", config.LLMProvider)
	assert.Equal(t, "gemini-2.0-flash", config.ModelName())
	assert.Equal(t, 4, config.MaxToolCycles)
	assert.Equal(t, 60*time.Second, config.RequestTimeout)
	assert.Equal(t, 10*time.Second, config.ToolTimeout)
	assert.Equal(t, "http://tools.internal/mcp", config.MCPServerURL)
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "reading config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unterminated"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"gemini without key", func(c *Config) { c.LLMProvider = "gemini" }, "GEMINI_API_KEY"},
		{"openai without key", func(c *Config) { c.LLMProvider = "openai" }, "OPENAI_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "clippy" }, "unsupported LLM_PROVIDER"},
		{"redis without address", func(c *Config) { c.CheckpointBackend = "redis"; c.RedisAddr = "" }, "REDIS_ADDR"},
		{"unknown backend", func(c *Config) { c.CheckpointBackend = "etcd" }, "unsupported CHECKPOINT_BACKEND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.ErrorContains(t, config.Validate(), tt.wantErr)
		})
	}
}

func TestInitializeLoggerLevel(t *testing.T) {
	config := DefaultConfig()
	config.LogLevel = "DEBUG"
	assert.Equal(t, "debug", InitializeLogger(config).GetLevel().String())

	config.LogLevel = "nonsense"
	assert.Equal(t, "info", InitializeLogger(config).GetLevel().String())
}
