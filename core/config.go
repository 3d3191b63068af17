/*
Package core wires the chat engine into an HTTP service.

This file handles:
  - Loading configuration from defaults, an optional YAML file and
    environment variables, in that order of precedence
  - Structured logging setup with configurable levels
  - Validation of provider and backend settings

Environment variables always win so the same image can be reconfigured per
deployment without rebuilding its config file.
*/
package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all configurable values of the chat service.
type Config struct {
	// Server configuration
	Port string `yaml:"port"` // HTTP server port (default: "8080")

	// LLM provider configuration
	LLMProvider string `yaml:"llm_provider"` // "ollama", "gemini" or "openai" (default: "ollama")

	OllamaEndpoint string `yaml:"ollama_endpoint"` // Ollama API base URL
	OllamaModel    string `yaml:"ollama_model"`    // Ollama model name

	GeminiAPIKey string `yaml:"gemini_api_key"` // Required for the gemini provider
	GeminiModel  string `yaml:"gemini_model"`

	// OpenAI-compatible backends (OpenAI, Groq, vLLM...) share one client.
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	Temperature float64 `yaml:"temperature"` // Sampling temperature (default: 0.2)
	MaxTokens   int     `yaml:"max_tokens"`  // Completion token cap, 0 for backend default

	// Execution configuration
	MaxToolCycles       int           `yaml:"max_tool_cycles"`        // AGENT->TOOLS transitions per execution (default: 10)
	RequestTimeout      time.Duration `yaml:"-"`                      // Bound on a whole execution (default: 300s)
	RequestTimeoutSecs  int           `yaml:"request_timeout"`        // YAML form of RequestTimeout
	ToolTimeout         time.Duration `yaml:"-"`                      // Bound on one tool call (default: 30s)
	ToolTimeoutSecs     int           `yaml:"tool_timeout"`           // YAML form of ToolTimeout
	ContextLimit        int           `yaml:"context_limit"`          // Messages sent to the model, 0 for unbounded (default: 20)
	StreamHighWaterMark int           `yaml:"stream_high_water_mark"` // Frames buffered per client (default: 1024)
	ToolWorkers         int           `yaml:"tool_workers"`           // Shared tool pool size (default: 64)

	// Checkpoint configuration
	CheckpointBackend  string        `yaml:"checkpoint_backend"` // "memory" or "redis" (default: "memory")
	RedisAddr          string        `yaml:"redis_addr"`
	RedisPassword      string        `yaml:"redis_password"`
	RedisDB            int           `yaml:"redis_db"`
	CheckpointTTL      time.Duration `yaml:"-"`                    // 0 keeps checkpoints forever
	CheckpointTTLHours int           `yaml:"checkpoint_ttl_hours"` // YAML form of CheckpointTTL
	ThreadLockTTL      time.Duration `yaml:"-"`                    // Expiry of a Redis thread lock (default: RequestTimeout + 1m)

	// Persistence and auth
	DatabasePath  string `yaml:"database_path"`   // SQLite file for chat history
	AuthJWTSecret string `yaml:"auth_jwt_secret"` // Empty disables authentication

	// Remote tools
	MCPServerURL string `yaml:"mcp_server_url"` // Streamable HTTP MCP endpoint, empty to disable

	// Logging configuration
	LogLevel          string `yaml:"log_level"`           // debug, info, warn, error (default: "info")
	LogTruncateLength int    `yaml:"log_truncate_length"` // Max characters of payloads in logs (default: 500)

	// Performance tuning
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"` // Concurrent executions (default: 100)
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Port: "8080",

		LLMProvider:    "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "qwen3",
		GeminiModel:    "gemini-2.0-flash",
		OpenAIModel:    "gpt-4o-mini",
		Temperature:    0.2,

		MaxToolCycles:       10,
		RequestTimeout:      300 * time.Second,
		ToolTimeout:         30 * time.Second,
		ContextLimit:        20,
		StreamHighWaterMark: 1024,
		ToolWorkers:         64,

		CheckpointBackend: "memory",
		RedisAddr:         "localhost:6379",

		DatabasePath: "data/chatgraph.db",

		LogLevel:          "info",
		LogTruncateLength: 500,

		MaxConcurrentRequests: 100,
	}
}

// LoadConfig builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if set), then environment variables. Malformed numeric
// environment values are ignored like in earlier releases; an unreadable
// config file or an invalid final configuration is an error.
//
// Environment Variables:
//   - PORT, LLM_PROVIDER
//   - OLLAMA_ENDPOINT, OLLAMA_MODEL
//   - GEMINI_API_KEY, GEMINI_MODEL
//   - OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL
//   - TEMPERATURE (float), MAX_TOKENS (integer)
//   - MAX_TOOL_CYCLES (integer)
//   - REQUEST_TIMEOUT, TOOL_TIMEOUT (seconds)
//   - CONTEXT_LIMIT, STREAM_HIGH_WATER_MARK, TOOL_WORKERS (integer)
//   - CHECKPOINT_BACKEND, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//   - CHECKPOINT_TTL_HOURS (integer), THREAD_LOCK_TTL (seconds)
//   - DATABASE_PATH, AUTH_JWT_SECRET, MCP_SERVER_URL
//   - LOG_LEVEL, LOG_TRUNCATE_LENGTH
//   - MAX_CONCURRENT_REQUESTS
func LoadConfig() (*Config, error) {
	config := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}
	config.loadEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	c.RequestTimeoutSecs = int(c.RequestTimeout / time.Second)
	c.ToolTimeoutSecs = int(c.ToolTimeout / time.Second)
	c.CheckpointTTLHours = int(c.CheckpointTTL / time.Hour)

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if c.RequestTimeoutSecs > 0 {
		c.RequestTimeout = time.Duration(c.RequestTimeoutSecs) * time.Second
	}
	if c.ToolTimeoutSecs > 0 {
		c.ToolTimeout = time.Duration(c.ToolTimeoutSecs) * time.Second
	}
	if c.CheckpointTTLHours >= 0 {
		c.CheckpointTTL = time.Duration(c.CheckpointTTLHours) * time.Hour
	}
	return nil
}

func (c *Config) loadEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int, min int) {
		if v := os.Getenv(key); v != "" {
			if val, err := strconv.Atoi(v); err == nil && val >= min {
				*dst = val
			}
		}
	}
	setSeconds := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if val, err := strconv.Atoi(v); err == nil && val > 0 {
				*dst = time.Duration(val) * time.Second
			}
		}
	}

	setString("PORT", &c.Port)
	if provider := strings.ToLower(os.Getenv("LLM_PROVIDER")); provider != "" {
		c.LLMProvider = provider
	}

	setString("OLLAMA_ENDPOINT", &c.OllamaEndpoint)
	setString("OLLAMA_MODEL", &c.OllamaModel)
	setString("GEMINI_API_KEY", &c.GeminiAPIKey)
	setString("GEMINI_MODEL", &c.GeminiModel)
	setString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	setString("OPENAI_MODEL", &c.OpenAIModel)
	setString("OPENAI_BASE_URL", &c.OpenAIBaseURL)

	if v := os.Getenv("TEMPERATURE"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val >= 0 {
			c.Temperature = val
		}
	}
	setInt("MAX_TOKENS", &c.MaxTokens, 0)

	setInt("MAX_TOOL_CYCLES", &c.MaxToolCycles, 1)
	setSeconds("REQUEST_TIMEOUT", &c.RequestTimeout)
	setSeconds("TOOL_TIMEOUT", &c.ToolTimeout)
	setInt("CONTEXT_LIMIT", &c.ContextLimit, 0)
	setInt("STREAM_HIGH_WATER_MARK", &c.StreamHighWaterMark, 1)
	setInt("TOOL_WORKERS", &c.ToolWorkers, 1)

	if backend := strings.ToLower(os.Getenv("CHECKPOINT_BACKEND")); backend != "" {
		c.CheckpointBackend = backend
	}
	setString("REDIS_ADDR", &c.RedisAddr)
	setString("REDIS_PASSWORD", &c.RedisPassword)
	setInt("REDIS_DB", &c.RedisDB, 0)
	if v := os.Getenv("CHECKPOINT_TTL_HOURS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val >= 0 {
			c.CheckpointTTL = time.Duration(val) * time.Hour
		}
	}
	setSeconds("THREAD_LOCK_TTL", &c.ThreadLockTTL)

	setString("DATABASE_PATH", &c.DatabasePath)
	setString("AUTH_JWT_SECRET", &c.AuthJWTSecret)
	setString("MCP_SERVER_URL", &c.MCPServerURL)

	setString("LOG_LEVEL", &c.LogLevel)
	setInt("LOG_TRUNCATE_LENGTH", &c.LogTruncateLength, 1)
	setInt("MAX_CONCURRENT_REQUESTS", &c.MaxConcurrentRequests, 1)
}

// Validate checks provider and backend settings.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "ollama":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q (want ollama, gemini or openai)", c.LLMProvider)
	}

	switch c.CheckpointBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CHECKPOINT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported CHECKPOINT_BACKEND %q (want memory or redis)", c.CheckpointBackend)
	}

	if c.ThreadLockTTL <= 0 {
		c.ThreadLockTTL = c.RequestTimeout + time.Minute
	}
	return nil
}

// InitializeLogger configures a JSON logger from the configuration and logs
// the effective settings. Secrets are never logged.
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"llmProvider":           config.LLMProvider,
		"model":                 config.ModelName(),
		"maxToolCycles":         config.MaxToolCycles,
		"requestTimeout":        config.RequestTimeout,
		"toolTimeout":           config.ToolTimeout,
		"contextLimit":          config.ContextLimit,
		"checkpointBackend":     config.CheckpointBackend,
		"checkpointTTL":         config.CheckpointTTL,
		"databasePath":          config.DatabasePath,
		"authEnabled":           config.AuthJWTSecret != "",
		"mcpEnabled":            config.MCPServerURL != "",
		"logTruncateLength":     config.LogTruncateLength,
		"maxConcurrentRequests": config.MaxConcurrentRequests,
	}).Info("Configuration loaded")

	return logger
}

// ModelName returns the model configured for the active provider.
func (c *Config) ModelName() string {
	switch c.LLMProvider {
	case "gemini":
		return c.GeminiModel
	case "openai":
		return c.OpenAIModel
	default:
		return c.OllamaModel
	}
}
