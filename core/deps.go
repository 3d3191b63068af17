package core

import (
	"context"
	"errors"
	"fmt"

	"chatgraph/checkpoint"
	"chatgraph/metrics"
	"chatgraph/store"
	"chatgraph/tools"

	"github.com/sirupsen/logrus"
)

// BuildDependencies creates the model, tools and stores described by config.
// The returned close function releases whatever was opened, in reverse order.
func BuildDependencies(ctx context.Context, config *Config, logger *logrus.Logger) (Dependencies, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (Dependencies, func() error, error) {
		if cerr := closeAll(); cerr != nil {
			logger.WithError(cerr).Warn("Cleanup after failed startup reported errors")
		}
		return Dependencies{}, nil, err
	}

	model, err := NewModel(ctx, config)
	if err != nil {
		return fail(err)
	}
	logger.WithFields(logrus.Fields{
		"provider": config.LLMProvider,
		"model":    config.ModelName(),
	}).Info("LLM initialized")

	var toolService tools.Service = tools.Builtin()
	if config.MCPServerURL != "" {
		remote, err := tools.ConnectMCP(ctx, config.MCPServerURL)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to MCP server %s: %w", config.MCPServerURL, err))
		}
		closers = append(closers, remote.Close)
		toolService = tools.NewMultiService(toolService, remote)
		logger.WithFields(logrus.Fields{
			"url":   config.MCPServerURL,
			"tools": len(remote.Schemas()),
		}).Info("Remote tools connected")
	}

	deps := Dependencies{
		Model:   NewModelWrapper(model, config, logger),
		Tools:   toolService,
		Metrics: metrics.NewRecorder(),
	}

	switch config.CheckpointBackend {
	case "redis":
		redisStore := checkpoint.NewRedisStore(config.RedisAddr, config.RedisPassword, config.RedisDB,
			checkpoint.WithTTL(config.CheckpointTTL))
		closers = append(closers, redisStore.Close)
		if err := redisStore.Client().Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("failed to reach redis at %s: %w", config.RedisAddr, err))
		}
		deps.Checkpoints = redisStore
		deps.Locker = checkpoint.NewRedisLocker(redisStore.Client(), "")
	default:
		var opts []checkpoint.MemoryOption
		opts = append(opts, checkpoint.WithLogger(logger.WithField("component", "checkpoint")))
		if config.CheckpointTTL > 0 {
			opts = append(opts, checkpoint.WithMaxAge(config.CheckpointTTL, config.CheckpointTTL/10))
		}
		memoryStore := checkpoint.NewMemoryStore(opts...)
		closers = append(closers, memoryStore.Close)
		deps.Checkpoints = memoryStore
		deps.Locker = checkpoint.NewLocalLocker()
	}
	logger.WithField("backend", config.CheckpointBackend).Info("Checkpoint store initialized")

	history, err := store.NewSQLiteStore(config.DatabasePath, logger.WithField("component", "history"))
	if err != nil {
		return fail(err)
	}
	closers = append(closers, history.Close)
	deps.History = history
	logger.WithField("path", config.DatabasePath).Info("History store initialized")

	return deps, closeAll, nil
}
