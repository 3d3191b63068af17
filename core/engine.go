/*
This file wires the execution engine: one scheduler shared by every request,
plus the thread locker, the chat history store and the metrics recorder.

A request goes through two phases. Prepare runs the checks that can still be
answered with a plain HTTP status and records the user message. Run then drives the scheduler and streams frames;
from that point on failures are reported in-band as an error frame.
*/
package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"chatgraph/agent"
	"chatgraph/checkpoint"
	"chatgraph/metrics"
	"chatgraph/store"
	"chatgraph/stream"
	"chatgraph/tools"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

// Dependencies are the collaborators an Engine runs on.
type Dependencies struct {
	Model       llms.Model
	Tools       tools.Service
	Checkpoints checkpoint.Store
	Locker      checkpoint.Locker
	History     store.Store
	Metrics     *metrics.Recorder
}

// Engine runs chat turns.
type Engine struct {
	config      *Config
	logger      *logrus.Logger
	scheduler   *agent.Scheduler
	toolNode    *agent.ToolNode
	pool        *ants.Pool
	tools       tools.Service
	checkpoints checkpoint.Store
	locker      checkpoint.Locker
	history     store.Store
	metrics     *metrics.Recorder
}

// NewEngine builds the agent and tool nodes and the scheduler over deps.
func NewEngine(config *Config, logger *logrus.Logger, deps Dependencies) (*Engine, error) {
	if deps.Model == nil || deps.Tools == nil || deps.Checkpoints == nil || deps.History == nil {
		return nil, errors.New("engine requires a model, a tool service, a checkpoint store and a history store")
	}
	if deps.Locker == nil {
		deps.Locker = checkpoint.NewLocalLocker()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRecorder()
	}

	pool, err := ants.NewPool(config.ToolWorkers, ants.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create tool pool: %w", err)
	}

	toolNode, err := agent.NewToolNode(deps.Tools,
		agent.WithPool(pool),
		agent.WithToolTimeout(config.ToolTimeout),
		agent.WithToolObserver(deps.Metrics.ObserveTool),
		agent.WithToolLogger(logger.WithField("component", "tool_node")),
	)
	if err != nil {
		pool.Release()
		return nil, err
	}

	schemas := deps.Tools.Schemas()
	agentNode := agent.NewAgentNode(deps.Model, schemas,
		agent.WithWindow(config.ContextLimit),
		agent.WithCallOptions(CallOptions(config)...),
		agent.WithAgentLogger(logger.WithField("component", "agent_node")),
	)

	scheduler := agent.NewScheduler(agentNode, toolNode, deps.Checkpoints,
		agent.WithMaxToolCycles(config.MaxToolCycles),
		agent.WithHooks(deps.Metrics.Hooks()),
		agent.WithSchedulerLogger(logger.WithField("component", "scheduler")),
	)

	logger.WithFields(logrus.Fields{
		"toolsCount":    len(schemas),
		"toolWorkers":   config.ToolWorkers,
		"maxToolCycles": config.MaxToolCycles,
		"contextLimit":  config.ContextLimit,
	}).Info("Engine initialized")

	return &Engine{
		config:      config,
		logger:      logger,
		scheduler:   scheduler,
		toolNode:    toolNode,
		pool:        pool,
		tools:       deps.Tools,
		checkpoints: deps.Checkpoints,
		locker:      deps.Locker,
		history:     deps.History,
		metrics:     deps.Metrics,
	}, nil
}

// Tools returns the schemas offered to the model.
func (e *Engine) Tools() []agent.ToolSchema {
	return e.tools.Schemas()
}

// Metrics returns the recorder.
func (e *Engine) Metrics() *metrics.Recorder {
	return e.metrics
}

// Close releases the tool pool, waiting briefly for running calls.
func (e *Engine) Close() {
	e.toolNode.Close()
	if err := e.pool.ReleaseTimeout(5 * time.Second); err != nil {
		e.logger.WithError(err).Warn("Tool pool did not drain before shutdown")
	}
}

// ErrInvalidThreadID is returned by Prepare for a thread id outside
// validThreadID.
var ErrInvalidThreadID = errors.New("thread id must be 1-128 letters, digits, '-' or '_'")

// Thread ids become storage keys, so they are restricted to a plain charset.
var validThreadID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Turn is a prepared execution holding its thread lock.
type Turn struct {
	ExecutionID string
	ThreadID    string
	UserID      string

	engine  *Engine
	input   agent.Input
	unlock  checkpoint.UnlockFunc
	logger  *logrus.Entry
	started time.Time
}

// Prepare validates req, checks thread ownership, claims the thread and
// persists the user message. The returned Turn must be Run or Released.
func (e *Engine) Prepare(ctx context.Context, userID string, req ChatRequest) (*Turn, error) {
	if strings.TrimSpace(req.NewMessage) == "" {
		return nil, agent.ErrEmptyMessage
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}
	if !validThreadID.MatchString(threadID) {
		return nil, ErrInvalidThreadID
	}

	if _, err := e.history.EnsureThread(ctx, threadID, userID, req.NewMessage); err != nil {
		return nil, err
	}

	unlock, err := e.locker.TryLock(ctx, threadID, e.config.ThreadLockTTL)
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		ExecutionID: "exec_" + uuid.NewString(),
		ThreadID:    threadID,
		UserID:      userID,
		engine:      e,
		input: agent.Input{
			ThreadID:   threadID,
			History:    historyMessages(req.History),
			NewMessage: req.NewMessage,
		},
		unlock: unlock,
	}
	turn.logger = e.logger.WithFields(logrus.Fields{
		"threadId":    threadID,
		"executionId": turn.ExecutionID,
		"userId":      userID,
	})

	if err := e.history.AppendMessage(ctx, threadID, &store.Message{
		Role:    string(agent.RoleUser),
		Content: req.NewMessage,
	}); err != nil {
		turn.Release()
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	return turn, nil
}

// Release frees the thread lock. It is safe to call more than once.
func (t *Turn) Release() {
	if t.unlock == nil {
		return
	}
	if err := t.unlock(context.Background()); err != nil {
		t.logger.WithError(err).Warn("Failed to release thread lock")
	}
	t.unlock = nil
}

// Run executes the turn, writing frames to out, and releases the thread.
// The final answer is persisted once the execution is DONE.
func (t *Turn) Run(ctx context.Context, out stream.FrameSender) agent.Result {
	defer t.Release()
	defer t.engine.metrics.TrackActive()()
	t.started = time.Now()

	translator := stream.NewTranslator(out, t.engine.metrics.ObserveFrame)
	if err := translator.Connected(ctx); err != nil {
		t.logger.WithError(err).Info("Client gone before the execution started")
		return agent.Result{
			ThreadID:     t.ThreadID,
			State:        agent.StateFailed,
			Err:          err,
			Disconnected: errors.Is(err, agent.ErrTransportClosed),
		}
	}

	t.logger.Info("Starting execution")
	res := t.engine.scheduler.Run(ctx, t.input, translator)

	if res.State == agent.StateDone && res.Final != nil && strings.TrimSpace(res.Final.Content) != "" {
		err := t.engine.history.AppendMessage(context.WithoutCancel(ctx), t.ThreadID, &store.Message{
			Role:    string(agent.RoleAssistant),
			Content: res.Final.Content,
		})
		if err != nil {
			t.logger.WithError(err).Error("Failed to persist assistant message")
		}
	}

	t.logger.WithFields(logrus.Fields{
		"state":         res.State,
		"cycles":        res.Cycles,
		"disconnected":  res.Disconnected,
		"executionTime": time.Since(t.started),
	}).Info("Execution finished")
	return res
}
