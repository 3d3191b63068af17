package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// State is a node of the execution state machine.
type State string

const (
	StateAgent  State = "AGENT"
	StateTools  State = "TOOLS"
	StateDone   State = "DONE"
	StateFailed State = "FAILED"
)

// DefaultMaxToolCycles bounds AGENT->TOOLS transitions when unset.
const DefaultMaxToolCycles = 10

// Input starts one execution.
type Input struct {
	ThreadID string
	// History seeds a thread that has no checkpoint yet. It is ignored once
	// the thread has committed state.
	History    []Message
	NewMessage string
}

// Result describes how an execution ended.
type Result struct {
	ThreadID string
	State    State // StateDone or StateFailed
	Final    *Message
	Err      error
	Cycles   int
	Duration time.Duration
	// Disconnected is set when the execution stopped because the sink
	// reported ErrTransportClosed.
	Disconnected bool
}

// Hooks observe the scheduler without influencing it.
type Hooks struct {
	OnNodeEnter func(ctx context.Context, threadID string, node State)
	OnFinish    func(ctx context.Context, res Result)
}

// Scheduler coordinates the agent and tool nodes for one execution at a time
// per call to Run. It is safe for concurrent use across different threads;
// callers serialize executions of the same thread.
type Scheduler struct {
	agent     *AgentNode
	tools     *ToolNode
	store     CheckpointStore
	maxCycles int
	hooks     Hooks
	logger    logrus.FieldLogger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMaxToolCycles sets the AGENT->TOOLS cycle budget of one execution.
func WithMaxToolCycles(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxCycles = n
		}
	}
}

// WithHooks registers lifecycle hooks.
func WithHooks(h Hooks) SchedulerOption {
	return func(s *Scheduler) {
		s.hooks = h
	}
}

// WithSchedulerLogger sets the logger used by the scheduler.
func WithSchedulerLogger(logger logrus.FieldLogger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler wires the nodes and the checkpoint store together.
func NewScheduler(agentNode *AgentNode, toolNode *ToolNode, store CheckpointStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		agent:     agentNode,
		tools:     toolNode,
		store:     store,
		maxCycles: DefaultMaxToolCycles,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives one execution until DONE or FAILED. Every event is pushed to
// sink as it happens; the last event is a TerminalEvent or a FailureEvent
// unless the sink itself has gone away. The checkpoint is committed before
// the terminal event is emitted.
func (s *Scheduler) Run(ctx context.Context, in Input, sink Sink) Result {
	start := time.Now()
	logger := s.logger.WithField("threadId", in.ThreadID)
	res := Result{ThreadID: in.ThreadID}

	state, err := s.begin(ctx, in)
	if err != nil {
		return s.fail(ctx, sink, res, start, logger, err)
	}

	node := StateAgent
	var last Message
	for {
		if s.hooks.OnNodeEnter != nil {
			s.hooks.OnNodeEnter(ctx, in.ThreadID, node)
		}

		switch node {
		case StateAgent:
			if err := ctx.Err(); err != nil {
				return s.fail(ctx, sink, res, start, logger, fmt.Errorf("%w: %v", ErrExecutionCancelled, err))
			}
			msg, err := s.invokeAgent(ctx, state.Messages, sink)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrTransportClosed) {
					err = fmt.Errorf("%w: %v", ErrExecutionCancelled, ctxErr)
				}
				return s.fail(ctx, sink, res, start, logger, err)
			}
			state.Append(msg)
			if err := s.save(ctx, state); err != nil {
				return s.fail(ctx, sink, res, start, logger, err)
			}
			last = msg

			if !NeedsTools(msg) {
				node = StateDone
				continue
			}
			if res.Cycles >= s.maxCycles {
				s.abandonCalls(ctx, state, last, "not executed: tool cycle limit reached", logger)
				return s.fail(ctx, sink, res, start, logger, fmt.Errorf("%w: limit is %d", ErrMaxCyclesExceeded, s.maxCycles))
			}
			node = StateTools

		case StateTools:
			if err := ctx.Err(); err != nil {
				s.abandonCalls(ctx, state, last, "not executed: execution cancelled", logger)
				return s.fail(ctx, sink, res, start, logger, fmt.Errorf("%w: %v", ErrExecutionCancelled, err))
			}
			res.Cycles++
			logger.WithFields(logrus.Fields{
				"cycle":     res.Cycles,
				"toolCalls": len(last.ToolCalls),
			}).Debug("Dispatching tool calls")

			results, sinkErr := s.tools.Invoke(ctx, last, sink)
			if err := state.AppendToolResults(results); err != nil {
				return s.fail(ctx, sink, res, start, logger, err)
			}
			if err := s.save(ctx, state); err != nil {
				return s.fail(ctx, sink, res, start, logger, err)
			}
			if sinkErr != nil {
				if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(sinkErr, ErrTransportClosed) {
					sinkErr = fmt.Errorf("%w: %v", ErrExecutionCancelled, ctxErr)
				}
				return s.fail(ctx, sink, res, start, logger, sinkErr)
			}
			node = StateAgent

		case StateDone:
			res.State = StateDone
			final := last
			res.Final = &final
			res.Duration = time.Since(start)
			if err := sink.Emit(context.WithoutCancel(ctx), TerminalEvent{FinalMessage: final}); err != nil {
				res.Disconnected = errors.Is(err, ErrTransportClosed)
				logger.WithError(err).Info("Client gone before completion frame")
			}
			logger.WithFields(logrus.Fields{
				"cycles":        res.Cycles,
				"executionTime": res.Duration,
			}).Info("Execution completed")
			if s.hooks.OnFinish != nil {
				s.hooks.OnFinish(ctx, res)
			}
			return res
		}
	}
}

// begin loads the thread, seeds it from the client history on the first
// turn, appends the new user message and commits.
func (s *Scheduler) begin(ctx context.Context, in Input) (*ExecutionState, error) {
	if strings.TrimSpace(in.NewMessage) == "" {
		return nil, ErrEmptyMessage
	}
	state, err := s.store.Load(ctx, in.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("%w: load %q: %v", ErrCheckpointPersistence, in.ThreadID, err)
	}
	if state == nil {
		state = NewExecutionState(in.ThreadID)
	}
	state.ThreadID = in.ThreadID
	if state.IsEmpty() {
		state.Append(in.History...)
	}
	state.Append(UserMessage(in.NewMessage))
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// abandonCalls answers the calls of last that never ran with an error result
// and commits, so the next turn does not start on unanswered tool calls.
func (s *Scheduler) abandonCalls(ctx context.Context, state *ExecutionState, last Message, reason string, logger logrus.FieldLogger) {
	pending := state.PendingCalls()
	results := make([]ToolResult, 0, len(pending))
	for _, call := range last.ToolCalls {
		if _, ok := pending[call.CallID]; !ok {
			continue
		}
		delete(pending, call.CallID)
		results = append(results, errorResult(call, reason))
	}
	if len(results) == 0 {
		return
	}
	if err := state.AppendToolResults(results); err != nil {
		logger.WithError(err).Warn("Could not close pending tool calls")
		return
	}
	if err := s.save(ctx, state); err != nil {
		logger.WithError(err).Warn("Could not commit closed tool calls")
	}
}

func (s *Scheduler) invokeAgent(ctx context.Context, history []Message, sink Sink) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: agent node panicked: %v", ErrModelInvocation, r)
		}
	}()
	return s.agent.Invoke(ctx, history, sink)
}

// save commits on a context that survives cancellation so a stopped or
// disconnected execution still leaves a consistent checkpoint.
func (s *Scheduler) save(ctx context.Context, state *ExecutionState) error {
	if err := s.store.Save(context.WithoutCancel(ctx), state.ThreadID, state); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointPersistence, err)
	}
	return nil
}

func (s *Scheduler) fail(ctx context.Context, sink Sink, res Result, start time.Time, logger logrus.FieldLogger, err error) Result {
	res.State = StateFailed
	res.Err = err
	res.Duration = time.Since(start)

	if errors.Is(err, ErrTransportClosed) {
		res.Disconnected = true
		logger.WithField("cycles", res.Cycles).Info("Client disconnected, execution stopped")
	} else {
		logger.WithError(err).WithField("cycles", res.Cycles).Error("Execution failed")
		if emitErr := sink.Emit(context.WithoutCancel(ctx), FailureEvent{Reason: err.Error(), Err: err}); emitErr != nil {
			res.Disconnected = errors.Is(emitErr, ErrTransportClosed)
			logger.WithError(emitErr).Info("Client gone before error frame")
		}
	}

	if s.hooks.OnFinish != nil {
		s.hooks.OnFinish(ctx, res)
	}
	return res
}
