package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// DefaultToolTimeout bounds a single tool call when no timeout is configured.
const DefaultToolTimeout = 30 * time.Second

// ToolInvoker is the tool service boundary used by the tool node.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, input json.RawMessage) (any, error)
}

// ToolObserver is notified after every tool call.
type ToolObserver func(toolName string, elapsed time.Duration, isError bool)

// ToolNode executes the tool calls of an assistant message. Calls of the same
// turn run concurrently on a worker pool; results are reported in request
// order.
type ToolNode struct {
	invoker  ToolInvoker
	pool     *ants.Pool
	ownsPool bool
	timeout  time.Duration
	observer ToolObserver
	logger   logrus.FieldLogger
}

// ToolOption configures a ToolNode.
type ToolOption func(*ToolNode)

// WithPool runs tool calls on a shared pool. The node does not release it.
func WithPool(pool *ants.Pool) ToolOption {
	return func(n *ToolNode) {
		n.pool = pool
	}
}

// WithToolTimeout bounds each tool call. A timed out call yields an error result.
func WithToolTimeout(d time.Duration) ToolOption {
	return func(n *ToolNode) {
		n.timeout = d
	}
}

// WithToolObserver registers a callback invoked after each call.
func WithToolObserver(fn ToolObserver) ToolOption {
	return func(n *ToolNode) {
		n.observer = fn
	}
}

// WithToolLogger sets the logger used by the node.
func WithToolLogger(logger logrus.FieldLogger) ToolOption {
	return func(n *ToolNode) {
		n.logger = logger
	}
}

// NewToolNode creates a tool node. Without WithPool it creates a private pool
// sized to the number of CPUs, released by Close.
func NewToolNode(invoker ToolInvoker, opts ...ToolOption) (*ToolNode, error) {
	n := &ToolNode{
		invoker: invoker,
		timeout: DefaultToolTimeout,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.pool == nil {
		pool, err := ants.NewPool(ants.DefaultAntsPoolSize, ants.WithPreAlloc(false))
		if err != nil {
			return nil, fmt.Errorf("failed to create tool pool: %w", err)
		}
		n.pool = pool
		n.ownsPool = true
	}
	return n, nil
}

// Close releases the private pool, if any.
func (n *ToolNode) Close() {
	if n.ownsPool {
		n.pool.Release()
	}
}

// Invoke executes every tool call of msg. A ToolStartEvent is emitted before
// each call is dispatched and a ToolEndEvent once its result is in.
//
// Dispatched calls run on a context detached from ctx so a client that goes
// away does not abort side effects half way. If the sink fails, no further
// calls are dispatched: undispatched calls get an error result, dispatched
// ones are awaited, and the sink error is returned with the full result set.
func (n *ToolNode) Invoke(ctx context.Context, msg Message, sink Sink) ([]ToolResult, error) {
	calls := msg.ToolCalls
	results := make([]ToolResult, len(calls))
	pending := make([]chan ToolResult, len(calls))
	detached := context.WithoutCancel(ctx)

	var sinkErr error
	for i, call := range calls {
		if sinkErr == nil {
			sinkErr = sink.Emit(ctx, ToolStartEvent{ToolName: call.ToolName, CallID: call.CallID, Input: call.Input})
		}
		if sinkErr != nil {
			results[i] = errorResult(call, "tool call not dispatched: client disconnected")
			continue
		}

		ch := make(chan ToolResult, 1)
		pending[i] = ch
		task := func() { ch <- n.run(detached, call) }
		if err := n.pool.Submit(task); err != nil {
			n.logger.WithError(err).WithField("tool", call.ToolName).Warn("Tool pool rejected task, running inline")
			go task()
		}
	}

	for i, ch := range pending {
		if ch == nil {
			continue
		}
		results[i] = <-ch
		if sinkErr == nil {
			sinkErr = sink.Emit(ctx, ToolEndEvent{
				ToolName: results[i].ToolName,
				CallID:   results[i].CallID,
				Output:   results[i].Output,
				IsError:  results[i].IsError,
			})
		}
	}
	return results, sinkErr
}

// run performs one call. It never fails: errors, panics and timeouts are
// folded into the result so the model can react on its next turn.
func (n *ToolNode) run(ctx context.Context, call ToolCallRequest) ToolResult {
	callCtx := ctx
	cancel := func() {}
	if n.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, n.timeout)
	}
	defer cancel()

	logger := n.logger.WithFields(logrus.Fields{
		"tool":   call.ToolName,
		"callId": call.CallID,
	})
	logger.Info("Tool execution started")
	start := time.Now()

	type outcome struct {
		output any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := n.invoker.Invoke(callCtx, call.ToolName, call.Input)
		done <- outcome{output: out, err: err}
	}()

	var res ToolResult
	select {
	case o := <-done:
		if o.err != nil {
			res = errorResult(call, o.err.Error())
		} else {
			res = ToolResult{CallID: call.CallID, ToolName: call.ToolName, Output: o.output}
		}
	case <-callCtx.Done():
		reason := callCtx.Err().Error()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("tool %q timed out after %s", call.ToolName, n.timeout)
		}
		res = errorResult(call, reason)
	}

	elapsed := time.Since(start)
	if res.IsError {
		logger.WithError(ErrToolExecution).WithFields(logrus.Fields{
			"executionTime": elapsed,
			"output":        res.Output,
		}).Warn("Tool execution failed")
	} else {
		logger.WithField("executionTime", elapsed).Info("Tool execution completed")
	}
	if n.observer != nil {
		n.observer(call.ToolName, elapsed, res.IsError)
	}
	return res
}

func errorResult(call ToolCallRequest, reason string) ToolResult {
	return ToolResult{
		CallID:   call.CallID,
		ToolName: call.ToolName,
		Output:   map[string]any{"error": reason},
		IsError:  true,
	}
}
