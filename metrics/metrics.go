// Package metrics exports execution, tool and stream counters for Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"chatgraph/agent"
	"chatgraph/stream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatgraph"

// Outcome labels of chatgraph_executions_total.
const (
	OutcomeDone         = "done"
	OutcomeFailed       = "failed"
	OutcomeDisconnected = "disconnected"
)

// Recorder owns the collectors. Each Recorder uses its own registry so tests
// and multiple servers in one process do not collide.
type Recorder struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
	toolCycles        prometheus.Histogram
	activeExecutions  prometheus.Gauge
	nodeVisits        *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	toolDuration      *prometheus.HistogramVec
	frames            *prometheus.CounterVec
}

// NewRecorder creates and registers every collector.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executions by outcome.",
		}, []string{"outcome"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of an execution from start to terminal state.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		toolCycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_cycles",
			Help:      "AGENT to TOOLS transitions per execution.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		activeExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Executions currently running.",
		}),
		nodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_visits_total",
			Help:      "Scheduler node entries.",
		}, []string{"node"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Frames handed to client transports by type.",
		}, []string{"type"}),
	}

	r.registry.MustRegister(
		r.executions,
		r.executionDuration,
		r.toolCycles,
		r.activeExecutions,
		r.nodeVisits,
		r.toolCalls,
		r.toolDuration,
		r.frames,
	)
	return r
}

// Registry exposes the registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Hooks returns scheduler hooks feeding the execution collectors.
func (r *Recorder) Hooks() agent.Hooks {
	return agent.Hooks{
		OnNodeEnter: func(_ context.Context, _ string, node agent.State) {
			r.nodeVisits.WithLabelValues(string(node)).Inc()
		},
		OnFinish: func(_ context.Context, res agent.Result) {
			outcome := OutcomeDone
			switch {
			case res.Disconnected:
				outcome = OutcomeDisconnected
			case res.State == agent.StateFailed:
				outcome = OutcomeFailed
			}
			r.executions.WithLabelValues(outcome).Inc()
			r.executionDuration.Observe(res.Duration.Seconds())
			r.toolCycles.Observe(float64(res.Cycles))
		},
	}
}

// ObserveTool is an agent.ToolObserver.
func (r *Recorder) ObserveTool(toolName string, elapsed time.Duration, isError bool) {
	status := "ok"
	if isError {
		status = "error"
	}
	r.toolCalls.WithLabelValues(toolName, status).Inc()
	r.toolDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())
}

// ObserveFrame counts one frame; pass it to stream.NewTranslator.
func (r *Recorder) ObserveFrame(t stream.FrameType) {
	r.frames.WithLabelValues(string(t)).Inc()
}

// TrackActive marks an execution as running until the returned func is called.
func (r *Recorder) TrackActive() func() {
	r.activeExecutions.Inc()
	return r.activeExecutions.Dec
}
