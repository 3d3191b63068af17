/*
Package checkpoint persists the per-thread execution state between node
invocations.

Two stores are provided: MemoryStore keeps snapshots in process and is the
default; RedisStore shares them between replicas. Both hand out copies so
a caller can never mutate a committed snapshot in place.
*/
package checkpoint

import (
	"context"
	"sync"
	"time"

	"chatgraph/agent"

	"github.com/sirupsen/logrus"
)

// Stats summarizes what a store holds.
type Stats struct {
	Threads  int `json:"totalThreads"`
	Messages int `json:"totalMessages"`
}

// MemoryStore keeps the latest snapshot of every thread in memory.
//
// Snapshots are never removed unless a maximum age is configured with
// WithMaxAge, in which case a background sweep drops threads idle for
// longer than that.
type MemoryStore struct {
	threads map[string]*agent.ExecutionState
	mutex   sync.RWMutex

	maxAge          time.Duration
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
	logger          logrus.FieldLogger
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxAge enables expiry of threads idle for longer than maxAge, checked
// every interval.
func WithMaxAge(maxAge, interval time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		m.maxAge = maxAge
		m.cleanupInterval = interval
	}
}

// WithLogger sets the logger used for cleanup reports.
func WithLogger(logger logrus.FieldLogger) MemoryOption {
	return func(m *MemoryStore) {
		m.logger = logger
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		threads: make(map[string]*agent.ExecutionState),
		stop:    make(chan struct{}),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxAge > 0 {
		if m.cleanupInterval <= 0 {
			m.cleanupInterval = m.maxAge
		}
		go m.cleanupExpired()
	}
	return m
}

// Load returns a copy of the thread's snapshot, or an empty state.
func (m *MemoryStore) Load(_ context.Context, threadID string) (*agent.ExecutionState, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	state, ok := m.threads[threadID]
	if !ok {
		return agent.NewExecutionState(threadID), nil
	}
	return state.Clone(), nil
}

// Save replaces the thread's snapshot with a copy of state.
func (m *MemoryStore) Save(_ context.Context, threadID string, state *agent.ExecutionState) error {
	snapshot := state.Clone()
	if snapshot == nil {
		snapshot = agent.NewExecutionState(threadID)
	}
	snapshot.ThreadID = threadID
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.threads[threadID] = snapshot
	return nil
}

// Delete drops a thread. Deleting an unknown thread is not an error.
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.threads[threadID]; ok {
		delete(m.threads, threadID)
		m.logger.WithField("threadId", threadID).Info("Checkpoint deleted")
	}
	return nil
}

// List returns the ids of all stored threads.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	return ids, nil
}

// Stats reports thread and message counts.
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := Stats{Threads: len(m.threads)}
	for _, state := range m.threads {
		stats.Messages += len(state.Messages)
	}
	return stats, nil
}

// Close stops the cleanup sweep.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryStore) cleanupExpired() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *MemoryStore) sweep(now time.Time) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	expired := 0
	for id, state := range m.threads {
		if now.Sub(state.UpdatedAt) > m.maxAge {
			delete(m.threads, id)
			expired++
		}
	}
	if expired > 0 {
		m.logger.WithFields(logrus.Fields{
			"expiredThreads":   expired,
			"remainingThreads": len(m.threads),
		}).Info("Cleaned up idle checkpoints")
	}
	return expired
}
