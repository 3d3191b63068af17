/*
This file implements the CancelManager, which tracks running executions so a
client can stop one by id. Stopping cancels the execution context; the
scheduler notices at its next node boundary, commits what it has and ends the
stream with an error frame.
*/
package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Execution describes one running execution.
type Execution struct {
	ID        string    `json:"executionId"`
	ThreadID  string    `json:"threadId"`
	UserID    string    `json:"-"`
	StartedAt time.Time `json:"startedAt"`
}

type trackedExecution struct {
	Execution
	cancel context.CancelFunc
}

// CancelManager tracks running executions and their cancellation functions.
type CancelManager struct {
	executions map[string]trackedExecution
	mutex      sync.RWMutex
}

// NewCancelManager creates an empty manager.
func NewCancelManager() *CancelManager {
	return &CancelManager{
		executions: make(map[string]trackedExecution),
	}
}

// AddExecution registers a running execution.
func (cm *CancelManager) AddExecution(exec Execution, cancel context.CancelFunc) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	cm.executions[exec.ID] = trackedExecution{Execution: exec, cancel: cancel}
}

// RemoveExecution stops tracking an execution.
func (cm *CancelManager) RemoveExecution(executionID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.executions, executionID)
}

// CancelExecution cancels the execution if it is running and owned by
// userID. It reports whether an execution was cancelled.
func (cm *CancelManager) CancelExecution(executionID, userID string) bool {
	cm.mutex.Lock()
	exec, exists := cm.executions[executionID]
	if exists && exec.UserID == userID {
		delete(cm.executions, executionID)
	} else {
		exists = false
	}
	cm.mutex.Unlock()

	if exists {
		exec.cancel()
	}
	return exists
}

// CancelAll cancels every running execution, used on shutdown.
func (cm *CancelManager) CancelAll() int {
	cm.mutex.Lock()
	executions := cm.executions
	cm.executions = make(map[string]trackedExecution)
	cm.mutex.Unlock()

	for _, exec := range executions {
		exec.cancel()
	}
	return len(executions)
}

// GetActiveExecutions returns the running executions, oldest first.
func (cm *CancelManager) GetActiveExecutions() []Execution {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	executions := make([]Execution, 0, len(cm.executions))
	for _, exec := range cm.executions {
		executions = append(executions, exec.Execution)
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})
	return executions
}
