package verify

import (
	"context"
	"sync"
)

// JobManager tracks cancel functions for in-flight verification runs so they
// can be abandoned by run ID.
type JobManager struct {
	mu      sync.RWMutex
	cancels map[string]context.CancelFunc
}

func NewJobManager() *JobManager {
	return &JobManager{cancels: make(map[string]context.CancelFunc)}
}

// Register stores a cancel function when a run starts.
func (jm *JobManager) Register(runID string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[runID] = cancel
}

// Cancel invokes a run's cancel function. Returns false for unknown runs.
func (jm *JobManager) Cancel(runID string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	cancel, ok := jm.cancels[runID]
	if !ok {
		return false
	}
	cancel()
	delete(jm.cancels, runID)
	return true
}

// Unregister drops a run's cancel function once it finishes.
func (jm *JobManager) Unregister(runID string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	delete(jm.cancels, runID)
}

// IsRunning reports whether a run is still registered.
func (jm *JobManager) IsRunning(runID string) bool {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	_, ok := jm.cancels[runID]
	return ok
}
