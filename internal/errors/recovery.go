package errors

import (
	"sync"
)

// maxPending bounds the number of errors waiting to be shown.
const maxPending = 16

// RecoveryManager keeps the errors awaiting acknowledgement in the TUI. The
// oldest one is presented first; dismissing it reveals the next.
type RecoveryManager struct {
	mu      sync.RWMutex
	pending []*ProcessedError
}

// NewRecoveryManager creates a new recovery manager.
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// Push queues a processed error. When the queue is full the oldest entry is
// discarded.
func (rm *RecoveryManager) Push(processed *ProcessedError) {
	if processed == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if len(rm.pending) == maxPending {
		rm.pending = rm.pending[1:]
	}
	rm.pending = append(rm.pending, processed)
}

// Current returns the error being shown, or nil.
func (rm *RecoveryManager) Current() *ProcessedError {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if len(rm.pending) == 0 {
		return nil
	}
	return rm.pending[0]
}

// Dismiss removes the error being shown.
func (rm *RecoveryManager) Dismiss() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if len(rm.pending) > 0 {
		rm.pending = rm.pending[1:]
	}
}

// IsActive returns true if an error is waiting for acknowledgement.
func (rm *RecoveryManager) IsActive() bool {
	return rm.Current() != nil
}

// Pending returns the number of queued errors.
func (rm *RecoveryManager) Pending() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.pending)
}

// GetRecoveryActions returns the actions of the error being shown.
func (rm *RecoveryManager) GetRecoveryActions() []Action {
	if current := rm.Current(); current != nil {
		return current.RecoveryActions
	}
	return nil
}
