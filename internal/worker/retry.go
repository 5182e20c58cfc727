package worker

import (
	"sync"

	"bridgescan/enricher/internal/metrics"
)

// RetryState counts failed attempts per message id within one reset epoch.
// The poller is the only writer; the lock covers the reset timer and status reads.
type RetryState struct {
	mu      sync.Mutex
	ceiling int
	counts  map[int64]int
}

// NewRetryState returns an empty retry map. Ids whose count exceeds ceiling
// are exhausted until the next Reset.
func NewRetryState(ceiling int) *RetryState {
	return &RetryState{ceiling: ceiling, counts: make(map[int64]int)}
}

// Exhausted reports whether id has used up its retries
func (r *RetryState) Exhausted(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id] > r.ceiling
}

// Fail records one more failed attempt for id and returns the new count
func (r *RetryState) Fail(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[id]++
	metrics.RetryMapSize.Set(float64(len(r.counts)))
	return r.counts[id]
}

// Count returns the attempts recorded for id
func (r *RetryState) Count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id]
}

// Len returns the number of tracked ids
func (r *RetryState) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counts)
}

// Reset starts a new epoch
func (r *RetryState) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = make(map[int64]int)
	metrics.RetryMapSize.Set(0)
}
