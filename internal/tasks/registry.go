package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
)

// entry is the in-process bookkeeping for one running job.
//
// mu guards job. The flags are read by the work goroutine without taking mu.
type entry struct {
	mu        sync.Mutex
	job       models.Job
	cancelled atomic.Bool
	lost      atomic.Bool
	cancel    context.CancelCauseFunc
	leasedAt  time.Time // taken just before the lock was acquired
}

func (e *entry) snapshot() models.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Registry tracks jobs running in this process.
//
// Lookups are by job id only; there is no way to iterate the entries from outside the package.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.job.ID] = e
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Get returns a copy of the snapshot for a job running here.
func (r *Registry) Get(id string) (models.Job, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Job{}, false
	}
	return e.snapshot(), true
}

// Cancel sets the cooperative cancellation flag for a job running here.
//
// It reports whether the job was found. The work context is left alone.
func (r *Registry) Cancel(id string) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	e.cancelled.Store(true)
	return true
}

// Len returns the number of jobs running here.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
