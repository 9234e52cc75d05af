package task

import (
	"sort"
	"sync"

	"github.com/quantaalpha/triald/internal/errors"
)

// Registry owns all task records. It is an explicit object passed by
// reference to every component that needs it, so multiple supervisors
// can coexist in tests; there is no package-level instance.
//
// Registry-wide locking covers only insert and lookup; per-task
// mutation goes through the task's own methods.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// Add inserts a task. Task ids are unique by construction.
func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID()] = t
}

// Get returns the task for the given id, or a NotFoundError.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, errors.NewNotFoundError("task", id)
	}
	return t, nil
}

// List returns all known tasks ordered by creation time, newest first.
func (r *Registry) List() []*Task {
	r.mu.RLock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().After(out[j].CreatedAt())
	})
	return out
}

// Len returns the number of known tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
