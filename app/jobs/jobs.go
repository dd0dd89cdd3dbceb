// Package jobs is an in-memory registry for background work started from
// HTTP handlers. Jobs are kept until the process exits; the dashboard polls
// them by id and never deletes.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job statuses, in lifecycle order.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Job is one background task's visible state. Result holds the task's final
// payload when done.
type Job struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Result     any    `json:"result,omitempty"`
	StartedAt  int64  `json:"started_at,omitempty"`
	FinishedAt int64  `json:"finished_at,omitempty"`
}

// Registry tracks jobs by id.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Create registers a queued job and returns its id.
func (r *Registry) Create(message string) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.jobs[id] = &Job{ID: id, Status: StatusQueued, Message: message}
	r.mu.Unlock()
	return id
}

// Get returns a snapshot of the job, if known.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Start marks the job running.
func (r *Registry) Start(id, message string) {
	r.update(id, func(j *Job) {
		j.Status = StatusRunning
		j.Message = message
		j.StartedAt = time.Now().Unix()
	})
}

// Done marks the job finished with its result payload.
func (r *Registry) Done(id, message string, result any) {
	r.update(id, func(j *Job) {
		j.Status = StatusDone
		j.Message = message
		j.Result = result
		j.FinishedAt = time.Now().Unix()
	})
}

// Fail marks the job errored.
func (r *Registry) Fail(id string, err error) {
	r.update(id, func(j *Job) {
		j.Status = StatusError
		j.Error = err.Error()
		j.FinishedAt = time.Now().Unix()
	})
}

// Clear forgets every job. Used by the manual cache reset.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.jobs = make(map[string]*Job)
	r.mu.Unlock()
}

func (r *Registry) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
	}
}
