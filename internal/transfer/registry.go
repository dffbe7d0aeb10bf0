package transfer

import (
	"sync"

	"github.com/nasdesk/nasdesk/internal/events"
)

// Stats counts jobs per state.
type Stats struct {
	Queued    int
	Running   int
	Retrying  int
	Completed int
	Failed    int
}

// Total returns total number of tracked jobs.
func (s Stats) Total() int {
	return s.Queued + s.Running + s.Retrying + s.Completed + s.Failed
}

// Active returns the number of jobs that have not finished.
func (s Stats) Active() int {
	return s.Queued + s.Running + s.Retrying
}

// Registry tracks submitted jobs and announces their state changes. It does
// not run anything; the Coordinator does.
type Registry struct {
	jobs     []*Job
	jobsByID map[string]*Job
	mu       sync.RWMutex

	eventBus *events.EventBus
}

// NewRegistry creates an empty registry. eventBus may be nil.
func NewRegistry(eventBus *events.EventBus) *Registry {
	return &Registry{
		jobsByID: make(map[string]*Job),
		eventBus: eventBus,
	}
}

func (r *Registry) track(job *Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.jobsByID[job.ID] = job
	r.mu.Unlock()

	r.publishState(job, "", StateQueued)
}

// transition moves job to state and publishes the change.
func (r *Registry) transition(job *Job, state State) {
	prev := job.setState(state)
	if prev != state {
		r.publishState(job, prev, state)
	}
}

// finished publishes the terminal state set by Job.finish.
func (r *Registry) finished(job *Job, prev State) {
	r.publishState(job, prev, job.State())
}

// Get returns the job with id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobsByID[id]
	return job, ok
}

// Jobs returns snapshots of all jobs in submission order.
func (r *Registry) Jobs() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Snapshot, len(r.jobs))
	for i, job := range r.jobs {
		result[i] = job.Snapshot()
	}
	return result
}

// Stats returns current per-state counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{}
	for _, job := range r.jobs {
		switch job.State() {
		case StateQueued:
			stats.Queued++
		case StateRunning:
			stats.Running++
		case StateRetrying:
			stats.Retrying++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats
}

// ClearFinished forgets completed and failed jobs.
func (r *Registry) ClearFinished() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*Job, 0, len(r.jobs))
	removed := 0
	for _, job := range r.jobs {
		if job.IsTerminal() {
			delete(r.jobsByID, job.ID)
			removed++
			continue
		}
		kept = append(kept, job)
	}
	r.jobs = kept
	return removed
}

func (r *Registry) publishState(job *Job, prev, next State) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.PublishJobState(job.ID, string(job.Kind), job.Remote, string(prev), string(next))
}
