package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/umputun/newsflux/pkg/domain"
)

// Processor executes a single work unit. Implemented by the batch
// orchestrator, the queue stays agnostic of what a unit does.
type Processor interface {
	ProcessUnit(ctx context.Context, unit domain.WorkUnit) (domain.BatchRunStats, error)
}

// Options control per-job retry and timeout behavior
type Options struct {
	Attempts int           // retry budget per unit
	Backoff  time.Duration // initial backoff, doubled per attempt
	Timeout  time.Duration // per-unit execution timeout
}

// Queue hands work units to a durable backend for async execution by a
// worker pool. When the backend is unreachable the same units are executed
// synchronously in the caller's context, so callers observe an identical
// result shape regardless of the path taken.
type Queue struct {
	backend   Backend
	processor Processor
	workers   int
	defaults  Options

	mu   sync.RWMutex
	jobs map[string]*domain.JobRecord

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Stats reports queue depth counts per job state plus backend depth
type Stats struct {
	Queued       int   `json:"queued"`
	Active       int   `json:"active"`
	Completed    int   `json:"completed"`
	Failed       int   `json:"failed"`
	Cancelled    int   `json:"cancelled"`
	BackendDepth int64 `json:"backend_depth"`
	BackendUp    bool  `json:"backend_up"`
}

// envelope is the serialized form of a job handed to the backend
type envelope struct {
	JobID string            `json:"job_id"`
	Units []domain.WorkUnit `json:"units"`
	Opts  Options           `json:"opts"`
}

// New creates a queue over the given backend. Worker concurrency is
// independent from the orchestrator's own source-level concurrency.
func New(backend Backend, processor Processor, workers int, defaults Options) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if defaults.Attempts <= 0 {
		defaults.Attempts = 3
	}
	if defaults.Backoff <= 0 {
		defaults.Backoff = time.Second
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 10 * time.Minute
	}
	return &Queue{
		backend:   backend,
		processor: processor,
		workers:   workers,
		defaults:  defaults,
		jobs:      make(map[string]*domain.JobRecord),
	}
}

// Enqueue hands the units to the durable backend. If the backend is
// unreachable the units are executed synchronously right here and the
// returned record is terminal and tagged SyncExecuted.
func (q *Queue) Enqueue(ctx context.Context, units []domain.WorkUnit, opts ...Options) (domain.JobRecord, error) {
	if len(units) == 0 {
		return domain.JobRecord{}, fmt.Errorf("no work units to enqueue")
	}

	jobOpts := q.defaults
	if len(opts) > 0 {
		if opts[0].Attempts > 0 {
			jobOpts.Attempts = opts[0].Attempts
		}
		if opts[0].Backoff > 0 {
			jobOpts.Backoff = opts[0].Backoff
		}
		if opts[0].Timeout > 0 {
			jobOpts.Timeout = opts[0].Timeout
		}
	}

	now := time.Now()
	rec := &domain.JobRecord{
		ID:        uuid.New().String(),
		State:     domain.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.mu.Lock()
	q.jobs[rec.ID] = rec
	q.mu.Unlock()

	if err := q.backend.Ping(ctx); err != nil {
		lgr.Printf("[WARN] queue backend unreachable, executing job %s synchronously: %v", rec.ID, err)
		q.runJob(ctx, rec.ID, units, jobOpts, true)
		return q.snapshot(rec.ID), nil
	}

	payload, err := json.Marshal(envelope{JobID: rec.ID, Units: units, Opts: jobOpts})
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("marshal job: %w", err)
	}

	if err := q.backend.Push(ctx, payload); err != nil {
		lgr.Printf("[WARN] queue push failed, executing job %s synchronously: %v", rec.ID, err)
		q.runJob(ctx, rec.ID, units, jobOpts, true)
		return q.snapshot(rec.ID), nil
	}

	lgr.Printf("[INFO] enqueued job %s with %d units", rec.ID, len(units))
	return q.snapshot(rec.ID), nil
}

// GetStatus returns a copy of the job record
func (q *Queue) GetStatus(jobID string) (domain.JobRecord, error) {
	q.mu.RLock()
	rec, ok := q.jobs[jobID]
	q.mu.RUnlock()
	if !ok {
		return domain.JobRecord{}, fmt.Errorf("job %s not found", jobID)
	}
	return *rec, nil
}

// Cancel marks a queued job cancelled. A job already executing can't be
// interrupted mid-unit, and terminal states are immutable.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if rec.State != domain.JobQueued {
		return fmt.Errorf("job %s is %s, only queued jobs can be cancelled", jobID, rec.State)
	}
	rec.State = domain.JobCancelled
	rec.UpdatedAt = time.Now()
	lgr.Printf("[INFO] job %s cancelled", jobID)
	return nil
}

// Stats returns per-state job counts and backend depth
func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.RLock()
	st := Stats{}
	for _, rec := range q.jobs {
		switch rec.State {
		case domain.JobQueued:
			st.Queued++
		case domain.JobActive:
			st.Active++
		case domain.JobCompleted:
			st.Completed++
		case domain.JobFailed:
			st.Failed++
		case domain.JobCancelled:
			st.Cancelled++
		}
	}
	q.mu.RUnlock()

	if depth, err := q.backend.Depth(ctx); err == nil {
		st.BackendDepth = depth
		st.BackendUp = true
	}
	return st
}

// snapshot returns a copy of the record by id
func (q *Queue) snapshot(jobID string) domain.JobRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if rec, ok := q.jobs[jobID]; ok {
		return *rec
	}
	return domain.JobRecord{}
}

// update applies a mutation to the job record under lock, refusing to touch
// terminal states
func (q *Queue) update(jobID string, fn func(rec *domain.JobRecord)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.jobs[jobID]
	if !ok || rec.State.Terminal() {
		return
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
}
