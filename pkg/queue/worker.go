package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"

	"github.com/umputun/newsflux/pkg/domain"
)

// Start launches the worker pool consuming jobs from the backend.
// Safe to skip entirely when only synchronous execution is wanted.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	lgr.Printf("[INFO] queue started with %d workers", q.workers)
}

// Stop gracefully stops the worker pool, letting in-flight jobs finish
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	lgr.Printf("[INFO] queue stopped")
}

// worker pops jobs from the backend and executes them
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := q.backend.Pop(ctx, time.Second)
		if errors.Is(err, ErrEmpty) || errors.Is(err, context.Canceled) {
			continue
		}
		if err != nil {
			lgr.Printf("[WARN] worker %d pop failed: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			lgr.Printf("[ERROR] worker %d got undecodable payload, dropped: %v", id, err)
			continue
		}

		// jobs pushed by another process won't have a local record yet
		q.mu.Lock()
		if _, ok := q.jobs[env.JobID]; !ok {
			now := time.Now()
			q.jobs[env.JobID] = &domain.JobRecord{ID: env.JobID, State: domain.JobQueued, CreatedAt: now, UpdatedAt: now}
		}
		cancelled := q.jobs[env.JobID].State == domain.JobCancelled
		q.mu.Unlock()

		if cancelled {
			lgr.Printf("[INFO] worker %d skipping cancelled job %s", id, env.JobID)
			continue
		}

		q.runJob(ctx, env.JobID, env.Units, env.Opts, false)
	}
}

// runJob executes all units of a job, retrying failed units up to the
// attempt budget with exponential backoff. A unit exhausting its budget is
// recorded with the last error and does not abort sibling units. A panic in
// unit processing is recorded against the job and kept visible via GetStatus.
func (q *Queue) runJob(ctx context.Context, jobID string, units []domain.WorkUnit, opts Options, sync bool) {
	defer func() {
		if r := recover(); r != nil {
			lgr.Printf("[ERROR] job %s crashed: %v", jobID, r)
			q.update(jobID, func(rec *domain.JobRecord) {
				rec.State = domain.JobFailed
				rec.LastError = fmt.Sprintf("worker crashed: %v", r)
			})
		}
	}()

	q.update(jobID, func(rec *domain.JobRecord) {
		rec.State = domain.JobActive
		rec.SyncExecuted = sync
	})

	failedUnits := 0
	for i, unit := range units {
		q.update(jobID, func(rec *domain.JobRecord) { rec.CurrentUnit = unit.ID })

		var unitStats domain.BatchRunStats
		retrier := repeater.NewBackoff(opts.Attempts, opts.Backoff, repeater.WithMaxDelay(time.Minute))
		err := retrier.Do(ctx, func() error {
			q.update(jobID, func(rec *domain.JobRecord) { rec.Attempts++ })

			unitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
			defer cancel()

			stats, procErr := q.processor.ProcessUnit(unitCtx, unit)
			if procErr != nil {
				return procErr
			}
			unitStats = stats
			return nil
		})

		if err != nil {
			failedUnits++
			lgr.Printf("[WARN] job %s unit %s failed after %d attempts: %v", jobID, unit.ID, opts.Attempts, err)
			q.update(jobID, func(rec *domain.JobRecord) { rec.LastError = err.Error() })
		} else {
			q.update(jobID, func(rec *domain.JobRecord) { rec.Stats = mergeStats(rec.Stats, unitStats) })
		}

		progress := (i + 1) * 100 / len(units)
		q.update(jobID, func(rec *domain.JobRecord) { rec.Progress = progress })
	}

	finalState := domain.JobCompleted
	if failedUnits > 0 {
		finalState = domain.JobFailed
	}
	q.update(jobID, func(rec *domain.JobRecord) {
		rec.State = finalState
		rec.CurrentUnit = ""
		rec.Progress = 100
	})
	lgr.Printf("[INFO] job %s finished with state %s, %d/%d units ok", jobID, finalState, len(units)-failedUnits, len(units))
}

// mergeStats folds a unit's stats into the job total
func mergeStats(total, unit domain.BatchRunStats) domain.BatchRunStats {
	total.Processed += unit.Processed
	total.Succeeded += unit.Succeeded
	total.Failed += unit.Failed
	total.Duplicates += unit.Duplicates
	total.Errors = append(total.Errors, unit.Errors...)
	if total.Started.IsZero() || (!unit.Started.IsZero() && unit.Started.Before(total.Started)) {
		total.Started = unit.Started
	}
	if unit.Finished.After(total.Finished) {
		total.Finished = unit.Finished
	}
	return total
}
