package domain

import "time"

// JobState is the lifecycle state of a queued job
type JobState string

// job states, terminal states are never changed once set
const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// WorkUnit is a single unit of work processed by the job queue.
// For batch runs a unit carries the sources of one batch.
type WorkUnit struct {
	ID      string   `json:"id"`
	Sources []Source `json:"sources"`
}

// JobRecord tracks a job through the queue. Created on enqueue,
// mutated only by the executing worker.
type JobRecord struct {
	ID           string        `json:"id"`
	State        JobState      `json:"state"`
	Progress     int           `json:"progress"` // 0-100
	CurrentUnit  string        `json:"current_unit,omitempty"`
	Attempts     int           `json:"attempts"`
	LastError    string        `json:"last_error,omitempty"`
	SyncExecuted bool          `json:"sync_executed"` // true when queue backend was down and the job ran in-process
	Stats        BatchRunStats `json:"stats"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
