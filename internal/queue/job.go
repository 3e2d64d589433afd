// Package queue implements the durable delayed job queue the capture
// pipeline runs on: Redis-backed storage with per-job ids (so re-adds
// deduplicate), multi-day delays, bounded retries with backoff, bounded
// retention of finished jobs, and a polling worker pool.
package queue

import (
	"errors"
	"time"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is due and waiting for a worker.
	StateWaiting State = "waiting"
	// StateDelayed means the job's run-at time is still in the future.
	StateDelayed State = "delayed"
	// StateActive means a worker is currently executing the job.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts.
	StateFailed State = "failed"
	// StateMissing is the answer for ids with no stored job.
	StateMissing State = "missing"
)

var (
	// ErrJobNotFound means no job exists for the given id.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrJobActive means the operation is refused while a worker owns the
	// job. Cancelling an in-flight job would race the worker.
	ErrJobActive = errors.New("queue: job is active")
	// ErrNoHandler means a dequeued job has no registered handler.
	ErrNoHandler = errors.New("queue: no handler registered")
)

// Job is a unit of work. ID is caller-assigned: adding a second job with
// an existing id returns the stored job instead of creating a duplicate,
// which is what makes scheduling idempotent.
type Job struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Queue        string     `json:"queue"`
	Payload      []byte     `json:"payload"`
	State        State      `json:"state"`
	MaxAttempts  int        `json:"max_attempts"`
	AttemptsMade int        `json:"attempts_made"`
	LastError    string     `json:"last_error,omitempty"`
	RunAt        time.Time  `json:"run_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
