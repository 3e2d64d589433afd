package queue

import (
	"context"
	"time"
)

// Store is the persistence contract for jobs. Redis backs production;
// the in-memory implementation backs tests and local development.
type Store interface {
	// Add persists the job unless a job with the same id already exists.
	// Returns the stored job and whether it was newly created.
	Add(ctx context.Context, j *Job) (*Job, bool, error)

	// Get retrieves a job by id. Returns ErrJobNotFound if absent.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Remove deletes a job by id. Returns ErrJobActive if a worker is
	// executing it, ErrJobNotFound if absent.
	Remove(ctx context.Context, jobID string) error

	// Dequeue claims up to limit due jobs from the given queues and marks
	// them active. Delayed jobs whose run-at time has arrived are eligible.
	Dequeue(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// Update persists changes to an existing job.
	Update(ctx context.Context, j *Job) error

	// TrimFinished bounds retention: keeps the newest keep finished
	// (completed or failed) jobs per queue, deleting the rest. Returns the
	// number removed.
	TrimFinished(ctx context.Context, queue string, keep int) (int64, error)
}

// NewJob builds a job in the right initial state for its delay.
func NewJob(id, name, queueName string, payload []byte, delay time.Duration, maxAttempts int, now time.Time) *Job {
	runAt := now.Add(delay)
	state := StateWaiting
	if delay > 0 {
		state = StateDelayed
	}
	return &Job{
		ID:          id,
		Name:        name,
		Queue:       queueName,
		Payload:     payload,
		State:       state,
		MaxAttempts: maxAttempts,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
