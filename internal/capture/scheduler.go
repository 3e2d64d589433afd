package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cartloom/capture-service/internal/queue"
	"github.com/cartloom/capture-service/internal/validation"
)

const (
	// Queue is the durable queue capture jobs run on.
	Queue = "captures"
	// JobName identifies capture jobs in the worker pool registry.
	JobName = "capture-order"

	// DefaultDelay is the grace period between order placement and the
	// delayed capture backstop. Edits during the modification window are
	// expected to finish well inside it.
	DefaultDelay = 7 * 24 * time.Hour

	// DefaultMaxAttempts bounds retries before a job dead-letters.
	DefaultMaxAttempts = 3
)

// JobID derives the queue job id for an order. One id per order means a
// re-schedule dedupes onto the existing job and at most one capture job
// exists per order.
func JobID(orderID string) string {
	return "capture:" + orderID
}

// JobPayload is the persisted capture job body. PaymentIntentID is the
// hold reference recorded when the order was placed; the worker consults
// it for the live-status check but captures against the order's full
// current hold set.
type JobPayload struct {
	OrderID         string    `json:"orderId"`
	PaymentIntentID string    `json:"paymentIntentId"`
	ScheduledAt     time.Time `json:"scheduledAt"`
}

// Scheduler is the enqueue/cancel/query API for delayed capture jobs.
type Scheduler struct {
	store       queue.Store
	delay       time.Duration
	maxAttempts int
	logger      *slog.Logger
	nowFunc     func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithDelay overrides the default grace period.
func WithDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.delay = d }
}

// WithMaxAttempts overrides the retry budget given to new jobs.
func WithMaxAttempts(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxAttempts = n }
}

// NewScheduler creates a Scheduler over the given job store.
func NewScheduler(store queue.Store, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:       store,
		delay:       DefaultDelay,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule enqueues a delayed capture job for the order. Scheduling the
// same order twice returns the existing job instead of erroring.
// delayOverride nil uses the configured grace period; a zero override
// schedules for immediate pickup (used when fulfillment forces capture).
func (s *Scheduler) Schedule(ctx context.Context, orderID, paymentIntentID string, delayOverride *time.Duration) (*queue.Job, error) {
	if !validation.OrderID(orderID) {
		return nil, fmt.Errorf("capture: invalid order id %q", orderID)
	}
	if !validation.IntentID(paymentIntentID) {
		return nil, fmt.Errorf("capture: invalid payment intent id %q", paymentIntentID)
	}

	delay := s.delay
	if delayOverride != nil {
		delay = *delayOverride
	}

	now := s.nowFunc().UTC()
	payload, err := json.Marshal(JobPayload{
		OrderID:         orderID,
		PaymentIntentID: paymentIntentID,
		ScheduledAt:     now.Add(delay),
	})
	if err != nil {
		return nil, fmt.Errorf("capture: marshal job payload: %w", err)
	}

	j := queue.NewJob(JobID(orderID), JobName, Queue, payload, delay, s.maxAttempts, now)
	stored, created, err := s.store.Add(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("capture: schedule: %w", err)
	}
	if !created {
		s.logger.Debug("capture job already scheduled",
			slog.String("order_id", orderID),
			slog.String("job_id", stored.ID),
		)
	}
	return stored, nil
}

// Cancel removes the order's pending capture job. Returns false if no job
// exists. Cancellation of a job a worker currently owns is refused with
// queue.ErrJobActive rather than silently racing the worker.
func (s *Scheduler) Cancel(ctx context.Context, orderID string) (bool, error) {
	err := s.store.Remove(ctx, JobID(orderID))
	switch {
	case err == nil:
		s.logger.Info("capture job canceled", slog.String("order_id", orderID))
		return true, nil
	case errors.Is(err, queue.ErrJobNotFound):
		return false, nil
	default:
		return false, err
	}
}

// State reports the queue state for the order's capture job, or
// queue.StateMissing if none exists. A stored delayed job whose run-at
// time has passed reports waiting.
func (s *Scheduler) State(ctx context.Context, orderID string) (queue.State, error) {
	j, err := s.store.Get(ctx, JobID(orderID))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return queue.StateMissing, nil
		}
		return "", err
	}
	if j.State == queue.StateDelayed && !j.RunAt.After(s.nowFunc().UTC()) {
		return queue.StateWaiting, nil
	}
	return j.State, nil
}
