package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cartloom/capture-service/internal/idempotency"
	"github.com/cartloom/capture-service/internal/queue"
)

// IngestOutcome reports what happened to a delivery.
type IngestOutcome string

const (
	// OutcomeEnqueued means the event is new and a job was queued.
	OutcomeEnqueued IngestOutcome = "enqueued"
	// OutcomeDuplicate means the event id was seen before, either fully
	// processed or currently in flight. Nothing was queued.
	OutcomeDuplicate IngestOutcome = "duplicate"
)

// Intake is the synchronous half of webhook handling: dedupe and
// enqueue, nothing else. Heavy work happens on the worker side.
type Intake struct {
	idem    idempotency.Checker
	store   queue.Store
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewIntake wires the webhook intake over the idempotency checker and
// job store. Pass the checker through idempotency.NewFailOpen so an
// idempotency-store outage degrades to at-least-once instead of
// rejecting deliveries.
func NewIntake(idem idempotency.Checker, store queue.Store, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{idem: idem, store: store, logger: logger, nowFunc: time.Now}
}

// Ingest records and enqueues one delivery. Deliveries whose event id
// was already processed, or is currently being processed, come back
// OutcomeDuplicate with no side effects. If enqueueing fails after the
// idempotency slot was claimed, the slot is released so the gateway's
// redelivery can get through.
func (in *Intake) Ingest(ctx context.Context, evt Event) (IngestOutcome, error) {
	rec, err := in.idem.Get(ctx, evt.EventID)
	if err != nil {
		return "", fmt.Errorf("webhooks: idempotency lookup: %w", err)
	}
	if rec != nil {
		in.logger.Info("duplicate webhook delivery skipped",
			slog.String("event_id", evt.EventID),
			slog.String("event_type", evt.EventType),
			slog.String("record_status", rec.Status),
		)
		return OutcomeDuplicate, nil
	}

	acquired, err := in.idem.Acquire(ctx, evt.EventID)
	if err != nil {
		return "", fmt.Errorf("webhooks: idempotency acquire: %w", err)
	}
	if !acquired {
		// Lost the race to a concurrent delivery of the same event.
		in.logger.Info("concurrent webhook delivery skipped",
			slog.String("event_id", evt.EventID),
		)
		return OutcomeDuplicate, nil
	}

	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = in.nowFunc().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("webhooks: marshal event: %w", err)
	}

	j := queue.NewJob(JobID(evt.EventID), JobName, Queue, payload, 0, DefaultMaxAttempts, in.nowFunc().UTC())
	if _, _, err := in.store.Add(ctx, j); err != nil {
		// Give the slot back or the event is lost until the processing
		// TTL expires.
		if relErr := in.idem.ReleaseIfProcessing(ctx, evt.EventID); relErr != nil {
			in.logger.Error("failed to release idempotency slot after enqueue failure",
				slog.String("event_id", evt.EventID),
				slog.String("error", relErr.Error()),
			)
		}
		return "", fmt.Errorf("webhooks: enqueue event %s: %w", evt.EventID, err)
	}

	in.logger.Info("webhook event enqueued",
		slog.String("event_id", evt.EventID),
		slog.String("event_type", evt.EventType),
	)
	return OutcomeEnqueued, nil
}
