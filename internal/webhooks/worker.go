package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cartloom/capture-service/internal/idempotency"
	"github.com/cartloom/capture-service/internal/queue"
)

// EventHandler processes one webhook event of a given type.
type EventHandler func(ctx context.Context, evt Event) error

// Alerter is the operational notification sink for dead-lettered events.
type Alerter interface {
	CriticalAlert(ctx context.Context, reason, message string, fields map[string]string)
}

// Worker consumes webhook jobs off the durable queue, dispatches by
// event type, and promotes the event's idempotency record once the
// handler succeeds.
type Worker struct {
	idem     idempotency.Checker
	alerts   Alerter
	logger   *slog.Logger
	handlers map[string]EventHandler
}

// NewWorker wires the webhook worker.
func NewWorker(idem idempotency.Checker, alerts Alerter, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		idem:     idem,
		alerts:   alerts,
		logger:   logger,
		handlers: make(map[string]EventHandler),
	}
}

// On registers the handler for an event type. Last registration wins.
func (w *Worker) On(eventType string, h EventHandler) {
	w.handlers[eventType] = h
}

// Handle processes one webhook job. Unregistered event types complete
// immediately: the gateway sends far more event types than we act on.
// A handler error leaves the idempotency record in processing, so the
// retry (same event id) passes the intake's duplicate check via the
// queue-side path rather than re-entering through HTTP.
func (w *Worker) Handle(ctx context.Context, j *queue.Job) error {
	var evt Event
	if err := json.Unmarshal(j.Payload, &evt); err != nil {
		return fmt.Errorf("webhooks: invalid job payload: %w", err)
	}

	h, ok := w.handlers[evt.EventType]
	if !ok {
		w.logger.Debug("ignoring unhandled webhook event type",
			slog.String("event_id", evt.EventID),
			slog.String("event_type", evt.EventType),
		)
		if err := w.idem.MarkProcessed(ctx, evt.EventID); err != nil {
			return fmt.Errorf("webhooks: mark processed: %w", err)
		}
		return nil
	}

	if err := h(ctx, evt); err != nil {
		return fmt.Errorf("webhooks: handle %s event %s: %w", evt.EventType, evt.EventID, err)
	}

	if err := w.idem.MarkProcessed(ctx, evt.EventID); err != nil {
		return fmt.Errorf("webhooks: mark processed: %w", err)
	}

	w.logger.Info("webhook event processed",
		slog.String("event_id", evt.EventID),
		slog.String("event_type", evt.EventType),
	)
	return nil
}

// DeadLetter runs when a webhook job exhausts its retries. The
// idempotency slot is released so an operator (or a gateway redelivery,
// if one is still coming) can push the event through again.
func (w *Worker) DeadLetter(ctx context.Context, j *queue.Job, cause error) {
	var evt Event
	_ = json.Unmarshal(j.Payload, &evt) //nolint:errcheck // best-effort decode for alert context

	if evt.EventID != "" {
		if err := w.idem.ReleaseIfProcessing(ctx, evt.EventID); err != nil {
			w.logger.Error("failed to release idempotency slot for dead-lettered event",
				slog.String("event_id", evt.EventID),
				slog.String("error", err.Error()),
			)
		}
	}

	w.alerts.CriticalAlert(ctx, "webhook_dead_letter",
		fmt.Sprintf("webhook job %s exhausted %d attempts: %v", j.ID, j.AttemptsMade, cause),
		map[string]string{
			"job_id":     j.ID,
			"event_id":   evt.EventID,
			"event_type": evt.EventType,
		},
	)
}
