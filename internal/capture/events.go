package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cartloom/capture-service/internal/webhooks"
)

// Gateway event types the capture pipeline reacts to.
const (
	EventPaymentAuthorized = "payment_collection.authorized"
	EventPaymentCanceled   = "payment_collection.canceled"
)

type paymentCollectionEvent struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// RegisterEventHandlers hooks the scheduler up to gateway webhooks: a
// fresh authorization schedules the delayed capture backstop, a
// cancellation withdraws it.
func RegisterEventHandlers(w *webhooks.Worker, s *Scheduler, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	w.On(EventPaymentAuthorized, func(ctx context.Context, evt webhooks.Event) error {
		var data paymentCollectionEvent
		if err := json.Unmarshal(evt.EventData, &data); err != nil {
			return fmt.Errorf("capture: decode %s event: %w", evt.EventType, err)
		}
		j, err := s.Schedule(ctx, data.OrderID, data.PaymentIntentID, nil)
		if err != nil {
			return err
		}
		logger.Info("capture scheduled from webhook",
			slog.String("order_id", data.OrderID),
			slog.String("job_id", j.ID),
			slog.Time("run_at", j.RunAt),
		)
		return nil
	})

	w.On(EventPaymentCanceled, func(ctx context.Context, evt webhooks.Event) error {
		var data paymentCollectionEvent
		if err := json.Unmarshal(evt.EventData, &data); err != nil {
			return fmt.Errorf("capture: decode %s event: %w", evt.EventType, err)
		}
		// An active job is mid-capture; refusing here sends the event back
		// through retry until the worker lets go of it.
		removed, err := s.Cancel(ctx, data.OrderID)
		if err != nil {
			return err
		}
		logger.Info("capture schedule withdrawn from webhook",
			slog.String("order_id", data.OrderID),
			slog.Bool("removed", removed),
		)
		return nil
	})
}
