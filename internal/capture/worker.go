package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cartloom/capture-service/internal/gateway"
	"github.com/cartloom/capture-service/internal/orders"
	"github.com/cartloom/capture-service/internal/queue"
)

// OrderRepository is the slice of the orders store the worker needs.
type OrderRepository interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	AcquireEditLock(ctx context.Context, orderID string) error
	ReleaseEditLock(ctx context.Context, orderID string) error
	MarkCompleted(ctx context.Context, orderID string) error
	SaveHolds(ctx context.Context, orderID string, holds []gateway.Hold) error
	SetCapturedTotal(ctx context.Context, orderID string, capturedMinor int64) error
}

// Alerter is the operational notification sink. Alerts are fire-and-forget.
type Alerter interface {
	CriticalAlert(ctx context.Context, reason, message string, fields map[string]string)
}

// Worker consumes scheduled capture jobs. Per job it acquires the order's
// edit lock, checks the referenced hold's live gateway state, resolves the
// order's current total, and delegates the capture to the Algorithm over
// the order's full current hold set.
type Worker struct {
	repo   OrderRepository
	gw     gateway.Client
	algo   *Algorithm
	alerts Alerter
	logger *slog.Logger
}

// NewWorker wires the capture worker.
func NewWorker(repo OrderRepository, gw gateway.Client, algo *Algorithm, alerts Alerter, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{repo: repo, gw: gw, algo: algo, alerts: alerts, logger: logger}
}

// Handle processes one capture job. A nil return completes the job; any
// error sends it through the queue's bounded retry machinery. The queue
// does not distinguish fatal from transient errors, so fatal conditions
// burn their retries and land in the dead-letter path.
func (w *Worker) Handle(ctx context.Context, j *queue.Job) error {
	var payload JobPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("capture: invalid job payload: %w", err)
	}
	orderID := payload.OrderID

	// Optimistic lock: if another process owns the order right now, skip.
	// The delayed backstop or a redelivery will come back to it.
	if err := w.repo.AcquireEditLock(ctx, orderID); err != nil {
		if errors.Is(err, orders.ErrLockDenied) {
			w.logger.Info("order locked elsewhere, skipping capture",
				slog.String("order_id", orderID),
			)
			return nil
		}
		return fmt.Errorf("capture: acquire lock: %w", err)
	}
	defer func() {
		if err := w.repo.ReleaseEditLock(context.WithoutCancel(ctx), orderID); err != nil {
			w.logger.Error("failed to release order edit lock",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}()

	// Check the referenced hold's live state before touching anything.
	holdState, err := w.gw.RetrieveHold(ctx, payload.PaymentIntentID)
	if err != nil {
		return fmt.Errorf("capture: retrieve hold %s: %w", payload.PaymentIntentID, err)
	}
	switch holdState.Status {
	case gateway.HoldCanceled:
		w.logger.Info("hold canceled at gateway, nothing to capture",
			slog.String("order_id", orderID),
			slog.String("intent_id", payload.PaymentIntentID),
		)
		return nil
	case gateway.HoldCompleted:
		// Already fully captured (e.g. by a manual op): reconcile local
		// records to the gateway-reported amount and stop.
		w.logger.Info("hold already captured, reconciling",
			slog.String("order_id", orderID),
			slog.Int64("amount", holdState.Amount),
		)
		if err := w.repo.SetCapturedTotal(ctx, orderID, holdState.Amount); err != nil {
			return fmt.Errorf("capture: reconcile captured total: %w", err)
		}
		return nil
	case gateway.HoldAuthorized:
		// proceed
	default:
		w.logger.Warn("unexpected hold status, skipping",
			slog.String("order_id", orderID),
			slog.String("status", string(holdState.Status)),
		)
		return nil
	}

	order, err := w.repo.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("capture: fetch order: %w", err)
	}

	if order.Status == orders.StatusCanceled {
		w.alerts.CriticalAlert(ctx, "canceled_order_with_hold",
			fmt.Sprintf("order %s is canceled but still has an authorized hold %s", orderID, payload.PaymentIntentID),
			map[string]string{"order_id": orderID, "intent_id": payload.PaymentIntentID},
		)
		return nil
	}

	if !strings.EqualFold(order.Currency, holdState.Currency) {
		return fmt.Errorf("%w: order %s is %s, hold %s is %s",
			ErrCurrencyMismatch, orderID, order.Currency, payload.PaymentIntentID, holdState.Currency)
	}

	totalMinor := order.ResolvedTotalMinor()

	// Guard before any gateway capture: the authorized amounts must cover
	// the resolved total. Upstream edit validation should make this
	// unreachable; if it fires, a human needs to look.
	if totalMinor > authorizedMinor(order.Holds) {
		w.alerts.CriticalAlert(ctx, "capture_exceeds_authorized",
			fmt.Sprintf("order %s total %d exceeds authorized amount %d", orderID, totalMinor, authorizedMinor(order.Holds)),
			map[string]string{"order_id": orderID},
		)
		return fmt.Errorf("%w: order %s total %d, authorized %d",
			ErrExceedsAuthorized, orderID, totalMinor, authorizedMinor(order.Holds))
	}

	// Capture runs over the order's full current hold set, not just the
	// hold referenced at scheduling time: supplementary holds may have
	// been added during the modification window.
	res, err := w.algo.Run(ctx, Input{
		OrderID:     orderID,
		OrderStatus: order.Status,
		Currency:    order.Currency,
		TotalMinor:  totalMinor,
		Holds:       order.Holds,
	})
	if err != nil {
		return err
	}

	if err := w.repo.SaveHolds(ctx, orderID, order.Holds); err != nil {
		return fmt.Errorf("capture: persist holds: %w", err)
	}

	if res.FailedCount > 0 {
		// Succeeded captures are not rolled back (capture is irreversible
		// once settled); the job as a whole still fails so the retry picks
		// up the holds that did not go through.
		return fmt.Errorf("capture: %d of %d holds failed: %w",
			res.FailedCount, res.FailedCount+res.CapturedCount, errors.Join(res.Errors...))
	}

	if err := w.repo.SetCapturedTotal(ctx, orderID, res.CapturedMinor+res.SettledMinor); err != nil {
		return fmt.Errorf("capture: record captured total: %w", err)
	}
	if err := w.repo.MarkCompleted(ctx, orderID); err != nil {
		return fmt.Errorf("capture: mark order completed: %w", err)
	}

	w.logger.Info("order capture complete",
		slog.String("order_id", orderID),
		slog.Int("captured", res.CapturedCount),
		slog.Int("skipped", res.SkippedCount),
		slog.Int64("amount", res.CapturedMinor),
		slog.Bool("already_captured", res.AllAlreadyCaptured),
	)
	return nil
}

// DeadLetter is invoked by the pool when a capture job exhausts its
// retries. Distinct from the per-retry warnings: this is the page.
func (w *Worker) DeadLetter(ctx context.Context, j *queue.Job, cause error) {
	var payload JobPayload
	_ = json.Unmarshal(j.Payload, &payload) //nolint:errcheck // best-effort decode for alert context

	w.alerts.CriticalAlert(ctx, "capture_dead_letter",
		fmt.Sprintf("capture job %s exhausted %d attempts: %v", j.ID, j.AttemptsMade, cause),
		map[string]string{
			"job_id":    j.ID,
			"order_id":  payload.OrderID,
			"intent_id": payload.PaymentIntentID,
		},
	)
}

// authorizedMinor sums the authorized amounts across non-void holds.
func authorizedMinor(holds []gateway.Hold) int64 {
	var total int64
	for i := range holds {
		h := &holds[i]
		if h.Payment != nil && h.Payment.CanceledAt != nil {
			continue
		}
		total += h.Amount
	}
	return total
}
