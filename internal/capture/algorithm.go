package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cartloom/capture-service/internal/gateway"
	"github.com/cartloom/capture-service/internal/orders"
)

// Input is everything the capture pass needs to know about an order:
// its status, currency, resolved total in minor units, and the full
// current set of authorization holds. Holds are mutated in place when
// amounts are adjusted or excess payments voided, so the caller can
// persist the reconciled set afterwards.
type Input struct {
	OrderID     string
	OrderStatus string
	Currency    string
	TotalMinor  int64
	Holds       []gateway.Hold
}

// Result summarizes a capture pass.
type Result struct {
	HasPayments        bool
	AllAlreadyCaptured bool
	CapturedCount      int
	SkippedCount       int
	FailedCount        int
	CapturedMinor      int64 // settled with the gateway during this pass
	SettledMinor       int64 // already settled before this pass
	Errors             []error
}

// Algorithm walks an order's holds and turns authorizations into charges.
// It is deterministic given its input; all gateway traffic goes through
// the injected client.
type Algorithm struct {
	gw      gateway.Client
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewAlgorithm creates the capture algorithm over a gateway client.
func NewAlgorithm(gw gateway.Client, logger *slog.Logger) *Algorithm {
	if logger == nil {
		logger = slog.Default()
	}
	return &Algorithm{gw: gw, logger: logger, nowFunc: time.Now}
}

// Run executes the capture pass:
//
//   - canceled orders are frozen: zero gateway calls, immediate return
//   - holds partition into capturable, already-settled, and void
//   - if the non-void holds cannot cover the order total the whole pass
//     fails before any capture
//   - capturable holds are walked ascending by amount, capturing a full
//     prefix, at most one partial boundary capture, and cancelling every
//     excess hold past the boundary
//   - per-hold gateway failures aggregate; they never stop sibling holds
func (a *Algorithm) Run(ctx context.Context, in Input) (*Result, error) {
	res := &Result{HasPayments: len(in.Holds) > 0}

	// A canceled order is frozen regardless of what is authorized on it.
	if in.OrderStatus == orders.StatusCanceled {
		return res, nil
	}
	if len(in.Holds) == 0 {
		return res, nil
	}

	var capturable []*gateway.Hold
	var settledCount int
	var totalAuthorized int64

	for i := range in.Holds {
		h := &in.Holds[i]

		// A hold whose payment was voided is excluded from everything,
		// including the authorized sum.
		if h.Payment != nil && h.Payment.CanceledAt != nil {
			continue
		}
		totalAuthorized += h.Amount

		switch {
		case h.Status.Terminal() || (h.Payment != nil && h.Payment.CapturedAt != nil):
			settledCount++
			if h.Payment != nil && h.Payment.CapturedAt != nil {
				res.SettledMinor += h.Payment.Amount
			} else if h.Status == gateway.HoldCompleted {
				res.SettledMinor += h.Amount
			}
		case h.Payment != nil:
			capturable = append(capturable, h)
		}
	}

	// Nothing left to capture but settled holds exist: the order has
	// already been charged. Zero gateway calls.
	if len(capturable) == 0 && settledCount > 0 {
		res.AllAlreadyCaptured = true
		res.SkippedCount = settledCount
		return res, nil
	}

	if totalAuthorized < in.TotalMinor {
		return nil, fmt.Errorf("%w: authorized %d, order total %d (order %s)",
			ErrInsufficientAuthorization, totalAuthorized, in.TotalMinor, in.OrderID)
	}

	// Ascending by amount maximizes full captures and guarantees at most
	// one hold ever needs a partial capture.
	sort.SliceStable(capturable, func(i, j int) bool {
		return capturable[i].Amount < capturable[j].Amount
	})

	res.SkippedCount = settledCount
	remaining := in.TotalMinor

	for _, h := range capturable {
		switch {
		case remaining >= h.Amount:
			if a.captureHold(ctx, in.OrderID, h, h.Amount, res) {
				remaining -= h.Amount
			}

		case remaining > 0:
			// Boundary hold: shrink its recorded amount to what is left so
			// gateway and local state agree, then capture exactly that.
			h.Amount = remaining
			if a.captureHold(ctx, in.OrderID, h, remaining, res) {
				remaining = 0
			}

		default:
			// Excess hold: the total is already covered. Void its payment.
			// A cancellation failure leaves an authorized-but-uncaptured
			// hold, which is a recoverable state, so it never aborts the
			// pass.
			if err := a.gw.CancelPayment(ctx, h.Payment.ID); err != nil {
				a.logger.Warn("failed to cancel excess hold",
					slog.String("order_id", in.OrderID),
					slog.String("hold_id", h.ID),
					slog.String("payment_id", h.Payment.ID),
					slog.String("error", err.Error()),
				)
			} else {
				now := a.nowFunc().UTC()
				h.Payment.CanceledAt = &now
				h.Amount = 0
			}
			res.SkippedCount++
		}
	}

	return res, nil
}

// captureHold issues one gateway capture and records the outcome.
// Returns true on success so the caller can advance the running total.
func (a *Algorithm) captureHold(ctx context.Context, orderID string, h *gateway.Hold, amount int64, res *Result) bool {
	key := IdempotencyKey(orderID, h.Payment.IntentID)
	if _, err := a.gw.Capture(ctx, h.Payment.IntentID, amount, key); err != nil {
		res.FailedCount++
		res.Errors = append(res.Errors, &HoldError{HoldID: h.ID, PaymentID: h.Payment.ID, Err: err})
		a.logger.Error("hold capture failed",
			slog.String("order_id", orderID),
			slog.String("hold_id", h.ID),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return false
	}

	now := a.nowFunc().UTC()
	h.Payment.CapturedAt = &now
	h.Payment.Amount = amount
	h.Status = gateway.HoldCompleted
	res.CapturedCount++
	res.CapturedMinor += amount
	return true
}
