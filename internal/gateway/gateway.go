// Package gateway defines the payment-gateway port the capture pipeline
// talks to, plus the authorization-hold shapes shared between the order
// repository and the capture algorithm. The gateway itself is an external
// collaborator; this package carries no transport code.
package gateway

import (
	"context"
	"time"
)

// HoldStatus is the lifecycle status of an authorization hold as reported
// by the gateway (and mirrored on our local payment-collection records).
type HoldStatus string

const (
	HoldAuthorized HoldStatus = "authorized"
	HoldAwaiting   HoldStatus = "awaiting"
	HoldCompleted  HoldStatus = "completed"
	HoldCanceled   HoldStatus = "canceled"
)

// Terminal reports whether the hold can no longer be captured.
func (s HoldStatus) Terminal() bool {
	return s == HoldCompleted || s == HoldCanceled
}

// Payment is the charge record attached to a hold. A hold has zero or one
// payment; CapturedAt / CanceledAt are set by the gateway.
type Payment struct {
	ID         string
	IntentID   string // gateway authorization-intent reference
	Amount     int64  // minor units
	CapturedAt *time.Time
	CanceledAt *time.Time
}

// Hold is a single authorization against an order's payment method.
// Tag distinguishes the hold taken at checkout ("original") from holds
// added during the modification window ("supplementary").
type Hold struct {
	ID       string
	Status   HoldStatus
	Amount   int64 // minor units authorized
	Currency string
	Tag      string
	Payment  *Payment
}

const (
	TagOriginal      = "original"
	TagSupplementary = "supplementary"
)

// HoldState is the gateway's live view of a hold, fetched before capture.
type HoldState struct {
	Status   HoldStatus
	Amount   int64 // minor units; for completed holds, the amount settled
	Currency string
}

// CaptureResult carries the gateway's answer to a capture request.
type CaptureResult struct {
	Status HoldStatus
}

// Client is the gateway operations the capture pipeline needs. Every call
// is a network round trip; implementations must honor ctx cancellation.
type Client interface {
	// RetrieveHold returns the live state of the hold behind an
	// authorization-intent reference.
	RetrieveHold(ctx context.Context, intentID string) (HoldState, error)

	// Capture converts amount minor units of the hold into a charge.
	// idempotencyKey must be stable across retries so the gateway
	// deduplicates repeated attempts.
	Capture(ctx context.Context, intentID string, amount int64, idempotencyKey string) (CaptureResult, error)

	// CancelPayment voids an uncaptured payment, releasing its hold.
	CancelPayment(ctx context.Context, paymentID string) error
}
