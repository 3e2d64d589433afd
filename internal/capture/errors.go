package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientAuthorization means the amounts authorized across the
	// order's non-void holds do not cover the order total. The whole
	// capture is aborted before any gateway call.
	ErrInsufficientAuthorization = errors.New("capture: authorized amount is less than order total")

	// ErrCurrencyMismatch means the order and its hold disagree on currency.
	ErrCurrencyMismatch = errors.New("capture: order and hold currency mismatch")

	// ErrExceedsAuthorized means the resolved order total exceeds what was
	// authorized. Correct upstream validation makes this unreachable; when
	// it fires a manual-intervention alert goes out.
	ErrExceedsAuthorized = errors.New("capture: order total exceeds authorized amount")
)

// HoldError records a per-hold gateway failure. Failures on one hold do
// not stop processing of the remaining holds; they aggregate on Result.
type HoldError struct {
	HoldID    string
	PaymentID string
	Err       error
}

func (e *HoldError) Error() string {
	return fmt.Sprintf("capture: hold %s payment %s: %v", e.HoldID, e.PaymentID, e.Err)
}

func (e *HoldError) Unwrap() error { return e.Err }
