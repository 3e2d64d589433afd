package orders

import (
	"time"

	"github.com/cartloom/capture-service/internal/gateway"
	"github.com/cartloom/capture-service/internal/money"
)

// Order statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
)

// Edit-lock states. The capture worker and the order-edit API both gate
// their writes on this field via conditional updates.
const (
	EditStatusEditable = "editable"
	EditStatusLocked   = "locked_for_capture"
	EditStatusIdle     = "idle"
)

// Order represents the item stored in the orders DynamoDB table.
// Total is authoritative but mutable during the modification window;
// UpdatedTotal (set by the order-edit API when contents change) and
// SummaryTotal (the precomputed order summary) take precedence over it
// when resolving the amount to capture.
type Order struct {
	OrderID       string   `dynamodbav:"order_id"` // PK
	Total         float64  `dynamodbav:"total"`    // major units
	Currency      string   `dynamodbav:"currency"`
	Status        string   `dynamodbav:"status"` // pending | completed | canceled
	EditStatus    string   `dynamodbav:"edit_status"`
	UpdatedTotal  *float64 `dynamodbav:"updated_total,omitempty"` // override recorded on edit
	SummaryTotal  *float64 `dynamodbav:"summary_total,omitempty"`
	CapturedTotal float64  `dynamodbav:"captured_total,omitempty"` // major units settled so far

	Holds []gateway.Hold `dynamodbav:"holds,omitempty"`

	CreatedAt     time.Time `dynamodbav:"created_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at"`
	EditUpdatedAt time.Time `dynamodbav:"edit_updated_at,omitempty"`
}

// ResolvedTotalMinor applies the total-resolution policy and converts to
// minor units. Preference order: explicit updated-total override, then the
// precomputed summary total, then the base total. This is the single
// major-to-minor conversion point for an order.
func (o *Order) ResolvedTotalMinor() int64 {
	switch {
	case o.UpdatedTotal != nil:
		return money.ToMinor(*o.UpdatedTotal)
	case o.SummaryTotal != nil:
		return money.ToMinor(*o.SummaryTotal)
	default:
		return money.ToMinor(o.Total)
	}
}
