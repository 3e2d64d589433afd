package validation

import (
	"regexp"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Identifier formats. Order ids come from the commerce backend, payment
// intent references from the gateway; both are validated before a capture
// job is accepted so malformed ids fail fast instead of at the gateway.
var (
	orderIDPattern  = regexp.MustCompile(`^order_[A-Za-z0-9]+$`)
	intentIDPattern = regexp.MustCompile(`^pi_[A-Za-z0-9_]+$`)
	eventIDPattern  = regexp.MustCompile(`^evt_[A-Za-z0-9_]+$`)
)

// New returns a configured validator with the custom tag validators
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	mustRegister(v, "order_ref", orderIDPattern)
	mustRegister(v, "intent_ref", intentIDPattern)
	mustRegister(v, "event_ref", eventIDPattern)

	return v
}

func mustRegister(v *validatorv10.Validate, tag string, re *regexp.Regexp) {
	err := v.RegisterValidation(tag, func(fl validatorv10.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(err) // registration only fails on empty tag, a programmer error
	}
}

// OrderID reports whether s is a well-formed order identifier.
func OrderID(s string) bool { return orderIDPattern.MatchString(s) }

// IntentID reports whether s is a well-formed payment-intent reference.
func IntentID(s string) bool { return intentIDPattern.MatchString(s) }

// EventID reports whether s is a well-formed webhook event identifier.
func EventID(s string) bool { return eventIDPattern.MatchString(s) }
