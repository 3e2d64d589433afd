// Package money converts between major currency units (the decimal amounts
// stored on orders) and the integer minor units all capture arithmetic runs
// in. Conversion happens exactly once at the worker boundary; everything past
// that boundary compares and sums int64 minors.
package money

import "math"

// ToMinor converts a 2-decimal major-unit amount to minor units.
// e.g. 19.99 -> 1999. Rounding is half-away-from-zero via math.Round so
// float representation error (19.99 * 100 = 1998.9999...) cannot drift.
func ToMinor(major float64) int64 {
	return int64(math.Round(major * 100))
}

// ToMajor converts minor units back to a major-unit amount.
func ToMajor(minor int64) float64 {
	return float64(minor) / 100
}
