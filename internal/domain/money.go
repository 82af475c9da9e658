/**
 * @description
 * Monetary input parsing for the portal-service. Amounts cross the API boundary
 * as decimal strings with at most two fraction digits and are converted to
 * int64 cents exactly once, at staging time. Internal arithmetic never touches
 * floats.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal parsing and scaling.
 */

package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when a raw amount does not parse as a
	// decimal with at most two fraction digits, or violates the sign rule of
	// the operation it belongs to.
	ErrInvalidAmount = errors.New("invalid amount")
)

// parseCents converts a raw decimal string to cents, rejecting anything with
// more than two fraction digits.
func parseCents(raw string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.Exponent() < -2 {
		return 0, ErrInvalidAmount
	}
	scaled := d.Shift(2)
	if !scaled.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	return scaled.IntPart(), nil
}

// ParseAmountCents parses a transfer amount. Transfers must move a strictly
// positive amount.
func ParseAmountCents(raw string) (int64, error) {
	cents, err := parseCents(raw)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseBalanceCents parses an initial account balance. Empty input means zero;
// negative balances are rejected.
func ParseBalanceCents(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	cents, err := parseCents(raw)
	if err != nil {
		return 0, err
	}
	if cents < 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// FormatCents renders cents as a two-decimal string for human-readable
// operation summaries and email bodies.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
