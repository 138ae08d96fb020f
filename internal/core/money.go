// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and converting between exact decimals and the integer minor units used
// by the SQLite store.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitScale is the number of decimal places persisted for amounts.
const MinorUnitScale = 2

// ParseAmount converts a decimal string to an exact amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// rejects values with more than two fractional digits instead of rounding,
// so that what the user typed is what gets stored.
//
// Examples:
//
//	ParseAmount("12.34")   -> 12.34, nil
//	ParseAmount("12,34")   -> 12.34, nil
//	ParseAmount("1000000") -> 1000000, nil
//	ParseAmount("12.345")  -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount: %w", ErrInvalidArgument)
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, ErrInvalidArgument)
	}
	if !d.Equal(d.Truncate(MinorUnitScale)) {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrAmountScale, ErrInvalidArgument)
	}
	return d, nil
}

// ValidateGoalAmount enforces a strictly positive goal amount with at most
// MinorUnitScale fractional digits.
func ValidateGoalAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %w", ErrInvalidAmount, ErrInvalidArgument)
	}
	if !d.Equal(d.Truncate(MinorUnitScale)) {
		return fmt.Errorf("%w: %w", ErrAmountScale, ErrInvalidArgument)
	}
	return nil
}

// ToMinor converts an amount to integer minor units (cents).
func ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(MinorUnitScale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %w", ErrAmountScale, ErrInvalidArgument)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range: %w", d, ErrInvalidArgument)
	}
	return shifted.IntPart(), nil
}

// FromMinor converts integer minor units back to an exact amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitScale)
}
