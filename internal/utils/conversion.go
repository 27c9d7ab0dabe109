/*
This file contains common utility functions for converting between different types,
particularly for SDK decimal operations and precision handling on score values.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAmountNil        = errors.New("amount is nil")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// DecToFloat64 converts an SDK LegacyDec to float64, rejecting non-finite results.
func DecToFloat64(amount sdkmath.LegacyDec) (float64, error) {
	if amount.IsNil() {
		return 0, ErrAmountNil
	}

	result, err := amount.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}

	return result, nil
}

// Float64ToDec converts a float64 to an SDK LegacyDec, rejecting non-finite input.
func Float64ToDec(amount float64) (sdkmath.LegacyDec, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: input is %f", ErrNotFinite, amount)
	}

	dec, err := sdkmath.LegacyNewDecFromStr(fmt.Sprintf("%.18f", amount))
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	return dec, nil
}

// ClampDec bounds a decimal to [lo, hi].
func ClampDec(v, lo, hi sdkmath.LegacyDec) sdkmath.LegacyDec {
	if v.LT(lo) {
		return lo
	}
	if v.GT(hi) {
		return hi
	}
	return v
}

// AbsInt returns the absolute value of an SDK Int.
func AbsInt(v sdkmath.Int) sdkmath.Int {
	if v.IsNegative() {
		return v.Neg()
	}
	return v
}
