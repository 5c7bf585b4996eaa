/*
This file contains the conversions between float USDC amounts used by the planner and the integer
base units used on-chain.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// USDCDecimals is the number of decimals of USDC on every supported EVM chain.
const USDCDecimals = 6

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// BaseUnitsToFloat converts an integer amount with the given precision to a float.
func BaseUnitsToFloat(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result := sdkmath.LegacyNewDecFromInt(amount).Quo(sdkmath.LegacyNewDec(10).Power(uint64(precision)))
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}
	return resultFloat, nil
}

// FloatToBaseUnits converts a float amount to integer base units, truncating extra precision.
func FloatToBaseUnits(amount float64, precision int) (sdkmath.Int, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: amount is %f", ErrNotFinite, amount)
	}
	if amount < 0 {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if amount == 0 {
		return sdkmath.ZeroInt(), nil
	}

	// Use string conversion to avoid floating point precision issues
	amountStr := fmt.Sprintf("%.*f", precision, amount)
	decAmount, err := sdkmath.LegacyNewDecFromStr(amountStr)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}

	return decAmount.Mul(sdkmath.LegacyNewDec(10).Power(uint64(precision))).TruncateInt(), nil
}

// USDCToBaseUnits converts a USDC amount to its 6-decimal on-chain representation.
func USDCToBaseUnits(amount float64) (sdkmath.Int, error) {
	return FloatToBaseUnits(amount, USDCDecimals)
}

// BaseUnitsToUSDC converts an ERC-20 balance to a float USDC amount.
func BaseUnitsToUSDC(amount *big.Int) (float64, error) {
	if amount == nil {
		return 0, ErrAmountNil
	}
	return BaseUnitsToFloat(sdkmath.NewIntFromBigInt(amount), USDCDecimals)
}
