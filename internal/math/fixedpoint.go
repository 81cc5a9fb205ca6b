// internal/math/fixedpoint.go
package math

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits carried by every internal value.
const Precision = sdkmath.LegacyPrecision

// MaxDecimals bounds token decimals accepted by the protocol.
const MaxDecimals = 18

// powPrecision is the working precision used while evaluating real exponents.
const powPrecision int32 = 36

// Pow10 returns 10^decimals as an Int
func Pow10(decimals uint32) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, int(decimals))
}

// FromRaw lifts a raw token amount with the given decimals into 18-decimal precision.
// Exact for decimals <= 18.
func FromRaw(amount sdkmath.Int, decimals uint32) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromIntWithPrec(amount, int64(decimals))
}

// ToRaw rescales an 18-decimal value back to raw token units, truncating.
func ToRaw(v sdkmath.LegacyDec, decimals uint32) sdkmath.Int {
	return v.MulInt(Pow10(decimals)).TruncateInt()
}

// Truncate drops everything below the given number of fractional digits.
func Truncate(v sdkmath.LegacyDec, digits uint32) sdkmath.LegacyDec {
	return FromRaw(ToRaw(v, digits), digits)
}

// MinDec returns the smaller of two decimals
func MinDec(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.LT(b) {
		return a
	}
	return b
}

// MaxDec returns the larger of two decimals
func MaxDec(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.GT(b) {
		return a
	}
	return b
}

// Pow computes base^exp for a real exponent. The result is truncated to 18 decimals.
func Pow(base, exp sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if base.IsNegative() {
		return sdkmath.LegacyDec{}, fmt.Errorf("pow: negative base %s", base)
	}
	if exp.IsZero() {
		return sdkmath.LegacyOneDec(), nil
	}
	if base.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}

	r, err := DecToDecimal(base).PowWithPrecision(DecToDecimal(exp), powPrecision)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("pow: %w", err)
	}

	out, err := sdkmath.LegacyNewDecFromStr(r.Truncate(Precision).String())
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("pow: convert result: %w", err)
	}
	return out, nil
}

// DecToDecimal converts a LegacyDec into a shopspring Decimal (exact).
func DecToDecimal(v sdkmath.LegacyDec) decimal.Decimal {
	return decimal.NewFromBigInt(v.BigInt(), -Precision)
}
