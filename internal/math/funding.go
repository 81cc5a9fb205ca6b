// internal/math/funding.go
package math

import (
	sdkmath "cosmossdk.io/math"
)

const (
	// MaxFundingWindow caps the elapsed time considered by one funding update (48h).
	MaxFundingWindow int64 = 48 * 60 * 60

	// DefaultFundingPeriod is 17.5 days in seconds.
	DefaultFundingPeriod int64 = 1_512_000

	// MaxFundingPeriod is twice the default.
	MaxFundingPeriod = 2 * DefaultFundingPeriod
)

var (
	markFloorRatio = sdkmath.LegacyNewDecWithPrec(8, 1)  // 0.8
	markCapRatio   = sdkmath.LegacyNewDecWithPrec(14, 1) // 1.4
)

// FundingWindow returns the elapsed seconds used for funding and the TWAP window start.
// Elapsed is capped at MaxFundingWindow, in which case the window starts at now - cap.
func FundingWindow(now, lastUpdate int64) (elapsed int64, windowStart int64) {
	elapsed = now - lastUpdate
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > MaxFundingWindow {
		return MaxFundingWindow, now - MaxFundingWindow
	}
	return elapsed, lastUpdate
}

// ComputeIndex returns quote², the index the power asset tracks.
func ComputeIndex(quotePrice sdkmath.LegacyDec) sdkmath.LegacyDec {
	return quotePrice.MulTruncate(quotePrice)
}

// ComputeMark returns quote × power / normFactor.
// powerPrice must already be on the index's scale.
func ComputeMark(quotePrice, powerPrice, normFactor sdkmath.LegacyDec) sdkmath.LegacyDec {
	if normFactor.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	return quotePrice.MulTruncate(powerPrice).QuoTruncate(normFactor)
}

// ClampMark bounds mark to [0.8×index, 1.4×index].
func ClampMark(mark, index sdkmath.LegacyDec) sdkmath.LegacyDec {
	floor := index.MulTruncate(markFloorRatio)
	ceiling := index.MulTruncate(markCapRatio)
	return MaxDec(floor, MinDec(mark, ceiling))
}

// ComputeNormalizationFactor applies (index/mark)^(elapsed/fundingPeriod) to oldFactor.
// Zero elapsed or a zero mark leaves the factor unchanged.
func ComputeNormalizationFactor(
	oldFactor sdkmath.LegacyDec,
	index sdkmath.LegacyDec,
	mark sdkmath.LegacyDec, // clamped
	elapsed int64,
	fundingPeriod int64,
) (sdkmath.LegacyDec, error) {
	if elapsed <= 0 || fundingPeriod <= 0 || mark.IsZero() {
		return oldFactor, nil
	}

	rFunding := sdkmath.LegacyNewDec(elapsed).QuoTruncate(sdkmath.LegacyNewDec(fundingPeriod))
	ratio := index.QuoTruncate(mark)

	multiplier, err := Pow(ratio, rFunding)
	if err != nil {
		return oldFactor, err
	}

	return multiplier.MulTruncate(oldFactor), nil
}
