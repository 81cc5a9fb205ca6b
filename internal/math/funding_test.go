package math_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	fpmath "PowerPerp/internal/math"
)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

// =============================================================================
// Fixed point conversions
// =============================================================================

func TestFromRawToRaw(t *testing.T) {
	tests := []struct {
		name     string
		raw      int64
		decimals uint32
		want     string
	}{
		{"six decimals", 45_000_000, 6, "45"},
		{"one decimal", 15, 1, "1.5"},
		{"eighteen decimals", 1, 18, "0.000000000000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := fpmath.FromRaw(sdkmath.NewInt(tt.raw), tt.decimals)
			require.True(t, v.Equal(dec(tt.want)), "got %s", v)
			require.Equal(t, tt.raw, fpmath.ToRaw(v, tt.decimals).Int64())
		})
	}
}

func TestToRawTruncates(t *testing.T) {
	// 1.9999999 with 6 decimals keeps 1.999999
	got := fpmath.ToRaw(dec("1.9999999"), 6)
	require.Equal(t, int64(1_999_999), got.Int64())

	truncated := fpmath.Truncate(dec("0.123456789"), 3)
	require.True(t, truncated.Equal(dec("0.123")))
}

func TestPow(t *testing.T) {
	got, err := fpmath.Pow(dec("4"), dec("0.5"))
	require.NoError(t, err)
	require.True(t, got.Sub(dec("2")).Abs().LTE(dec("0.000000000000000010")), "got %s", got)

	got, err = fpmath.Pow(dec("0.5"), sdkmath.LegacyZeroDec())
	require.NoError(t, err)
	require.True(t, got.Equal(sdkmath.LegacyOneDec()))

	_, err = fpmath.Pow(dec("-1"), dec("0.5"))
	require.Error(t, err)
}

// =============================================================================
// Funding
// =============================================================================

func TestFundingWindow(t *testing.T) {
	elapsed, start := fpmath.FundingWindow(1_000, 400)
	require.Equal(t, int64(600), elapsed)
	require.Equal(t, int64(400), start)

	now := int64(1_000_000)
	elapsed, start = fpmath.FundingWindow(now, 0)
	require.Equal(t, fpmath.MaxFundingWindow, elapsed)
	require.Equal(t, now-fpmath.MaxFundingWindow, start)

	elapsed, _ = fpmath.FundingWindow(500, 500)
	require.Zero(t, elapsed)
}

func TestClampMark(t *testing.T) {
	index := dec("100")
	require.True(t, fpmath.ClampMark(dec("50"), index).Equal(dec("80")))
	require.True(t, fpmath.ClampMark(dec("200"), index).Equal(dec("140")))
	require.True(t, fpmath.ClampMark(dec("120"), index).Equal(dec("120")))
}

func TestComputeNormalizationFactorVector(t *testing.T) {
	quote := dec("3000")
	old := dec("0.999996662200989344")

	index := fpmath.ComputeIndex(quote)
	require.True(t, index.Equal(dec("9000000")))

	// a scaled power price of 3030 sits just under index, so the factor barely moves
	mild := fpmath.ClampMark(fpmath.ComputeMark(quote, dec("3030"), old), index)
	got, err := fpmath.ComputeNormalizationFactor(old, index, mild, 10_795, fpmath.DefaultFundingPeriod)
	require.NoError(t, err)
	require.True(t, got.LT(old))
	require.True(t, got.GT(dec("0.9999")), "got %s", got)

	// reaching 0.997596182935824294 needs mark/index of about 1.40016, past the
	// 1.4 clamp, so the steepest reachable step is pinned instead
	rich := fpmath.ClampMark(fpmath.ComputeMark(quote, dec("5000"), old), index)
	require.True(t, rich.Equal(dec("12600000")))

	tests := []struct {
		name    string
		elapsed int64
		want    string
	}{
		{"three hours less five seconds", 10_795, "0.997597292882141711"},
		{"three hours", 10_800, "0.997596182883445807"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.ComputeNormalizationFactor(old, index, rich, tt.elapsed, fpmath.DefaultFundingPeriod)
			require.NoError(t, err)
			require.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}

	// the clamped three hour step lands within 6e-11 of the reference value
	clamped, err := fpmath.ComputeNormalizationFactor(old, index, rich, 10_800, fpmath.DefaultFundingPeriod)
	require.NoError(t, err)
	require.True(t, clamped.Sub(dec("0.997596182935824294")).Abs().LTE(dec("0.00000000006")))
}

func TestComputeNormalizationFactorNoop(t *testing.T) {
	old := dec("0.98")

	got, err := fpmath.ComputeNormalizationFactor(old, dec("9"), dec("10"), 0, fpmath.DefaultFundingPeriod)
	require.NoError(t, err)
	require.True(t, got.Equal(old))

	got, err = fpmath.ComputeNormalizationFactor(old, dec("9"), sdkmath.LegacyZeroDec(), 60, fpmath.DefaultFundingPeriod)
	require.NoError(t, err)
	require.True(t, got.Equal(old))
}

func TestComputeNormalizationFactorDirection(t *testing.T) {
	old := sdkmath.LegacyOneDec()
	index := dec("100")

	// mark below index raises the factor
	up, err := fpmath.ComputeNormalizationFactor(old, index, dec("90"), 3600, fpmath.DefaultFundingPeriod)
	require.NoError(t, err)
	require.True(t, up.GT(old))

	down, err := fpmath.ComputeNormalizationFactor(old, index, dec("110"), 3600, fpmath.DefaultFundingPeriod)
	require.NoError(t, err)
	require.True(t, down.LT(old))
}
