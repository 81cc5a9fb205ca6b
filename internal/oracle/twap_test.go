package oracle_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"PowerPerp/internal/event"
	"PowerPerp/internal/oracle"
	"PowerPerp/internal/state"
)

func observe(pool string, seq, ts int64, price string) *event.PriceObserved {
	return &event.PriceObserved{
		Pool:          pool,
		Base:          "uweth",
		Quote:         "uusdc",
		Price:         sdkmath.LegacyMustNewDecFromStr(price),
		PriceSequence: seq,
		Timestamp:     ts,
	}
}

func mustRecord(t *testing.T, o *oracle.Oracle, obs *event.PriceObserved) {
	t.Helper()
	ok, err := o.Record(obs)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTWAPStepFunction(t *testing.T) {
	o := oracle.New(oracle.WithClock(func() int64 { return 400 }))
	mustRecord(t, o, observe("pool-1", 1, 100, "3000"))
	mustRecord(t, o, observe("pool-1", 2, 200, "3100"))
	mustRecord(t, o, observe("pool-1", 3, 300, "3200"))

	// [100,400]: 3000×100 + 3100×100 + 3200×100 over 300
	got, err := o.TWAP("pool-1", "uweth", "uusdc", 100)
	require.NoError(t, err)
	require.True(t, got.Equal(sdkmath.LegacyNewDec(3100)), "got %s", got)

	// window starting mid-segment
	got, err = o.TWAP("pool-1", "uweth", "uusdc", 250)
	require.NoError(t, err)
	// 3100×50 + 3200×100 over 150
	want := sdkmath.LegacyNewDec(3100*50 + 3200*100).QuoInt64(150)
	require.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestTWAPBeforeFirstObservation(t *testing.T) {
	o := oracle.New(oracle.WithClock(func() int64 { return 100 }))
	mustRecord(t, o, observe("pool-1", 1, 100, "3000"))

	got, err := o.TWAP("pool-1", "uweth", "uusdc", 0)
	require.NoError(t, err)
	require.True(t, got.Equal(sdkmath.LegacyNewDec(3000)))
}

func TestTWAPInversePair(t *testing.T) {
	o := oracle.New(oracle.WithClock(func() int64 { return 100 }))
	mustRecord(t, o, observe("pool-1", 1, 100, "4"))

	got, err := o.TWAP("pool-1", "uusdc", "uweth", 0)
	require.NoError(t, err)
	require.True(t, got.Equal(sdkmath.LegacyMustNewDecFromStr("0.25")))
}

func TestTWAPUnknownPool(t *testing.T) {
	o := oracle.New()
	_, err := o.TWAP("pool-9", "uweth", "uusdc", 0)
	require.Equal(t, state.KindExternalCall, state.KindOf(err))
}

func TestRecordRejectsStale(t *testing.T) {
	o := oracle.New()
	mustRecord(t, o, observe("pool-1", 5, 100, "3000"))

	ok, err := o.Record(observe("pool-1", 5, 200, "3100"))
	require.NoError(t, err)
	require.False(t, ok, "repeated sequence must be ignored")

	ok, err = o.Record(observe("pool-1", 9, 50, "3100"))
	require.NoError(t, err)
	require.False(t, ok, "older timestamp must be ignored")

	_, err = o.Record(observe("pool-1", 10, 300, "0"))
	require.Error(t, err)

	seq, found := o.LastSequence("pool-1")
	require.True(t, found)
	require.Equal(t, int64(9), seq)
}

func TestSequenceValidatorGaps(t *testing.T) {
	sv := oracle.NewSequenceValidator()
	require.True(t, sv.Accept("p", 1))
	require.True(t, sv.Accept("p", 4))
	require.False(t, sv.Accept("p", 3))
	require.Equal(t, int64(1), sv.Gaps("p"))
}
