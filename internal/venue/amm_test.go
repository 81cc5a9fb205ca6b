package venue_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"PowerPerp/internal/ledger"
	"PowerPerp/internal/state"
	"PowerPerp/internal/venue"
)

func setup(t *testing.T, feeBps uint32) (*venue.Venue, *ledger.Tx) {
	t.Helper()
	v, err := venue.New(venue.Pool{ID: "pool-2", DenomA: "usqth", DenomB: "uweth", FeeBps: feeBps})
	require.NoError(t, err)

	l := ledger.New()
	tx, err := l.Begin("test", 1, 0)
	require.NoError(t, err)
	t.Cleanup(tx.Discard)

	require.NoError(t, tx.Deposit("lp", "usqth", sdkmath.NewInt(1_000_000_000)))
	require.NoError(t, tx.Deposit("lp", "uweth", sdkmath.NewInt(100_000_000)))
	require.NoError(t, v.AddLiquidity(tx, "lp", "pool-2", sdkmath.NewInt(1_000_000_000), sdkmath.NewInt(100_000_000)))
	return v, tx
}

func TestSwapExactIn(t *testing.T) {
	v, tx := setup(t, 0)
	require.NoError(t, tx.Deposit("alice", "usqth", sdkmath.NewInt(10_000_000)))

	out, err := v.SwapExactIn(tx, "alice", "pool-2", "usqth", "uweth", sdkmath.NewInt(10_000_000), sdkmath.OneInt())
	require.NoError(t, err)
	// 100e6 × 10e6 / 1010e6
	require.Equal(t, int64(990_099), out.Int64())
	require.True(t, tx.BalanceOf("alice", "uweth").Equal(out))
	require.True(t, tx.BalanceOf("alice", "usqth").IsZero())
}

func TestSwapExactInSlippage(t *testing.T) {
	v, tx := setup(t, 30)
	require.NoError(t, tx.Deposit("alice", "usqth", sdkmath.NewInt(10_000_000)))

	_, err := v.SwapExactIn(tx, "alice", "pool-2", "usqth", "uweth", sdkmath.NewInt(10_000_000), sdkmath.NewInt(990_099))
	require.Equal(t, state.KindExternalCall, state.KindOf(err))
}

func TestSwapExactOut(t *testing.T) {
	v, tx := setup(t, 30)
	require.NoError(t, tx.Deposit("alice", "uweth", sdkmath.NewInt(5_000_000)))

	paid, err := v.SwapExactOut(tx, "alice", "pool-2", "uweth", "usqth", sdkmath.NewInt(20_000_000), sdkmath.NewInt(5_000_000))
	require.NoError(t, err)
	require.True(t, tx.BalanceOf("alice", "usqth").Equal(sdkmath.NewInt(20_000_000)))
	require.True(t, paid.GT(sdkmath.NewInt(2_000_000)), "paid %s", paid)
	require.True(t, tx.BalanceOf("alice", "uweth").Equal(sdkmath.NewInt(5_000_000).Sub(paid)))

	_, err = v.SwapExactOut(tx, "alice", "pool-2", "uweth", "usqth", sdkmath.NewInt(20_000_000), sdkmath.NewInt(1))
	require.Equal(t, state.KindExternalCall, state.KindOf(err))
}

func TestSwapUnknownRoute(t *testing.T) {
	v, tx := setup(t, 0)
	_, err := v.SwapExactIn(tx, "alice", "pool-9", "usqth", "uweth", sdkmath.NewInt(1), sdkmath.OneInt())
	require.Equal(t, state.KindExternalCall, state.KindOf(err))

	_, err = v.SwapExactIn(tx, "alice", "pool-2", "uusdc", "uweth", sdkmath.NewInt(1), sdkmath.OneInt())
	require.Equal(t, state.KindExternalCall, state.KindOf(err))
}

func TestSpotPrice(t *testing.T) {
	v, tx := setup(t, 0)
	p, err := v.SpotPrice(tx, "pool-2", "usqth", "uweth")
	require.NoError(t, err)
	require.True(t, p.Equal(sdkmath.LegacyMustNewDecFromStr("0.1")))
}
