package state_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"

	"PowerPerp/internal/state"
)

func testConfig() state.Config {
	cfg := state.DefaultConfig()
	cfg.BaseAsset = "uweth"
	cfg.QuoteAsset = "uusdc"
	cfg.PowerAsset = "usqth"
	cfg.BasePool = "pool-1"
	cfg.PowerPool = "pool-2"
	cfg.FeePool = "fee-pool"
	cfg.MinCollateral = sdkmath.NewInt(500_000)
	cfg.StakedAssets = []state.StakedAsset{{Denom: "ustweth", Pool: "pool-3", Decimals: 6}}
	return cfg
}

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func prices(nf, quote string) state.Prices {
	return state.Prices{NormFactor: dec(nf), QuotePrice: dec(quote)}
}

// =============================================================================
// Config
// =============================================================================

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*state.Config)
		ok     bool
	}{
		{"valid", func(*state.Config) {}, true},
		{"power equals base", func(c *state.Config) { c.PowerAsset = c.BaseAsset }, false},
		{"same pools", func(c *state.Config) { c.PowerPool = c.BasePool }, false},
		{"zero decimals", func(c *state.Config) { c.BaseDecimals = 0 }, false},
		{"too many decimals", func(c *state.Config) { c.PowerDecimals = 19 }, false},
		{"fee rate one", func(c *state.Config) { c.FeeRate = sdkmath.LegacyOneDec() }, false},
		{"negative fee", func(c *state.Config) { c.FeeRate = dec("-0.01") }, false},
		{"zero funding period", func(c *state.Config) { c.FundingPeriod = 0 }, false},
		{"funding period at max", func(c *state.Config) { c.FundingPeriod = 2 * 1_512_000 }, true},
		{"funding period over max", func(c *state.Config) { c.FundingPeriod = 2*1_512_000 + 1 }, false},
		{"invalid denom", func(c *state.Config) { c.BaseAsset = "1x" }, false},
		{"duplicate staked", func(c *state.Config) {
			c.StakedAssets = append(c.StakedAssets, c.StakedAssets[0])
		}, false},
		{"staked is base", func(c *state.Config) { c.StakedAssets[0].Denom = c.BaseAsset }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, state.KindValidation, state.KindOf(err))
		})
	}
}

func TestConfigVaultTypeFor(t *testing.T) {
	cfg := testConfig()

	vt, err := cfg.VaultTypeFor("uweth")
	require.NoError(t, err)
	require.Equal(t, state.VaultKindDefault, vt.Kind)

	vt, err = cfg.VaultTypeFor("ustweth")
	require.NoError(t, err)
	require.True(t, vt.Equal(state.StakedVaultType("ustweth")))

	_, err = cfg.VaultTypeFor("uatom")
	require.Equal(t, state.KindValidation, state.KindOf(err))
}

func TestConfigUpdate(t *testing.T) {
	cfg := testConfig()
	rate := dec("0.005")
	updated, err := state.ConfigUpdate{FeeRate: &rate}.Apply(cfg)
	require.NoError(t, err)
	require.True(t, updated.FeeRate.Equal(rate))
	require.True(t, cfg.FeeRate.IsZero())

	bad := dec("1.5")
	_, err = state.ConfigUpdate{FeeRate: &bad}.Apply(cfg)
	require.Error(t, err)
}

// =============================================================================
// Health
// =============================================================================

func TestCheckHealthVector(t *testing.T) {
	cfg := testConfig()
	v := state.NewVault(1, "alice", state.DefaultVaultType())
	v.Collateral = sdkmath.NewInt(45_000_000)
	v.ShortExposure = sdkmath.NewInt(100_000_000)

	h := state.CheckHealth(&cfg, &v, prices("1", "0.3"))
	require.True(t, h.IsSolvent)
	require.True(t, h.AboveMinCollateral)
	require.True(t, h.CollateralRatio.Equal(dec("1.5")), "ratio %s", h.CollateralRatio)

	v.Collateral = sdkmath.NewInt(44_999_999)
	h = state.CheckHealth(&cfg, &v, prices("1", "0.3"))
	require.False(t, h.IsSolvent)
}

func TestCheckHealthMissingVault(t *testing.T) {
	cfg := testConfig()
	h := state.CheckHealth(&cfg, nil, prices("1", "0.3"))
	require.True(t, h.IsSolvent)
	require.False(t, h.AboveMinCollateral)
	require.True(t, h.CollateralRatio.IsZero())
}

func TestCheckHealthZeroDebtAndMinimum(t *testing.T) {
	cfg := testConfig()
	v := state.NewVault(1, "alice", state.DefaultVaultType())
	v.Collateral = sdkmath.NewInt(1_000_000)

	h := state.CheckHealth(&cfg, &v, prices("1", "0.3"))
	require.True(t, h.IsSafe())
	require.True(t, h.CollateralRatio.IsZero())

	v.Collateral = sdkmath.NewInt(100)
	v.ShortExposure = sdkmath.NewInt(10)
	h = state.CheckHealth(&cfg, &v, prices("1", "0.3"))
	require.False(t, h.AboveMinCollateral)
	require.True(t, h.CollateralRatio.IsZero())
}

func TestCheckHealthStaked(t *testing.T) {
	cfg := testConfig()
	v := state.NewVault(1, "alice", state.StakedVaultType("ustweth"))
	v.Collateral = sdkmath.NewInt(45_000_000)
	v.ShortExposure = sdkmath.NewInt(100_000_000)

	// no stake price: collateral worth nothing
	h := state.CheckHealth(&cfg, &v, prices("1", "0.3"))
	require.False(t, h.IsSolvent)

	p := prices("1", "0.3")
	price := dec("1.1")
	p.StakePrice = &price
	h = state.CheckHealth(&cfg, &v, p)
	require.True(t, h.IsSolvent)
	require.True(t, h.CollateralRatio.Equal(dec("1.65")), "ratio %s", h.CollateralRatio)
}

// =============================================================================
// Liquidation math
// =============================================================================

func TestComputeLiquidationPartial(t *testing.T) {
	cfg := testConfig()
	v := state.NewVault(7, "alice", state.DefaultVaultType())
	v.Collateral = sdkmath.NewInt(40_000_000) // ratio 1.333
	v.ShortExposure = sdkmath.NewInt(100_000_000)
	p := prices("1", "0.3")

	res, err := state.ComputeLiquidation(&cfg, &v, p, sdkmath.NewInt(1_000_000_000))
	require.NoError(t, err)
	require.False(t, res.Full)
	require.Equal(t, int64(50_000_000), res.Amount.Int64())
	// 50 × 0.3 × 1.1 = 16.5
	require.Equal(t, int64(16_500_000), res.CollateralPaid.Int64())

	before := state.CheckHealth(&cfg, &v, p).CollateralRatio
	require.NoError(t, v.SubCollateral(res.CollateralPaid))
	require.NoError(t, v.SubShort(res.Amount))
	after := state.CheckHealth(&cfg, &v, p).CollateralRatio
	require.True(t, after.GTE(before), "before %s after %s", before, after)
}

func TestComputeLiquidationBoundedByMaxDebt(t *testing.T) {
	cfg := testConfig()
	v := state.NewVault(7, "alice", state.DefaultVaultType())
	v.Collateral = sdkmath.NewInt(40_000_000)
	v.ShortExposure = sdkmath.NewInt(100_000_000)

	res, err := state.ComputeLiquidation(&cfg, &v, prices("1", "0.3"), sdkmath.NewInt(10_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(10_000_000), res.Amount.Int64())
	require.Equal(t, int64(3_300_000), res.CollateralPaid.Int64())
}

func TestComputeLiquidationDust(t *testing.T) {
	cfg := testConfig()
	v := state.NewVault(7, "alice", state.DefaultVaultType())
	// half liquidation pays 0.33 and would leave 0.07 behind
	v.Collateral = sdkmath.NewInt(400_000)
	v.ShortExposure = sdkmath.NewInt(2_000_000)

	res, err := state.ComputeLiquidation(&cfg, &v, prices("1", "0.3"), sdkmath.NewInt(2_000_000))
	require.NoError(t, err)
	require.True(t, res.Full)
	require.Equal(t, int64(2_000_000), res.Amount.Int64())
	// full payout of 0.66 exceeds collateral: capped
	require.Equal(t, int64(400_000), res.CollateralPaid.Int64())
}

func TestComputeLiquidationUnderwaterNeedsFullDebt(t *testing.T) {
	cfg := testConfig()
	v := state.NewVault(7, "alice", state.DefaultVaultType())
	v.Collateral = sdkmath.NewInt(10_000_000)
	v.ShortExposure = sdkmath.NewInt(100_000_000)

	_, err := state.ComputeLiquidation(&cfg, &v, prices("1", "0.3"), sdkmath.NewInt(60_000_000))
	require.Equal(t, state.KindInsufficientFunds, state.KindOf(err))

	res, err := state.ComputeLiquidation(&cfg, &v, prices("1", "0.3"), sdkmath.NewInt(100_000_000))
	require.NoError(t, err)
	require.True(t, res.Amount.Equal(v.ShortExposure))
	require.True(t, res.CollateralPaid.Equal(v.Collateral))
}

// =============================================================================
// Vault store
// =============================================================================

func TestVaultStoreIdsAndOwnerIndex(t *testing.T) {
	faker := gofakeit.New(42)
	alice, bob := faker.Username(), faker.Username()+"-b"

	s := state.NewVaultStore()
	for i := 0; i < 5; i++ {
		owner := alice
		if i%2 == 1 {
			owner = bob
		}
		v := s.Create(owner, state.DefaultVaultType())
		require.Equal(t, uint64(i+1), v.ID)
	}
	require.Equal(t, uint64(6), s.NextID())

	aliceVaults := s.ByOwner(alice, 0, 10)
	require.Len(t, aliceVaults, 3)
	require.Equal(t, []uint64{1, 3, 5}, vaultIDs(aliceVaults))

	page := s.ByOwner(alice, 1, 1)
	require.Equal(t, []uint64{3}, vaultIDs(page))

	require.NoError(t, s.Remove(3))
	require.Equal(t, []uint64{1, 5}, vaultIDs(s.ByOwner(alice, 0, 10)))

	// ids are not reused after removal
	v := s.Create(alice, state.DefaultVaultType())
	require.Equal(t, uint64(6), v.ID)
	require.Equal(t, []uint64{1, 2, 4, 5, 6}, vaultIDs(s.Range(0, 10)))
}

func TestVaultStorePutImmutable(t *testing.T) {
	s := state.NewVaultStore()
	v := s.Create("alice", state.DefaultVaultType())

	v.Collateral = sdkmath.NewInt(10)
	require.NoError(t, s.Put(v))

	moved := v
	moved.Operator = "bob"
	require.Error(t, s.Put(moved))

	retyped := v
	retyped.Type = state.StakedVaultType("ustweth")
	require.Error(t, s.Put(retyped))

	require.Error(t, s.Remove(v.ID), "non-empty vault must not be removed")
}

func TestStoreRollback(t *testing.T) {
	st, err := state.NewStore(testConfig(), "admin", 1_000)
	require.NoError(t, err)

	kept := st.Vaults.Create("alice", state.DefaultVaultType())
	require.NoError(t, st.Begin())
	st.Commit()

	require.NoError(t, st.Begin())
	v := st.Vaults.Create("bob", state.DefaultVaultType())
	kept.Collateral = sdkmath.NewInt(99)
	require.NoError(t, st.Vaults.Put(kept))
	require.NoError(t, st.Vaults.Remove(v.ID))
	st.Global.IsPaused = true
	st.Pending = state.NewContinuation(state.ContinuationOpenShort, v.ID, "bob")
	st.Rollback()

	require.False(t, st.Global.IsPaused)
	require.Nil(t, st.Pending)
	require.Equal(t, uint64(2), st.Vaults.NextID())
	got, ok := st.Vaults.Get(kept.ID)
	require.True(t, ok)
	require.True(t, got.Collateral.IsZero())
	require.Empty(t, st.Vaults.ByOwner("bob", 0, 10))
}

func TestStoreCommitReportsTouched(t *testing.T) {
	st, err := state.NewStore(testConfig(), "admin", 1_000)
	require.NoError(t, err)

	require.NoError(t, st.Begin())
	a := st.Vaults.Create("alice", state.DefaultVaultType())
	a.Collateral = sdkmath.NewInt(5)
	require.NoError(t, st.Vaults.Put(a))
	st.Vaults.Create("bob", state.DefaultVaultType())
	require.Equal(t, []uint64{1, 2}, st.Commit())
}

func TestSnapshotRoundTrip(t *testing.T) {
	st, err := state.NewStore(testConfig(), "admin", 1_000)
	require.NoError(t, err)
	st.Vaults.Create("alice", state.DefaultVaultType())
	st.Vaults.Create("bob", state.StakedVaultType("ustweth"))
	require.NoError(t, st.Vaults.Remove(1))

	snap, err := st.Snapshot()
	require.NoError(t, err)

	restored, err := state.RestoreSnapshot(snap)
	require.NoError(t, err)
	require.Equal(t, uint64(3), restored.Vaults.NextID())
	require.Equal(t, 1, restored.Vaults.Len())
	require.Len(t, restored.Vaults.ByOwner("bob", 0, 10), 1)
}

// =============================================================================
// Continuation / ownership / global
// =============================================================================

func TestContinuationTransitions(t *testing.T) {
	open := state.NewContinuation(state.ContinuationOpenShort, 1, "alice")
	require.NoError(t, open.Advance(state.StageMintIssued))
	require.Error(t, open.Advance(state.StageAwaitingSwapIn))
	require.NoError(t, open.Advance(state.StageAwaitingSwapOut))
	require.NoError(t, open.Advance(state.StageSettled))

	closing := state.NewContinuation(state.ContinuationCloseShort, 1, "alice")
	err := closing.Advance(state.StageMintIssued)
	require.Equal(t, state.KindState, state.KindOf(err))
	require.NoError(t, closing.Advance(state.StageAwaitingSwapIn))
	require.NoError(t, closing.Expect(state.ContinuationCloseShort, state.StageAwaitingSwapIn))
}

func TestOwnershipProposal(t *testing.T) {
	_, err := state.NewOwnershipProposal("bob", state.MaxProposalDuration+1, 0)
	require.Error(t, err)

	p, err := state.NewOwnershipProposal("bob", 3600, 100)
	require.NoError(t, err)
	require.False(t, p.IsExpired(3699))
	require.True(t, p.IsExpired(3700))
}

func TestGlobalUnpauseCooldown(t *testing.T) {
	g := state.NewGlobalState(0)
	g.IsPaused = true
	g.LastPauseTime = 1_000

	require.True(t, g.CanUnpause(true, 1_001))
	require.False(t, g.CanUnpause(false, 1_000+state.PauseCooldown-1))
	require.True(t, g.CanUnpause(false, 1_000+state.PauseCooldown))
}

func TestGlobalOperationTimeIsMonotonic(t *testing.T) {
	st, err := state.NewStore(testConfig(), "admin", 1_000)
	require.NoError(t, err)
	require.NoError(t, st.Global.CheckOperationTime(1_000))

	require.NoError(t, st.Begin())
	st.Global.LastOperationTime = 5_000
	st.Rollback()
	require.NoError(t, st.Global.CheckOperationTime(1_000))

	require.NoError(t, st.Begin())
	st.Global.LastOperationTime = 5_000
	st.Commit()
	require.NoError(t, st.Global.CheckOperationTime(5_000))
	err = st.Global.CheckOperationTime(4_999)
	require.Equal(t, state.KindValidation, state.KindOf(err))
}

func vaultIDs(vs []state.Vault) []uint64 {
	ids := make([]uint64, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.ID)
	}
	return ids
}
