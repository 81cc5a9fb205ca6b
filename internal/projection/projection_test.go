package projection_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"PowerPerp/internal/core"
	"PowerPerp/internal/event"
	"PowerPerp/internal/persistence"
	"PowerPerp/internal/projection"
	"PowerPerp/internal/state"
	"PowerPerp/internal/testutil"
)

func migrate(ctx context.Context, db *sql.DB, dir string, logger zerolog.Logger) error {
	_, err := persistence.NewMigrator(db, dir, logger).Up(ctx)
	return err
}

func fundingEnvelope(t *testing.T, seq int64) *event.EventEnvelope {
	t.Helper()
	payload, err := event.Encode(&event.FundingApplied{
		OldFactor: sdkmath.LegacyOneDec(),
		NewFactor: sdkmath.LegacyMustNewDecFromStr("0.999"),
		Index:     sdkmath.LegacyNewDec(900),
		Mark:      sdkmath.LegacyNewDec(910),
		Elapsed:   3600,
		Timestamp: 1_700_003_600,
	})
	require.NoError(t, err)
	return &event.EventEnvelope{
		Sequence:  seq,
		EventType: event.EventTypeFundingApplied,
		Timestamp: time.Unix(1_700_003_600, 0).UTC(),
		Payload:   payload,
	}
}

func testVault(id uint64, collateral, exposure int64) state.Vault {
	v := state.NewVault(id, "alice", state.DefaultVaultType())
	v.Collateral = sdkmath.NewInt(collateral)
	v.ShortExposure = sdkmath.NewInt(exposure)
	return v
}

// ============================================================================
// Mapping
// ============================================================================

func TestFundingRecordFrom(t *testing.T) {
	rec, err := projection.FundingRecordFrom(fundingEnvelope(t, 12))
	require.NoError(t, err)
	require.Equal(t, int64(12), rec.Sequence)
	require.Equal(t, "1.000000000000000000", rec.OldFactor)
	require.Equal(t, "0.999000000000000000", rec.NewFactor)
	require.Equal(t, "900.000000000000000000", rec.Index)
	require.Equal(t, int64(3600), rec.Elapsed)
	require.Equal(t, int64(1_700_003_600), rec.FundingTime)
}

func TestFundingRecordFromRejectsOtherEvents(t *testing.T) {
	env := fundingEnvelope(t, 1)
	env.EventType = event.EventTypeMinted
	_, err := projection.FundingRecordFrom(env)
	require.Error(t, err)
}

func TestNewVaultRowCollateralDenom(t *testing.T) {
	cfg := &state.Config{BaseAsset: "uweth"}
	ts := time.Unix(1_700_000_000, 0).UTC()

	row := projection.NewVaultRow(testVault(3, 500, 20), cfg, 9, ts)
	require.Equal(t, int64(3), row.VaultID)
	require.Equal(t, "uweth", row.CollateralDenom)
	require.Equal(t, "Default", row.VaultKind)
	require.Equal(t, "500", row.Collateral)
	require.Equal(t, "20", row.ShortExposure)

	staked := state.NewVault(4, "bob", state.StakedVaultType("ustweth"))
	row = projection.NewVaultRow(staked, cfg, 9, ts)
	require.Equal(t, "ustweth", row.CollateralDenom)
	require.Equal(t, "Staked", row.VaultKind)
}

// ============================================================================
// Postgres (INTEGRATION_TEST=1)
// ============================================================================

func TestApplyProjectsVaultsAndFunding(t *testing.T) {
	raw, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()
	db := sqlx.NewDb(raw, "postgres")
	ctx := context.Background()

	worker := projection.NewProjectionWorker(db, nil, nil, zerolog.Nop())
	id := uint64(1)
	minted := &event.EventEnvelope{
		Sequence:  0,
		EventType: event.EventTypeMinted,
		VaultID:   &id,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		Payload:   []byte(`{}`),
	}
	out := core.CoreOutput{
		Envelopes: []*event.EventEnvelope{minted, fundingEnvelope(t, 1)},
		Vaults:    []state.Vault{testVault(1, 1_000, 40)},
		Global:    state.NewGlobalState(1_700_000_000),
		Config:    state.Config{BaseAsset: "uweth"},
		Owner:     "admin",
	}
	require.NoError(t, worker.Apply(ctx, out))

	var row projection.VaultRow
	require.NoError(t, db.GetContext(ctx, &row, `SELECT * FROM projections.vaults WHERE vault_id = 1`))
	require.Equal(t, "1000", row.Collateral)
	require.False(t, row.Removed)

	var funding []projection.FundingRecord
	require.NoError(t, db.SelectContext(ctx, &funding, `SELECT * FROM projections.funding_history`))
	require.Len(t, funding, 1)

	removal := core.CoreOutput{
		Envelopes: []*event.EventEnvelope{{Sequence: 2, EventType: event.EventTypeVaultsRemoved, Timestamp: time.Unix(1_700_000_100, 0).UTC(), Payload: []byte(`{}`)}},
		Removed:   []uint64{1},
		Global:    out.Global,
		Config:    out.Config,
		Owner:     "admin",
	}
	require.NoError(t, worker.Apply(ctx, removal))
	require.NoError(t, db.GetContext(ctx, &row, `SELECT * FROM projections.vaults WHERE vault_id = 1`))
	require.True(t, row.Removed)
	require.Equal(t, "0", row.Collateral)
}

func TestRebuildFundingHistoryFromEventLog(t *testing.T) {
	raw, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()
	db := sqlx.NewDb(raw, "postgres")
	ctx := context.Background()

	env := fundingEnvelope(t, 5)
	tx, err := raw.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, persistence.NewEventLogWriter(raw).WriteEventBatch(ctx, tx, []persistence.EventRow{{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: "funding:5",
		Payload:        env.Payload,
		StateHash:      make([]byte, 32),
		PrevHash:       make([]byte, 32),
		Timestamp:      env.Timestamp,
	}}))
	require.NoError(t, tx.Commit())

	_, err = db.ExecContext(ctx, `INSERT INTO projections.funding_history
		(sequence, old_factor, new_factor, index_price, mark_price, elapsed, funding_time)
		VALUES (99, '1', '1', '1', '1', 1, 1)`)
	require.NoError(t, err)

	n, err := projection.RebuildFundingHistory(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var funding []projection.FundingRecord
	require.NoError(t, db.SelectContext(ctx, &funding, `SELECT * FROM projections.funding_history`))
	require.Len(t, funding, 1)
	require.Equal(t, int64(5), funding[0].Sequence)
}
