package query

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
	"PowerPerp/internal/ledger"
	"PowerPerp/internal/persistence"
	"PowerPerp/internal/projection"
	"PowerPerp/internal/state"
	"PowerPerp/internal/testutil"
)

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, clampLimit(0))
	require.Equal(t, DefaultLimit, clampLimit(-3))
	require.Equal(t, 7, clampLimit(7))
	require.Equal(t, MaxLimit, clampLimit(MaxLimit+1))
}

func TestLikeEscaper(t *testing.T) {
	require.Equal(t, `holder:a\_b\%:`, likeEscaper.Replace("holder:a_b%:"))
}

// ============================================================================
// Postgres (INTEGRATION_TEST=1)
// ============================================================================

func migrate(ctx context.Context, db *sql.DB, dir string, logger zerolog.Logger) error {
	_, err := persistence.NewMigrator(db, dir, logger).Up(ctx)
	return err
}

// mintOutput is the output of alice minting 40 usqth into vault 1
func mintOutput(t *testing.T) core.CoreOutput {
	t.Helper()
	l := ledger.New()
	l.SetMintAuthority("usqth", "engine")
	tx, err := l.Begin("req-1", 0, 1_700_000_000)
	require.NoError(t, err)
	require.NoError(t, tx.Mint("engine", "alice", "usqth", sdkmath.NewInt(40)))
	batch, err := tx.Commit()
	require.NoError(t, err)

	id := uint64(1)
	v := state.NewVault(1, "alice", state.DefaultVaultType())
	v.Collateral = sdkmath.NewInt(1_000)
	v.ShortExposure = sdkmath.NewInt(40)

	return core.CoreOutput{
		Envelopes: []*event.EventEnvelope{{
			Sequence:       0,
			IdempotencyKey: "req-1",
			EventType:      event.EventTypeMinted,
			VaultID:        &id,
			Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
			Payload:        []byte(`{"vault_id":1}`),
			StateHash:      [32]byte{1},
		}},
		Batch:  batch,
		Vaults: []state.Vault{v},
		Global: state.NewGlobalState(1_700_000_000),
		Config: state.Config{BaseAsset: "uweth", PowerAsset: "usqth"},
		Owner:  "admin",
	}
}

func TestQueriesOverProjections(t *testing.T) {
	raw, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()
	db := sqlx.NewDb(raw, "postgres")
	ctx := context.Background()

	out := mintOutput(t)
	in := make(chan core.CoreOutput, 1)
	in <- out
	close(in)
	require.NoError(t, persistence.NewPersistenceWorker(raw, in, 10, time.Millisecond, nil, zerolog.Nop()).Run(ctx))
	require.NoError(t, projection.NewProjectionWorker(db, nil, nil, zerolog.Nop()).Apply(ctx, out))

	qs := NewQueryService(db, "usqth")

	v, err := qs.GetVault(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "40", v.ShortExposure)

	_, err = qs.GetVault(ctx, 2)
	require.ErrorIs(t, err, ErrNotFound)

	page, err := qs.ListVaultsByOperator(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, int64(0), page.AsOfSequence)

	history, err := qs.GetVaultHistory(ctx, 1, nil, 10)
	require.NoError(t, err)
	require.Len(t, history.Items, 1)
	require.Equal(t, "Minted", history.Items[0].EventType)

	journals, err := qs.GetJournalHistory(ctx, "alice", nil, 10)
	require.NoError(t, err)
	require.Len(t, journals, 1)
	require.Equal(t, "mint", journals[0].JournalType)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.True(t, report.SupplyChecked)
	require.Equal(t, "40", report.PowerSupply)
	require.Equal(t, "40", report.TotalExposure)
	require.True(t, report.IsHealthy)
}
