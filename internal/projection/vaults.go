package projection

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"PowerPerp/internal/core"
	"PowerPerp/internal/state"
)

// VaultRow is a row of projections.vaults
type VaultRow struct {
	VaultID         int64     `db:"vault_id"`
	Operator        string    `db:"operator"`
	Collateral      string    `db:"collateral"`
	ShortExposure   string    `db:"short_exposure"`
	VaultKind       string    `db:"vault_kind"`
	CollateralDenom string    `db:"collateral_denom"`
	Removed         bool      `db:"removed"`
	LastSequence    int64     `db:"last_sequence"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// VaultHistoryRow is a row of projections.vault_history
type VaultHistoryRow struct {
	Sequence      int64     `db:"sequence"`
	VaultID       int64     `db:"vault_id"`
	EventType     string    `db:"event_type"`
	Collateral    string    `db:"collateral"`
	ShortExposure string    `db:"short_exposure"`
	Timestamp     time.Time `db:"timestamp"`
}

// NewVaultRow maps a vault to its projection row
func NewVaultRow(v state.Vault, cfg *state.Config, seq int64, ts time.Time) VaultRow {
	denom := cfg.BaseAsset
	if v.Type.Kind == state.VaultKindStaked {
		denom = v.Type.Denom
	}
	return VaultRow{
		VaultID:         int64(v.ID),
		Operator:        v.Operator,
		Collateral:      v.Collateral.String(),
		ShortExposure:   v.ShortExposure.String(),
		VaultKind:       v.Type.Kind.String(),
		CollateralDenom: denom,
		LastSequence:    seq,
		UpdatedAt:       ts,
	}
}

func upsertVaults(ctx context.Context, tx *sqlx.Tx, output core.CoreOutput, seq int64, ts time.Time) error {
	for _, v := range output.Vaults {
		row := NewVaultRow(v, &output.Config, seq, ts)
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO projections.vaults
				(vault_id, operator, collateral, short_exposure, vault_kind, collateral_denom, removed, last_sequence, updated_at)
			VALUES (:vault_id, :operator, :collateral, :short_exposure, :vault_kind, :collateral_denom, FALSE, :last_sequence, :updated_at)
			ON CONFLICT (vault_id) DO UPDATE SET
				operator = EXCLUDED.operator,
				collateral = EXCLUDED.collateral,
				short_exposure = EXCLUDED.short_exposure,
				removed = FALSE,
				last_sequence = EXCLUDED.last_sequence,
				updated_at = EXCLUDED.updated_at
			WHERE projections.vaults.last_sequence <= EXCLUDED.last_sequence
		`, row); err != nil {
			return err
		}
	}

	for _, id := range output.Removed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.vaults
			SET removed = TRUE, collateral = 0, short_exposure = 0, last_sequence = $2, updated_at = $3
			WHERE vault_id = $1 AND last_sequence <= $2
		`, int64(id), seq, ts); err != nil {
			return err
		}
	}
	return nil
}

func insertVaultHistory(ctx context.Context, tx *sqlx.Tx, output core.CoreOutput) error {
	post := make(map[uint64]state.Vault, len(output.Vaults))
	for _, v := range output.Vaults {
		post[v.ID] = v
	}

	for _, env := range output.Envelopes {
		if env.VaultID == nil {
			continue
		}
		row := VaultHistoryRow{
			Sequence:      env.Sequence,
			VaultID:       int64(*env.VaultID),
			EventType:     env.EventType.String(),
			Collateral:    "0",
			ShortExposure: "0",
			Timestamp:     env.Timestamp,
		}
		if v, ok := post[*env.VaultID]; ok {
			row.Collateral = v.Collateral.String()
			row.ShortExposure = v.ShortExposure.String()
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO projections.vault_history
				(sequence, vault_id, event_type, collateral, short_exposure, timestamp)
			VALUES (:sequence, :vault_id, :event_type, :collateral, :short_exposure, :timestamp)
			ON CONFLICT (vault_id, sequence) DO NOTHING
		`, row); err != nil {
			return err
		}
	}
	return nil
}
