package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"PowerPerp/internal/ledger"
	"PowerPerp/internal/projection"
)

// DefaultLimit and MaxLimit bound every paginated history query
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrNotFound is returned when a projected row does not exist
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to the event log and projection
// tables. Results carry the projection watermark they were read at.
type QueryService struct {
	db         *sqlx.DB
	powerAsset string
}

func NewQueryService(db *sqlx.DB, powerAsset string) *QueryService {
	return &QueryService{db: db, powerAsset: powerAsset}
}

// GetVault returns the projected vault
func (qs *QueryService) GetVault(ctx context.Context, vaultID uint64) (*VaultResponse, error) {
	var v VaultResponse
	err := qs.db.GetContext(ctx, &v, `
		SELECT vault_id, operator, collateral, short_exposure, vault_kind,
		       collateral_denom, removed, last_sequence, updated_at
		FROM projections.vaults
		WHERE vault_id = $1
	`, int64(vaultID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault %d: %w", vaultID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVaultsByOperator returns the operator's live vaults in id order
func (qs *QueryService) ListVaultsByOperator(ctx context.Context, operator string, afterID int64, limit int) (*Page[VaultResponse], error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	items := []VaultResponse{}
	if err := qs.db.SelectContext(ctx, &items, `
		SELECT vault_id, operator, collateral, short_exposure, vault_kind,
		       collateral_denom, removed, last_sequence, updated_at
		FROM projections.vaults
		WHERE operator = $1 AND vault_id > $2 AND NOT removed
		ORDER BY vault_id ASC
		LIMIT $3
	`, operator, afterID, clampLimit(limit)); err != nil {
		return nil, err
	}
	return &Page[VaultResponse]{Items: items, AsOfSequence: asOf}, nil
}

// GetVaultHistory returns a vault's states newest first, optionally before a sequence
func (qs *QueryService) GetVaultHistory(ctx context.Context, vaultID uint64, beforeSequence *int64, limit int) (*Page[VaultHistoryEntry], error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, vault_id, event_type, collateral, short_exposure, timestamp
		FROM projections.vault_history
		WHERE vault_id = $1
	`
	args := []interface{}{int64(vaultID)}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	items := []VaultHistoryEntry{}
	if err := qs.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return &Page[VaultHistoryEntry]{Items: items, AsOfSequence: asOf}, nil
}

// GetFundingHistory returns normalization factor updates newest first
func (qs *QueryService) GetFundingHistory(ctx context.Context, beforeSequence *int64, limit int) (*Page[FundingHistoryEntry], error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, old_factor, new_factor, index_price, mark_price, elapsed, funding_time
		FROM projections.funding_history
	`
	args := []interface{}{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	items := []FundingHistoryEntry{}
	if err := qs.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return &Page[FundingHistoryEntry]{Items: items, AsOfSequence: asOf}, nil
}

// GetJournalHistory returns the journal entries touching holder, newest first
func (qs *QueryService) GetJournalHistory(ctx context.Context, holder string, beforeSequence *int64, limit int) ([]JournalHistoryEntry, error) {
	if holder == "" {
		return nil, errors.New("holder must be set")
	}
	prefix := likeEscaper.Replace(ledger.HolderAccount(holder, "").AccountPath()) + "%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account,
		       credit_account, denom, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{prefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	entries := []JournalHistoryEntry{}
	if err := qs.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks the persisted hash chain and, once the projections
// have caught up, that the journaled power supply equals the projected exposure.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{LatestSequence: -1}

	if err := qs.db.SelectContext(ctx, &report.HashChainBreaks, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`); err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}

	var latest sql.NullInt64
	if err := qs.db.GetContext(ctx, &latest, `SELECT MAX(sequence) FROM event_log.events`); err != nil {
		return nil, err
	}
	if latest.Valid {
		report.LatestSequence = latest.Int64
	}

	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if watermark == report.LatestSequence {
		issuance := ledger.IssuanceAccount(qs.powerAsset).AccountPath()
		if err := qs.db.GetContext(ctx, &report.PowerSupply, `
			SELECT (COALESCE(SUM(amount) FILTER (WHERE credit_account = $1), 0)
			      - COALESCE(SUM(amount) FILTER (WHERE debit_account = $1), 0))::TEXT
			FROM event_log.journal
			WHERE denom = $2
		`, issuance, qs.powerAsset); err != nil {
			return nil, fmt.Errorf("power supply: %w", err)
		}
		if err := qs.db.GetContext(ctx, &report.TotalExposure, `
			SELECT COALESCE(SUM(short_exposure), 0)::TEXT FROM projections.vaults WHERE NOT removed
		`); err != nil {
			return nil, fmt.Errorf("total exposure: %w", err)
		}
		report.SupplyChecked = true
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		(!report.SupplyChecked || report.PowerSupply == report.TotalExposure)
	return report, nil
}

// --- helpers ---

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.GetContext(ctx, &seq, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = $1
	`, projection.WorkerID)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
