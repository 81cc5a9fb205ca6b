package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"PowerPerp/internal/core"
	"PowerPerp/internal/observability"
)

// WorkerID keys the projection watermark row
const WorkerID = "main"

// ProjectionWorker updates the projection tables from engine outputs.
// The engine feeds it with a non-blocking send; anything dropped can be
// recovered from the event log.
type ProjectionWorker struct {
	db        *sqlx.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sqlx.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run applies outputs until ctx is cancelled or the channel closes
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if len(output.Envelopes) == 0 {
				continue
			}

			seq := output.Envelopes[len(output.Envelopes)-1].Sequence
			if err := pw.Apply(ctx, output); err != nil {
				// Eventually consistent: the next output overwrites vault rows
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			pw.lastSeq = seq
		}
	}
}

// LastSequence is the highest sequence applied, -1 before the first
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Apply writes one output to every projection in a single transaction
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	if len(output.Envelopes) == 0 {
		return nil
	}
	start := time.Now()
	last := output.Envelopes[len(output.Envelopes)-1]

	tx, err := pw.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertVaults(ctx, tx, output, last.Sequence, last.Timestamp); err != nil {
		return fmt.Errorf("vaults: %w", err)
	}
	pw.observe("vaults", start)

	if err := insertVaultHistory(ctx, tx, output); err != nil {
		return fmt.Errorf("vault history: %w", err)
	}

	fundingStart := time.Now()
	if err := insertFundingHistory(ctx, tx, output.Envelopes); err != nil {
		return fmt.Errorf("funding history: %w", err)
	}
	pw.observe("funding_history", fundingStart)

	if err := upsertProtocolState(ctx, tx, output, last.Sequence, last.Timestamp); err != nil {
		return fmt.Errorf("protocol state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, WorkerID, last.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

type protocolStateRow struct {
	IsOpen                bool      `db:"is_open"`
	IsPaused              bool      `db:"is_paused"`
	NormalizationFactor   string    `db:"normalization_factor"`
	LastFundingUpdateTime int64     `db:"last_funding_update_time"`
	Owner                 string    `db:"owner"`
	LastSequence          int64     `db:"last_sequence"`
	UpdatedAt             time.Time `db:"updated_at"`
}

func upsertProtocolState(ctx context.Context, tx *sqlx.Tx, output core.CoreOutput, seq int64, ts time.Time) error {
	row := protocolStateRow{
		IsOpen:                output.Global.IsOpen,
		IsPaused:              output.Global.IsPaused,
		NormalizationFactor:   output.Global.NormalizationFactor.String(),
		LastFundingUpdateTime: output.Global.LastFundingUpdateTime,
		Owner:                 output.Owner,
		LastSequence:          seq,
		UpdatedAt:             ts,
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO projections.protocol_state
			(id, is_open, is_paused, normalization_factor, last_funding_update_time, owner, last_sequence, updated_at)
		VALUES (1, :is_open, :is_paused, :normalization_factor, :last_funding_update_time, :owner, :last_sequence, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			is_open = EXCLUDED.is_open,
			is_paused = EXCLUDED.is_paused,
			normalization_factor = EXCLUDED.normalization_factor,
			last_funding_update_time = EXCLUDED.last_funding_update_time,
			owner = EXCLUDED.owner,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = EXCLUDED.updated_at
	`, row)
	return err
}
