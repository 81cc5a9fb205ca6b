package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"PowerPerp/internal/event"
)

// FundingRecord is one normalization factor update, as stored in projections.funding_history
type FundingRecord struct {
	Sequence    int64  `db:"sequence" json:"sequence"`
	OldFactor   string `db:"old_factor" json:"old_factor"`
	NewFactor   string `db:"new_factor" json:"new_factor"`
	Index       string `db:"index_price" json:"index"`
	Mark        string `db:"mark_price" json:"mark"`
	Elapsed     int64  `db:"elapsed" json:"elapsed"`
	FundingTime int64  `db:"funding_time" json:"funding_time"`
}

// FundingRecordFrom decodes a FundingApplied envelope
func FundingRecordFrom(env *event.EventEnvelope) (FundingRecord, error) {
	if env.EventType != event.EventTypeFundingApplied {
		return FundingRecord{}, fmt.Errorf("event %d is %s, not FundingApplied", env.Sequence, env.EventType)
	}
	var f event.FundingApplied
	if err := json.Unmarshal(env.Payload, &f); err != nil {
		return FundingRecord{}, fmt.Errorf("decode funding event %d: %w", env.Sequence, err)
	}
	return FundingRecord{
		Sequence:    env.Sequence,
		OldFactor:   f.OldFactor.String(),
		NewFactor:   f.NewFactor.String(),
		Index:       f.Index.String(),
		Mark:        f.Mark.String(),
		Elapsed:     f.Elapsed,
		FundingTime: f.Timestamp,
	}, nil
}

const insertFundingRecord = `
	INSERT INTO projections.funding_history
		(sequence, old_factor, new_factor, index_price, mark_price, elapsed, funding_time)
	VALUES (:sequence, :old_factor, :new_factor, :index_price, :mark_price, :elapsed, :funding_time)
	ON CONFLICT (sequence) DO NOTHING`

func insertFundingHistory(ctx context.Context, tx *sqlx.Tx, envelopes []*event.EventEnvelope) error {
	for _, env := range envelopes {
		if env.EventType != event.EventTypeFundingApplied {
			continue
		}
		rec, err := FundingRecordFrom(env)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertFundingRecord, rec); err != nil {
			return err
		}
	}
	return nil
}

// RebuildFundingHistory re-derives the funding history from the event log
func RebuildFundingHistory(ctx context.Context, db *sqlx.DB) (int, error) {
	var rows []struct {
		Sequence int64  `db:"sequence"`
		Payload  []byte `db:"payload"`
	}
	if err := db.SelectContext(ctx, &rows, `
		SELECT sequence, payload FROM event_log.events
		WHERE event_type = $1
		ORDER BY sequence ASC
	`, event.EventTypeFundingApplied.String()); err != nil {
		return 0, fmt.Errorf("load funding events: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.funding_history`); err != nil {
		return 0, fmt.Errorf("truncate funding history: %w", err)
	}

	envs := make([]*event.EventEnvelope, 0, len(rows))
	for _, r := range rows {
		envs = append(envs, &event.EventEnvelope{
			Sequence:  r.Sequence,
			EventType: event.EventTypeFundingApplied,
			Payload:   r.Payload,
		})
	}
	if err := insertFundingHistory(ctx, tx, envs); err != nil {
		return 0, err
	}
	return len(envs), tx.Commit()
}
