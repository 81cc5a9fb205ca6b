package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PowerPerp/internal/core"
)

// snapshotFormatVersion identifies the JSON layout of core.SnapshotState
const snapshotFormatVersion = 1

// SnapshotManager stores engine snapshots for recovery. A snapshot becomes
// loadable once the event log holds the event it chains from.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotInfo describes a stored snapshot without its payload
type SnapshotInfo struct {
	SnapshotID uuid.UUID
	Sequence   int64
	SizeBytes  int
	Verified   bool
	CreatedAt  time.Time
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists snap unverified and returns its encoded size
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState, createdAt time.Time) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash[:], snapshotFormatVersion, len(data), createdAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// VerifyPending marks every unverified snapshot whose chain tip matches the
// persisted event log. Snapshots taken before any event are trivially valid.
// Returns the number of snapshots verified.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT s.sequence, s.state_hash, e.state_hash
		FROM event_log.snapshots s
		LEFT JOIN event_log.events e ON e.sequence = s.sequence - 1
		WHERE s.verified = FALSE
		ORDER BY s.sequence ASC
	`)
	if err != nil {
		return 0, err
	}

	var ready []int64
	for rows.Next() {
		var (
			seq       int64
			snapHash  []byte
			eventHash []byte
		)
		if err := rows.Scan(&seq, &snapHash, &eventHash); err != nil {
			rows.Close()
			return 0, err
		}
		if seq == 0 || (eventHash != nil && bytes.Equal(snapHash, eventHash)) {
			ready = append(ready, seq)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, seq := range ready {
		if err := sm.MarkVerified(ctx, seq); err != nil {
			return 0, err
		}
	}
	return len(ready), nil
}

// MarkVerified marks the snapshot at sequence as verified
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a cold start
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns the newest snapshots first
func (sm *SnapshotManager) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT snapshot_id, sequence, size_bytes, verified, created_at
		FROM event_log.snapshots
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.SnapshotID, &info.Sequence, &info.SizeBytes, &info.Verified, &info.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
