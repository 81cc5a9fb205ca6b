package core

import (
	errorsmod "cosmossdk.io/errors"

	"PowerPerp/internal/event"
	"PowerPerp/internal/state"
)

const (
	DefaultGCLimit = 500
	MaxGCLimit     = 1000
)

// removeEmptyVaults scans one page of vaults and deletes those with no
// collateral and no exposure. Finding none is an error.
func (e *Engine) removeEmptyVaults(m MsgRemoveEmptyVaults) (RemoveEmptyVaultsResponse, error) {
	if err := e.acceptFunds(); err != nil {
		return RemoveEmptyVaultsResponse{}, err
	}

	limit := DefaultGCLimit
	if m.Limit != nil {
		if *m.Limit == 0 || *m.Limit > MaxGCLimit {
			return RemoveEmptyVaultsResponse{}, errorsmod.Wrapf(state.ErrValidation, "limit must be in [1, %d]", MaxGCLimit)
		}
		limit = int(*m.Limit)
	}
	var cursor uint64
	if m.StartAfter != nil {
		cursor = *m.StartAfter
	}

	var removed []uint64
	for _, v := range e.store.Vaults.Range(cursor, limit) {
		if !v.IsEmpty() {
			continue
		}
		if err := e.store.Vaults.Remove(v.ID); err != nil {
			return RemoveEmptyVaultsResponse{}, err
		}
		removed = append(removed, v.ID)
	}
	if len(removed) == 0 {
		return RemoveEmptyVaultsResponse{}, errorsmod.Wrap(state.ErrState, "no empty vaults found")
	}

	e.record(&event.VaultsRemoved{VaultIDs: removed})
	e.logger.Info().
		Int("count", len(removed)).
		Uint64("start_after", cursor).
		Msg("empty vaults removed")
	if e.metrics != nil {
		e.metrics.VaultsRemoved.Add(float64(len(removed)))
	}
	return RemoveEmptyVaultsResponse{Removed: removed}, nil
}
