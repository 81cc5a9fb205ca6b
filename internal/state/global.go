package state

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

// PauseCooldown is how long a non-admin must wait after a pause before unpausing (7 days).
const PauseCooldown int64 = 7 * 24 * 60 * 60

// GlobalState is the process-wide protocol state
type GlobalState struct {
	IsOpen                bool              `json:"is_open"`
	IsPaused              bool              `json:"is_paused"`
	LastPauseTime         int64             `json:"last_pause_time"`
	NormalizationFactor   sdkmath.LegacyDec `json:"normalization_factor"`
	LastFundingUpdateTime int64             `json:"last_funding_update_time"`
	LastOperationTime     int64             `json:"last_operation_time"`
}

// NewGlobalState returns the initial state: closed, unpaused, factor 1
func NewGlobalState(now int64) GlobalState {
	return GlobalState{
		NormalizationFactor:   sdkmath.LegacyOneDec(),
		LastFundingUpdateTime: now,
		LastOperationTime:     now,
	}
}

// IsActive reports whether user operations may run
func (g *GlobalState) IsActive() bool {
	return g.IsOpen && !g.IsPaused
}

// CanUnpause reports whether a caller may lift the pause at now
func (g *GlobalState) CanUnpause(isAdmin bool, now int64) bool {
	return isAdmin || now >= g.LastPauseTime+PauseCooldown
}

// CheckOperationTime rejects an operation timestamped before the last committed one
func (g *GlobalState) CheckOperationTime(now int64) error {
	if now < g.LastOperationTime {
		return errorsmod.Wrapf(ErrValidation, "operation time %d precedes last operation time %d", now, g.LastOperationTime)
	}
	return nil
}
