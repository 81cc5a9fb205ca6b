package core

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/ledger"
	fpmath "PowerPerp/internal/math"
	"PowerPerp/internal/state"
)

// DefaultQueryLimit and MaxQueryLimit bound paginated vault queries
const (
	DefaultQueryLimit = 30
	MaxQueryLimit     = 100
)

// StateResponse is the global state as seen at a point in time
type StateResponse struct {
	state.GlobalState
	NextVaultID  uint64 `json:"next_vault_id"`
	VaultCount   int    `json:"vault_count"`
	HasPending   bool   `json:"has_pending"`
	Owner        string `json:"owner"`
	EngineHolder string `json:"engine_address"`
}

// VaultHealth is a vault with its health at the queried time
type VaultHealth struct {
	Vault  state.Vault        `json:"vault"`
	Health state.HealthStatus `json:"health"`
}

// QueryConfig returns a copy of the protocol config
func (e *Engine) QueryConfig() state.Config {
	return e.store.Config.Clone()
}

func (e *Engine) QueryState() StateResponse {
	return StateResponse{
		GlobalState:  e.store.Global,
		NextVaultID:  e.store.Vaults.NextID(),
		VaultCount:   e.store.Vaults.Len(),
		HasPending:   e.store.Pending != nil,
		Owner:        e.store.Owner,
		EngineHolder: e.address,
	}
}

func (e *Engine) QueryOwner() string {
	return e.store.Owner
}

// QueryOwnershipProposal returns the pending proposal, or nil
func (e *Engine) QueryOwnershipProposal() *state.OwnershipProposal {
	if e.store.Proposal == nil {
		return nil
	}
	p := *e.store.Proposal
	return &p
}

func (e *Engine) QueryNextVaultID() uint64 {
	return e.store.Vaults.NextID()
}

// QueryPendingContinuation returns the in-flight continuation, or nil
func (e *Engine) QueryPendingContinuation() *state.Continuation {
	return e.store.Pending.Clone()
}

func (e *Engine) QueryVault(id uint64) (state.Vault, error) {
	return e.store.Vaults.MustGet(id)
}

// QueryVaultsByOwner pages through owner's vaults in ascending id order
func (e *Engine) QueryVaultsByOwner(owner string, startAfter *uint64, limit *uint32) ([]state.Vault, error) {
	if owner == "" {
		return nil, errorsmod.Wrap(state.ErrValidation, "owner must be set")
	}
	n, err := queryLimit(limit)
	if err != nil {
		return nil, err
	}
	var cursor uint64
	if startAfter != nil {
		cursor = *startAfter
	}
	return e.store.Vaults.ByOwner(owner, cursor, n), nil
}

// QueryNormalizationFactor is the factor applyFunding would store at now
func (e *Engine) QueryNormalizationFactor(now int64) (sdkmath.LegacyDec, error) {
	q, _, err := e.previewFunding(now)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return q.factor, nil
}

// QueryIndex returns quote² over the lookback, divided by the index scale
func (e *Engine) QueryIndex(period, now int64) (sdkmath.LegacyDec, error) {
	unscaled, err := e.QueryUnscaledIndex(period, now)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return unscaled.QuoTruncate(e.store.Config.IndexScale), nil
}

// QueryUnscaledIndex returns quote² over the lookback
func (e *Engine) QueryUnscaledIndex(period, now int64) (sdkmath.LegacyDec, error) {
	if period <= 0 {
		return sdkmath.LegacyDec{}, errorsmod.Wrap(state.ErrValidation, "period must be positive")
	}
	quote, err := e.quoteTWAP(now - period)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return fpmath.ComputeIndex(quote), nil
}

// QueryDenormalizedMark returns quote × power / normFactor over the lookback, unclamped
func (e *Engine) QueryDenormalizedMark(period, now int64) (sdkmath.LegacyDec, error) {
	if period <= 0 {
		return sdkmath.LegacyDec{}, errorsmod.Wrap(state.ErrValidation, "period must be positive")
	}
	windowStart := now - period
	quote, err := e.quoteTWAP(windowStart)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	power, err := e.powerTWAP(windowStart)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	factor, err := e.QueryNormalizationFactor(now)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return fpmath.ComputeMark(quote, power.MulTruncate(e.store.Config.IndexScale), factor), nil
}

// QueryCheckVault reports health at now using the previewed factor.
// Unknown vaults report solvent, below minimum, ratio zero.
func (e *Engine) QueryCheckVault(id uint64, now int64) (state.HealthStatus, error) {
	v, ok := e.store.Vaults.Get(id)
	if !ok {
		return state.CheckHealth(&e.store.Config, nil, state.Prices{}), nil
	}
	prices, err := e.previewPrices(v.Type, now)
	if err != nil {
		return state.HealthStatus{}, err
	}
	return state.CheckHealth(&e.store.Config, &v, prices), nil
}

// QueryVaultHealth returns the vault together with its health at now
func (e *Engine) QueryVaultHealth(id uint64, now int64) (VaultHealth, error) {
	v, err := e.store.Vaults.MustGet(id)
	if err != nil {
		return VaultHealth{}, err
	}
	prices, err := e.previewPrices(v.Type, now)
	if err != nil {
		return VaultHealth{}, err
	}
	return VaultHealth{Vault: v, Health: state.CheckHealth(&e.store.Config, &v, prices)}, nil
}

// QueryLiquidationPreview sizes a liquidation at now without executing it
func (e *Engine) QueryLiquidationPreview(id uint64, maxDebt sdkmath.Int, now int64) (state.LiquidationResult, error) {
	if !positive(maxDebt) {
		return state.LiquidationResult{}, errorsmod.Wrap(state.ErrValidation, "max debt amount must be positive")
	}
	v, err := e.store.Vaults.MustGet(id)
	if err != nil {
		return state.LiquidationResult{}, err
	}
	prices, err := e.previewPrices(v.Type, now)
	if err != nil {
		return state.LiquidationResult{}, err
	}
	return computeLiquidation(&e.store.Config, &v, prices, maxDebt)
}

// SpotPricer is implemented by venues that quote a marginal pool price
type SpotPricer interface {
	SpotPrice(tl ledger.TokenLedger, poolID, base, quote string) (sdkmath.LegacyDec, error)
}

// QuerySpotPrice returns the venue's current price of base in quote
func (e *Engine) QuerySpotPrice(pool, base, quote string) (sdkmath.LegacyDec, error) {
	sp, ok := e.venue.(SpotPricer)
	if !ok {
		return sdkmath.LegacyDec{}, errorsmod.Wrap(state.ErrExternalCall, "venue does not quote spot prices")
	}
	if e.op != nil {
		return sdkmath.LegacyDec{}, errorsmod.Wrap(state.ErrState, "cannot quote during an operation")
	}
	tx, err := e.ledger.Begin("spot-price", e.sequence, 0)
	if err != nil {
		return sdkmath.LegacyDec{}, errorsmod.Wrap(state.ErrState, err.Error())
	}
	defer tx.Discard()
	return sp.SpotPrice(tx, pool, base, quote)
}

func (e *Engine) previewPrices(vt state.VaultType, now int64) (state.Prices, error) {
	factor, err := e.QueryNormalizationFactor(now)
	if err != nil {
		return state.Prices{}, err
	}
	return e.pricesAt(vt, factor, now)
}

func queryLimit(limit *uint32) (int, error) {
	if limit == nil {
		return DefaultQueryLimit, nil
	}
	if *limit == 0 || *limit > MaxQueryLimit {
		return 0, errorsmod.Wrapf(state.ErrValidation, "limit must be in [1, %d]", MaxQueryLimit)
	}
	return int(*limit), nil
}
