package core

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/event"
	"PowerPerp/internal/state"
)

// liquidate repays part or all of an unsafe vault's debt with the attached
// power tokens and pays the liquidator collateral plus bounty.
func (e *Engine) liquidate(m MsgLiquidate) (state.LiquidationResult, error) {
	cfg := &e.store.Config
	if err := e.requireActive(); err != nil {
		return state.LiquidationResult{}, err
	}
	if err := e.acceptFunds(cfg.PowerAsset); err != nil {
		return state.LiquidationResult{}, err
	}
	if !positive(m.MaxDebtAmount) {
		return state.LiquidationResult{}, errorsmod.Wrap(state.ErrValidation, "max debt amount must be positive")
	}
	attached := e.fundsOf(cfg.PowerAsset)
	if attached.LT(m.MaxDebtAmount) {
		return state.LiquidationResult{}, errorsmod.Wrapf(state.ErrInsufficientFunds,
			"attached %s%s does not cover max debt %s", attached, cfg.PowerAsset, m.MaxDebtAmount)
	}

	if _, err := e.applyFunding(); err != nil {
		return state.LiquidationResult{}, err
	}

	vault, err := e.store.Vaults.MustGet(m.VaultID)
	if err != nil {
		return state.LiquidationResult{}, err
	}
	prices, err := e.vaultPrices(vault.Type)
	if err != nil {
		return state.LiquidationResult{}, err
	}
	res, err := computeLiquidation(cfg, &vault, prices, m.MaxDebtAmount)
	if err != nil {
		return state.LiquidationResult{}, err
	}

	if err := vault.SubShort(res.Amount); err != nil {
		return state.LiquidationResult{}, errorsmod.Wrap(state.ErrState, err.Error())
	}
	if err := vault.SubCollateral(res.CollateralPaid); err != nil {
		return state.LiquidationResult{}, errorsmod.Wrap(state.ErrState, err.Error())
	}
	if err := e.store.Vaults.Put(vault); err != nil {
		return state.LiquidationResult{}, err
	}

	tx := e.op.tx
	liquidator := e.sender()
	collateralDenom := cfg.CollateralDenom(vault.Type)
	if err := tx.Burn(e.address, cfg.PowerAsset, res.Amount); err != nil {
		return state.LiquidationResult{}, ledgerErr(err)
	}
	if err := tx.Transfer(e.address, liquidator, collateralDenom, res.CollateralPaid); err != nil {
		return state.LiquidationResult{}, ledgerErr(err)
	}
	refund := attached.Sub(res.Amount)
	if err := tx.Transfer(e.address, liquidator, cfg.PowerAsset, refund); err != nil {
		return state.LiquidationResult{}, ledgerErr(err)
	}

	e.record(&event.Liquidated{
		Vault:          vault.ID,
		Liquidator:     liquidator,
		Amount:         res.Amount,
		CollateralPaid: res.CollateralPaid,
		Full:           res.Full,
		Refunded:       refund,
	})
	e.logger.Info().
		Uint64("vault_id", vault.ID).
		Str("liquidator", liquidator).
		Str("amount", res.Amount.String()).
		Str("collateral_paid", res.CollateralPaid.String()).
		Bool("full", res.Full).
		Msg("vault liquidated")
	if e.metrics != nil {
		kind := "partial"
		if res.Full {
			kind = "full"
		}
		e.metrics.Liquidations.WithLabelValues(kind).Inc()
		e.metrics.LiquidationCollateral.WithLabelValues(collateralDenom).Add(sdkmath.LegacyNewDecFromInt(res.CollateralPaid).MustFloat64())
	}
	return res, nil
}

// computeLiquidation rejects solvent vaults and sizes the liquidation
func computeLiquidation(cfg *state.Config, v *state.Vault, p state.Prices, maxDebt sdkmath.Int) (state.LiquidationResult, error) {
	if state.CheckHealth(cfg, v, p).IsSolvent {
		return state.LiquidationResult{}, errorsmod.Wrapf(state.ErrState, "vault %d is safe", v.ID)
	}
	return state.ComputeLiquidation(cfg, v, p, maxDebt)
}
