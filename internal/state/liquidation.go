package state

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	fpmath "PowerPerp/internal/math"
)

var (
	liquidationBounty = sdkmath.LegacyNewDecWithPrec(110, 2) // 1.10
	dustValue         = sdkmath.LegacyNewDecWithPrec(5, 1)   // half a base unit
)

// LiquidationResult is the outcome of a liquidation computation
type LiquidationResult struct {
	VaultID        uint64      `json:"vault_id"`
	Amount         sdkmath.Int `json:"amount_liquidated"` // power asset burnt
	CollateralPaid sdkmath.Int `json:"collateral_paid"`   // collateral to liquidator
	Full           bool        `json:"full"`
}

// collateralPrice returns the base value of one unit of the vault's collateral
func collateralPrice(v *Vault, p Prices) (sdkmath.LegacyDec, error) {
	if v.Type.Kind != VaultKindStaked {
		return sdkmath.LegacyOneDec(), nil
	}
	if p.StakePrice == nil || !p.StakePrice.IsPositive() {
		return sdkmath.LegacyDec{}, errorsmod.Wrapf(ErrExternalCall, "no price for staked collateral %s", v.Type.Denom)
	}
	return *p.StakePrice, nil
}

// CollateralForDebt converts a base-asset value into raw units of the vault's collateral, truncating.
func CollateralForDebt(cfg *Config, v *Vault, value sdkmath.LegacyDec, p Prices) (sdkmath.Int, error) {
	price, err := collateralPrice(v, p)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return fpmath.ToRaw(value.QuoTruncate(price), cfg.CollateralDecimals(v.Type)), nil
}

// ComputeLiquidation sizes a liquidation of v bounded by maxDebt.
// The caller checks that the vault is unsafe.
func ComputeLiquidation(cfg *Config, v *Vault, p Prices, maxDebt sdkmath.Int) (LiquidationResult, error) {
	if !maxDebt.IsPositive() {
		return LiquidationResult{}, errorsmod.Wrap(ErrValidation, "max debt to repay must be positive")
	}
	if !v.ShortExposure.IsPositive() {
		return LiquidationResult{}, errorsmod.Wrapf(ErrState, "vault %d has no short exposure", v.ID)
	}

	paidFor := func(amount sdkmath.Int) (sdkmath.Int, error) {
		value := DebtValue(cfg, amount, p).MulTruncate(liquidationBounty)
		return CollateralForDebt(cfg, v, value, p)
	}

	dust, err := CollateralForDebt(cfg, v, dustValue, p)
	if err != nil {
		return LiquidationResult{}, err
	}

	res := LiquidationResult{VaultID: v.ID}

	res.Amount = sdkmath.MinInt(v.ShortExposure.QuoRaw(2), maxDebt)
	if res.CollateralPaid, err = paidFor(res.Amount); err != nil {
		return LiquidationResult{}, err
	}

	// leaving less than half a base unit behind is dust: go for everything
	if res.Amount.IsZero() || v.Collateral.Sub(res.CollateralPaid).LT(dust) {
		res.Amount = sdkmath.MinInt(v.ShortExposure, maxDebt)
		res.Full = true
		if res.CollateralPaid, err = paidFor(res.Amount); err != nil {
			return LiquidationResult{}, err
		}
	}

	// underwater: pay out what is left and clear all the debt
	if res.CollateralPaid.GT(v.Collateral) {
		if maxDebt.LT(v.ShortExposure) {
			return LiquidationResult{}, errorsmod.Wrapf(ErrInsufficientFunds,
				"vault %d is underwater: repaying %s needs max debt of at least %s", v.ID, maxDebt, v.ShortExposure)
		}
		res.CollateralPaid = v.Collateral
		res.Amount = v.ShortExposure
		res.Full = true
	}

	return res, nil
}
