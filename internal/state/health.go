package state

import (
	sdkmath "cosmossdk.io/math"

	fpmath "PowerPerp/internal/math"
)

var (
	collateralMultiplier = sdkmath.NewInt(2)
	debtMultiplier       = sdkmath.NewInt(3) // required ratio 1.5
)

// HealthStatus is the solvency report for one vault
type HealthStatus struct {
	IsSolvent          bool              `json:"is_solvent"`
	AboveMinCollateral bool              `json:"above_min_collateral"`
	CollateralRatio    sdkmath.LegacyDec `json:"collateral_ratio"`
}

// IsSafe reports solvency and minimum collateral compliance together
func (h HealthStatus) IsSafe() bool {
	return h.IsSolvent && h.AboveMinCollateral
}

// Prices are the inputs a health check needs besides the vault
type Prices struct {
	NormFactor sdkmath.LegacyDec
	QuotePrice sdkmath.LegacyDec  // quote TWAP / index scale
	StakePrice *sdkmath.LegacyDec // base per staked unit, nil if unavailable
}

// DebtValue returns (shortAmount / 10^powerDecimals) × normFactor × quotePrice in base units
func DebtValue(cfg *Config, shortAmount sdkmath.Int, p Prices) sdkmath.LegacyDec {
	return fpmath.FromRaw(shortAmount, cfg.PowerDecimals).
		MulTruncate(p.NormFactor).
		MulTruncate(p.QuotePrice)
}

// CollateralValue returns the base-asset value of a vault's collateral.
// Staked collateral without a price is worth zero.
func CollateralValue(cfg *Config, v *Vault, p Prices) sdkmath.LegacyDec {
	if v.Type.Kind == VaultKindStaked {
		if p.StakePrice == nil {
			return sdkmath.LegacyZeroDec()
		}
		return fpmath.FromRaw(v.Collateral, cfg.CollateralDecimals(v.Type)).MulTruncate(*p.StakePrice)
	}
	return fpmath.FromRaw(v.Collateral, cfg.BaseDecimals)
}

// CheckHealth computes solvency, minimum collateral compliance and collateral ratio.
// A nil vault reports (true, false, 0).
func CheckHealth(cfg *Config, v *Vault, p Prices) HealthStatus {
	if v == nil {
		return HealthStatus{IsSolvent: true, CollateralRatio: sdkmath.LegacyZeroDec()}
	}

	debtValue := DebtValue(cfg, v.ShortExposure, p)
	collateralValue := CollateralValue(cfg, v, p)

	adjustedCollateral := fpmath.ToRaw(collateralValue, cfg.BaseDecimals).Mul(collateralMultiplier)
	adjustedDebt := fpmath.ToRaw(debtValue, cfg.BaseDecimals).Mul(debtMultiplier)

	status := HealthStatus{
		IsSolvent:          adjustedCollateral.GTE(adjustedDebt),
		AboveMinCollateral: v.Collateral.GTE(cfg.MinCollateral),
		CollateralRatio:    sdkmath.LegacyZeroDec(),
	}
	if debtValue.IsPositive() && status.AboveMinCollateral {
		status.CollateralRatio = collateralValue.QuoTruncate(debtValue)
	}
	return status
}
