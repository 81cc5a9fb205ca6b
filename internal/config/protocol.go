package config

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/state"
)

type StakedAssetConfig struct {
	Denom    string `mapstructure:"denom"`
	Pool     string `mapstructure:"pool"`
	Decimals uint32 `mapstructure:"decimals"`
}

// ProtocolConfig holds the protocol parameters in their textual form.
// Decimal values are strings to keep full precision.
type ProtocolConfig struct {
	BaseAsset     string              `mapstructure:"base-asset"`
	QuoteAsset    string              `mapstructure:"quote-asset"`
	PowerAsset    string              `mapstructure:"power-asset"`
	BaseDecimals  uint32              `mapstructure:"base-decimals"`
	PowerDecimals uint32              `mapstructure:"power-decimals"`
	BasePool      string              `mapstructure:"base-pool"`
	PowerPool     string              `mapstructure:"power-pool"`
	StakedAssets  []StakedAssetConfig `mapstructure:"staked-assets"`
	FeeRate       string              `mapstructure:"fee-rate"`
	FeePool       string              `mapstructure:"fee-pool"`
	MinCollateral string              `mapstructure:"min-collateral"`
	// FundingPeriod in seconds; 0 selects the default
	FundingPeriod int64 `mapstructure:"funding-period"`
	// IndexScale; empty selects the default
	IndexScale string `mapstructure:"index-scale"`
}

func (cfg *ProtocolConfig) Validate() error {
	_, err := cfg.ToState()
	return err
}

// ToState parses the parameters into a validated state.Config
func (cfg *ProtocolConfig) ToState() (state.Config, error) {
	out := state.DefaultConfig()
	out.BaseAsset = cfg.BaseAsset
	out.QuoteAsset = cfg.QuoteAsset
	out.PowerAsset = cfg.PowerAsset
	out.BaseDecimals = cfg.BaseDecimals
	out.PowerDecimals = cfg.PowerDecimals
	out.BasePool = cfg.BasePool
	out.PowerPool = cfg.PowerPool
	out.FeePool = cfg.FeePool

	for _, sa := range cfg.StakedAssets {
		out.StakedAssets = append(out.StakedAssets, state.StakedAsset{
			Denom:    sa.Denom,
			Pool:     sa.Pool,
			Decimals: sa.Decimals,
		})
	}

	if cfg.FeeRate != "" {
		rate, err := sdkmath.LegacyNewDecFromStr(cfg.FeeRate)
		if err != nil {
			return state.Config{}, fmt.Errorf("fee-rate: %w", err)
		}
		out.FeeRate = rate
	}
	if cfg.MinCollateral != "" {
		amt, ok := sdkmath.NewIntFromString(cfg.MinCollateral)
		if !ok {
			return state.Config{}, fmt.Errorf("min-collateral: invalid integer %q", cfg.MinCollateral)
		}
		out.MinCollateral = amt
	}
	if cfg.FundingPeriod != 0 {
		out.FundingPeriod = cfg.FundingPeriod
	}
	if cfg.IndexScale != "" {
		scale, err := sdkmath.LegacyNewDecFromStr(cfg.IndexScale)
		if err != nil {
			return state.Config{}, fmt.Errorf("index-scale: %w", err)
		}
		out.IndexScale = scale
	}

	if err := out.Validate(); err != nil {
		return state.Config{}, err
	}
	return out, nil
}
