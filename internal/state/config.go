package state

import (
	"regexp"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	fpmath "PowerPerp/internal/math"
)

// DefaultIndexScale divides the squared quote price down to a tradable power price.
const DefaultIndexScale int64 = 10_000

var denomRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9/:._-]{2,127}$`)

// ValidateDenom checks an asset identifier
func ValidateDenom(denom string) error {
	if !denomRegex.MatchString(denom) {
		return errorsmod.Wrapf(ErrValidation, "invalid denom: %q", denom)
	}
	return nil
}

// ValidateDecimals checks a token precision is within 1..18
func ValidateDecimals(decimals uint32) error {
	if decimals == 0 || decimals > fpmath.MaxDecimals {
		return errorsmod.Wrapf(ErrValidation, "invalid decimals: %d", decimals)
	}
	return nil
}

// StakedAsset is an alternative collateral asset priced through its own pool
type StakedAsset struct {
	Denom    string `json:"denom"`
	Pool     string `json:"pool"`
	Decimals uint32 `json:"decimals"`
}

// Config holds protocol parameters. Only FeeRate and FeePool change after startup.
type Config struct {
	BaseAsset     string            `json:"base_asset"`
	BaseDecimals  uint32            `json:"base_decimals"`
	QuoteAsset    string            `json:"quote_asset"`
	PowerAsset    string            `json:"power_asset"`
	PowerDecimals uint32            `json:"power_decimals"`
	BasePool      string            `json:"base_pool"`
	PowerPool     string            `json:"power_pool"`
	StakedAssets  []StakedAsset     `json:"staked_assets"`
	FeeRate       sdkmath.LegacyDec `json:"fee_rate"`
	FeePool       string            `json:"fee_pool"`
	MinCollateral sdkmath.Int       `json:"min_collateral"`
	FundingPeriod int64             `json:"funding_period"`
	IndexScale    sdkmath.LegacyDec `json:"index_scale"`
}

// DefaultConfig returns a config with default funding period and index scale.
// Asset and pool identifiers still have to be filled in.
func DefaultConfig() Config {
	return Config{
		BaseDecimals:  6,
		PowerDecimals: 6,
		FeeRate:       sdkmath.LegacyZeroDec(),
		MinCollateral: sdkmath.ZeroInt(),
		FundingPeriod: fpmath.DefaultFundingPeriod,
		IndexScale:    sdkmath.LegacyNewDec(DefaultIndexScale),
	}
}

// Validate enforces protocol parameter invariants
func (c *Config) Validate() error {
	for _, d := range []string{c.BaseAsset, c.QuoteAsset, c.PowerAsset} {
		if err := ValidateDenom(d); err != nil {
			return err
		}
	}
	if err := ValidateDecimals(c.BaseDecimals); err != nil {
		return errorsmod.Wrap(err, "base asset")
	}
	if err := ValidateDecimals(c.PowerDecimals); err != nil {
		return errorsmod.Wrap(err, "power asset")
	}
	if c.PowerAsset == c.BaseAsset {
		return errorsmod.Wrap(ErrValidation, "power asset must differ from base asset")
	}
	if c.BasePool == "" || c.PowerPool == "" {
		return errorsmod.Wrap(ErrValidation, "pool ids must be set")
	}
	if c.BasePool == c.PowerPool {
		return errorsmod.Wrap(ErrValidation, "base pool must differ from power pool")
	}
	if err := c.validateFee(); err != nil {
		return err
	}
	if c.MinCollateral.IsNil() || c.MinCollateral.IsNegative() {
		return errorsmod.Wrap(ErrValidation, "min collateral must be non-negative")
	}
	if c.FundingPeriod <= 0 || c.FundingPeriod > fpmath.MaxFundingPeriod {
		return errorsmod.Wrapf(ErrValidation, "invalid funding period: %d", c.FundingPeriod)
	}
	if c.IndexScale.IsNil() || !c.IndexScale.IsPositive() {
		return errorsmod.Wrap(ErrValidation, "index scale must be positive")
	}

	seen := make(map[string]struct{}, len(c.StakedAssets))
	for _, sa := range c.StakedAssets {
		if err := ValidateDenom(sa.Denom); err != nil {
			return err
		}
		if err := ValidateDecimals(sa.Decimals); err != nil {
			return errorsmod.Wrapf(err, "staked asset %s", sa.Denom)
		}
		if sa.Denom == c.BaseAsset || sa.Denom == c.PowerAsset {
			return errorsmod.Wrapf(ErrValidation, "staked asset %s collides with base or power asset", sa.Denom)
		}
		if sa.Pool == "" {
			return errorsmod.Wrapf(ErrValidation, "staked asset %s has no pool", sa.Denom)
		}
		if _, dup := seen[sa.Denom]; dup {
			return errorsmod.Wrapf(ErrValidation, "duplicate staked asset %s", sa.Denom)
		}
		seen[sa.Denom] = struct{}{}
	}
	return nil
}

func (c *Config) validateFee() error {
	if c.FeeRate.IsNil() || c.FeeRate.IsNegative() || c.FeeRate.GTE(sdkmath.LegacyOneDec()) {
		return errorsmod.Wrapf(ErrValidation, "fee rate must be in [0, 1): %s", c.FeeRate)
	}
	if c.FeeRate.IsPositive() && c.FeePool == "" {
		return errorsmod.Wrap(ErrValidation, "fee pool required when fee rate is set")
	}
	return nil
}

// StakedAsset looks up a staked collateral asset by denom
func (c *Config) StakedAsset(denom string) (StakedAsset, bool) {
	for _, sa := range c.StakedAssets {
		if sa.Denom == denom {
			return sa, true
		}
	}
	return StakedAsset{}, false
}

// VaultTypeFor returns the vault type implied by a collateral denom
func (c *Config) VaultTypeFor(denom string) (VaultType, error) {
	if denom == c.BaseAsset {
		return DefaultVaultType(), nil
	}
	if _, ok := c.StakedAsset(denom); ok {
		return StakedVaultType(denom), nil
	}
	return VaultType{}, errorsmod.Wrapf(ErrValidation, "invalid denom: %s is not accepted as collateral", denom)
}

// CollateralDenom returns the denom a vault of the given type holds
func (c *Config) CollateralDenom(vt VaultType) string {
	if vt.Kind == VaultKindStaked {
		return vt.Denom
	}
	return c.BaseAsset
}

// CollateralDecimals returns the precision of a vault type's collateral
func (c *Config) CollateralDecimals(vt VaultType) uint32 {
	if vt.Kind == VaultKindStaked {
		if sa, ok := c.StakedAsset(vt.Denom); ok {
			return sa.Decimals
		}
	}
	return c.BaseDecimals
}

// Clone returns a deep copy
func (c Config) Clone() Config {
	out := c
	out.StakedAssets = append([]StakedAsset(nil), c.StakedAssets...)
	return out
}

// ConfigUpdate carries the mutable subset of Config
type ConfigUpdate struct {
	FeeRate *sdkmath.LegacyDec `json:"fee_rate,omitempty"`
	FeePool *string            `json:"fee_pool,omitempty"`
}

// Apply returns a copy of c with the update applied and validated
func (u ConfigUpdate) Apply(c Config) (Config, error) {
	out := c.Clone()
	if u.FeeRate != nil {
		out.FeeRate = *u.FeeRate
	}
	if u.FeePool != nil {
		out.FeePool = *u.FeePool
	}
	if err := out.validateFee(); err != nil {
		return c, err
	}
	return out, nil
}
