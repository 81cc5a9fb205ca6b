package state

import (
	"encoding/binary"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// VaultKind distinguishes vaults collateralized by the base asset from staked ones
type VaultKind uint8

const (
	VaultKindDefault VaultKind = iota
	VaultKindStaked
)

func (k VaultKind) String() string {
	switch k {
	case VaultKindDefault:
		return "Default"
	case VaultKindStaked:
		return "Staked"
	default:
		return "Unknown"
	}
}

// VaultType is fixed at vault creation
type VaultType struct {
	Kind  VaultKind `json:"kind"`
	Denom string    `json:"denom,omitempty"` // staked collateral denom
}

func DefaultVaultType() VaultType {
	return VaultType{Kind: VaultKindDefault}
}

func StakedVaultType(denom string) VaultType {
	return VaultType{Kind: VaultKindStaked, Denom: denom}
}

func (vt VaultType) Equal(other VaultType) bool {
	return vt.Kind == other.Kind && vt.Denom == other.Denom
}

func (vt VaultType) String() string {
	if vt.Kind == VaultKindStaked {
		return fmt.Sprintf("Staked{%s}", vt.Denom)
	}
	return vt.Kind.String()
}

// Vault is an operator's collateral and short exposure of the power asset
type Vault struct {
	ID            uint64      `json:"id"`
	Operator      string      `json:"operator"`
	Collateral    sdkmath.Int `json:"collateral"`     // raw units of the collateral denom
	ShortExposure sdkmath.Int `json:"short_exposure"` // raw units of the power asset
	Type          VaultType   `json:"vault_type"`
}

// NewVault returns an empty vault
func NewVault(id uint64, operator string, vt VaultType) Vault {
	return Vault{
		ID:            id,
		Operator:      operator,
		Collateral:    sdkmath.ZeroInt(),
		ShortExposure: sdkmath.ZeroInt(),
		Type:          vt,
	}
}

// IsEmpty reports whether both amounts are exactly zero
func (v *Vault) IsEmpty() bool {
	return v.Collateral.IsZero() && v.ShortExposure.IsZero()
}

// AddCollateral credits collateral
func (v *Vault) AddCollateral(amount sdkmath.Int) {
	v.Collateral = v.Collateral.Add(amount)
}

// SubCollateral debits collateral, failing if it exceeds holdings
func (v *Vault) SubCollateral(amount sdkmath.Int) error {
	if amount.GT(v.Collateral) {
		return fmt.Errorf("withdraw %s exceeds collateral %s", amount, v.Collateral)
	}
	v.Collateral = v.Collateral.Sub(amount)
	return nil
}

// AddShort credits short exposure
func (v *Vault) AddShort(amount sdkmath.Int) {
	v.ShortExposure = v.ShortExposure.Add(amount)
}

// SubShort debits short exposure, failing if it exceeds holdings
func (v *Vault) SubShort(amount sdkmath.Int) error {
	if amount.GT(v.ShortExposure) {
		return fmt.Errorf("burn %s exceeds short exposure %s", amount, v.ShortExposure)
	}
	v.ShortExposure = v.ShortExposure.Sub(amount)
	return nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (v *Vault) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	buf = binary.LittleEndian.AppendUint64(buf, v.ID)
	buf = appendString(buf, v.Operator)
	buf = appendString(buf, v.Collateral.String())
	buf = appendString(buf, v.ShortExposure.String())
	buf = append(buf, byte(v.Type.Kind))
	buf = appendString(buf, v.Type.Denom)

	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}
