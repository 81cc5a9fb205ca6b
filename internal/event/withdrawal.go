package event

import (
	sdkmath "cosmossdk.io/math"
)

// Withdrawn is emitted when collateral leaves a vault
type Withdrawn struct {
	Vault      uint64      `json:"vault_id"`
	Operator   string      `json:"operator"`
	Denom      string      `json:"denom"`
	Amount     sdkmath.Int `json:"amount"`
	Collateral sdkmath.Int `json:"collateral"`
}

func (w *Withdrawn) EventType() EventType { return EventTypeWithdrawn }
func (w *Withdrawn) VaultID() *uint64     { return vaultRef(w.Vault) }

// VaultsRemoved is emitted by garbage collection
type VaultsRemoved struct {
	VaultIDs []uint64 `json:"vault_ids"`
}

func (v *VaultsRemoved) EventType() EventType { return EventTypeVaultsRemoved }
func (v *VaultsRemoved) VaultID() *uint64     { return nil }
