package event

import (
	sdkmath "cosmossdk.io/math"
)

// Deposited is emitted when collateral is added to a vault
type Deposited struct {
	Vault      uint64      `json:"vault_id"`
	Operator   string      `json:"operator"`
	Denom      string      `json:"denom"`
	Amount     sdkmath.Int `json:"amount"`
	Collateral sdkmath.Int `json:"collateral"`
}

func (d *Deposited) EventType() EventType { return EventTypeDeposited }
func (d *Deposited) VaultID() *uint64     { return vaultRef(d.Vault) }
