package event

import (
	sdkmath "cosmossdk.io/math"
)

// Liquidated is emitted when an unsafe vault is liquidated
type Liquidated struct {
	Vault          uint64      `json:"vault_id"`
	Liquidator     string      `json:"liquidator"`
	Amount         sdkmath.Int `json:"amount_liquidated"`
	CollateralPaid sdkmath.Int `json:"collateral_paid"`
	Full           bool        `json:"full"`
	Refunded       sdkmath.Int `json:"refunded"`
}

func (l *Liquidated) EventType() EventType { return EventTypeLiquidated }
func (l *Liquidated) VaultID() *uint64     { return vaultRef(l.Vault) }
