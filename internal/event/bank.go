package event

import (
	sdkmath "cosmossdk.io/math"
)

// BankMoved is emitted when tokens cross the ledger boundary
type BankMoved struct {
	Action string      `json:"action"` // credit | debit
	Holder string      `json:"holder"`
	Denom  string      `json:"denom"`
	Amount sdkmath.Int `json:"amount"`
}

func (b *BankMoved) EventType() EventType { return EventTypeBankMoved }
func (b *BankMoved) VaultID() *uint64     { return nil }

// LiquidityProvided is emitted when a provider funds a venue pool
type LiquidityProvided struct {
	Pool     string      `json:"pool"`
	Provider string      `json:"provider"`
	AmountA  sdkmath.Int `json:"amount_a"`
	AmountB  sdkmath.Int `json:"amount_b"`
}

func (l *LiquidityProvided) EventType() EventType { return EventTypeLiquidityProvided }
func (l *LiquidityProvided) VaultID() *uint64     { return nil }
