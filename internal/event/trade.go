package event

import (
	sdkmath "cosmossdk.io/math"
)

// Minted is emitted when power tokens are minted against a vault
type Minted struct {
	Vault      uint64      `json:"vault_id"`
	Operator   string      `json:"operator"`
	Amount     sdkmath.Int `json:"amount"`
	Deposited  sdkmath.Int `json:"deposited"`
	Fee        sdkmath.Int `json:"fee"`
	Created    bool        `json:"created"`
	Collateral sdkmath.Int `json:"collateral"`
	Exposure   sdkmath.Int `json:"short_exposure"`
}

func (m *Minted) EventType() EventType { return EventTypeMinted }
func (m *Minted) VaultID() *uint64     { return vaultRef(m.Vault) }

// Burned is emitted when power tokens are burned to reduce a vault's debt
type Burned struct {
	Vault      uint64      `json:"vault_id"`
	Operator   string      `json:"operator"`
	Amount     sdkmath.Int `json:"amount"`
	Withdrawn  sdkmath.Int `json:"withdrawn"`
	Collateral sdkmath.Int `json:"collateral"`
	Exposure   sdkmath.Int `json:"short_exposure"`
}

func (b *Burned) EventType() EventType { return EventTypeBurned }
func (b *Burned) VaultID() *uint64     { return vaultRef(b.Vault) }

// ShortOpened is emitted when an open-short continuation settles
type ShortOpened struct {
	Vault     uint64      `json:"vault_id"`
	Operator  string      `json:"operator"`
	Minted    sdkmath.Int `json:"minted"`
	Proceeds  sdkmath.Int `json:"proceeds"`
	Deposited sdkmath.Int `json:"deposited"`
}

func (s *ShortOpened) EventType() EventType { return EventTypeShortOpened }
func (s *ShortOpened) VaultID() *uint64     { return vaultRef(s.Vault) }

// ShortClosed is emitted when a close-short continuation settles
type ShortClosed struct {
	Vault     uint64      `json:"vault_id"`
	Operator  string      `json:"operator"`
	Burned    sdkmath.Int `json:"burned"`
	BaseSpent sdkmath.Int `json:"base_spent"`
	Refunded  sdkmath.Int `json:"refunded"`
	Withdrawn sdkmath.Int `json:"withdrawn"`
}

func (s *ShortClosed) EventType() EventType { return EventTypeShortClosed }
func (s *ShortClosed) VaultID() *uint64     { return vaultRef(s.Vault) }
