package event

import (
	sdkmath "cosmossdk.io/math"
)

// ConfigUpdated is emitted when the admin changes fee parameters
type ConfigUpdated struct {
	FeeRate sdkmath.LegacyDec `json:"fee_rate"`
	FeePool string            `json:"fee_pool"`
}

func (c *ConfigUpdated) EventType() EventType { return EventTypeConfigUpdated }
func (c *ConfigUpdated) VaultID() *uint64     { return nil }

// PauseChanged is emitted on pause and unpause
type PauseChanged struct {
	Paused bool   `json:"paused"`
	Sender string `json:"sender"`
}

func (p *PauseChanged) EventType() EventType { return EventTypePauseChanged }
func (p *PauseChanged) VaultID() *uint64     { return nil }

// Opened is emitted once when the protocol is activated
type Opened struct {
	Timestamp int64 `json:"timestamp"`
}

func (o *Opened) EventType() EventType { return EventTypeOpened }
func (o *Opened) VaultID() *uint64     { return nil }

// OwnershipProposed is emitted when a new admin is proposed
type OwnershipProposed struct {
	Candidate string `json:"candidate"`
	ExpiresAt int64  `json:"expires_at"`
}

func (o *OwnershipProposed) EventType() EventType { return EventTypeOwnershipProposed }
func (o *OwnershipProposed) VaultID() *uint64     { return nil }

// OwnershipRejected is emitted when a pending proposal is dropped
type OwnershipRejected struct {
	Candidate string `json:"candidate"`
}

func (o *OwnershipRejected) EventType() EventType { return EventTypeOwnershipRejected }
func (o *OwnershipRejected) VaultID() *uint64     { return nil }

// OwnershipClaimed is emitted when the candidate takes over
type OwnershipClaimed struct {
	Previous string `json:"previous"`
	Owner    string `json:"owner"`
}

func (o *OwnershipClaimed) EventType() EventType { return EventTypeOwnershipClaimed }
func (o *OwnershipClaimed) VaultID() *uint64     { return nil }
