package event

import (
	"encoding/json"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMinted
	EventTypeBurned
	EventTypeDeposited
	EventTypeWithdrawn
	EventTypeLiquidated
	EventTypeFundingApplied
	EventTypeVaultsRemoved
	EventTypeShortOpened
	EventTypeShortClosed
	EventTypeConfigUpdated
	EventTypePauseChanged
	EventTypeOpened
	EventTypeOwnershipProposed
	EventTypeOwnershipRejected
	EventTypeOwnershipClaimed
	EventTypePriceObserved
	EventTypeBankMoved
	EventTypeLiquidityProvided
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64 `json:"sequence"`

	// Request id of the command that produced the event
	IdempotencyKey string `json:"idempotency_key"`

	// Event type discriminator
	EventType EventType `json:"event_type"`

	// Vault context (nil for global events)
	VaultID *uint64 `json:"vault_id,omitempty"`

	// Block time of the command (NOT wall-clock)
	Timestamp time.Time `json:"timestamp"`

	// JSON-encoded event-specific data
	Payload json.RawMessage `json:"payload"`

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte `json:"state_hash"`

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte `json:"prev_hash"`
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// VaultID returns the vault context (nil for global events)
	VaultID() *uint64
}

var eventTypeNames = map[EventType]string{
	EventTypeMinted:            "Minted",
	EventTypeBurned:            "Burned",
	EventTypeDeposited:         "Deposited",
	EventTypeWithdrawn:         "Withdrawn",
	EventTypeLiquidated:        "Liquidated",
	EventTypeFundingApplied:    "FundingApplied",
	EventTypeVaultsRemoved:     "VaultsRemoved",
	EventTypeShortOpened:       "ShortOpened",
	EventTypeShortClosed:       "ShortClosed",
	EventTypeConfigUpdated:     "ConfigUpdated",
	EventTypePauseChanged:      "PauseChanged",
	EventTypeOpened:            "Opened",
	EventTypeOwnershipProposed: "OwnershipProposed",
	EventTypeOwnershipRejected: "OwnershipRejected",
	EventTypeOwnershipClaimed:  "OwnershipClaimed",
	EventTypePriceObserved:     "PriceObserved",
	EventTypeBankMoved:         "BankMoved",
	EventTypeLiquidityProvided: "LiquidityProvided",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String
func ParseEventType(name string) EventType {
	for et, n := range eventTypeNames {
		if n == name {
			return et
		}
	}
	return EventTypeUnknown
}

// Encode builds the payload of an envelope
func Encode(evt Event) (json.RawMessage, error) {
	return json.Marshal(evt)
}

func vaultRef(id uint64) *uint64 {
	return &id
}
