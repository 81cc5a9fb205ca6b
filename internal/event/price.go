package event

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// PriceObserved is a pool price observation feeding the TWAP oracle
type PriceObserved struct {
	Pool          string            `json:"pool"`
	Base          string            `json:"base"`
	Quote         string            `json:"quote"`
	Price         sdkmath.LegacyDec `json:"price"`
	PriceSequence int64             `json:"sequence"`  // Monotonic per pool
	Timestamp     int64             `json:"timestamp"` // unix seconds
}

func (p *PriceObserved) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Pool, p.PriceSequence)
}

func (p *PriceObserved) EventType() EventType { return EventTypePriceObserved }
func (p *PriceObserved) VaultID() *uint64     { return nil }
