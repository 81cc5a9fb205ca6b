package event

import (
	sdkmath "cosmossdk.io/math"
)

// FundingApplied is emitted when the normalization factor moves
type FundingApplied struct {
	OldFactor sdkmath.LegacyDec `json:"old_factor"`
	NewFactor sdkmath.LegacyDec `json:"new_factor"`
	Index     sdkmath.LegacyDec `json:"index"`
	Mark      sdkmath.LegacyDec `json:"mark"`
	Elapsed   int64             `json:"elapsed"`
	Timestamp int64             `json:"timestamp"`
}

func (f *FundingApplied) EventType() EventType { return EventTypeFundingApplied }
func (f *FundingApplied) VaultID() *uint64     { return nil }
