package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies every entry of the batch balances
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateHoldersNonNegative verifies no wallet is overdrawn
func (v *InvariantValidator) ValidateHoldersNonNegative() error {
	for key := range v.tracker.balances {
		if !key.IsHolder() {
			continue
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per denom
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	denoms := make([]string, 0, len(totals))
	for d := range totals {
		denoms = append(denoms, d)
	}
	sort.Strings(denoms)

	for _, denom := range denoms {
		if total := totals[denom]; !total.IsZero() {
			return fmt.Errorf("global balance for %s is non-zero: %s", denom, total)
		}
	}

	return nil
}
