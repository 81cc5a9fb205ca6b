package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// BalanceTracker maintains committed account balances
type BalanceTracker struct {
	balances map[AccountKey]sdkmath.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]sdkmath.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] = bt.GetBalance(j.DebitAccount).Add(j.Amount)
	bt.balances[j.CreditAccount] = bt.GetBalance(j.CreditAccount).Sub(j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) sdkmath.Int {
	if b, ok := bt.balances[key]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

// TotalSupply is the negated issuance balance
func (bt *BalanceTracker) TotalSupply(denom string) sdkmath.Int {
	return bt.GetBalance(IssuanceAccount(denom)).Neg()
}

// ComputeGlobalBalance sums all account balances per denom (zero for a balanced ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]sdkmath.Int {
	totals := make(map[string]sdkmath.Int)

	for key, balance := range bt.balances {
		if cur, ok := totals[key.Denom]; ok {
			totals[key.Denom] = cur.Add(balance)
		} else {
			totals[key.Denom] = balance
		}
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.IsNegative() {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]sdkmath.Int {
	snapshot := make(map[AccountKey]sdkmath.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances
func (bt *BalanceTracker) Restore(balances map[AccountKey]sdkmath.Int) {
	bt.balances = make(map[AccountKey]sdkmath.Int, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
