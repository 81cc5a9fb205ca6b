package ledger

import (
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder   AccountScope = iota // wallet balances
	AccountScopeIssuance                     // mint/burn counterpart, -balance == total supply
	AccountScopeExternal                     // bridge boundary for deposits and withdrawals
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope  AccountScope
	Holder string
	Denom  string
}

// HolderAccount is the wallet of an address for one denom
func HolderAccount(holder, denom string) AccountKey {
	return AccountKey{Scope: AccountScopeHolder, Holder: holder, Denom: denom}
}

// IssuanceAccount is the counterpart of every mint and burn of denom
func IssuanceAccount(denom string) AccountKey {
	return AccountKey{Scope: AccountScopeIssuance, Denom: denom}
}

// ExternalAccount is the counterpart of funds bridged in or out
func ExternalAccount(denom string) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, Denom: denom}
}

// IsHolder reports whether the account must stay non-negative
func (k AccountKey) IsHolder() bool {
	return k.Scope == AccountScopeHolder
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", k.Holder, k.Denom)
	case AccountScopeIssuance:
		return fmt.Sprintf("issuance:%s", k.Denom)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.Denom)
	}
	return "unknown"
}
