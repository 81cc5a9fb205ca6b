package core

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/ledger"
	"PowerPerp/internal/state"
)

// SnapshotState is the full engine state needed to resume after a restart.
// Oracle observations are not included; the price feed refills them.
type SnapshotState struct {
	Sequence        int64             `json:"sequence"` // next sequence to assign
	StateHash       [32]byte          `json:"state_hash"`
	Store           *state.Snapshot   `json:"store"`
	Balances        []BalanceEntry    `json:"balances"`
	MintAuthorities map[string]string `json:"mint_authorities"`
	IdempotencyKeys []string          `json:"idempotency_keys"` // LRU order, oldest first
}

// BalanceEntry is one ledger account in a snapshot
type BalanceEntry struct {
	Scope   ledger.AccountScope `json:"scope"`
	Holder  string              `json:"holder,omitempty"`
	Denom   string              `json:"denom"`
	Balance sdkmath.Int         `json:"balance"`
}

// CreateSnapshotState captures the engine between operations
func (e *Engine) CreateSnapshotState() (*SnapshotState, error) {
	if e.op != nil {
		return nil, errorsmod.Wrap(state.ErrState, "cannot snapshot during an operation")
	}
	storeSnap, err := e.store.Snapshot()
	if err != nil {
		return nil, err
	}

	balances := e.ledger.Tracker().Snapshot()
	keys := make([]ledger.AccountKey, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sortAccounts(keys)

	entries := make([]BalanceEntry, 0, len(keys))
	for _, k := range keys {
		if balances[k].IsZero() {
			continue
		}
		entries = append(entries, BalanceEntry{Scope: k.Scope, Holder: k.Holder, Denom: k.Denom, Balance: balances[k]})
	}

	return &SnapshotState{
		Sequence:        e.sequence,
		StateHash:       e.hasher.GetPrevHash(),
		Store:           storeSnap,
		Balances:        entries,
		MintAuthorities: e.ledger.MintAuthorities(),
		IdempotencyKeys: e.idempotency.lru.Keys(),
	}, nil
}

// RestoreFromSnapshot replaces the engine state with snap
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	if snap == nil || snap.Store == nil {
		return errorsmod.Wrap(state.ErrValidation, "empty snapshot")
	}
	if e.op != nil {
		return errorsmod.Wrap(state.ErrState, "cannot restore during an operation")
	}
	store, err := state.RestoreSnapshot(snap.Store)
	if err != nil {
		return err
	}

	balances := make(map[ledger.AccountKey]sdkmath.Int, len(snap.Balances))
	for _, b := range snap.Balances {
		balances[ledger.AccountKey{Scope: b.Scope, Holder: b.Holder, Denom: b.Denom}] = b.Balance
	}
	e.ledger.Tracker().Restore(balances)
	if err := e.ledger.Validator().ValidateGlobalBalance(); err != nil {
		return errorsmod.Wrapf(state.ErrValidation, "snapshot ledger: %v", err)
	}

	for denom, minter := range snap.MintAuthorities {
		e.ledger.SetMintAuthority(denom, minter)
	}

	e.store = store
	e.sequence = snap.Sequence
	e.hasher.SetPrevHash(snap.StateHash)
	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	e.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("vaults", store.Vaults.Len()).
		Int("accounts", len(snap.Balances)).
		Msg("engine restored from snapshot")
	return nil
}
