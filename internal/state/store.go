package state

import (
	errorsmod "cosmossdk.io/errors"
)

// Store is the engine's context object: config, global state, vaults,
// the pending continuation slot and ownership.
// Begin/Commit/Rollback bracket one top-level operation.
type Store struct {
	Config   Config
	Global   GlobalState
	Vaults   *VaultStore
	Pending  *Continuation
	Owner    string
	Proposal *OwnershipProposal

	checkpoint *checkpoint
}

type checkpoint struct {
	config   Config
	global   GlobalState
	pending  *Continuation
	owner    string
	proposal *OwnershipProposal
}

// NewStore validates cfg and builds the initial state
func NewStore(cfg Config, owner string, now int64) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, errorsmod.Wrap(ErrValidation, "owner must be set")
	}
	return &Store{
		Config: cfg,
		Global: NewGlobalState(now),
		Vaults: NewVaultStore(),
		Owner:  owner,
	}, nil
}

// InTransaction reports whether Begin has been called without Commit/Rollback
func (s *Store) InTransaction() bool {
	return s.checkpoint != nil
}

// Begin captures the current state so Rollback can restore it
func (s *Store) Begin() error {
	if s.checkpoint != nil {
		return errorsmod.Wrap(ErrState, "transaction already open")
	}
	var proposal *OwnershipProposal
	if s.Proposal != nil {
		p := *s.Proposal
		proposal = &p
	}
	s.checkpoint = &checkpoint{
		config:   s.Config.Clone(),
		global:   s.Global,
		pending:  s.Pending.Clone(),
		owner:    s.Owner,
		proposal: proposal,
	}
	s.Vaults.begin()
	return nil
}

// Commit keeps all changes and returns the ids of vaults touched
func (s *Store) Commit() []uint64 {
	s.checkpoint = nil
	return s.Vaults.commit()
}

// Rollback restores the state captured by Begin
func (s *Store) Rollback() {
	if s.checkpoint == nil {
		return
	}
	cp := s.checkpoint
	s.Config = cp.config
	s.Global = cp.global
	s.Pending = cp.pending
	s.Owner = cp.owner
	s.Proposal = cp.proposal
	s.Vaults.rollback()
	s.checkpoint = nil
}

// IsOwner reports whether addr is the current admin
func (s *Store) IsOwner(addr string) bool {
	return addr != "" && addr == s.Owner
}

// Snapshot is the serializable form of the store
type Snapshot struct {
	Config      Config             `json:"config"`
	Global      GlobalState        `json:"global"`
	Vaults      []Vault            `json:"vaults"`
	NextVaultID uint64             `json:"next_vault_id"`
	Owner       string             `json:"owner"`
	Proposal    *OwnershipProposal `json:"proposal,omitempty"`
}

// Snapshot captures the store outside of a transaction
func (s *Store) Snapshot() (*Snapshot, error) {
	if s.checkpoint != nil {
		return nil, errorsmod.Wrap(ErrState, "cannot snapshot inside a transaction")
	}
	if s.Pending != nil {
		return nil, errorsmod.Wrap(ErrState, "cannot snapshot with a pending continuation")
	}
	var proposal *OwnershipProposal
	if s.Proposal != nil {
		p := *s.Proposal
		proposal = &p
	}
	return &Snapshot{
		Config:      s.Config.Clone(),
		Global:      s.Global,
		Vaults:      s.Vaults.All(),
		NextVaultID: s.Vaults.NextID(),
		Owner:       s.Owner,
		Proposal:    proposal,
	}, nil
}

// RestoreSnapshot rebuilds a store from a snapshot
func RestoreSnapshot(snap *Snapshot) (*Store, error) {
	if err := snap.Config.Validate(); err != nil {
		return nil, err
	}
	vaults := NewVaultStore()
	if err := vaults.Restore(snap.Vaults, snap.NextVaultID); err != nil {
		return nil, err
	}
	return &Store{
		Config:   snap.Config,
		Global:   snap.Global,
		Vaults:   vaults,
		Owner:    snap.Owner,
		Proposal: snap.Proposal,
	}, nil
}
