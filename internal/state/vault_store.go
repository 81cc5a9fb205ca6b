package state

import (
	"slices"
	"sort"

	errorsmod "cosmossdk.io/errors"
)

type vaultOp uint8

const (
	vaultOpCreate vaultOp = iota
	vaultOpUpdate
	vaultOpDelete
)

// vaultUndo records enough to invert one mutation
type vaultUndo struct {
	op         vaultOp
	id         uint64
	prev       Vault
	prevNextID uint64
}

// VaultStore holds vaults keyed by id with an owner -> ordered id index.
// Not thread-safe; owned by the engine.
type VaultStore struct {
	vaults  map[uint64]Vault
	ids     []uint64            // ascending
	byOwner map[string][]uint64 // ascending per owner
	nextID  uint64

	recording bool
	undo      []vaultUndo
}

func NewVaultStore() *VaultStore {
	return &VaultStore{
		vaults:  make(map[uint64]Vault),
		byOwner: make(map[string][]uint64),
		nextID:  1,
	}
}

// NextID returns the id the next created vault will receive
func (s *VaultStore) NextID() uint64 {
	return s.nextID
}

// Len returns the number of live vaults
func (s *VaultStore) Len() int {
	return len(s.vaults)
}

// Get returns a copy of the vault
func (s *VaultStore) Get(id uint64) (Vault, bool) {
	v, ok := s.vaults[id]
	return v, ok
}

// MustGet returns the vault or a StateError
func (s *VaultStore) MustGet(id uint64) (Vault, error) {
	v, ok := s.vaults[id]
	if !ok {
		return Vault{}, errorsmod.Wrapf(ErrState, "vault %d not found", id)
	}
	return v, nil
}

// Create allocates the next id. Ids are never reused.
func (s *VaultStore) Create(operator string, vt VaultType) Vault {
	id := s.nextID
	v := NewVault(id, operator, vt)

	s.record(vaultUndo{op: vaultOpCreate, id: id, prevNextID: s.nextID})
	s.nextID++
	s.insert(v)
	return v
}

// Put saves an existing vault. Operator and type are immutable.
func (s *VaultStore) Put(v Vault) error {
	prev, ok := s.vaults[v.ID]
	if !ok {
		return errorsmod.Wrapf(ErrState, "vault %d not found", v.ID)
	}
	if prev.Operator != v.Operator || !prev.Type.Equal(v.Type) {
		return errorsmod.Wrapf(ErrValidation, "vault %d operator and type are immutable", v.ID)
	}
	if v.Collateral.IsNegative() || v.ShortExposure.IsNegative() {
		return errorsmod.Wrapf(ErrValidation, "vault %d amounts must be non-negative", v.ID)
	}

	s.record(vaultUndo{op: vaultOpUpdate, id: v.ID, prev: prev})
	s.vaults[v.ID] = v
	return nil
}

// Remove deletes an empty vault
func (s *VaultStore) Remove(id uint64) error {
	v, ok := s.vaults[id]
	if !ok {
		return errorsmod.Wrapf(ErrState, "vault %d not found", id)
	}
	if !v.IsEmpty() {
		return errorsmod.Wrapf(ErrState, "vault %d is not empty", id)
	}

	s.record(vaultUndo{op: vaultOpDelete, id: id, prev: v})
	s.remove(v)
	return nil
}

// Range returns up to limit vaults with id > startAfter, ascending
func (s *VaultStore) Range(startAfter uint64, limit int) []Vault {
	return s.page(s.ids, startAfter, limit)
}

// ByOwner returns up to limit vaults of owner with id > startAfter, ascending
func (s *VaultStore) ByOwner(owner string, startAfter uint64, limit int) []Vault {
	return s.page(s.byOwner[owner], startAfter, limit)
}

// All returns every vault ordered by id
func (s *VaultStore) All() []Vault {
	return s.page(s.ids, 0, len(s.ids))
}

// Restore replaces the contents, used when loading a snapshot
func (s *VaultStore) Restore(vaults []Vault, nextID uint64) error {
	fresh := NewVaultStore()
	for _, v := range vaults {
		if v.ID == 0 || v.ID >= nextID {
			return errorsmod.Wrapf(ErrValidation, "vault id %d outside [1, %d)", v.ID, nextID)
		}
		if _, dup := fresh.vaults[v.ID]; dup {
			return errorsmod.Wrapf(ErrValidation, "duplicate vault id %d", v.ID)
		}
		fresh.vaults[v.ID] = v
		fresh.ids = append(fresh.ids, v.ID)
		fresh.byOwner[v.Operator] = append(fresh.byOwner[v.Operator], v.ID)
	}
	slices.Sort(fresh.ids)
	for _, ids := range fresh.byOwner {
		slices.Sort(ids)
	}
	fresh.nextID = nextID

	*s = *fresh
	return nil
}

func (s *VaultStore) page(ids []uint64, startAfter uint64, limit int) []Vault {
	if limit <= 0 {
		return nil
	}
	i := sort.Search(len(ids), func(i int) bool { return ids[i] > startAfter })

	out := make([]Vault, 0, min(limit, len(ids)-i))
	for ; i < len(ids) && len(out) < limit; i++ {
		out = append(out, s.vaults[ids[i]])
	}
	return out
}

func (s *VaultStore) insert(v Vault) {
	s.vaults[v.ID] = v
	s.ids = insertSorted(s.ids, v.ID)
	s.byOwner[v.Operator] = insertSorted(s.byOwner[v.Operator], v.ID)
}

func (s *VaultStore) remove(v Vault) {
	delete(s.vaults, v.ID)
	s.ids = removeSorted(s.ids, v.ID)

	owned := removeSorted(s.byOwner[v.Operator], v.ID)
	if len(owned) == 0 {
		delete(s.byOwner, v.Operator)
	} else {
		s.byOwner[v.Operator] = owned
	}
}

// =============================================================================
// Undo log
// =============================================================================

func (s *VaultStore) record(u vaultUndo) {
	if s.recording {
		s.undo = append(s.undo, u)
	}
}

func (s *VaultStore) begin() {
	s.recording = true
	s.undo = s.undo[:0]
}

// commit stops recording and returns the ids touched since begin
func (s *VaultStore) commit() []uint64 {
	touched := make([]uint64, 0, len(s.undo))
	for _, u := range s.undo {
		touched = append(touched, u.id)
	}
	slices.Sort(touched)
	touched = slices.Compact(touched)

	s.recording = false
	s.undo = s.undo[:0]
	return touched
}

// rollback replays the undo log in reverse
func (s *VaultStore) rollback() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		u := s.undo[i]
		switch u.op {
		case vaultOpCreate:
			if v, ok := s.vaults[u.id]; ok {
				s.remove(v)
			}
			s.nextID = u.prevNextID
		case vaultOpUpdate:
			s.vaults[u.id] = u.prev
		case vaultOpDelete:
			s.insert(u.prev)
		}
	}
	s.recording = false
	s.undo = s.undo[:0]
}

func insertSorted(ids []uint64, id uint64) []uint64 {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

func removeSorted(ids []uint64, id uint64) []uint64 {
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}
