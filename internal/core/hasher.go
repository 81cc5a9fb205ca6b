package core

import (
	"crypto/sha256"
	"encoding/binary"

	"PowerPerp/internal/ledger"
	"PowerPerp/internal/state"
)

const GenesisHashSeed = "PowerPerp:genesis:v1"

// StateHasher chains a SHA-256 over every emitted event
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash

	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip after a snapshot restore
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// computeStateDigest serializes everything an operation changed:
// touched vaults (tombstones for removed ones), global state and touched ledger accounts.
func computeStateDigest(vaults []state.Vault, removed []uint64, global state.GlobalState, batch *ledger.Batch, tracker *ledger.BalanceTracker) []byte {
	digest := make([]byte, 0, 64*(len(vaults)+len(removed))+128)

	for i := range vaults {
		digest = append(digest, 'v')
		digest = append(digest, vaults[i].CanonicalBytes()...)
	}
	for _, id := range removed {
		digest = append(digest, 'x')
		digest = binary.LittleEndian.AppendUint64(digest, id)
	}

	digest = append(digest, 'g')
	digest = append(digest, boolByte(global.IsOpen), boolByte(global.IsPaused))
	digest = binary.LittleEndian.AppendUint64(digest, uint64(global.LastPauseTime))
	digest = binary.LittleEndian.AppendUint64(digest, uint64(global.LastFundingUpdateTime))
	digest = appendLenPrefixed(digest, global.NormalizationFactor.String())

	if batch != nil {
		for _, key := range batchAccounts(batch) {
			digest = append(digest, 'a')
			digest = appendLenPrefixed(digest, key.AccountPath())
			digest = appendLenPrefixed(digest, tracker.GetBalance(key).String())
		}
	}

	return digest
}

// batchAccounts returns the distinct accounts of a batch sorted by path
func batchAccounts(batch *ledger.Batch) []ledger.AccountKey {
	seen := make(map[ledger.AccountKey]struct{}, 2*len(batch.Journals))
	accounts := make([]ledger.AccountKey, 0, 2*len(batch.Journals))
	for _, j := range batch.Journals {
		for _, key := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			accounts = append(accounts, key)
		}
	}
	sortAccounts(accounts)
	return accounts
}

func appendLenPrefixed(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
