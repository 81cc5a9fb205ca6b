package ledger_test

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/ledger"
)

func mustBegin(t *testing.T, l *ledger.Ledger) *ledger.Tx {
	t.Helper()
	tx, err := l.Begin("test", 1, 1_000)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

func mustCommit(t *testing.T, tx *ledger.Tx) *ledger.Batch {
	t.Helper()
	batch, err := tx.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return batch
}

func fund(t *testing.T, l *ledger.Ledger, holder, denom string, amount int64) {
	t.Helper()
	tx := mustBegin(t, l)
	if err := tx.Deposit(holder, denom, sdkmath.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	mustCommit(t, tx)
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	tests := []struct {
		key  ledger.AccountKey
		want string
	}{
		{ledger.HolderAccount("alice", "uweth"), "holder:alice:uweth"},
		{ledger.IssuanceAccount("usqth"), "issuance:usqth"},
		{ledger.ExternalAccount("uweth"), "external:uweth"},
	}
	for _, tt := range tests {
		if got := tt.key.AccountPath(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_RejectsNonPositiveAmount(t *testing.T) {
	gen := ledger.NewJournalGenerator("ref", 1, 0)
	gen.GenerateTransfer("alice", "bob", "uweth", sdkmath.ZeroInt())

	if err := gen.Batch().Validate(); err == nil {
		t.Fatal("expected zero amount to be rejected")
	}
}

func TestBatch_RejectsSelfTransfer(t *testing.T) {
	gen := ledger.NewJournalGenerator("ref", 1, 0)
	gen.GenerateTransfer("alice", "alice", "uweth", sdkmath.NewInt(5))

	if err := gen.Batch().Validate(); err == nil {
		t.Fatal("expected self transfer to be rejected")
	}
}

// ============================================================================
// Test: Transactions
// ============================================================================

func TestTx_MintRequiresAuthority(t *testing.T) {
	l := ledger.New()
	tx := mustBegin(t, l)
	defer tx.Discard()

	if err := tx.Mint("engine", "alice", "usqth", sdkmath.NewInt(10)); !errors.Is(err, ledger.ErrNotMintAuthority) {
		t.Fatalf("expected ErrNotMintAuthority, got %v", err)
	}

	l.SetMintAuthority("usqth", "engine")
	if err := tx.Mint("mallory", "alice", "usqth", sdkmath.NewInt(10)); err == nil {
		t.Fatal("expected mint by non-authority to fail")
	}
	if err := tx.Mint("engine", "alice", "usqth", sdkmath.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := tx.TotalSupply("usqth"); !got.Equal(sdkmath.NewInt(10)) {
		t.Errorf("supply = %s, want 10", got)
	}
}

func TestTx_DiscardLeavesCommittedState(t *testing.T) {
	l := ledger.New()
	fund(t, l, "alice", "uweth", 100)

	tx := mustBegin(t, l)
	if err := tx.Transfer("alice", "bob", "uweth", sdkmath.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := tx.BalanceOf("bob", "uweth"); !got.Equal(sdkmath.NewInt(60)) {
		t.Errorf("overlay balance = %s, want 60", got)
	}
	tx.Discard()

	if got := l.BalanceOf("alice", "uweth"); !got.Equal(sdkmath.NewInt(100)) {
		t.Errorf("alice = %s, want 100", got)
	}
	if got := l.BalanceOf("bob", "uweth"); !got.IsZero() {
		t.Errorf("bob = %s, want 0", got)
	}

	// ledger accepts a new transaction after discard
	tx = mustBegin(t, l)
	tx.Discard()
}

func TestTx_InsufficientBalance(t *testing.T) {
	l := ledger.New()
	fund(t, l, "alice", "uweth", 10)

	tx := mustBegin(t, l)
	defer tx.Discard()

	err := tx.Transfer("alice", "bob", "uweth", sdkmath.NewInt(11))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := tx.Burn("alice", "uweth", sdkmath.NewInt(11)); err == nil {
		t.Fatal("expected burn beyond balance to fail")
	}
}

func TestTx_CommitProducesBatchAndKeepsZeroSum(t *testing.T) {
	l := ledger.New()
	l.SetMintAuthority("usqth", "engine")
	fund(t, l, "alice", "uweth", 1_000)

	tx := mustBegin(t, l)
	if err := tx.Transfer("alice", "engine", "uweth", sdkmath.NewInt(400)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Mint("engine", "alice", "usqth", sdkmath.NewInt(50)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Burn("alice", "usqth", sdkmath.NewInt(20)); err != nil {
		t.Fatal(err)
	}
	batch := mustCommit(t, tx)

	if len(batch.Journals) != 3 {
		t.Fatalf("journals = %d, want 3", len(batch.Journals))
	}
	if got := l.TotalSupply("usqth"); !got.Equal(sdkmath.NewInt(30)) {
		t.Errorf("supply = %s, want 30", got)
	}
	if err := l.Validator().ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
	if err := l.Validator().ValidateHoldersNonNegative(); err != nil {
		t.Errorf("holders: %v", err)
	}
}

func TestLedger_SingleOpenTransaction(t *testing.T) {
	l := ledger.New()
	tx := mustBegin(t, l)
	if _, err := l.Begin("other", 2, 0); err == nil {
		t.Fatal("expected second Begin to fail")
	}
	tx.Discard()
}
