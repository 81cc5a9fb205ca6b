package ledger

import (
	"fmt"
	"sort"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

var (
	ErrInsufficientBalance = errorsmod.Register("ledger", 2, "insufficient balance")
	ErrInvalidAmount       = errorsmod.Register("ledger", 3, "invalid amount")
	ErrNotMintAuthority    = errorsmod.Register("ledger", 4, "not mint authority")
	ErrTxClosed            = errorsmod.Register("ledger", 5, "transaction closed")
)

// TokenLedger is the token surface the engine and swap venue operate on
type TokenLedger interface {
	Mint(minter, to, denom string, amount sdkmath.Int) error
	Burn(from, denom string, amount sdkmath.Int) error
	Transfer(from, to, denom string, amount sdkmath.Int) error
	BalanceOf(holder, denom string) sdkmath.Int
	TotalSupply(denom string) sdkmath.Int
	MintAuthority(denom string) string
}

var _ TokenLedger = (*Tx)(nil)

// Ledger is an in-process token ledger. Mutations go through a Tx that is
// either committed as one batch or discarded. Not thread-safe.
type Ledger struct {
	tracker   *BalanceTracker
	validator *InvariantValidator
	authority map[string]string // denom -> minter
	open      bool
}

func New() *Ledger {
	tracker := NewBalanceTracker()
	return &Ledger{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
		authority: make(map[string]string),
	}
}

// SetMintAuthority grants minting and burning of denom to minter
func (l *Ledger) SetMintAuthority(denom, minter string) {
	l.authority[denom] = minter
}

// MintAuthority returns the address allowed to mint denom
func (l *Ledger) MintAuthority(denom string) string {
	return l.authority[denom]
}

// MintAuthorities returns a copy of every denom's minter
func (l *Ledger) MintAuthorities() map[string]string {
	out := make(map[string]string, len(l.authority))
	for denom, minter := range l.authority {
		out[denom] = minter
	}
	return out
}

// BalanceOf returns the committed balance of holder
func (l *Ledger) BalanceOf(holder, denom string) sdkmath.Int {
	return l.tracker.GetBalance(HolderAccount(holder, denom))
}

// TotalSupply returns the committed supply of denom
func (l *Ledger) TotalSupply(denom string) sdkmath.Int {
	return l.tracker.TotalSupply(denom)
}

// Tracker exposes committed balances for snapshots
func (l *Ledger) Tracker() *BalanceTracker {
	return l.tracker
}

// Validator exposes the invariant checks
func (l *Ledger) Validator() *InvariantValidator {
	return l.validator
}

// Begin opens a transaction. Only one may be open at a time.
func (l *Ledger) Begin(eventRef string, sequence, timestamp int64) (*Tx, error) {
	if l.open {
		return nil, errorsmod.Wrap(ErrTxClosed, "another transaction is open")
	}
	l.open = true
	return &Tx{
		ledger: l,
		gen:    NewJournalGenerator(eventRef, sequence, timestamp),
		delta:  make(map[AccountKey]sdkmath.Int),
	}, nil
}

// Tx is an overlay of uncommitted balance changes
type Tx struct {
	ledger *Ledger
	gen    *JournalGenerator
	delta  map[AccountKey]sdkmath.Int
	closed bool
}

func (tx *Tx) balance(key AccountKey) sdkmath.Int {
	b := tx.ledger.tracker.GetBalance(key)
	if d, ok := tx.delta[key]; ok {
		b = b.Add(d)
	}
	return b
}

func (tx *Tx) shift(key AccountKey, amount sdkmath.Int) {
	if d, ok := tx.delta[key]; ok {
		tx.delta[key] = d.Add(amount)
	} else {
		tx.delta[key] = amount
	}
}

func (tx *Tx) apply(j Journal) {
	tx.shift(j.DebitAccount, j.Amount)
	tx.shift(j.CreditAccount, j.Amount.Neg())
}

func (tx *Tx) check(denom string, amount sdkmath.Int) error {
	if tx.closed {
		return ErrTxClosed
	}
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrapf(ErrInvalidAmount, "%s %s", amount, denom)
	}
	if denom == "" {
		return errorsmod.Wrap(ErrInvalidAmount, "empty denom")
	}
	return nil
}

func (tx *Tx) ensureFunds(holder, denom string, amount sdkmath.Int) error {
	if have := tx.balance(HolderAccount(holder, denom)); have.LT(amount) {
		return errorsmod.Wrapf(ErrInsufficientBalance, "%s has %s%s, needs %s%s", holder, have, denom, amount, denom)
	}
	return nil
}

// BalanceOf returns the balance including uncommitted changes
func (tx *Tx) BalanceOf(holder, denom string) sdkmath.Int {
	return tx.balance(HolderAccount(holder, denom))
}

// TotalSupply returns the supply including uncommitted mints and burns
func (tx *Tx) TotalSupply(denom string) sdkmath.Int {
	return tx.balance(IssuanceAccount(denom)).Neg()
}

// MintAuthority returns the address allowed to mint denom
func (tx *Tx) MintAuthority(denom string) string {
	return tx.ledger.MintAuthority(denom)
}

// Deposit credits holder with funds arriving from outside the ledger
func (tx *Tx) Deposit(holder, denom string, amount sdkmath.Int) error {
	if err := tx.check(denom, amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	tx.apply(tx.gen.GenerateDeposit(holder, denom, amount))
	return nil
}

// Withdraw debits holder for funds leaving the ledger
func (tx *Tx) Withdraw(holder, denom string, amount sdkmath.Int) error {
	if err := tx.check(denom, amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if err := tx.ensureFunds(holder, denom, amount); err != nil {
		return err
	}
	tx.apply(tx.gen.GenerateWithdrawal(holder, denom, amount))
	return nil
}

// Mint issues new tokens to holder. minter must hold the denom's authority.
func (tx *Tx) Mint(minter, to, denom string, amount sdkmath.Int) error {
	if err := tx.check(denom, amount); err != nil {
		return err
	}
	if auth := tx.ledger.authority[denom]; auth == "" || auth != minter {
		return errorsmod.Wrapf(ErrNotMintAuthority, "%s cannot mint %s", minter, denom)
	}
	if amount.IsZero() {
		return nil
	}
	tx.apply(tx.gen.GenerateMint(to, denom, amount))
	return nil
}

// Burn destroys tokens held by from
func (tx *Tx) Burn(from, denom string, amount sdkmath.Int) error {
	if err := tx.check(denom, amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if err := tx.ensureFunds(from, denom, amount); err != nil {
		return err
	}
	tx.apply(tx.gen.GenerateBurn(from, denom, amount))
	return nil
}

// Transfer moves tokens between holders
func (tx *Tx) Transfer(from, to, denom string, amount sdkmath.Int) error {
	if err := tx.check(denom, amount); err != nil {
		return err
	}
	if amount.IsZero() || from == to {
		return nil
	}
	if err := tx.ensureFunds(from, denom, amount); err != nil {
		return err
	}
	tx.apply(tx.gen.GenerateTransfer(from, to, denom, amount))
	return nil
}

// Touched returns the accounts changed by the transaction, ordered by path
func (tx *Tx) Touched() []AccountKey {
	keys := make([]AccountKey, 0, len(tx.delta))
	for k := range tx.delta {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}

// Commit applies the batch to committed balances
func (tx *Tx) Commit() (*Batch, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	batch := tx.gen.Batch()
	if err := tx.ledger.validator.ValidateBatchBalance(batch); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	for _, key := range tx.Touched() {
		if key.IsHolder() && tx.balance(key).IsNegative() {
			return nil, errorsmod.Wrapf(ErrInsufficientBalance, "account %s would go negative", key.AccountPath())
		}
	}

	if err := tx.ledger.tracker.ApplyBatch(batch); err != nil {
		return nil, err
	}
	tx.close()
	return batch, nil
}

// Discard drops every uncommitted change
func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.delta = nil
	tx.ledger.open = false
}
