package core

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/event"
	"PowerPerp/internal/ledger"
	"PowerPerp/internal/state"
)

// LiquidityVenue is implemented by venues that accept pool deposits
type LiquidityVenue interface {
	AddLiquidity(tl ledger.TokenLedger, provider, poolID string, amountA, amountB sdkmath.Int) error
}

// bankCredit brings tokens into the ledger for holder. Owner only.
func (e *Engine) bankCredit(m MsgBankCredit) error {
	if err := e.requireOwner(); err != nil {
		return err
	}
	if m.Holder == "" {
		return errorsmod.Wrap(state.ErrValidation, "holder must be set")
	}
	if err := state.ValidateDenom(m.Denom); err != nil {
		return err
	}
	if !positive(m.Amount) {
		return errorsmod.Wrap(state.ErrValidation, "credit amount must be positive")
	}
	if m.Denom == e.store.Config.PowerAsset {
		return errorsmod.Wrapf(state.ErrValidation, "%s is only issued by minting", m.Denom)
	}
	if err := e.op.tx.Deposit(m.Holder, m.Denom, m.Amount); err != nil {
		return ledgerErr(err)
	}

	e.record(&event.BankMoved{Action: "credit", Holder: m.Holder, Denom: m.Denom, Amount: m.Amount})
	return nil
}

// bankDebit takes the sender's tokens out of the ledger
func (e *Engine) bankDebit(m MsgBankDebit) error {
	if err := e.acceptFunds(); err != nil {
		return err
	}
	if !positive(m.Amount) {
		return errorsmod.Wrap(state.ErrValidation, "debit amount must be positive")
	}
	if m.Denom == e.store.Config.PowerAsset {
		return errorsmod.Wrapf(state.ErrValidation, "%s leaves circulation only by burning", m.Denom)
	}
	if err := e.op.tx.Withdraw(e.sender(), m.Denom, m.Amount); err != nil {
		return ledgerErr(err)
	}

	e.record(&event.BankMoved{Action: "debit", Holder: e.sender(), Denom: m.Denom, Amount: m.Amount})
	return nil
}

// provideLiquidity moves the sender's tokens into a venue pool
func (e *Engine) provideLiquidity(m MsgProvideLiquidity) error {
	if err := e.acceptFunds(); err != nil {
		return err
	}
	lv, ok := e.venue.(LiquidityVenue)
	if !ok {
		return errorsmod.Wrap(state.ErrExternalCall, "venue does not accept liquidity")
	}
	if !positive(m.AmountA) || !positive(m.AmountB) {
		return errorsmod.Wrap(state.ErrValidation, "liquidity amounts must be positive")
	}
	if err := lv.AddLiquidity(e.op.tx, e.sender(), m.Pool, m.AmountA, m.AmountB); err != nil {
		return ledgerErr(err)
	}

	e.record(&event.LiquidityProvided{Pool: m.Pool, Provider: e.sender(), AmountA: m.AmountA, AmountB: m.AmountB})
	return nil
}
