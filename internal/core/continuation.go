package core

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/event"
	fpmath "PowerPerp/internal/math"
	"PowerPerp/internal/state"
)

// subMsgKind identifies a call scheduled by a continuation
type subMsgKind uint8

const (
	subMsgMint subMsgKind = iota + 1
	subMsgSwapExactIn
	subMsgSwapExactOut
)

func (k subMsgKind) String() string {
	switch k {
	case subMsgMint:
		return "mint"
	case subMsgSwapExactIn:
		return "swap_exact_in"
	case subMsgSwapExactOut:
		return "swap_exact_out"
	default:
		return "unknown"
	}
}

// subMsg is a call whose result resumes the pending continuation
type subMsg struct {
	kind subMsgKind

	mint mintRequest

	pool   string
	in     string
	out    string
	amount sdkmath.Int // exact in: amount sold; exact out: amount bought
	limit  sdkmath.Int // exact in: min out; exact out: max in
}

type subMsgResult struct {
	vault  state.Vault // mint
	amount sdkmath.Int // swap: amount received (exact in) or paid (exact out)
}

// dispatch executes a submessage and delivers its result to reply.
// Nested submessages resolve depth-first before dispatch returns.
func (e *Engine) dispatch(sub subMsg) error {
	res, err := e.call(sub)
	if err != nil {
		return err
	}
	return e.reply(sub.kind, res)
}

func (e *Engine) call(sub subMsg) (subMsgResult, error) {
	switch sub.kind {
	case subMsgMint:
		out, err := e.mintPower(sub.mint)
		if err != nil {
			return subMsgResult{}, err
		}
		return subMsgResult{vault: out.vault}, nil

	case subMsgSwapExactIn:
		got, err := e.venue.SwapExactIn(e.op.tx, e.address, sub.pool, sub.in, sub.out, sub.amount, sub.limit)
		if err != nil {
			return subMsgResult{}, swapErr(err)
		}
		return subMsgResult{amount: got}, nil

	case subMsgSwapExactOut:
		paid, err := e.venue.SwapExactOut(e.op.tx, e.address, sub.pool, sub.in, sub.out, sub.amount, sub.limit)
		if err != nil {
			return subMsgResult{}, swapErr(err)
		}
		return subMsgResult{amount: paid}, nil

	default:
		return subMsgResult{}, errorsmod.Wrapf(state.ErrState, "unknown submessage %d", sub.kind)
	}
}

func (e *Engine) reply(kind subMsgKind, res subMsgResult) error {
	c := e.store.Pending
	if c == nil {
		return errorsmod.Wrapf(state.ErrState, "%s reply without a pending continuation", kind)
	}
	switch kind {
	case subMsgMint:
		return e.onMintSettled(c, res)
	case subMsgSwapExactIn:
		return e.onSwapOutSettled(c, res)
	case subMsgSwapExactOut:
		return e.onSwapInSettled(c, res)
	default:
		return errorsmod.Wrapf(state.ErrState, "unknown reply %d", kind)
	}
}

// startContinuation claims the single in-flight slot
func (e *Engine) startContinuation(kind state.ContinuationKind, vaultID uint64) (*state.Continuation, error) {
	if p := e.store.Pending; p != nil {
		return nil, errorsmod.Wrapf(state.ErrState, "%s continuation for vault %d already in flight", p.Kind, p.VaultID)
	}
	c := state.NewContinuation(kind, vaultID, e.sender())
	e.store.Pending = c
	if e.metrics != nil {
		e.metrics.ContinuationsActive.Set(1)
	}
	return c, nil
}

func (e *Engine) advance(c *state.Continuation, next state.ContinuationStage) error {
	from := c.Stage
	if err := c.Advance(next); err != nil {
		return err
	}
	e.logger.Debug().
		Str("kind", c.Kind.String()).
		Str("from", from.String()).
		Str("to", next.String()).
		Uint64("vault_id", c.VaultID).
		Msg("continuation advanced")
	return nil
}

// settle moves to Settled and frees the slot
func (e *Engine) settle(c *state.Continuation, response interface{}) error {
	if err := e.advance(c, state.StageSettled); err != nil {
		return err
	}
	e.store.Pending = nil
	e.op.settled = response
	return nil
}

// --- Open short: Idle -> MintIssued -> AwaitingSwapOut -> Settled ---

func (e *Engine) openShort(m MsgOpenShort) (OpenShortResponse, error) {
	if err := e.requireActive(); err != nil {
		return OpenShortResponse{}, err
	}
	if !positive(m.Amount) {
		return OpenShortResponse{}, errorsmod.Wrap(state.ErrValidation, "short amount must be positive")
	}
	if m.Slippage != nil && (m.Slippage.IsNil() || m.Slippage.IsNegative() || m.Slippage.GTE(sdkmath.LegacyOneDec())) {
		return OpenShortResponse{}, errorsmod.Wrap(state.ErrValidation, "slippage must be in [0, 1)")
	}
	vt, deposit, err := e.collateralFunds()
	if err != nil {
		return OpenShortResponse{}, err
	}

	if _, err := e.applyFunding(); err != nil {
		return OpenShortResponse{}, err
	}

	var vaultID uint64
	if m.VaultID != nil {
		vaultID = *m.VaultID
	}
	c, err := e.startContinuation(state.ContinuationOpenShort, vaultID)
	if err != nil {
		return OpenShortResponse{}, err
	}
	c.PreSupply = e.op.tx.TotalSupply(e.store.Config.PowerAsset)
	if m.Slippage != nil {
		c.Slippage = *m.Slippage
	}

	if err := e.advance(c, state.StageMintIssued); err != nil {
		return OpenShortResponse{}, err
	}
	err = e.dispatch(subMsg{
		kind: subMsgMint,
		mint: mintRequest{
			vaultID:   m.VaultID,
			amount:    m.Amount,
			deposit:   deposit,
			vaultType: vt,
			recipient: e.address,
		},
	})
	if err != nil {
		return OpenShortResponse{}, err
	}

	resp, ok := e.op.settled.(OpenShortResponse)
	if !ok {
		return OpenShortResponse{}, errorsmod.Wrap(state.ErrState, "open short did not settle")
	}
	e.record(&event.ShortOpened{
		Vault:     resp.VaultID,
		Operator:  e.sender(),
		Minted:    resp.Minted,
		Proceeds:  resp.Proceeds,
		Deposited: deposit,
	})
	return resp, nil
}

// onMintSettled measures the minted amount by supply delta and sells it
func (e *Engine) onMintSettled(c *state.Continuation, res subMsgResult) error {
	if err := c.Expect(state.ContinuationOpenShort, state.StageMintIssued); err != nil {
		return err
	}
	cfg := &e.store.Config

	c.VaultID = res.vault.ID
	c.Minted = e.op.tx.TotalSupply(cfg.PowerAsset).Sub(c.PreSupply)
	if !c.Minted.IsPositive() {
		return errorsmod.Wrap(state.ErrExternalCall, "mint produced no tokens")
	}
	minOut, err := e.openShortMinOut(c.Minted, c.Slippage)
	if err != nil {
		return err
	}
	c.MinOut = minOut

	if err := e.advance(c, state.StageAwaitingSwapOut); err != nil {
		return err
	}
	return e.dispatch(subMsg{
		kind:   subMsgSwapExactIn,
		pool:   cfg.PowerPool,
		in:     cfg.PowerAsset,
		out:    cfg.BaseAsset,
		amount: c.Minted,
		limit:  c.MinOut,
	})
}

// onSwapOutSettled forwards the sale proceeds to the operator
func (e *Engine) onSwapOutSettled(c *state.Continuation, res subMsgResult) error {
	if err := c.Expect(state.ContinuationOpenShort, state.StageAwaitingSwapOut); err != nil {
		return err
	}
	if err := e.op.tx.Transfer(e.address, c.Operator, e.store.Config.BaseAsset, res.amount); err != nil {
		return ledgerErr(err)
	}
	return e.settle(c, OpenShortResponse{
		VaultID:  c.VaultID,
		Minted:   c.Minted,
		Proceeds: res.amount,
	})
}

// openShortMinOut is one raw unit, or the power TWAP value of minted less slippage
func (e *Engine) openShortMinOut(minted sdkmath.Int, slippage sdkmath.LegacyDec) (sdkmath.Int, error) {
	if slippage.IsNil() || slippage.IsZero() {
		return sdkmath.OneInt(), nil
	}
	cfg := &e.store.Config
	price, err := e.powerTWAP(e.now() - HealthTWAPPeriod)
	if err != nil {
		return sdkmath.Int{}, err
	}
	expected := fpmath.FromRaw(minted, cfg.PowerDecimals).MulTruncate(price)
	bounded := expected.MulTruncate(sdkmath.LegacyOneDec().Sub(slippage))
	return sdkmath.MaxInt(fpmath.ToRaw(bounded, cfg.BaseDecimals), sdkmath.OneInt()), nil
}

// --- Close short: Idle -> AwaitingSwapIn -> Settled ---

func (e *Engine) closeShort(m MsgCloseShort) (interface{}, error) {
	cfg := &e.store.Config
	if err := e.requireActive(); err != nil {
		return nil, err
	}
	if m.BurnAmount.IsNil() || m.BurnAmount.IsZero() {
		return e.burn(MsgBurn{VaultID: m.VaultID, WithdrawAmount: m.WithdrawAmount})
	}
	if m.BurnAmount.IsNegative() {
		return nil, errorsmod.Wrap(state.ErrValidation, "burn amount must not be negative")
	}
	if err := e.acceptFunds(cfg.BaseAsset, cfg.PowerAsset); err != nil {
		return nil, err
	}
	withdraw, err := optionalAmount(m.WithdrawAmount)
	if err != nil {
		return nil, err
	}
	offered := e.fundsOf(cfg.BaseAsset)
	if offered.IsZero() {
		return nil, errorsmod.Wrapf(state.ErrInsufficientFunds, "no %s attached to buy back %s", cfg.BaseAsset, cfg.PowerAsset)
	}
	attached := e.fundsOf(cfg.PowerAsset)

	if _, err := e.applyFunding(); err != nil {
		return nil, err
	}

	vault, err := e.loadOwnedVault(m.VaultID)
	if err != nil {
		return nil, err
	}
	if total := m.BurnAmount.Add(attached); total.GT(vault.ShortExposure) {
		return nil, errorsmod.Wrapf(state.ErrInsufficientFunds,
			"cannot burn %s from vault %d with exposure %s", total, vault.ID, vault.ShortExposure)
	}

	c, err := e.startContinuation(state.ContinuationCloseShort, vault.ID)
	if err != nil {
		return nil, err
	}
	c.PreBalance = e.op.tx.BalanceOf(e.address, cfg.PowerAsset)
	c.OfferedBase = offered
	c.BurnAmount = m.BurnAmount
	c.AttachedPower = attached
	c.WithdrawAmount = withdraw
	c.MinOut = sdkmath.OneInt()

	if err := e.advance(c, state.StageAwaitingSwapIn); err != nil {
		return nil, err
	}
	err = e.dispatch(subMsg{
		kind:   subMsgSwapExactOut,
		pool:   cfg.PowerPool,
		in:     cfg.BaseAsset,
		out:    cfg.PowerAsset,
		amount: m.BurnAmount,
		limit:  offered,
	})
	if err != nil {
		return nil, err
	}

	resp, ok := e.op.settled.(CloseShortResponse)
	if !ok {
		return nil, errorsmod.Wrap(state.ErrState, "close short did not settle")
	}
	return resp, nil
}

// onSwapInSettled burns what the swap delivered plus any attached power tokens
// and refunds the unspent base asset
func (e *Engine) onSwapInSettled(c *state.Continuation, res subMsgResult) error {
	if err := c.Expect(state.ContinuationCloseShort, state.StageAwaitingSwapIn); err != nil {
		return err
	}
	cfg := &e.store.Config
	tx := e.op.tx

	bought := tx.BalanceOf(e.address, cfg.PowerAsset).Sub(c.PreBalance)
	if bought.IsNegative() {
		return errorsmod.Wrap(state.ErrExternalCall, "swap reduced custody balance")
	}
	burnTotal := bought.Add(c.AttachedPower)

	if _, err := e.burnPower(c.VaultID, burnTotal, c.WithdrawAmount); err != nil {
		return err
	}

	refund := c.OfferedBase.Sub(res.amount)
	if err := tx.Transfer(e.address, c.Operator, cfg.BaseAsset, refund); err != nil {
		return ledgerErr(err)
	}

	e.record(&event.ShortClosed{
		Vault:     c.VaultID,
		Operator:  c.Operator,
		Burned:    burnTotal,
		BaseSpent: res.amount,
		Refunded:  refund,
		Withdrawn: c.WithdrawAmount,
	})
	return e.settle(c, CloseShortResponse{
		VaultID:   c.VaultID,
		Burned:    burnTotal,
		BaseSpent: res.amount,
		Refunded:  refund,
	})
}

func swapErr(err error) error {
	if state.KindOf(err) == state.KindInternal {
		return errorsmod.Wrap(state.ErrExternalCall, err.Error())
	}
	return err
}
