package core

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/event"
	"PowerPerp/internal/state"
)

func (e *Engine) requireActive() error {
	g := &e.store.Global
	if !g.IsOpen {
		return errorsmod.Wrap(state.ErrState, "protocol is not open")
	}
	if g.IsPaused {
		return errorsmod.Wrap(state.ErrState, "protocol is paused")
	}
	return nil
}

// loadOwnedVault fetches a vault the sender operates
func (e *Engine) loadOwnedVault(id uint64) (state.Vault, error) {
	v, err := e.store.Vaults.MustGet(id)
	if err != nil {
		return state.Vault{}, err
	}
	if v.Operator != e.sender() {
		return state.Vault{}, errorsmod.Wrapf(state.ErrUnauthorized, "%s is not the operator of vault %d", e.sender(), id)
	}
	return v, nil
}

func checkVaultType(v *state.Vault, implied *state.VaultType) error {
	if implied != nil && !v.Type.Equal(*implied) {
		return errorsmod.Wrapf(state.ErrValidation, "collateral of type %s does not match vault %d of type %s", implied, v.ID, v.Type)
	}
	return nil
}

// requireSafe fails unless the vault is solvent and above the minimum collateral
func requireSafe(v *state.Vault, status state.HealthStatus) error {
	if !status.IsSolvent {
		return errorsmod.Wrapf(state.ErrSolvency, "vault %d is not solvent", v.ID)
	}
	if !status.AboveMinCollateral {
		return errorsmod.Wrapf(state.ErrSolvency, "vault %d is below minimum collateral", v.ID)
	}
	return nil
}

// mintRequest is the internal mint call shared by mint and open-short
type mintRequest struct {
	vaultID   *uint64
	amount    sdkmath.Int // power units, already rebased
	deposit   sdkmath.Int
	vaultType *state.VaultType // implied by the deposit denom, nil without deposit
	recipient string           // operator, or the engine when minting into custody
}

type mintOutcome struct {
	vault   state.Vault
	fee     sdkmath.Int
	created bool
}

// mintPower credits a vault's collateral and exposure, settles the fee and
// issues the power tokens. Funding must already be applied.
func (e *Engine) mintPower(req mintRequest) (mintOutcome, error) {
	cfg := &e.store.Config
	out := mintOutcome{fee: sdkmath.ZeroInt()}

	if req.amount.IsZero() && req.deposit.IsZero() {
		return out, errorsmod.Wrap(state.ErrValidation, "nothing to mint or deposit")
	}

	if req.vaultID == nil {
		vt := state.DefaultVaultType()
		if req.vaultType != nil {
			vt = *req.vaultType
		}
		out.vault = e.store.Vaults.Create(e.sender(), vt)
		out.created = true
	} else {
		v, err := e.loadOwnedVault(*req.vaultID)
		if err != nil {
			return out, err
		}
		if err := checkVaultType(&v, req.vaultType); err != nil {
			return out, err
		}
		out.vault = v
	}
	vault := &out.vault

	prices, err := e.vaultPrices(vault.Type)
	if err != nil {
		return out, err
	}

	deposit := req.deposit
	if req.amount.IsPositive() && cfg.FeeRate.IsPositive() {
		feeValue := state.DebtValue(cfg, req.amount, prices).MulTruncate(cfg.FeeRate)
		if out.fee, err = state.CollateralForDebt(cfg, vault, feeValue, prices); err != nil {
			return out, err
		}
		if deposit.GTE(out.fee) {
			deposit = deposit.Sub(out.fee)
		} else if err := vault.SubCollateral(out.fee); err != nil {
			return out, errorsmod.Wrapf(state.ErrInsufficientFunds, "fee %s exceeds deposit and vault collateral", out.fee)
		}
	}

	vault.AddCollateral(deposit)
	vault.AddShort(req.amount)

	if err := requireSafe(vault, state.CheckHealth(cfg, vault, prices)); err != nil {
		return out, err
	}
	if err := e.store.Vaults.Put(*vault); err != nil {
		return out, err
	}

	tx := e.op.tx
	collateralDenom := cfg.CollateralDenom(vault.Type)
	if out.fee.IsPositive() {
		if err := tx.Transfer(e.address, cfg.FeePool, collateralDenom, out.fee); err != nil {
			return out, ledgerErr(err)
		}
	}
	if req.amount.IsPositive() {
		if err := tx.Mint(e.address, req.recipient, cfg.PowerAsset, req.amount); err != nil {
			return out, ledgerErr(err)
		}
	}

	e.record(&event.Minted{
		Vault:      vault.ID,
		Operator:   vault.Operator,
		Amount:     req.amount,
		Deposited:  req.deposit,
		Fee:        out.fee,
		Created:    out.created,
		Collateral: vault.Collateral,
		Exposure:   vault.ShortExposure,
	})
	return out, nil
}

func (e *Engine) mint(m MsgMint) (MintResponse, error) {
	if err := e.requireActive(); err != nil {
		return MintResponse{}, err
	}
	if m.Amount.IsNil() || m.Amount.IsNegative() {
		return MintResponse{}, errorsmod.Wrap(state.ErrValidation, "mint amount must not be negative")
	}
	vt, deposit, err := e.collateralFunds()
	if err != nil {
		return MintResponse{}, err
	}

	factor, err := e.applyFunding()
	if err != nil {
		return MintResponse{}, err
	}

	amount := m.Amount
	if m.Rebase {
		amount = sdkmath.LegacyNewDecFromInt(amount).QuoTruncate(factor).TruncateInt()
	}

	out, err := e.mintPower(mintRequest{
		vaultID:   m.VaultID,
		amount:    amount,
		deposit:   deposit,
		vaultType: vt,
		recipient: e.sender(),
	})
	if err != nil {
		return MintResponse{}, err
	}
	return MintResponse{VaultID: out.vault.ID, Minted: amount, Fee: out.fee}, nil
}

// burnPower reduces a vault's exposure and collateral, burning power tokens held
// in custody and paying the withdrawal to the operator. Funding must already be applied.
func (e *Engine) burnPower(vaultID uint64, amount, withdraw sdkmath.Int) (state.Vault, error) {
	cfg := &e.store.Config

	vault, err := e.loadOwnedVault(vaultID)
	if err != nil {
		return state.Vault{}, err
	}
	if err := vault.SubShort(amount); err != nil {
		return state.Vault{}, errorsmod.Wrap(state.ErrInsufficientFunds, err.Error())
	}
	if err := vault.SubCollateral(withdraw); err != nil {
		return state.Vault{}, errorsmod.Wrap(state.ErrInsufficientFunds, err.Error())
	}

	prices, err := e.vaultPrices(vault.Type)
	if err != nil {
		return state.Vault{}, err
	}
	if !state.CheckHealth(cfg, &vault, prices).IsSolvent {
		return state.Vault{}, errorsmod.Wrapf(state.ErrSolvency, "vault %d is not solvent", vault.ID)
	}
	if err := e.store.Vaults.Put(vault); err != nil {
		return state.Vault{}, err
	}

	tx := e.op.tx
	if err := tx.Burn(e.address, cfg.PowerAsset, amount); err != nil {
		return state.Vault{}, ledgerErr(err)
	}
	if err := tx.Transfer(e.address, vault.Operator, cfg.CollateralDenom(vault.Type), withdraw); err != nil {
		return state.Vault{}, ledgerErr(err)
	}

	e.record(&event.Burned{
		Vault:      vault.ID,
		Operator:   vault.Operator,
		Amount:     amount,
		Withdrawn:  withdraw,
		Collateral: vault.Collateral,
		Exposure:   vault.ShortExposure,
	})
	return vault, nil
}

func (e *Engine) burn(m MsgBurn) (BurnResponse, error) {
	power := e.store.Config.PowerAsset
	if err := e.requireActive(); err != nil {
		return BurnResponse{}, err
	}
	if err := e.acceptFunds(power); err != nil {
		return BurnResponse{}, err
	}
	withdraw, err := optionalAmount(m.WithdrawAmount)
	if err != nil {
		return BurnResponse{}, err
	}
	amount := e.fundsOf(power)
	if amount.IsZero() && withdraw.IsZero() {
		return BurnResponse{}, errorsmod.Wrap(state.ErrValidation, "nothing to burn or withdraw")
	}

	if _, err := e.applyFunding(); err != nil {
		return BurnResponse{}, err
	}
	if _, err := e.burnPower(m.VaultID, amount, withdraw); err != nil {
		return BurnResponse{}, err
	}
	return BurnResponse{VaultID: m.VaultID, Burned: amount, Withdrawn: withdraw}, nil
}

func (e *Engine) deposit(m MsgDeposit) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	vt, amount, err := e.collateralFunds()
	if err != nil {
		return err
	}
	if vt == nil {
		return errorsmod.Wrap(state.ErrValidation, "no collateral attached")
	}

	if _, err := e.applyFunding(); err != nil {
		return err
	}

	vault, err := e.loadOwnedVault(m.VaultID)
	if err != nil {
		return err
	}
	if err := checkVaultType(&vault, vt); err != nil {
		return err
	}
	vault.AddCollateral(amount)

	prices, err := e.vaultPrices(vault.Type)
	if err != nil {
		return err
	}
	if err := requireSafe(&vault, state.CheckHealth(&e.store.Config, &vault, prices)); err != nil {
		return err
	}
	if err := e.store.Vaults.Put(vault); err != nil {
		return err
	}

	e.record(&event.Deposited{
		Vault:      vault.ID,
		Operator:   vault.Operator,
		Denom:      e.store.Config.CollateralDenom(vault.Type),
		Amount:     amount,
		Collateral: vault.Collateral,
	})
	return nil
}

func (e *Engine) withdraw(m MsgWithdraw) error {
	cfg := &e.store.Config
	if err := e.requireActive(); err != nil {
		return err
	}
	if err := e.acceptFunds(); err != nil {
		return err
	}
	if !positive(m.Amount) {
		return errorsmod.Wrap(state.ErrValidation, "withdraw amount must be positive")
	}

	if _, err := e.applyFunding(); err != nil {
		return err
	}

	vault, err := e.loadOwnedVault(m.VaultID)
	if err != nil {
		return err
	}
	if err := vault.SubCollateral(m.Amount); err != nil {
		return errorsmod.Wrap(state.ErrInsufficientFunds, err.Error())
	}

	prices, err := e.vaultPrices(vault.Type)
	if err != nil {
		return err
	}
	if err := requireSafe(&vault, state.CheckHealth(cfg, &vault, prices)); err != nil {
		return err
	}
	if err := e.store.Vaults.Put(vault); err != nil {
		return err
	}

	denom := cfg.CollateralDenom(vault.Type)
	if err := e.op.tx.Transfer(e.address, vault.Operator, denom, m.Amount); err != nil {
		return ledgerErr(err)
	}

	e.record(&event.Withdrawn{
		Vault:      vault.ID,
		Operator:   vault.Operator,
		Denom:      denom,
		Amount:     m.Amount,
		Collateral: vault.Collateral,
	})
	return nil
}
