package core

import (
	errorsmod "cosmossdk.io/errors"

	"PowerPerp/internal/event"
	"PowerPerp/internal/state"
)

func (e *Engine) requireOwner() error {
	if !e.store.IsOwner(e.sender()) {
		return errorsmod.Wrapf(state.ErrUnauthorized, "%s is not the owner", e.sender())
	}
	return e.acceptFunds()
}

func (e *Engine) updateConfig(m MsgUpdateConfig) error {
	if err := e.requireOwner(); err != nil {
		return err
	}
	cfg, err := m.ConfigUpdate.Apply(e.store.Config)
	if err != nil {
		return err
	}
	e.store.Config = cfg

	e.record(&event.ConfigUpdated{FeeRate: cfg.FeeRate, FeePool: cfg.FeePool})
	e.logger.Info().
		Str("fee_rate", cfg.FeeRate.String()).
		Str("fee_pool", cfg.FeePool).
		Msg("config updated")
	return nil
}

func (e *Engine) pause() error {
	if err := e.requireOwner(); err != nil {
		return err
	}
	g := &e.store.Global
	if g.IsPaused {
		return errorsmod.Wrap(state.ErrState, "protocol is already paused")
	}
	g.IsPaused = true
	g.LastPauseTime = e.now()

	e.record(&event.PauseChanged{Paused: true, Sender: e.sender()})
	e.logger.Warn().Str("sender", e.sender()).Msg("protocol paused")
	return nil
}

// unpause is open to anyone once the cooldown since the last pause has passed
func (e *Engine) unpause() error {
	if err := e.acceptFunds(); err != nil {
		return err
	}
	g := &e.store.Global
	if !g.IsPaused {
		return errorsmod.Wrap(state.ErrState, "protocol is not paused")
	}
	if !g.CanUnpause(e.store.IsOwner(e.sender()), e.now()) {
		return errorsmod.Wrapf(state.ErrUnauthorized, "unpause cooldown runs until %d", g.LastPauseTime+state.PauseCooldown)
	}
	g.IsPaused = false

	e.record(&event.PauseChanged{Paused: false, Sender: e.sender()})
	e.logger.Info().Str("sender", e.sender()).Msg("protocol unpaused")
	return nil
}

// setOpen activates the protocol once the engine holds the power asset's mint authority
func (e *Engine) setOpen() error {
	if err := e.requireOwner(); err != nil {
		return err
	}
	g := &e.store.Global
	if g.IsOpen {
		return errorsmod.Wrap(state.ErrState, "protocol is already open")
	}
	power := e.store.Config.PowerAsset
	if auth := e.op.tx.MintAuthority(power); auth != e.address {
		return errorsmod.Wrapf(state.ErrState, "engine is not the mint authority of %s (have %q)", power, auth)
	}
	g.IsOpen = true
	g.LastFundingUpdateTime = e.now()

	e.record(&event.Opened{Timestamp: e.now()})
	e.logger.Info().Int64("timestamp", e.now()).Msg("protocol opened")
	return nil
}

func (e *Engine) proposeNewOwner(m MsgProposeNewOwner) error {
	if err := e.requireOwner(); err != nil {
		return err
	}
	p, err := state.NewOwnershipProposal(m.Candidate, m.DurationSeconds, e.now())
	if err != nil {
		return err
	}
	e.store.Proposal = &p

	e.record(&event.OwnershipProposed{Candidate: p.Candidate, ExpiresAt: p.ExpiresAt})
	e.logger.Info().Str("candidate", p.Candidate).Int64("expires_at", p.ExpiresAt).Msg("ownership proposed")
	return nil
}

func (e *Engine) rejectOwnerProposal() error {
	if err := e.requireOwner(); err != nil {
		return err
	}
	p := e.store.Proposal
	if p == nil {
		return errorsmod.Wrap(state.ErrState, "no ownership proposal")
	}
	e.store.Proposal = nil

	e.record(&event.OwnershipRejected{Candidate: p.Candidate})
	return nil
}

func (e *Engine) claimOwnership() error {
	if err := e.acceptFunds(); err != nil {
		return err
	}
	p := e.store.Proposal
	if p == nil {
		return errorsmod.Wrap(state.ErrState, "no ownership proposal")
	}
	if p.Candidate != e.sender() {
		return errorsmod.Wrapf(state.ErrUnauthorized, "%s is not the proposed owner", e.sender())
	}
	if p.IsExpired(e.now()) {
		return errorsmod.Wrapf(state.ErrState, "ownership proposal expired at %d", p.ExpiresAt)
	}
	previous := e.store.Owner
	e.store.Owner = p.Candidate
	e.store.Proposal = nil

	e.record(&event.OwnershipClaimed{Previous: previous, Owner: e.store.Owner})
	e.logger.Warn().Str("previous", previous).Str("owner", e.store.Owner).Msg("ownership transferred")
	return nil
}
