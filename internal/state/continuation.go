package state

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

// ContinuationKind identifies the multi-step operation in flight
type ContinuationKind uint8

const (
	ContinuationOpenShort ContinuationKind = iota + 1
	ContinuationCloseShort
)

func (k ContinuationKind) String() string {
	switch k {
	case ContinuationOpenShort:
		return "OpenShort"
	case ContinuationCloseShort:
		return "CloseShort"
	default:
		return "Unknown"
	}
}

// ContinuationStage tracks progress of a continuation
type ContinuationStage uint8

const (
	StageIdle ContinuationStage = iota
	StageMintIssued
	StageAwaitingSwapOut
	StageAwaitingSwapIn
	StageSettled
)

func (s ContinuationStage) String() string {
	switch s {
	case StageIdle:
		return "Idle"
	case StageMintIssued:
		return "MintIssued"
	case StageAwaitingSwapOut:
		return "AwaitingSwapOut"
	case StageAwaitingSwapIn:
		return "AwaitingSwapIn"
	case StageSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

var stageTransitions = map[ContinuationKind]map[ContinuationStage][]ContinuationStage{
	ContinuationOpenShort: {
		StageIdle:            {StageMintIssued},
		StageMintIssued:      {StageAwaitingSwapOut},
		StageAwaitingSwapOut: {StageSettled},
	},
	ContinuationCloseShort: {
		StageIdle:           {StageAwaitingSwapIn},
		StageAwaitingSwapIn: {StageSettled},
	},
}

// CanTransitionTo validates stage transitions for a continuation kind
func (s ContinuationStage) CanTransitionTo(kind ContinuationKind, next ContinuationStage) bool {
	allowed, ok := stageTransitions[kind][s]
	if !ok {
		return false
	}
	for _, stage := range allowed {
		if stage == next {
			return true
		}
	}
	return false
}

// Continuation is the single in-flight multi-step operation
type Continuation struct {
	Kind     ContinuationKind  `json:"kind"`
	Stage    ContinuationStage `json:"stage"`
	VaultID  uint64            `json:"vault_id"`
	Operator string            `json:"operator"`

	// open short
	PreSupply sdkmath.Int `json:"pre_supply"`
	Minted    sdkmath.Int `json:"minted"`

	// close short
	PreBalance     sdkmath.Int `json:"pre_balance"`
	OfferedBase    sdkmath.Int `json:"offered_base"`
	BurnAmount     sdkmath.Int `json:"burn_amount"`
	AttachedPower  sdkmath.Int `json:"attached_power"`
	WithdrawAmount sdkmath.Int `json:"withdraw_amount"`

	MinOut   sdkmath.Int       `json:"min_out"`
	Slippage sdkmath.LegacyDec `json:"slippage"` // zero: no bound beyond MinOut
}

// NewContinuation starts a record in the Idle stage with zeroed amounts
func NewContinuation(kind ContinuationKind, vaultID uint64, operator string) *Continuation {
	return &Continuation{
		Kind:           kind,
		Stage:          StageIdle,
		VaultID:        vaultID,
		Operator:       operator,
		PreSupply:      sdkmath.ZeroInt(),
		Minted:         sdkmath.ZeroInt(),
		PreBalance:     sdkmath.ZeroInt(),
		OfferedBase:    sdkmath.ZeroInt(),
		BurnAmount:     sdkmath.ZeroInt(),
		AttachedPower:  sdkmath.ZeroInt(),
		WithdrawAmount: sdkmath.ZeroInt(),
		MinOut:         sdkmath.ZeroInt(),
		Slippage:       sdkmath.LegacyZeroDec(),
	}
}

// Advance moves to the next stage or fails with a StateError
func (c *Continuation) Advance(next ContinuationStage) error {
	if !c.Stage.CanTransitionTo(c.Kind, next) {
		return errorsmod.Wrapf(ErrState, "%s continuation cannot move from %s to %s", c.Kind, c.Stage, next)
	}
	c.Stage = next
	return nil
}

// Expect fails unless the continuation is of kind at stage
func (c *Continuation) Expect(kind ContinuationKind, stage ContinuationStage) error {
	if c.Kind != kind || c.Stage != stage {
		return errorsmod.Wrapf(ErrState, "expected %s at %s, have %s at %s", kind, stage, c.Kind, c.Stage)
	}
	return nil
}

// Clone returns a copy safe to keep across mutations
func (c *Continuation) Clone() *Continuation {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}
