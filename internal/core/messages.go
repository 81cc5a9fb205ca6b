package core

import (
	"encoding/json"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"PowerPerp/internal/state"
)

// Coin is an amount of one denom attached to a message
type Coin struct {
	Denom  string      `json:"denom"`
	Amount sdkmath.Int `json:"amount"`
}

// Info is the execution context of a message
type Info struct {
	Sender    string `json:"sender"`
	Funds     []Coin `json:"funds,omitempty"`
	RequestID string `json:"request_id,omitempty"` // dedup key, generated when empty
	Time      int64  `json:"time"`                 // block time, unix seconds
}

// Msg is any command the engine executes
type Msg interface {
	Type() string
}

// Message type names, also used as metric labels and wire discriminators
const (
	TypeMint                = "mint"
	TypeBurn                = "burn"
	TypeOpenShort           = "open_short"
	TypeCloseShort          = "close_short"
	TypeDeposit             = "deposit"
	TypeWithdraw            = "withdraw"
	TypeLiquidate           = "liquidate"
	TypeApplyFunding        = "apply_funding"
	TypeRemoveEmptyVaults   = "remove_empty_vaults"
	TypeUpdateConfig        = "update_config"
	TypePause               = "pause"
	TypeUnpause             = "unpause"
	TypeSetOpen             = "set_open"
	TypeProposeNewOwner     = "propose_new_owner"
	TypeRejectOwnerProposal = "reject_owner_proposal"
	TypeClaimOwnership      = "claim_ownership"
	TypeBankCredit          = "bank_credit"
	TypeBankDebit           = "bank_debit"
	TypeProvideLiquidity    = "provide_liquidity"
)

// MsgMint mints power tokens against a vault, creating one when VaultID is nil.
// Collateral, if any, is attached as funds.
type MsgMint struct {
	Amount  sdkmath.Int `json:"amount"`
	VaultID *uint64     `json:"vault_id,omitempty"`
	Rebase  bool        `json:"rebase"`
}

// MsgBurn burns the attached power tokens against a vault
type MsgBurn struct {
	VaultID        uint64       `json:"vault_id"`
	WithdrawAmount *sdkmath.Int `json:"withdraw_amount,omitempty"`
}

// MsgOpenShort mints into custody and sells the proceeds for the base asset
type MsgOpenShort struct {
	Amount   sdkmath.Int        `json:"amount"`
	VaultID  *uint64            `json:"vault_id,omitempty"`
	Slippage *sdkmath.LegacyDec `json:"slippage,omitempty"`
}

// MsgCloseShort buys back power tokens with the attached base asset and burns them
type MsgCloseShort struct {
	BurnAmount     sdkmath.Int  `json:"burn_amount"`
	WithdrawAmount *sdkmath.Int `json:"withdraw_amount,omitempty"`
	VaultID        uint64       `json:"vault_id"`
}

// MsgDeposit adds the attached collateral to a vault
type MsgDeposit struct {
	VaultID uint64 `json:"vault_id"`
}

// MsgWithdraw removes collateral from a vault
type MsgWithdraw struct {
	Amount  sdkmath.Int `json:"amount"`
	VaultID uint64      `json:"vault_id"`
}

// MsgLiquidate repays up to MaxDebtAmount of an unsafe vault's debt with attached power tokens
type MsgLiquidate struct {
	VaultID       uint64      `json:"vault_id"`
	MaxDebtAmount sdkmath.Int `json:"max_debt_amount"`
}

type MsgApplyFunding struct{}

// MsgRemoveEmptyVaults garbage collects vaults with zero collateral and exposure
type MsgRemoveEmptyVaults struct {
	StartAfter *uint64 `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

type MsgUpdateConfig struct {
	state.ConfigUpdate
}

type MsgPause struct{}

type MsgUnpause struct{}

type MsgSetOpen struct{}

type MsgProposeNewOwner struct {
	Candidate       string `json:"candidate"`
	DurationSeconds int64  `json:"duration"`
}

type MsgRejectOwnerProposal struct{}

type MsgClaimOwnership struct{}

// MsgBankCredit brings externally bridged tokens into the ledger. Admin only.
type MsgBankCredit struct {
	Holder string      `json:"holder"`
	Denom  string      `json:"denom"`
	Amount sdkmath.Int `json:"amount"`
}

// MsgBankDebit takes the sender's tokens out of the ledger
type MsgBankDebit struct {
	Denom  string      `json:"denom"`
	Amount sdkmath.Int `json:"amount"`
}

// MsgProvideLiquidity moves both pool assets from the sender into a venue pool
type MsgProvideLiquidity struct {
	Pool    string      `json:"pool"`
	AmountA sdkmath.Int `json:"amount_a"`
	AmountB sdkmath.Int `json:"amount_b"`
}

func (MsgMint) Type() string                { return TypeMint }
func (MsgBurn) Type() string                { return TypeBurn }
func (MsgOpenShort) Type() string           { return TypeOpenShort }
func (MsgCloseShort) Type() string          { return TypeCloseShort }
func (MsgDeposit) Type() string             { return TypeDeposit }
func (MsgWithdraw) Type() string            { return TypeWithdraw }
func (MsgLiquidate) Type() string           { return TypeLiquidate }
func (MsgApplyFunding) Type() string        { return TypeApplyFunding }
func (MsgRemoveEmptyVaults) Type() string   { return TypeRemoveEmptyVaults }
func (MsgUpdateConfig) Type() string        { return TypeUpdateConfig }
func (MsgPause) Type() string               { return TypePause }
func (MsgUnpause) Type() string             { return TypeUnpause }
func (MsgSetOpen) Type() string             { return TypeSetOpen }
func (MsgProposeNewOwner) Type() string     { return TypeProposeNewOwner }
func (MsgRejectOwnerProposal) Type() string { return TypeRejectOwnerProposal }
func (MsgClaimOwnership) Type() string      { return TypeClaimOwnership }
func (MsgBankCredit) Type() string          { return TypeBankCredit }
func (MsgBankDebit) Type() string           { return TypeBankDebit }
func (MsgProvideLiquidity) Type() string    { return TypeProvideLiquidity }

var msgDecoders = map[string]func(json.RawMessage) (Msg, error){
	TypeMint:                decodeAs[MsgMint],
	TypeBurn:                decodeAs[MsgBurn],
	TypeOpenShort:           decodeAs[MsgOpenShort],
	TypeCloseShort:          decodeAs[MsgCloseShort],
	TypeDeposit:             decodeAs[MsgDeposit],
	TypeWithdraw:            decodeAs[MsgWithdraw],
	TypeLiquidate:           decodeAs[MsgLiquidate],
	TypeApplyFunding:        decodeAs[MsgApplyFunding],
	TypeRemoveEmptyVaults:   decodeAs[MsgRemoveEmptyVaults],
	TypeUpdateConfig:        decodeAs[MsgUpdateConfig],
	TypePause:               decodeAs[MsgPause],
	TypeUnpause:             decodeAs[MsgUnpause],
	TypeSetOpen:             decodeAs[MsgSetOpen],
	TypeProposeNewOwner:     decodeAs[MsgProposeNewOwner],
	TypeRejectOwnerProposal: decodeAs[MsgRejectOwnerProposal],
	TypeClaimOwnership:      decodeAs[MsgClaimOwnership],
	TypeBankCredit:          decodeAs[MsgBankCredit],
	TypeBankDebit:           decodeAs[MsgBankDebit],
	TypeProvideLiquidity:    decodeAs[MsgProvideLiquidity],
}

func decodeAs[T Msg](body json.RawMessage) (Msg, error) {
	var msg T
	if len(body) > 0 && string(body) != "null" {
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// DecodeMsg builds a message from its type name and JSON body
func DecodeMsg(msgType string, body json.RawMessage) (Msg, error) {
	decode, ok := msgDecoders[msgType]
	if !ok {
		return nil, errorsmod.Wrapf(state.ErrValidation, "unknown message type %q", msgType)
	}
	msg, err := decode(body)
	if err != nil {
		return nil, errorsmod.Wrapf(state.ErrValidation, "decode %s: %v", msgType, err)
	}
	return msg, nil
}

// MsgTypes lists every registered message type
func MsgTypes() []string {
	out := make([]string, 0, len(msgDecoders))
	for t := range msgDecoders {
		out = append(out, t)
	}
	return out
}

// --- Responses ---

type MintResponse struct {
	VaultID uint64      `json:"vault_id"`
	Minted  sdkmath.Int `json:"minted"`
	Fee     sdkmath.Int `json:"fee"`
}

type BurnResponse struct {
	VaultID   uint64      `json:"vault_id"`
	Burned    sdkmath.Int `json:"burned"`
	Withdrawn sdkmath.Int `json:"withdrawn"`
}

type OpenShortResponse struct {
	VaultID  uint64      `json:"vault_id"`
	Minted   sdkmath.Int `json:"minted"`
	Proceeds sdkmath.Int `json:"proceeds"`
}

type CloseShortResponse struct {
	VaultID   uint64      `json:"vault_id"`
	Burned    sdkmath.Int `json:"burned"`
	BaseSpent sdkmath.Int `json:"base_spent"`
	Refunded  sdkmath.Int `json:"refunded"`
}

type FundingResponse struct {
	NormalizationFactor sdkmath.LegacyDec `json:"normalization_factor"`
}

type RemoveEmptyVaultsResponse struct {
	Removed []uint64 `json:"removed"`
}

// NoSequence marks a result that assigned no event sequence
const NoSequence int64 = -1

// Result is what Execute returns for an accepted message
type Result struct {
	RequestID string      `json:"request_id"`
	Sequence  int64       `json:"sequence"` // last sequence assigned by this request, NoSequence for duplicates
	Duplicate bool        `json:"duplicate"`
	Data      interface{} `json:"data,omitempty"`
}

func (c Coin) String() string {
	return fmt.Sprintf("%s%s", c.Amount, c.Denom)
}
