package state

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace for every error raised by the engine
const Codespace = "powerperp"

var (
	ErrValidation        = errorsmod.Register(Codespace, 2, "validation error")
	ErrUnauthorized      = errorsmod.Register(Codespace, 3, "unauthorized")
	ErrState             = errorsmod.Register(Codespace, 4, "invalid state")
	ErrSolvency          = errorsmod.Register(Codespace, 5, "solvency error")
	ErrInsufficientFunds = errorsmod.Register(Codespace, 6, "insufficient funds")
	ErrExternalCall      = errorsmod.Register(Codespace, 7, "external call failed")
)

// ErrorKind is the discriminated kind carried by every engine error
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindAuthorization
	KindState
	KindSolvency
	KindInsufficientFunds
	KindExternalCall
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindValidation:
		return "ValidationError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindState:
		return "StateError"
	case KindSolvency:
		return "SolvencyError"
	case KindInsufficientFunds:
		return "InsufficientFundsError"
	case KindExternalCall:
		return "ExternalCallError"
	default:
		return "InternalError"
	}
}

// KindOf classifies err. Unregistered errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errorsmod.IsOf(err, ErrValidation):
		return KindValidation
	case errorsmod.IsOf(err, ErrUnauthorized):
		return KindAuthorization
	case errorsmod.IsOf(err, ErrState):
		return KindState
	case errorsmod.IsOf(err, ErrSolvency):
		return KindSolvency
	case errorsmod.IsOf(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errorsmod.IsOf(err, ErrExternalCall):
		return KindExternalCall
	default:
		return KindInternal
	}
}
