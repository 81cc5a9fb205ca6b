package state

import (
	errorsmod "cosmossdk.io/errors"
)

// MaxProposalDuration bounds how long an ownership proposal stays claimable (7 days).
const MaxProposalDuration int64 = 604_800

// OwnershipProposal is a pending admin handover
type OwnershipProposal struct {
	Candidate string `json:"candidate"`
	ExpiresAt int64  `json:"expires_at"`
}

// NewOwnershipProposal validates duration and computes the expiry
func NewOwnershipProposal(candidate string, durationSeconds int64, now int64) (OwnershipProposal, error) {
	if candidate == "" {
		return OwnershipProposal{}, errorsmod.Wrap(ErrValidation, "candidate must be set")
	}
	if durationSeconds <= 0 || durationSeconds > MaxProposalDuration {
		return OwnershipProposal{}, errorsmod.Wrapf(ErrValidation,
			"proposal duration must be in (0, %d]: %d", MaxProposalDuration, durationSeconds)
	}
	return OwnershipProposal{Candidate: candidate, ExpiresAt: now + durationSeconds}, nil
}

// IsExpired reports whether the proposal can no longer be claimed
func (p *OwnershipProposal) IsExpired(now int64) bool {
	return now >= p.ExpiresAt
}
