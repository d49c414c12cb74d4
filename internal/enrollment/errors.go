// errors.go - Enrollment-level failure taxonomy.
//
// The service surfaces errors from every layer below it; ErrorCode collapses
// them to the stable code strings reported to clients. Transaction-pipeline
// codes pass through unchanged.

package enrollment

import (
	"errors"

	"enrollment/internal/chain"
	"enrollment/internal/circuits/eligibility"
	"enrollment/internal/commitment"
	"enrollment/internal/criteria"
	"enrollment/internal/txflow"
)

// Rejections raised by the enrollment service itself.
var (
	ErrNotEligible            = errors.New("proof attests ineligibility")
	ErrNotParticipant         = errors.New("wallet has no participation in study")
	ErrStudyNotRecruiting     = errors.New("study is not accepting participants")
	ErrStudyFull              = errors.New("study has reached its participant limit")
	ErrAlreadyJoined          = errors.New("wallet already joined study")
	ErrCommitmentUnregistered = errors.New("commitment not registered on ledger")
)

// Stable error code strings for the client surface.
const (
	CodeInvalidWallet          = "INVALID_WALLET"
	CodeInvalidSignature       = "INVALID_SIGNATURE"
	CodeCriteriaFormat         = "CRITERIA_FORMAT"
	CodeStudyNotFound          = "STUDY_NOT_FOUND"
	CodeStudyNotRecruiting     = "STUDY_NOT_RECRUITING"
	CodeStudyFull              = "STUDY_FULL"
	CodeAlreadyJoined          = "ALREADY_JOINED"
	CodeCommitmentNotFound     = "COMMITMENT_NOT_FOUND"
	CodeCommitmentMismatch     = "COMMITMENT_MISMATCH"
	CodeCommitmentUnregistered = "COMMITMENT_UNREGISTERED"
	CodeChallengeMismatch      = "CHALLENGE_MISMATCH"
	CodeChallengeExpired       = "CHALLENGE_EXPIRED"
	CodeProofAlreadySubmitted  = "PROOF_ALREADY_SUBMITTED"
	CodeBindingMismatch        = "BINDING_MISMATCH"
	CodeProofInvalid           = "PROOF_INVALID"
	CodeNotEligible            = "NOT_ELIGIBLE"
	CodeConfigurationError     = "CONFIGURATION_ERROR"
	CodeNotParticipant         = "NOT_PARTICIPANT"
	CodeInternal               = "INTERNAL"
)

// ErrorCode maps an enrollment error to its stable client-facing code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := txflow.Code(err); code != "" {
		return code
	}
	switch {
	case errors.Is(err, commitment.ErrInvalidWallet):
		return CodeInvalidWallet
	case errors.Is(err, commitment.ErrInvalidSignature):
		return CodeInvalidSignature
	case errors.Is(err, criteria.ErrCriteriaFormat):
		return CodeCriteriaFormat
	case errors.Is(err, chain.ErrStudyNotFound):
		return CodeStudyNotFound
	case errors.Is(err, ErrStudyNotRecruiting):
		return CodeStudyNotRecruiting
	case errors.Is(err, ErrStudyFull):
		return CodeStudyFull
	case errors.Is(err, ErrAlreadyJoined):
		return CodeAlreadyJoined
	case errors.Is(err, commitment.ErrNotFound):
		return CodeCommitmentNotFound
	case errors.Is(err, commitment.ErrCommitmentMismatch):
		return CodeCommitmentMismatch
	case errors.Is(err, ErrCommitmentUnregistered):
		return CodeCommitmentUnregistered
	case errors.Is(err, commitment.ErrChallengeMismatch):
		return CodeChallengeMismatch
	case errors.Is(err, commitment.ErrChallengeExpired):
		return CodeChallengeExpired
	case errors.Is(err, commitment.ErrProofAlreadySubmitted):
		return CodeProofAlreadySubmitted
	case errors.Is(err, commitment.ErrBindingMismatch):
		return CodeBindingMismatch
	case errors.Is(err, eligibility.ErrProofInvalid):
		return CodeProofInvalid
	case errors.Is(err, ErrNotEligible):
		return CodeNotEligible
	case errors.Is(err, ErrLayoutMismatch), errors.Is(err, eligibility.ErrSignalLength):
		return CodeConfigurationError
	case errors.Is(err, ErrNotParticipant):
		return CodeNotParticipant
	}
	return CodeInternal
}
