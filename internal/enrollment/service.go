// service.go - Enrollment orchestration: study deployment, proof intake,
// join, and consent.
//
// SubmitParticipation is deliberately ordered cheap-to-expensive: local row
// checks, then ledger reads, then signal-layout validation, then the
// cryptographic verification, and only then the join transaction. A
// participation row is persisted strictly after the join confirms; a
// reverted join leaves no local state behind, so the submission can be
// retried once the cause is resolved.

package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"enrollment/internal/bins"
	"enrollment/internal/chain"
	"enrollment/internal/circuits/eligibility"
	"enrollment/internal/commitment"
	"enrollment/internal/criteria"
	"enrollment/internal/txflow"
)

// Ledger is the full ledger surface the service needs: transaction
// submission plus read access to study state.
type Ledger interface {
	chain.Client
	chain.StudyReader
}

// Service wires the commitment adapter, the proof verifier, and the
// transaction orchestrator into the enrollment operations.
type Service struct {
	ledger   Ledger
	orch     *txflow.Orchestrator
	adapter  *commitment.Adapter
	verifier eligibility.Verifier
	store    ParticipationStore
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock injects a time source for deterministic tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService builds the enrollment service.
func NewService(ledger Ledger, orch *txflow.Orchestrator, adapter *commitment.Adapter, verifier eligibility.Verifier, store ParticipationStore, opts ...ServiceOption) *Service {
	s := &Service{
		ledger:   ledger,
		orch:     orch,
		adapter:  adapter,
		verifier: verifier,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeployStudy encodes the criteria, compiles the bin layout, and submits the
// createStudy and configureBins transactions. Returns the compiled bin set
// so the caller can publish it to participants.
func (s *Service) DeployStudy(ctx context.Context, creator string, studyID uint64, c *criteria.EligibilityCriteria, maxParticipants int, opts bins.Options) (*bins.BinSet, error) {
	enc, _, err := criteria.Encode(c)
	if err != nil {
		return nil, err
	}
	set, err := bins.Compile(c, opts)
	if err != nil {
		return nil, err
	}
	if _, err := s.orch.Execute(ctx, chain.Call{
		Method: chain.MethodCreateStudy,
		Sender: creator,
		Args: []interface{}{chain.CreateStudyArgs{
			StudyID:         studyID,
			Criteria:        enc,
			MaxParticipants: maxParticipants,
		}},
	}); err != nil {
		return nil, err
	}
	if _, err := s.orch.Execute(ctx, chain.Call{
		Method: chain.MethodConfigureBins,
		Sender: creator,
		Args: []interface{}{chain.ConfigureBinsArgs{
			StudyID:  studyID,
			Bins:     set.Bins,
			LayoutID: set.LayoutID,
		}},
	}); err != nil {
		return nil, err
	}
	return set, nil
}

// CloseStudy stops recruitment for a study.
func (s *Service) CloseStudy(ctx context.Context, creator string, studyID uint64) (string, error) {
	receipt, err := s.orch.Execute(ctx, chain.Call{
		Method: chain.MethodCloseStudy,
		Sender: creator,
		Args:   []interface{}{chain.CloseStudyArgs{StudyID: studyID}},
	})
	if err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

// SubmitRequest is one proof submission.
type SubmitRequest struct {
	StudyID       uint64
	Wallet        string
	Proof         []byte
	PublicSignals []uint64
	Commitment    string
	Challenge     string
}

// SubmitParticipation runs the full enrollment pipeline for a submitted
// proof and returns the confirmed participation record.
func (s *Service) SubmitParticipation(ctx context.Context, req SubmitRequest) (*StudyParticipation, error) {
	if !commitment.ValidWallet(req.Wallet) {
		return nil, fmt.Errorf("%w: %q", commitment.ErrInvalidWallet, req.Wallet)
	}

	// The submission must quote the exact commitment and challenge on
	// record. A challenge that expired and was re-issued since the proof
	// was generated shows up here as a mismatch.
	row, err := s.adapter.Row(req.Wallet, req.StudyID)
	if err != nil {
		return nil, err
	}
	if row.ProofSubmitted {
		return nil, commitment.ErrProofAlreadySubmitted
	}
	if row.Commitment != req.Commitment {
		return nil, commitment.ErrCommitmentMismatch
	}
	if row.Challenge != req.Challenge {
		return nil, commitment.ErrChallengeMismatch
	}
	if row.Expired(s.now()) {
		return nil, commitment.ErrChallengeExpired
	}

	info, err := s.ledger.Study(ctx, req.StudyID)
	if err != nil {
		return nil, err
	}
	if info.Status != chain.StudyRecruiting {
		return nil, ErrStudyNotRecruiting
	}
	joined, err := s.ledger.HasJoined(ctx, req.StudyID, req.Wallet)
	if err != nil {
		return nil, err
	}
	if joined {
		return nil, ErrAlreadyJoined
	}
	if info.CurrentParticipants >= info.MaxParticipants {
		return nil, ErrStudyFull
	}
	if len(info.Bins) == 0 {
		return nil, fmt.Errorf("%w: study has no bin layout", ErrLayoutMismatch)
	}

	eligible, binIDs, err := ExtractOutcome(req.PublicSignals, len(info.Bins))
	if err != nil {
		return nil, err
	}

	// Re-derive the binding and cross-check it against what registration
	// put on the ledger. Any drift means the commitment or challenge
	// changed since registration.
	onBinding, onChallenge, registered, err := s.ledger.Commitment(ctx, req.StudyID, req.Wallet)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrCommitmentUnregistered
	}
	if onChallenge != row.Challenge {
		return nil, commitment.ErrChallengeMismatch
	}
	binding, err := commitment.BindingHash(req.Wallet, row.Commitment, row.Challenge)
	if err != nil {
		return nil, err
	}
	if binding != onBinding {
		return nil, commitment.ErrBindingMismatch
	}

	if err := s.verifier.VerifyProof(req.Proof, req.PublicSignals, eligibility.Statement{
		Criteria:   info.Criteria,
		Bins:       info.Bins,
		Commitment: row.Commitment,
		Challenge:  row.Challenge,
	}); err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrNotEligible
	}

	receipt, err := s.orch.Execute(ctx, chain.Call{
		Method: chain.MethodJoinStudy,
		Sender: req.Wallet,
		Args: []interface{}{chain.JoinStudyArgs{
			StudyID:   req.StudyID,
			Wallet:    req.Wallet,
			Proof:     req.Proof,
			Binding:   binding,
			Challenge: row.Challenge,
			BinIDs:    binIDs,
		}},
	})
	if err != nil {
		return nil, err
	}

	part := &StudyParticipation{
		Wallet:        req.Wallet,
		StudyID:       req.StudyID,
		TxHash:        receipt.TxHash,
		Binding:       binding,
		Proof:         req.Proof,
		PublicSignals: req.PublicSignals,
		BinIDs:        binIDs,
		Consent:       true,
		JoinedAt:      s.now(),
	}
	if err := s.store.Put(part); err != nil {
		return nil, fmt.Errorf("persisting participation: %w", err)
	}
	if err := s.adapter.Consume(req.Wallet, req.StudyID); err != nil {
		return nil, fmt.Errorf("consuming commitment row: %w", err)
	}
	return part, nil
}

// GrantConsent re-enables aggregate inclusion for a participant. Returns the
// transaction hash, or an empty hash if no transaction was needed.
func (s *Service) GrantConsent(ctx context.Context, studyID uint64, wallet string) (string, error) {
	return s.setConsent(ctx, studyID, wallet, true)
}

// RevokeConsent withdraws a participant from aggregate inclusion.
func (s *Service) RevokeConsent(ctx context.Context, studyID uint64, wallet string) (string, error) {
	return s.setConsent(ctx, studyID, wallet, false)
}

func (s *Service) setConsent(ctx context.Context, studyID uint64, wallet string, granted bool) (string, error) {
	joined, err := s.ledger.HasJoined(ctx, studyID, wallet)
	if err != nil {
		// A study that never made it onto the ledger has no on-chain flag
		// to flip; record the change on the local row only. A wallet with
		// no local row either is still not a participant.
		if errors.Is(err, chain.ErrStudyNotFound) {
			return "", s.setLocalConsent(wallet, studyID, granted)
		}
		return "", err
	}
	if !joined {
		return "", ErrNotParticipant
	}
	current, err := s.ledger.ConsentOf(ctx, studyID, wallet)
	if err != nil {
		return "", err
	}
	if current == granted {
		return "", nil
	}

	method := chain.MethodGrantConsent
	if !granted {
		method = chain.MethodRevokeConsent
	}
	receipt, err := s.orch.Execute(ctx, chain.Call{
		Method: method,
		Sender: wallet,
		Args:   []interface{}{chain.ConsentArgs{StudyID: studyID, Wallet: wallet}},
	})
	if err != nil {
		return "", err
	}
	// Keep the local record in step with the ledger. A wallet that joined
	// through another service instance has no local row; that is fine.
	if err := s.setLocalConsent(wallet, studyID, granted); err != nil && !errors.Is(err, ErrNotParticipant) {
		return "", err
	}
	return receipt.TxHash, nil
}

func (s *Service) setLocalConsent(wallet string, studyID uint64, granted bool) error {
	row, err := s.store.Get(wallet, studyID)
	if err != nil {
		if errors.Is(err, ErrParticipationNotFound) {
			return ErrNotParticipant
		}
		return err
	}
	if row.Consent == granted {
		return nil
	}
	row.Consent = granted
	if err := s.store.Put(row); err != nil {
		return fmt.Errorf("persisting consent change: %w", err)
	}
	return nil
}

// BinCounts returns the aggregate per-bin participant counters.
func (s *Service) BinCounts(ctx context.Context, studyID uint64) ([]uint64, error) {
	return s.ledger.BinCounts(ctx, studyID)
}

// Participation returns the local participation record, if any.
func (s *Service) Participation(wallet string, studyID uint64) (*StudyParticipation, error) {
	return s.store.Get(wallet, studyID)
}

// Study returns the ledger's read-only view of a study.
func (s *Service) Study(ctx context.Context, studyID uint64) (*chain.StudyInfo, error) {
	return s.ledger.Study(ctx, studyID)
}
