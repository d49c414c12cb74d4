// adapter.go - Challenge issuance and on-ledger commitment registration.
//
// State machine per (wallet, study):
//
//	NO_COMMITMENT -> CHALLENGE_ISSUED -> COMMITMENT_REGISTERED -> PROOF_SUBMITTED
//
// Expiry and single-use are enforced off-chain as the fast path; the
// on-ledger registration is idempotency-checked by the ledger itself, so
// the protocol stays safe even if the off-chain store is lost.

package commitment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"enrollment/internal/chain"
	"enrollment/internal/txflow"
)

// Domain rejections. Reported to the caller, never retried.
var (
	ErrInvalidWallet         = errors.New("invalid wallet address")
	ErrInvalidSignature      = errors.New("commitment signature verification failed")
	ErrCommitmentMismatch    = errors.New("commitment does not match the one on record")
	ErrChallengeMismatch     = errors.New("challenge does not match the issued one")
	ErrChallengeExpired      = errors.New("challenge expired")
	ErrProofAlreadySubmitted = errors.New("proof already submitted for this wallet and study")
	ErrBindingMismatch       = errors.New("commitment binding mismatch")
)

// Adapter issues single-use challenges and registers commitments on the
// ledger through the transaction orchestrator.
type Adapter struct {
	store Store
	orch  *txflow.Orchestrator
	ttl   time.Duration
	now   func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock injects a time source for deterministic expiry tests.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter builds an adapter over the given store and orchestrator. ttl is
// the challenge lifetime.
func NewAdapter(store Store, orch *txflow.Orchestrator, ttl time.Duration, opts ...Option) *Adapter {
	a := &Adapter{store: store, orch: orch, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssueChallenge validates the participant's signature over the unregistered
// commitment and returns the active challenge row for (wallet, study).
// Idempotent while the existing challenge is unexpired and unconsumed; an
// expired unconsumed row is deleted and re-created with a fresh challenge.
func (a *Adapter) IssueChallenge(studyID uint64, wallet, dataCommitment string, signature []byte) (*DataCommitment, error) {
	if !ValidWallet(wallet) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWallet, wallet)
	}
	if err := a.verifySignature(studyID, wallet, dataCommitment, signature); err != nil {
		return nil, err
	}

	now := a.now()
	existing, err := a.store.Get(wallet, studyID)
	switch {
	case err == nil:
		if existing.ProofSubmitted {
			return nil, ErrProofAlreadySubmitted
		}
		if !existing.Expired(now) {
			if existing.Commitment != dataCommitment {
				return nil, ErrCommitmentMismatch
			}
			return existing, nil
		}
		// Expired and unconsumed: replace, never update in place.
		if err := a.store.Delete(wallet, studyID); err != nil {
			return nil, fmt.Errorf("replacing expired commitment: %w", err)
		}
	case errors.Is(err, ErrNotFound):
		// first challenge request for this pair
	default:
		return nil, fmt.Errorf("loading commitment row: %w", err)
	}

	row := &DataCommitment{
		Wallet:     wallet,
		StudyID:    studyID,
		Commitment: dataCommitment,
		Challenge:  newChallenge(),
		ExpiresAt:  now.Add(a.ttl),
		CreatedAt:  now,
	}
	if err := a.store.Put(row); err != nil {
		return nil, fmt.Errorf("storing commitment row: %w", err)
	}
	return row, nil
}

// RegisterOnChain computes the binding hash for the stored challenge and
// submits the commitment record to the ledger. Returns the receipt and the
// binding value that was registered.
func (a *Adapter) RegisterOnChain(ctx context.Context, studyID uint64, wallet string) (*chain.Receipt, string, error) {
	row, err := a.store.Get(wallet, studyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("loading commitment row: %w", err)
	}
	if row.ProofSubmitted {
		return nil, "", ErrProofAlreadySubmitted
	}
	if row.Expired(a.now()) {
		return nil, "", ErrChallengeExpired
	}

	binding, err := BindingHash(wallet, row.Commitment, row.Challenge)
	if err != nil {
		return nil, "", err
	}
	receipt, err := a.orch.Execute(ctx, chain.Call{
		Method: chain.MethodRegisterCommitment,
		Sender: wallet,
		Args: []interface{}{chain.RegisterCommitmentArgs{
			StudyID:   studyID,
			Wallet:    wallet,
			Binding:   binding,
			Challenge: row.Challenge,
		}},
	})
	if err != nil {
		return receipt, "", err
	}
	return receipt, binding, nil
}

// Row returns the stored commitment row for (wallet, study).
func (a *Adapter) Row(wallet string, studyID uint64) (*DataCommitment, error) {
	return a.store.Get(wallet, studyID)
}

// Consume marks the row's proof as submitted. Called exactly once, by the
// enrollment flow, after the final ledger write succeeds.
func (a *Adapter) Consume(wallet string, studyID uint64) error {
	return a.store.MarkProofSubmitted(wallet, studyID)
}

func (a *Adapter) verifySignature(studyID uint64, wallet, dataCommitment string, signature []byte) error {
	pkBytes, err := hex.DecodeString(wallet)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidWallet, wallet)
	}
	pub, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	digest, err := CommitmentDigest(studyID, dataCommitment)
	if err != nil {
		return err
	}
	if !sig.Verify(digest[:], pub) {
		return ErrInvalidSignature
	}
	return nil
}

// newChallenge draws a fresh 32-byte challenge. Challenges are never reused
// across participants or studies.
func newChallenge() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
