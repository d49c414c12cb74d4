// verifier.go - Proof verification against a ledger-reconstructed statement.
//
// The verifier never trusts the submitter's view of the public inputs: the
// criteria encoding, bin layout, commitment, and challenge all come from the
// ledger, and only the 51-element output vector comes from the submission.
// A proof generated against different criteria, a different layout, or a
// stale challenge therefore fails verification outright.

package eligibility

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"enrollment/internal/bins"
)

// ErrProofInvalid marks a proof that failed cryptographic verification.
var ErrProofInvalid = errors.New("eligibility proof invalid")

// ErrSignalLength marks a public signal vector of the wrong width. This is a
// configuration-level failure, distinct from proof validity.
var ErrSignalLength = errors.New("public signal vector has wrong length")

// Verifier checks eligibility proofs against a public statement.
type Verifier interface {
	VerifyProof(proof []byte, signals []uint64, stmt Statement) error
}

// Groth16Verifier verifies proofs with the process verifying key.
type Groth16Verifier struct {
	keys *ProvingKeys
}

// NewVerifier builds a verifier over the given keys; nil keys lazily run the
// cached setup on first use.
func NewVerifier(keys *ProvingKeys) *Groth16Verifier {
	return &Groth16Verifier{keys: keys}
}

// VerifyProof checks the proof against the statement and the submitted
// output vector.
func (v *Groth16Verifier) VerifyProof(proofBytes []byte, signals []uint64, stmt Statement) error {
	if len(signals) != SignalLen {
		return fmt.Errorf("%w: got %d, want %d", ErrSignalLength, len(signals), SignalLen)
	}
	keys := v.keys
	if keys == nil {
		var err error
		keys, err = Setup()
		if err != nil {
			return err
		}
	}

	assignment, err := publicAssignment(stmt)
	if err != nil {
		return err
	}
	assignment.Eligible = signals[0]
	for k := 0; k < bins.MaxBins; k++ {
		assignment.Bits[k] = signals[1+k]
	}

	pubWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("%w: proof deserialization failed: %v", ErrProofInvalid, err)
	}
	if err := groth16.Verify(proof, keys.VK, pubWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	return nil
}
