// outputs.go - Interpretation of the proof's public output vector.
//
// Layout v1: signal 0 is the eligibility flag, signals 1..50 are the
// bin-membership bitmap in bin numericId order. The vector width is fixed at
// 51 regardless of how many bins a study actually configured; slots past the
// study's bin count must be zero.

package enrollment

import (
	"errors"
	"fmt"

	"enrollment/internal/circuits/eligibility"
)

// ErrLayoutMismatch marks a public output vector inconsistent with the
// study's bin layout. This is a configuration failure on the submitting
// side, distinct from an invalid proof.
var ErrLayoutMismatch = errors.New("public outputs inconsistent with bin layout")

// ExtractOutcome validates the raw signal vector against the study's bin
// count and returns the eligibility verdict plus the numericIds of every set
// membership bit.
func ExtractOutcome(signals []uint64, binCount int) (bool, []int, error) {
	if len(signals) != eligibility.SignalLen {
		return false, nil, fmt.Errorf("%w: %d signals, want %d", ErrLayoutMismatch, len(signals), eligibility.SignalLen)
	}
	if signals[0] > 1 {
		return false, nil, fmt.Errorf("%w: eligibility signal %d is not a bit", ErrLayoutMismatch, signals[0])
	}
	var binIDs []int
	for i, bit := range signals[1:] {
		switch {
		case bit == 0:
			continue
		case bit > 1:
			return false, nil, fmt.Errorf("%w: signal %d value %d is not a bit", ErrLayoutMismatch, i+1, bit)
		case i >= binCount:
			return false, nil, fmt.Errorf("%w: bit set for bin %d, study has %d bins", ErrLayoutMismatch, i, binCount)
		}
		binIDs = append(binIDs, i)
	}
	return signals[0] == 1, binIDs, nil
}
