// circuit.go - Groth16 eligibility circuit over BN254.
//
// The circuit proves, against a committed set of private medical attributes:
//
//  1. knowledge of the attribute values and salt behind the public
//     commitment C = MiMC(salt, v_0 .. v_14),
//  2. the study's eligibility verdict over those values, and
//  3. the bin-membership bit for each of the study's published bins,
//
// without revealing any attribute. The criteria encoding and the bin layout
// are public inputs reconstructed by the verifier from the ledger, so a
// proof can never be replayed against a study with different criteria.
//
// Field kinds are static: the canonical field registry fixes which indices
// are range fields and which are categorical, so the per-field constraint
// shape is decided at compile time, not in-circuit.

package eligibility

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/selector"

	"enrollment/internal/bins"
	"enrollment/internal/criteria"
)

// CircuitScale is the uniform fixed-point scale for range values inside the
// circuit. Every range field's encoding scale divides it, so ledger bounds
// and participant values convert without loss. Categorical codes are carried
// unscaled.
const CircuitScale = 100

// SignalLen is the length of the public output vector: the eligibility flag
// followed by one membership bit per bin slot.
const SignalLen = 1 + bins.MaxBins

// Circuit is the eligibility statement. Public section order is load-bearing
// for witness reconstruction; never reorder fields.
type Circuit struct {
	// Criteria encoding, one entry per canonical field.
	Enabled   [criteria.NumFields]frontend.Variable                         `gnark:",public"`
	MinBounds [criteria.NumFields]frontend.Variable                         `gnark:",public"`
	MaxBounds [criteria.NumFields]frontend.Variable                         `gnark:",public"`
	Codes     [criteria.NumFields][criteria.CategorySlots]frontend.Variable `gnark:",public"`

	// Bin layout, fixed width. Inactive slots are all-zero.
	BinActive [bins.MaxBins]frontend.Variable `gnark:",public"`
	BinField  [bins.MaxBins]frontend.Variable `gnark:",public"`
	BinMin    [bins.MaxBins]frontend.Variable `gnark:",public"`
	BinMax    [bins.MaxBins]frontend.Variable `gnark:",public"`
	BinIncMin [bins.MaxBins]frontend.Variable `gnark:",public"`
	BinIncMax [bins.MaxBins]frontend.Variable `gnark:",public"`

	// Commitment and the single-use challenge the proof is bound to.
	Commitment frontend.Variable `gnark:",public"`
	Challenge  frontend.Variable `gnark:",public"`

	// Outputs: the eligibility verdict and the membership bitmap.
	Eligible frontend.Variable                `gnark:",public"`
	Bits     [bins.MaxBins]frontend.Variable `gnark:",public"`

	// Private witness.
	Values [criteria.NumFields]frontend.Variable
	Salt   frontend.Variable
}

func (c *Circuit) Define(api frontend.API) error {
	// Commitment opening: C = MiMC(salt, values).
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Salt)
	for i := 0; i < criteria.NumFields; i++ {
		h.Write(c.Values[i])
	}
	api.AssertIsEqual(h.Sum(), c.Commitment)

	// The challenge carries no arithmetic relation of its own; anchoring it
	// keeps the wire in the statement so replaying the proof under another
	// challenge changes the public witness and fails verification.
	api.AssertIsEqual(api.Mul(c.Challenge, 1), c.Challenge)

	// Per-field predicate satisfaction. Disabled predicates are always true.
	eligible := frontend.Variable(1)
	for _, spec := range criteria.Fields() {
		i := int(spec.ID)
		api.AssertIsBoolean(c.Enabled[i])

		var ok frontend.Variable
		switch spec.Kind {
		case criteria.KindRange:
			ok = api.Mul(
				lessOrEqual(api, c.MinBounds[i], c.Values[i]),
				lessOrEqual(api, c.Values[i], c.MaxBounds[i]),
			)
			// Range fields never use the allow-list slots.
			for j := 0; j < criteria.CategorySlots; j++ {
				api.AssertIsEqual(c.Codes[i][j], 0)
			}
		case criteria.KindCategorical:
			ok = categoricalMatch(api, c.Values[i], c.Codes[i])
			// Categorical fields never use the bound slots.
			api.AssertIsEqual(c.MinBounds[i], 0)
			api.AssertIsEqual(c.MaxBounds[i], 0)
		}

		satisfied := api.Select(c.Enabled[i], ok, 1)
		eligible = api.Mul(eligible, satisfied)
	}
	api.AssertIsEqual(eligible, c.Eligible)

	// Bin membership. Every bin, categorical ones included, is a closed or
	// half-open interval over the value selected by its field index.
	vals := make([]frontend.Variable, criteria.NumFields)
	for i := range vals {
		vals[i] = c.Values[i]
	}
	for k := 0; k < bins.MaxBins; k++ {
		api.AssertIsBoolean(c.BinActive[k])
		api.AssertIsBoolean(c.BinIncMin[k])
		api.AssertIsBoolean(c.BinIncMax[k])

		v := selector.Mux(api, c.BinField[k], vals...)
		lo := api.Select(c.BinIncMin[k],
			lessOrEqual(api, c.BinMin[k], v),
			lessThan(api, c.BinMin[k], v),
		)
		hi := api.Select(c.BinIncMax[k],
			lessOrEqual(api, v, c.BinMax[k]),
			lessThan(api, v, c.BinMax[k]),
		)
		bit := api.Mul(c.BinActive[k], api.Mul(lo, hi))
		api.AssertIsEqual(bit, c.Bits[k])
	}
	return nil
}

// lessOrEqual returns 1 iff a <= b. api.Cmp yields 1 exactly when a > b;
// both operands are small scaled integers, far below the comparison bound.
func lessOrEqual(api frontend.API, a, b frontend.Variable) frontend.Variable {
	cmp := api.Cmp(a, b)
	return api.Sub(1, api.IsZero(api.Sub(cmp, 1)))
}

// lessThan returns 1 iff a < b (api.Cmp yields -1).
func lessThan(api frontend.API, a, b frontend.Variable) frontend.Variable {
	cmp := api.Cmp(a, b)
	return api.IsZero(api.Add(cmp, 1))
}

// categoricalMatch returns 1 iff the allow-list is the all-zero wildcard or
// the value equals one of its non-zero codes.
func categoricalMatch(api frontend.API, v frontend.Variable, codes [criteria.CategorySlots]frontend.Variable) frontend.Variable {
	allZero := frontend.Variable(1)
	match := frontend.Variable(0)
	for j := 0; j < criteria.CategorySlots; j++ {
		zero := api.IsZero(codes[j])
		allZero = api.Mul(allZero, zero)
		hit := api.Mul(api.IsZero(api.Sub(v, codes[j])), api.Sub(1, zero))
		match = or(api, match, hit)
	}
	return or(api, allZero, match)
}

func or(api frontend.API, a, b frontend.Variable) frontend.Variable {
	return api.Sub(api.Add(a, b), api.Mul(a, b))
}
