// prover.go - Groth16 setup and proof generation for the eligibility
// circuit.
//
// The trusted setup is expensive and key material is immutable for a given
// circuit, so keys are compiled once per process and cached behind a mutex.

package eligibility

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"enrollment/internal/bins"
	"enrollment/internal/criteria"
)

// ProvingKeys holds the compiled constraint system and Groth16 key pair.
type ProvingKeys struct {
	PK  groth16.ProvingKey
	VK  groth16.VerifyingKey
	CCS constraint.ConstraintSystem
}

var (
	cachedKeys *ProvingKeys
	keysMutex  sync.Mutex
)

// Setup compiles the circuit and runs the Groth16 setup, caching the result
// for the process lifetime.
func Setup() (*ProvingKeys, error) {
	keysMutex.Lock()
	defer keysMutex.Unlock()

	if cachedKeys != nil {
		return cachedKeys, nil
	}

	var c Circuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &c)
	if err != nil {
		return nil, fmt.Errorf("eligibility circuit compilation failed: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}

	cachedKeys = &ProvingKeys{PK: pk, VK: vk, CCS: ccs}
	return cachedKeys, nil
}

// Attributes are one participant's private medical attributes in natural
// units. Range fields are decimal values, categorical fields are codes from
// the field's universe.
type Attributes struct {
	Age             float64
	Gender          int64
	BMI             float64
	Smoking         int64
	Alcohol         int64
	Activity        int64
	Diabetes        int64
	HeartDisease    int64
	Hypertension    int64
	HbA1c           float64
	BloodType       int64
	MedicationCount float64
	PriorSurgeries  float64
	Region          int64
	ChronicPain     int64
}

// CircuitValues converts the attributes into circuit units: range values at
// CircuitScale fixed point, categorical codes unscaled, in canonical field
// order.
func (a *Attributes) CircuitValues() ([criteria.NumFields]int64, error) {
	rangeVals := map[criteria.FieldID]float64{
		criteria.FieldAge:             a.Age,
		criteria.FieldBMI:             a.BMI,
		criteria.FieldHbA1c:           a.HbA1c,
		criteria.FieldMedicationCount: a.MedicationCount,
		criteria.FieldPriorSurgeries:  a.PriorSurgeries,
	}
	catVals := map[criteria.FieldID]int64{
		criteria.FieldGender:       a.Gender,
		criteria.FieldSmoking:      a.Smoking,
		criteria.FieldAlcohol:      a.Alcohol,
		criteria.FieldActivity:     a.Activity,
		criteria.FieldDiabetes:     a.Diabetes,
		criteria.FieldHeartDisease: a.HeartDisease,
		criteria.FieldHypertension: a.Hypertension,
		criteria.FieldBloodType:    a.BloodType,
		criteria.FieldRegion:       a.Region,
		criteria.FieldChronicPain:  a.ChronicPain,
	}

	var out [criteria.NumFields]int64
	for _, spec := range criteria.Fields() {
		switch spec.Kind {
		case criteria.KindRange:
			v := rangeVals[spec.ID]
			if v < spec.Floor || v > spec.Ceil {
				return out, fmt.Errorf("attribute %s value %v outside [%v, %v]", spec.Name, v, spec.Floor, spec.Ceil)
			}
			out[spec.ID] = int64(math.Round(v * CircuitScale))
		case criteria.KindCategorical:
			code := catVals[spec.ID]
			found := false
			for _, u := range spec.Universe {
				if u == code {
					found = true
					break
				}
			}
			if !found {
				return out, fmt.Errorf("attribute %s code %d not in universe", spec.Name, code)
			}
			out[spec.ID] = code
		}
	}
	return out, nil
}

// ComputeCommitment computes C = MiMC(salt, v_0 .. v_14) natively, matching
// the in-circuit opening byte for byte. The salt is reduced into the scalar
// field before hashing.
func ComputeCommitment(values [criteria.NumFields]int64, salt []byte) string {
	h := mimcNative.NewMiMC()
	var saltFe fr.Element
	saltFe.SetBytes(salt)
	h.Write(saltFe.Marshal())
	for _, v := range values {
		var fe fr.Element
		fe.SetInt64(v)
		h.Write(fe.Marshal())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Statement is the public half of one proof: the study's ledger-encoded
// criteria and bin layout plus the participant's commitment and challenge.
type Statement struct {
	Criteria   *criteria.LedgerCriteria
	Bins       []bins.DataBin
	Commitment string
	Challenge  string
}

// ProofResult is the serialized proof together with the 51-element public
// output vector (eligibility flag, then one bit per bin slot).
type ProofResult struct {
	Proof         []byte
	PublicSignals []uint64
	ProvingTime   time.Duration
	Constraints   int
}

// Prove generates an eligibility proof for the given statement and private
// attributes. The commitment inside the statement must open to (values,
// salt); a mismatch is rejected before any proving work.
func Prove(keys *ProvingKeys, stmt Statement, values [criteria.NumFields]int64, salt []byte) (*ProofResult, error) {
	if keys == nil {
		var err error
		keys, err = Setup()
		if err != nil {
			return nil, err
		}
	}
	if got := ComputeCommitment(values, salt); got != stmt.Commitment {
		return nil, fmt.Errorf("commitment does not open to the provided values")
	}

	assignment, err := publicAssignment(stmt)
	if err != nil {
		return nil, err
	}
	eligible, bits := EvaluateOutputs(stmt.Criteria, stmt.Bins, values)
	assignment.Eligible = eligible
	for k := 0; k < bins.MaxBins; k++ {
		assignment.Bits[k] = bits[k]
	}
	for i, v := range values {
		assignment.Values[i] = v
	}
	var saltFe fr.Element
	saltFe.SetBytes(salt)
	assignment.Salt = saltFe.BigInt(new(big.Int))

	start := time.Now()
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(keys.CCS, keys.PK, witness)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof serialization failed: %w", err)
	}

	signals := make([]uint64, 0, SignalLen)
	signals = append(signals, eligible)
	signals = append(signals, bits[:]...)
	return &ProofResult{
		Proof:         buf.Bytes(),
		PublicSignals: signals,
		ProvingTime:   time.Since(start),
		Constraints:   keys.CCS.GetNbConstraints(),
	}, nil
}

// EvaluateOutputs computes the eligibility flag and bin bitmap natively,
// mirroring the in-circuit logic exactly. Used by the prover to fill the
// output wires and by tests as the reference evaluation.
func EvaluateOutputs(enc *criteria.LedgerCriteria, binList []bins.DataBin, values [criteria.NumFields]int64) (uint64, [bins.MaxBins]uint64) {
	eligible := uint64(1)
	for _, spec := range criteria.Fields() {
		lf := enc.Fields[spec.ID]
		if lf.Enabled == 0 {
			continue
		}
		v := values[spec.ID]
		ok := false
		switch spec.Kind {
		case criteria.KindRange:
			lo, hi := circuitBound(spec, lf.Min), circuitBound(spec, lf.Max)
			ok = lo <= v && v <= hi
		case criteria.KindCategorical:
			allZero := true
			for _, code := range lf.Codes {
				if code == 0 {
					continue
				}
				allZero = false
				if v == code {
					ok = true
				}
			}
			if allZero {
				ok = true
			}
		}
		if !ok {
			eligible = 0
		}
	}

	var bits [bins.MaxBins]uint64
	for k, b := range binList {
		if k >= bins.MaxBins {
			break
		}
		v := values[b.Field]
		lo, hi, incLo, incHi := binInterval(b)
		loOK := v > lo || (incLo && v == lo)
		hiOK := v < hi || (incHi && v == hi)
		if loOK && hiOK {
			bits[k] = 1
		}
	}
	return eligible, bits
}

// publicAssignment fills the public section of the circuit from a statement.
// Output wires and the private witness stay unset.
func publicAssignment(stmt Statement) (*Circuit, error) {
	if stmt.Criteria == nil || len(stmt.Criteria.Fields) != criteria.NumFields {
		return nil, fmt.Errorf("incomplete criteria encoding")
	}
	if len(stmt.Bins) > bins.MaxBins {
		return nil, fmt.Errorf("bin layout holds %d bins, statement has %d", bins.MaxBins, len(stmt.Bins))
	}

	c := &Circuit{}
	for _, spec := range criteria.Fields() {
		lf := stmt.Criteria.Fields[spec.ID]
		i := int(spec.ID)
		c.Enabled[i] = lf.Enabled
		switch spec.Kind {
		case criteria.KindRange:
			c.MinBounds[i] = circuitBound(spec, lf.Min)
			c.MaxBounds[i] = circuitBound(spec, lf.Max)
			for j := 0; j < criteria.CategorySlots; j++ {
				c.Codes[i][j] = 0
			}
		case criteria.KindCategorical:
			c.MinBounds[i] = 0
			c.MaxBounds[i] = 0
			for j := 0; j < criteria.CategorySlots; j++ {
				c.Codes[i][j] = lf.Codes[j]
			}
		}
	}

	for k := 0; k < bins.MaxBins; k++ {
		if k >= len(stmt.Bins) {
			c.BinActive[k] = 0
			c.BinField[k] = 0
			c.BinMin[k] = 0
			c.BinMax[k] = 0
			c.BinIncMin[k] = 0
			c.BinIncMax[k] = 0
			continue
		}
		b := stmt.Bins[k]
		lo, hi, incLo, incHi := binInterval(b)
		c.BinActive[k] = 1
		c.BinField[k] = int(b.Field)
		c.BinMin[k] = lo
		c.BinMax[k] = hi
		c.BinIncMin[k] = boolBit(incLo)
		c.BinIncMax[k] = boolBit(incHi)
	}

	commitment, err := hexToField(stmt.Commitment)
	if err != nil {
		return nil, fmt.Errorf("bad commitment hex: %w", err)
	}
	challenge, err := hexToField(stmt.Challenge)
	if err != nil {
		return nil, fmt.Errorf("bad challenge hex: %w", err)
	}
	c.Commitment = commitment
	c.Challenge = challenge
	return c, nil
}

// binInterval maps a bin to circuit units. Categorical bins carry a single
// code and become the closed interval [code, code].
func binInterval(b bins.DataBin) (lo, hi int64, incLo, incHi bool) {
	if b.Kind == bins.BinCategorical {
		code := int64(0)
		if len(b.Categories) > 0 {
			code = b.Categories[0]
		}
		return code, code, true, true
	}
	lo = int64(math.Round(b.MinValue * CircuitScale))
	hi = int64(math.Round(b.MaxValue * CircuitScale))
	return lo, hi, b.IncludeMin, b.IncludeMax
}

// circuitBound rescales a ledger bound from the field's encoding scale to
// the uniform circuit scale.
func circuitBound(spec criteria.FieldSpec, ledgerVal int64) int64 {
	return ledgerVal * (CircuitScale / spec.Scale())
}

// hexToField reduces a hex string into the BN254 scalar field, matching the
// reduction the native hashes apply.
func hexToField(s string) (*big.Int, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var fe fr.Element
	fe.SetBytes(raw)
	return fe.BigInt(new(big.Int)), nil
}

func boolBit(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
