package eligibility

import (
	"errors"
	"testing"

	"enrollment/internal/bins"
	"enrollment/internal/criteria"
)

func testCriteria() *criteria.EligibilityCriteria {
	return &criteria.EligibilityCriteria{
		Age:       criteria.RangePredicate{Enabled: true, Min: 18, Max: 65},
		BloodType: criteria.CategoricalPredicate{Enabled: true, Allowed: []int64{1, 7}},
	}
}

func testStatement(t *testing.T, commitment, challenge string) (Statement, *criteria.LedgerCriteria, []bins.DataBin) {
	t.Helper()
	enc, _, err := criteria.Encode(testCriteria())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	set, err := bins.Compile(testCriteria(), bins.DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return Statement{
		Criteria:   enc,
		Bins:       set.Bins,
		Commitment: commitment,
		Challenge:  challenge,
	}, enc, set.Bins
}

func testValues(t *testing.T, age float64, bloodType int64) [criteria.NumFields]int64 {
	t.Helper()
	attrs := &Attributes{
		Age: age, Gender: 1, BMI: 24, Smoking: 1, Alcohol: 1, Activity: 2,
		Diabetes: 2, HeartDisease: 2, Hypertension: 2, HbA1c: 5.4,
		BloodType: bloodType, MedicationCount: 1, PriorSurgeries: 0,
		Region: 3, ChronicPain: 2,
	}
	values, err := attrs.CircuitValues()
	if err != nil {
		t.Fatalf("CircuitValues failed: %v", err)
	}
	return values
}

func TestEvaluateOutputs(t *testing.T) {
	values := testValues(t, 40, 7)
	_, enc, binList := testStatement(t, "00", "00")

	eligible, bits := EvaluateOutputs(enc, binList, values)
	if eligible != 1 {
		t.Fatal("age 40 blood type 7 should be eligible")
	}

	// Age [18, 65] compiles to four bins; 40 lands in the second one
	// [29.75, 41.5). Blood type 7 is the second of the two category bins.
	want := map[int]uint64{0: 0, 1: 1, 2: 0, 3: 0, 4: 0, 5: 1}
	for k, wantBit := range want {
		if bits[k] != wantBit {
			t.Errorf("bit[%d] = %d, want %d", k, bits[k], wantBit)
		}
	}
}

func TestEvaluateOutputsIneligible(t *testing.T) {
	values := testValues(t, 70, 7)
	_, enc, binList := testStatement(t, "00", "00")

	eligible, bits := EvaluateOutputs(enc, binList, values)
	if eligible != 0 {
		t.Fatal("age 70 should fail the [18, 65] predicate")
	}
	// Out of every age bin, still inside the blood-type bin.
	for k := 0; k < 4; k++ {
		if bits[k] != 0 {
			t.Errorf("age bit[%d] set for out-of-range value", k)
		}
	}
	if bits[5] != 1 {
		t.Error("blood-type membership is independent of eligibility")
	}
}

func TestEvaluateOutputsBoundaries(t *testing.T) {
	_, enc, binList := testStatement(t, "00", "00")

	cases := []struct {
		name string
		age  float64
		bit  int
	}{
		{"lower edge in first bin", 18, 0},
		{"shared edge belongs to upper bin", 29.75, 1},
		{"field max in closed last bin", 65, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, bits := EvaluateOutputs(enc, binList, testValues(t, tc.age, 1))
			if bits[tc.bit] != 1 {
				t.Errorf("age %v: bit[%d] not set, bits = %v", tc.age, tc.bit, bits[:6])
			}
			for k := 0; k < 4; k++ {
				if k != tc.bit && bits[k] != 0 {
					t.Errorf("age %v: stray bit[%d]", tc.age, k)
				}
			}
		})
	}
}

func TestProveAndVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive")
	}
	keys, err := Setup()
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	t.Logf("circuit compiled with %d constraints", keys.CCS.GetNbConstraints())

	values := testValues(t, 40, 7)
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i + 1)
	}
	commitment := ComputeCommitment(values, salt)
	challenge := "0a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2021222324252627282a"
	stmt, _, _ := testStatement(t, commitment, challenge)

	result, err := Prove(keys, stmt, values, salt)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	if len(result.PublicSignals) != SignalLen {
		t.Fatalf("signal vector length = %d, want %d", len(result.PublicSignals), SignalLen)
	}
	if result.PublicSignals[0] != 1 {
		t.Error("eligibility signal not set")
	}
	// Signal 0 is the verdict, so bin id 1 sits at signal index 2.
	if result.PublicSignals[2] != 1 {
		t.Errorf("age 40 should set signal index 2, signals = %v", result.PublicSignals[:7])
	}

	verifier := NewVerifier(keys)
	if err := verifier.VerifyProof(result.Proof, result.PublicSignals, stmt); err != nil {
		t.Fatalf("VerifyProof failed: %v", err)
	}

	// Same proof under a different challenge is a different statement.
	staleStmt := stmt
	staleStmt.Challenge = "ff" + challenge[2:]
	if err := verifier.VerifyProof(result.Proof, result.PublicSignals, staleStmt); err == nil {
		t.Error("proof must not verify under a different challenge")
	}

	// Tampered output vector fails.
	tampered := make([]uint64, len(result.PublicSignals))
	copy(tampered, result.PublicSignals)
	tampered[0] = 1 - tampered[0]
	if err := verifier.VerifyProof(result.Proof, tampered, stmt); !errors.Is(err, ErrProofInvalid) {
		t.Errorf("tampered signals error = %v, want ErrProofInvalid", err)
	}
}

func TestProveRejectsWrongCommitment(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive")
	}
	keys, err := Setup()
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	values := testValues(t, 40, 7)
	salt := make([]byte, 32)
	stmt, _, _ := testStatement(t, "deadbeef", "0011")
	if _, err := Prove(keys, stmt, values, salt); err == nil {
		t.Fatal("Prove must reject a commitment that does not open to the values")
	}
}

func TestVerifyRejectsWrongSignalLength(t *testing.T) {
	stmt, _, _ := testStatement(t, "00", "00")
	v := NewVerifier(&ProvingKeys{})
	err := v.VerifyProof(nil, make([]uint64, 10), stmt)
	if !errors.Is(err, ErrSignalLength) {
		t.Fatalf("error = %v, want ErrSignalLength", err)
	}
}
