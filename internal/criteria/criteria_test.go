package criteria

import (
	"strings"
	"testing"
)

func TestEncodeDisabledPredicatesUseSafeDefaults(t *testing.T) {
	// Stray bounds on a disabled predicate must be ignored: the ledger form
	// always carries the floor/ceiling defaults so the on-chain check stays
	// "always true".
	c := &EligibilityCriteria{
		Age: RangePredicate{Enabled: false, Min: 40, Max: 50},
		BMI: RangePredicate{Enabled: false, Min: 18.5, Max: 30},
	}
	enc, _, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	age := enc.Fields[FieldAge]
	if age.Enabled != 0 || age.Min != 0 || age.Max != 120 {
		t.Errorf("disabled age encoded as %+v, want (0, 0, 120)", age)
	}
	bmi := enc.Fields[FieldBMI]
	if bmi.Enabled != 0 || bmi.Min != 0 || bmi.Max != 1000 {
		t.Errorf("disabled bmi encoded as %+v, want scaled (0, 1000)", bmi)
	}
}

func TestEncodeEnabledRangeScalesFixedPoint(t *testing.T) {
	c := &EligibilityCriteria{
		BMI:   RangePredicate{Enabled: true, Min: 18.5, Max: 30.4},
		HbA1c: RangePredicate{Enabled: true, Min: 4.5, Max: 6.5},
	}
	enc, _, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	bmi := enc.Fields[FieldBMI]
	if bmi.Min != 185 || bmi.Max != 304 {
		t.Errorf("bmi scaled to (%d, %d), want (185, 304)", bmi.Min, bmi.Max)
	}
	hba1c := enc.Fields[FieldHbA1c]
	if hba1c.Min != 45 || hba1c.Max != 65 {
		t.Errorf("hba1c scaled to (%d, %d), want (45, 65)", hba1c.Min, hba1c.Max)
	}
	if v, _ := DecodeForDisplay(FieldBMI, bmi.Min); v != 18.5 {
		t.Errorf("DecodeForDisplay(185) = %v, want 18.5", v)
	}
}

func TestEncodeZeroBoundFallsBackToDefault(t *testing.T) {
	// An explicit zero min on an enabled predicate is indistinguishable from
	// "not provided" and collapses to the default. The encode keeps the
	// behavior but must warn.
	c := &EligibilityCriteria{
		Age: RangePredicate{Enabled: true, Min: 0, Max: 65},
	}
	enc, warnings, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	age := enc.Fields[FieldAge]
	if age.Enabled != 1 || age.Min != 0 || age.Max != 65 {
		t.Errorf("age encoded as %+v, want (1, 0, 65)", age)
	}
	if len(warnings) == 0 || !strings.Contains(warnings[0], "age") {
		t.Errorf("expected zero-min warning for age, got %v", warnings)
	}
}

func TestEncodeBothZeroBoundsWarnTwice(t *testing.T) {
	// Both bounds collapsing to defaults are two distinct oddities; neither
	// warning may shadow the other.
	c := &EligibilityCriteria{
		Age: RangePredicate{Enabled: true, Min: 0, Max: 0},
	}
	enc, warnings, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	age := enc.Fields[FieldAge]
	if age.Enabled != 1 || age.Min != 0 || age.Max != 120 {
		t.Errorf("age encoded as %+v, want (1, 0, 120)", age)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want one per zero bound", warnings)
	}
	if !strings.Contains(warnings[0], "zero min") || !strings.Contains(warnings[1], "zero max") {
		t.Errorf("warnings = %v, want min then max fallback", warnings)
	}
}

func TestEncodeCategorical(t *testing.T) {
	t.Run("multi-value zero-pads slots", func(t *testing.T) {
		c := &EligibilityCriteria{
			BloodType: CategoricalPredicate{Enabled: true, Allowed: []int64{1, 7}},
		}
		enc, _, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		bt := enc.Fields[FieldBloodType]
		if bt.Codes != [CategorySlots]int64{1, 7, 0, 0} {
			t.Errorf("blood type codes = %v, want [1 7 0 0]", bt.Codes)
		}
	})

	t.Run("any sentinel encodes as wildcard", func(t *testing.T) {
		c := &EligibilityCriteria{
			Region: CategoricalPredicate{Enabled: true, Allowed: []int64{AnyCategory}},
		}
		enc, _, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		region := enc.Fields[FieldRegion]
		if region.Enabled != 1 || region.Codes != [CategorySlots]int64{} {
			t.Errorf("any-region encoded as %+v, want enabled wildcard", region)
		}
	})

	t.Run("unknown code rejected", func(t *testing.T) {
		c := &EligibilityCriteria{
			Gender: CategoricalPredicate{Enabled: true, Allowed: []int64{9}},
		}
		if _, _, err := Encode(c); err == nil {
			t.Fatal("expected CriteriaFormatError for unknown gender code")
		}
	})
}

func TestEncodeNilCriteriaFails(t *testing.T) {
	if _, _, err := Encode(nil); err == nil {
		t.Fatal("expected CriteriaFormatError for nil criteria")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	c := &EligibilityCriteria{
		Age:       RangePredicate{Enabled: true, Min: 18, Max: 65},
		BloodType: CategoricalPredicate{Enabled: true, Allowed: []int64{3, 1}},
	}
	a, _, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b, _, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(a.Fields) != NumFields || len(b.Fields) != NumFields {
		t.Fatalf("encoded field counts %d/%d, want %d", len(a.Fields), len(b.Fields), NumFields)
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			t.Errorf("field %d differs across encodes: %+v vs %+v", i, a.Fields[i], b.Fields[i])
		}
	}
}

func TestFieldRegistryOrder(t *testing.T) {
	specs := Fields()
	if len(specs) != NumFields {
		t.Fatalf("registry has %d fields, want %d", len(specs), NumFields)
	}
	for i, spec := range specs {
		if spec.ID != FieldID(i) {
			t.Errorf("registry position %d holds field %d; declaration order broken", i, spec.ID)
		}
	}
}
