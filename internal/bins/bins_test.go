package bins

import (
	"math"
	"testing"

	"enrollment/internal/criteria"
)

func ageOnly(min, max float64) *criteria.EligibilityCriteria {
	return &criteria.EligibilityCriteria{
		Age: criteria.RangePredicate{Enabled: true, Min: min, Max: max},
	}
}

func TestCompileAgeRangeBins(t *testing.T) {
	// Age [18, 65], default 4 bins: width 11.75, last bin closed.
	set, err := Compile(ageOnly(18, 65), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	want := []struct {
		lo, hi     float64
		includeMax bool
	}{
		{18, 29.75, false},
		{29.75, 41.5, false},
		{41.5, 53.25, false},
		{53.25, 65, true},
	}
	if len(set.Bins) != len(want) {
		t.Fatalf("got %d bins, want %d", len(set.Bins), len(want))
	}
	for i, w := range want {
		b := set.Bins[i]
		if b.NumericID != i {
			t.Errorf("bin %d has id %d", i, b.NumericID)
		}
		if b.MinValue != w.lo || b.MaxValue != w.hi || b.IncludeMax != w.includeMax {
			t.Errorf("bin %d = [%v, %v] includeMax=%v, want [%v, %v] includeMax=%v",
				i, b.MinValue, b.MaxValue, b.IncludeMax, w.lo, w.hi, w.includeMax)
		}
	}
}

func TestCompileRangeCoversFieldExactly(t *testing.T) {
	// No gaps, no overlaps: each bin starts where the previous one ended and
	// the last bin closes on the field max.
	set, err := Compile(ageOnly(20, 90), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if set.Bins[0].MinValue != 20 {
		t.Errorf("first bin starts at %v, want 20", set.Bins[0].MinValue)
	}
	for i := 1; i < len(set.Bins); i++ {
		if set.Bins[i].MinValue != set.Bins[i-1].MaxValue {
			t.Errorf("gap between bin %d and %d: %v != %v", i-1, i, set.Bins[i-1].MaxValue, set.Bins[i].MinValue)
		}
	}
	last := set.Bins[len(set.Bins)-1]
	if last.MaxValue != 90 || !last.IncludeMax {
		t.Errorf("last bin [%v, %v] includeMax=%v, want closed at 90", last.MinValue, last.MaxValue, last.IncludeMax)
	}
}

func TestCompileBinCountPolicy(t *testing.T) {
	opts := DefaultOptions()
	cases := []struct {
		name      string
		min, max  float64
		wantCount int
	}{
		{"narrow span floors to span, min 2", 18, 21, 3},
		{"tiny span clamps up to 2", 18, 19.5, 2},
		{"default span", 18, 65, 4},
		{"wide span capped at 5", 1, 110, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set, err := Compile(ageOnly(tc.min, tc.max), opts)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			if len(set.Bins) != tc.wantCount {
				t.Errorf("span [%v, %v] produced %d bins, want %d", tc.min, tc.max, len(set.Bins), tc.wantCount)
			}
		})
	}
}

func TestCompileEmptySpanWarnsWithoutFailing(t *testing.T) {
	set, err := Compile(ageOnly(50, 50), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(set.Bins) != 0 {
		t.Errorf("empty span produced %d bins", len(set.Bins))
	}
	if len(set.Warnings) == 0 {
		t.Error("expected configuration warning for empty span")
	}
}

func TestCompileCategoricalAnyExpandsUniverse(t *testing.T) {
	c := &criteria.EligibilityCriteria{
		BloodType: criteria.CategoricalPredicate{Enabled: true, Allowed: []int64{criteria.AnyCategory}},
	}
	set, err := Compile(c, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	// One bin per possible blood type code, not just observed ones.
	if len(set.Bins) != 8 {
		t.Fatalf("any blood type produced %d bins, want 8", len(set.Bins))
	}
	for i, b := range set.Bins {
		if b.Kind != BinCategorical || len(b.Categories) != 1 {
			t.Errorf("bin %d is not a single-code categorical bin: %+v", i, b)
		}
	}
}

func TestCompileGlobalOrderingAcrossFields(t *testing.T) {
	c := &criteria.EligibilityCriteria{
		Age:       criteria.RangePredicate{Enabled: true, Min: 18, Max: 65},
		Gender:    criteria.CategoricalPredicate{Enabled: true, Allowed: []int64{1, 2}},
		BloodType: criteria.CategoricalPredicate{Enabled: true, Allowed: []int64{3}},
	}
	set, err := Compile(c, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	// 4 age bins, then 2 gender bins, then 1 blood type bin; ids sequential.
	if len(set.Bins) != 7 {
		t.Fatalf("got %d bins, want 7", len(set.Bins))
	}
	for i, b := range set.Bins {
		if b.NumericID != i {
			t.Errorf("bin %d carries id %d; global ordering broken", i, b.NumericID)
		}
	}
	if set.Bins[4].Field != criteria.FieldGender || set.Bins[6].Field != criteria.FieldBloodType {
		t.Error("bins not ordered by field declaration order")
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	c := &criteria.EligibilityCriteria{
		Age:    criteria.RangePredicate{Enabled: true, Min: 18, Max: 65},
		BMI:    criteria.RangePredicate{Enabled: true, Min: 18.5, Max: 35},
		Region: criteria.CategoricalPredicate{Enabled: true, Allowed: []int64{criteria.AnyCategory}},
	}
	a, err := Compile(c, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	b, err := Compile(c, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if a.LayoutID != b.LayoutID {
		t.Errorf("layout ids differ: %s vs %s", a.LayoutID, b.LayoutID)
	}
	if len(a.Bins) != len(b.Bins) {
		t.Fatalf("bin counts differ: %d vs %d", len(a.Bins), len(b.Bins))
	}
	for i := range a.Bins {
		if a.Bins[i].NumericID != b.Bins[i].NumericID || a.Bins[i].Field != b.Bins[i].Field ||
			a.Bins[i].MinValue != b.Bins[i].MinValue || a.Bins[i].MaxValue != b.Bins[i].MaxValue {
			t.Errorf("bin %d differs across compiles", i)
		}
	}
}

func TestLayoutIDChangesWithCriteria(t *testing.T) {
	a, err := Compile(ageOnly(18, 65), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	b, err := Compile(ageOnly(21, 65), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if a.LayoutID == b.LayoutID {
		t.Error("different criteria produced the same layout id")
	}
}

func TestValidateConfigurationCollectsAllViolations(t *testing.T) {
	list := []DataBin{
		{NumericID: 0, Kind: BinRange, MinValue: 10, MaxValue: 20},
		{NumericID: 0, Kind: BinRange, MinValue: 30, MaxValue: 25}, // dup id + inverted
		{NumericID: 2, Kind: BinCategorical},                       // empty category set
	}
	errs := ValidateConfiguration(list)
	if len(errs) != 3 {
		t.Fatalf("got %d violations, want 3: %v", len(errs), errs)
	}
}

func TestFindBinForValue(t *testing.T) {
	set, err := Compile(ageOnly(18, 65), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	t.Run("interior value", func(t *testing.T) {
		id, ok := FindBinForValue(40, set.Bins, criteria.FieldAge)
		if !ok || id != 1 {
			t.Errorf("age 40 -> bin %d ok=%v, want bin 1", id, ok)
		}
	})
	t.Run("shared boundary belongs to upper bin", func(t *testing.T) {
		id, ok := FindBinForValue(29.75, set.Bins, criteria.FieldAge)
		if !ok || id != 1 {
			t.Errorf("age 29.75 -> bin %d ok=%v, want bin 1 (half-open)", id, ok)
		}
	})
	t.Run("field max covered by closed last bin", func(t *testing.T) {
		id, ok := FindBinForValue(65, set.Bins, criteria.FieldAge)
		if !ok || id != 3 {
			t.Errorf("age 65 -> bin %d ok=%v, want bin 3", id, ok)
		}
	})
	t.Run("out of range", func(t *testing.T) {
		if _, ok := FindBinForValue(70, set.Bins, criteria.FieldAge); ok {
			t.Error("age 70 should not match any bin")
		}
	})
	t.Run("wrong field", func(t *testing.T) {
		if _, ok := FindBinForValue(40, set.Bins, criteria.FieldBMI); ok {
			t.Error("bmi lookup should not match age bins")
		}
	})
}

func TestRoundingStaysOnBinPrecision(t *testing.T) {
	set, err := Compile(ageOnly(18, 65), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	for _, b := range set.Bins {
		for _, v := range []float64{b.MinValue, b.MaxValue} {
			scaled := v * 100
			if math.Abs(scaled-math.Round(scaled)) > 1e-9 {
				t.Errorf("bound %v not rounded to 2 decimals", v)
			}
		}
	}
}
