// criteria.go - Typed eligibility criteria model for research studies.
//
// A study declares up to fifteen independently enableable predicates over
// private medical attributes. Range predicates carry a min/max pair,
// categorical predicates carry an allow-list of category codes. Disabled
// predicates are still encoded with mathematically safe defaults because the
// on-chain eligibility check always evaluates every field: disabling means
// "always true", not "skip".

package criteria

import "errors"

// Kind distinguishes range predicates from categorical ones.
type Kind int

const (
	KindRange Kind = iota
	KindCategorical
)

// FieldID identifies one criteria field. The constant order below is the
// canonical declaration order; bin generation and the proof's public output
// bitmap both depend on it, so it must never be reordered.
type FieldID int

const (
	FieldAge FieldID = iota
	FieldGender
	FieldBMI
	FieldSmoking
	FieldAlcohol
	FieldActivity
	FieldDiabetes
	FieldHeartDisease
	FieldHypertension
	FieldHbA1c
	FieldBloodType
	FieldMedicationCount
	FieldPriorSurgeries
	FieldRegion
	FieldChronicPain

	NumFields = 15
)

// CategorySlots is the fixed width of the on-chain allow-list arrays for
// multi-value categorical predicates (blood type, region). Unused slots are
// zero-padded.
const CategorySlots = 4

// AnyCategory is the sentinel allow-list meaning "every possible code".
// Bin compilation expands it to the field's full category universe so that
// aggregate counts stay comparable across studies.
const AnyCategory int64 = -1

// RangePredicate is an enableable numeric bound over one attribute.
// A zero Min or Max is indistinguishable from "not provided" and falls back
// to the field default on encoding; see Encode.
type RangePredicate struct {
	Enabled bool    `json:"enabled"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// CategoricalPredicate is an enableable allow-list over category codes.
// Allowed may be the single sentinel AnyCategory.
type CategoricalPredicate struct {
	Enabled bool    `json:"enabled"`
	Allowed []int64 `json:"allowed"`
}

// EligibilityCriteria is the full per-study predicate set, one field per
// canonical criteria field. The zero value means "no predicate enabled",
// which encodes to an always-eligible study.
type EligibilityCriteria struct {
	Age             RangePredicate       `json:"age"`
	Gender          CategoricalPredicate `json:"gender"`
	BMI             RangePredicate       `json:"bmi"`
	Smoking         CategoricalPredicate `json:"smoking"`
	Alcohol         CategoricalPredicate `json:"alcohol"`
	Activity        CategoricalPredicate `json:"activity"`
	Diabetes        CategoricalPredicate `json:"diabetes"`
	HeartDisease    CategoricalPredicate `json:"heart_disease"`
	Hypertension    CategoricalPredicate `json:"hypertension"`
	HbA1c           RangePredicate       `json:"hba1c"`
	BloodType       CategoricalPredicate `json:"blood_type"`
	MedicationCount RangePredicate       `json:"medication_count"`
	PriorSurgeries  RangePredicate       `json:"prior_surgeries"`
	Region          CategoricalPredicate `json:"region"`
	ChronicPain     CategoricalPredicate `json:"chronic_pain"`
}

// FieldSpec describes one criteria field: its kind, safe-default bounds,
// fixed-point scale, and (for categorical fields) the code universe.
type FieldSpec struct {
	ID       FieldID
	Name     string
	Kind     Kind
	Floor    float64 // absolute floor, safe default min
	Ceil     float64 // absolute ceiling, safe default max
	Decimals int     // fixed-point decimal places for ledger encoding
	Slots    int     // allow-list width (1 or CategorySlots)
	Universe []int64 // every possible category code, ascending
}

// Scale returns the fixed-point multiplier for the field (10^Decimals).
func (s FieldSpec) Scale() int64 {
	scale := int64(1)
	for i := 0; i < s.Decimals; i++ {
		scale *= 10
	}
	return scale
}

// fields is the canonical, ordered field registry. Indexed by FieldID.
var fields = [NumFields]FieldSpec{
	{ID: FieldAge, Name: "age", Kind: KindRange, Floor: 0, Ceil: 120, Decimals: 0},
	{ID: FieldGender, Name: "gender", Kind: KindCategorical, Slots: 1, Universe: []int64{1, 2, 3}},
	{ID: FieldBMI, Name: "bmi", Kind: KindRange, Floor: 0, Ceil: 100, Decimals: 1},
	{ID: FieldSmoking, Name: "smoking", Kind: KindCategorical, Slots: 1, Universe: []int64{1, 2, 3}},
	{ID: FieldAlcohol, Name: "alcohol", Kind: KindCategorical, Slots: 1, Universe: []int64{1, 2, 3}},
	{ID: FieldActivity, Name: "activity", Kind: KindCategorical, Slots: 1, Universe: []int64{1, 2, 3, 4}},
	{ID: FieldDiabetes, Name: "diabetes", Kind: KindCategorical, Slots: 1, Universe: []int64{1, 2}},
	{ID: FieldHeartDisease, Name: "heart_disease", Kind: KindCategorical, Slots: 1, Universe: []int64{1, 2}},
	{ID: FieldHypertension, Name: "hypertension", Kind: KindCategorical, Slots: 1, Universe: []int64{1, 2}},
	{ID: FieldHbA1c, Name: "hba1c", Kind: KindRange, Floor: 0, Ceil: 20, Decimals: 1},
	{ID: FieldBloodType, Name: "blood_type", Kind: KindCategorical, Slots: CategorySlots, Universe: []int64{1, 2, 3, 4, 5, 6, 7, 8}},
	{ID: FieldMedicationCount, Name: "medication_count", Kind: KindRange, Floor: 0, Ceil: 50, Decimals: 0},
	{ID: FieldPriorSurgeries, Name: "prior_surgeries", Kind: KindRange, Floor: 0, Ceil: 30, Decimals: 0},
	{ID: FieldRegion, Name: "region", Kind: KindCategorical, Slots: CategorySlots, Universe: []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	{ID: FieldChronicPain, Name: "chronic_pain", Kind: KindCategorical, Slots: 1, Universe: []int64{1, 2}},
}

// Fields returns the field registry in canonical declaration order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, NumFields)
	copy(out[:], fields[:])
	return out
}

// Spec returns the FieldSpec for a field id.
func Spec(id FieldID) (FieldSpec, error) {
	if id < 0 || int(id) >= NumFields {
		return FieldSpec{}, errors.New("unknown criteria field id")
	}
	return fields[id], nil
}

// Range returns the range predicate for a range field. The mapping is an
// explicit switch so that adding a field without wiring it here fails review,
// not runtime lookup by name.
func (c *EligibilityCriteria) Range(id FieldID) (RangePredicate, bool) {
	switch id {
	case FieldAge:
		return c.Age, true
	case FieldBMI:
		return c.BMI, true
	case FieldHbA1c:
		return c.HbA1c, true
	case FieldMedicationCount:
		return c.MedicationCount, true
	case FieldPriorSurgeries:
		return c.PriorSurgeries, true
	}
	return RangePredicate{}, false
}

// Categorical returns the categorical predicate for a categorical field.
func (c *EligibilityCriteria) Categorical(id FieldID) (CategoricalPredicate, bool) {
	switch id {
	case FieldGender:
		return c.Gender, true
	case FieldSmoking:
		return c.Smoking, true
	case FieldAlcohol:
		return c.Alcohol, true
	case FieldActivity:
		return c.Activity, true
	case FieldDiabetes:
		return c.Diabetes, true
	case FieldHeartDisease:
		return c.HeartDisease, true
	case FieldHypertension:
		return c.Hypertension, true
	case FieldBloodType:
		return c.BloodType, true
	case FieldRegion:
		return c.Region, true
	case FieldChronicPain:
		return c.ChronicPain, true
	}
	return CategoricalPredicate{}, false
}
