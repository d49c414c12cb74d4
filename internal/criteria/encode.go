// encode.go - Deterministic fixed-point encoding of eligibility criteria for
// the ledger contract.
//
// Every field is always emitted, enabled or not. Disabled range predicates
// get (floor, ceil) safe defaults; disabled categorical predicates get an
// all-zero allow-list, which the contract treats as a wildcard.

package criteria

import (
	"errors"
	"fmt"
	"math"
)

// ErrCriteriaFormat marks malformed criteria input. It is fatal: callers
// must abort the whole operation, never default silently.
var ErrCriteriaFormat = errors.New("criteria format")

// LedgerField is the fixed-point, always-populated ledger form of one
// predicate. Min/Max are scaled by the field's 10^Decimals factor. Codes is
// the fixed-width allow-list for categorical fields, zero-padded.
type LedgerField struct {
	Field   FieldID              `json:"field"`
	Enabled uint8                `json:"enabled"`
	Min     int64                `json:"min"`
	Max     int64                `json:"max"`
	Codes   [CategorySlots]int64 `json:"codes"`
}

// LedgerCriteria is the encoded criteria record submitted to createStudy.
// Fields appear in canonical declaration order, always NumFields entries.
type LedgerCriteria struct {
	Fields []LedgerField `json:"fields"`
}

// Encode deterministically maps criteria to their ledger form. The returned
// warnings flag configuration oddities (an enabled range predicate whose
// explicit zero bound collapsed to the field default) without failing the
// encode; a nil criteria object or out-of-domain input fails with
// ErrCriteriaFormat.
func Encode(c *EligibilityCriteria) (*LedgerCriteria, []string, error) {
	if c == nil {
		return nil, nil, fmt.Errorf("%w: nil criteria", ErrCriteriaFormat)
	}

	out := &LedgerCriteria{Fields: make([]LedgerField, 0, NumFields)}
	var warnings []string

	for _, spec := range fields {
		lf := LedgerField{Field: spec.ID}
		switch spec.Kind {
		case KindRange:
			pred, ok := c.Range(spec.ID)
			if !ok {
				return nil, nil, fmt.Errorf("%w: field %s has no range predicate", ErrCriteriaFormat, spec.Name)
			}
			enc, warns, err := encodeRange(spec, pred)
			if err != nil {
				return nil, nil, err
			}
			lf = enc
			warnings = append(warnings, warns...)
		case KindCategorical:
			pred, ok := c.Categorical(spec.ID)
			if !ok {
				return nil, nil, fmt.Errorf("%w: field %s has no categorical predicate", ErrCriteriaFormat, spec.Name)
			}
			enc, err := encodeCategorical(spec, pred)
			if err != nil {
				return nil, nil, err
			}
			lf = enc
		}
		out.Fields = append(out.Fields, lf)
	}
	return out, warnings, nil
}

func encodeRange(spec FieldSpec, pred RangePredicate) (LedgerField, []string, error) {
	lf := LedgerField{Field: spec.ID}
	scale := spec.Scale()
	floor := scaleValue(spec.Floor, scale)
	ceil := scaleValue(spec.Ceil, scale)

	if !pred.Enabled {
		lf.Min, lf.Max = floor, ceil
		return lf, nil, nil
	}

	if pred.Min < 0 || pred.Max < 0 {
		return lf, nil, fmt.Errorf("%w: field %s has negative bound", ErrCriteriaFormat, spec.Name)
	}
	if pred.Max > spec.Ceil {
		return lf, nil, fmt.Errorf("%w: field %s max %v exceeds ceiling %v", ErrCriteriaFormat, spec.Name, pred.Max, spec.Ceil)
	}

	lf.Enabled = 1
	lf.Min, lf.Max = floor, ceil
	var warns []string
	// A provided zero bound is indistinguishable from "not provided" and
	// falls back to the default, same as a disabled predicate. Observed
	// behavior of the original contract encoding; kept, but flagged.
	if pred.Min != 0 {
		lf.Min = scaleValue(pred.Min, scale)
	} else {
		warns = append(warns, fmt.Sprintf("field %s: enabled with zero min, using default %v", spec.Name, spec.Floor))
	}
	if pred.Max != 0 {
		lf.Max = scaleValue(pred.Max, scale)
	} else {
		warns = append(warns, fmt.Sprintf("field %s: enabled with zero max, using default %v", spec.Name, spec.Ceil))
	}
	return lf, warns, nil
}

func encodeCategorical(spec FieldSpec, pred CategoricalPredicate) (LedgerField, error) {
	lf := LedgerField{Field: spec.ID}
	if !pred.Enabled {
		return lf, nil // all-zero allow-list, contract wildcard
	}
	lf.Enabled = 1

	resolved, err := ResolveCategories(spec, pred)
	if err != nil {
		return lf, err
	}
	if len(resolved) > CategorySlots && !isAny(pred.Allowed) {
		return lf, fmt.Errorf("%w: field %s allows %d codes, ledger slots hold %d", ErrCriteriaFormat, spec.Name, len(resolved), CategorySlots)
	}
	// The "any" sentinel encodes as the wildcard allow-list on-chain; the
	// expanded universe only matters for bin generation.
	if isAny(pred.Allowed) {
		return lf, nil
	}
	for i, code := range resolved {
		if i >= CategorySlots {
			break
		}
		lf.Codes[i] = code
	}
	return lf, nil
}

// ResolveCategories expands a categorical predicate's allow-list: the
// AnyCategory sentinel yields the field's entire universe, otherwise the
// explicit non-zero codes are validated against the universe and returned in
// the order provided.
func ResolveCategories(spec FieldSpec, pred CategoricalPredicate) ([]int64, error) {
	if isAny(pred.Allowed) {
		out := make([]int64, len(spec.Universe))
		copy(out, spec.Universe)
		return out, nil
	}
	var out []int64
	for _, code := range pred.Allowed {
		if code == 0 {
			continue
		}
		if !inUniverse(spec, code) {
			return nil, fmt.Errorf("%w: field %s has unknown category code %d", ErrCriteriaFormat, spec.Name, code)
		}
		out = append(out, code)
	}
	return out, nil
}

func isAny(allowed []int64) bool {
	return len(allowed) == 1 && allowed[0] == AnyCategory
}

func inUniverse(spec FieldSpec, code int64) bool {
	for _, u := range spec.Universe {
		if u == code {
			return true
		}
	}
	return false
}

func scaleValue(v float64, scale int64) int64 {
	return int64(math.Round(v * float64(scale)))
}

// DecodeForDisplay reverses the fixed-point scaling of a ledger bound for
// presentation.
func DecodeForDisplay(id FieldID, scaled int64) (float64, error) {
	spec, err := Spec(id)
	if err != nil {
		return 0, err
	}
	return float64(scaled) / float64(spec.Scale()), nil
}
