// compile.go - Deterministic compilation of eligibility criteria into
// statistical bins.
//
// Bins are generated once at study configuration time and published next to
// the study. The global numericId ordering is load-bearing: the proof's
// public output bitmap is interpreted in exactly this order, so compilation
// must be reproducible from the same criteria input.

package bins

import (
	"fmt"
	"math"

	"enrollment/internal/criteria"
)

// BinKind distinguishes range-partitioned bins from categorical ones.
type BinKind int

const (
	BinRange BinKind = iota
	BinCategorical
)

// DataBin is one partition of one criteria field, used for
// privacy-preserving aggregate counting.
type DataBin struct {
	NumericID  int              `json:"numeric_id"`
	Field      criteria.FieldID `json:"field"`
	Kind       BinKind          `json:"kind"`
	MinValue   float64          `json:"min_value,omitempty"`
	MaxValue   float64          `json:"max_value,omitempty"`
	IncludeMin bool             `json:"include_min,omitempty"`
	IncludeMax bool             `json:"include_max,omitempty"`
	Categories []int64          `json:"categories,omitempty"`
}

// Options bounds the bin counts produced per range field.
type Options struct {
	DefaultBinCount int
	MaxBinCount     int
}

// DefaultOptions matches the generated study configuration.
func DefaultOptions() Options {
	return Options{DefaultBinCount: 4, MaxBinCount: 10}
}

// BinSet is the compiled, ordered bin list for one study, together with the
// versioned layout identifier and any configuration warnings.
type BinSet struct {
	Bins     []DataBin `json:"bins"`
	LayoutID string    `json:"layout_id"`
	Warnings []string  `json:"warnings,omitempty"`
}

// MaxBins is the fixed width of the proof's bin-membership bitmap. A study
// whose criteria compile to more bins than this cannot be proven against
// layout v1 and is a configuration error.
const MaxBins = 50

// binDecimals is the rounding precision for generated range-bin bounds.
// Coarser than any field's encoding scale so a bound never collapses onto
// its neighbor.
const binDecimals = 2

// Compile turns enabled criteria into the ordered bin list. Fields are
// visited in canonical declaration order; each emitted bin takes the next
// sequential numericId across all fields. Same criteria in, same bins out.
func Compile(c *criteria.EligibilityCriteria, opts Options) (*BinSet, error) {
	// Encoding first keeps bin bounds consistent with what the ledger and
	// the circuit see, including the zero-bound default fallback.
	enc, warnings, err := criteria.Encode(c)
	if err != nil {
		return nil, err
	}
	if opts.DefaultBinCount <= 0 || opts.MaxBinCount <= 0 {
		return nil, fmt.Errorf("invalid bin options: default=%d max=%d", opts.DefaultBinCount, opts.MaxBinCount)
	}

	set := &BinSet{Warnings: warnings}
	nextID := 0

	for _, spec := range criteria.Fields() {
		lf := enc.Fields[spec.ID]
		if lf.Enabled == 0 {
			continue
		}
		switch spec.Kind {
		case criteria.KindRange:
			emitted, warn := compileRangeField(spec, lf, opts, &nextID)
			set.Bins = append(set.Bins, emitted...)
			if warn != "" {
				set.Warnings = append(set.Warnings, warn)
			}
		case criteria.KindCategorical:
			pred, _ := c.Categorical(spec.ID)
			emitted, warn, err := compileCategoricalField(spec, pred, &nextID)
			if err != nil {
				return nil, err
			}
			set.Bins = append(set.Bins, emitted...)
			if warn != "" {
				set.Warnings = append(set.Warnings, warn)
			}
		}
	}

	if len(set.Bins) > MaxBins {
		return nil, fmt.Errorf("criteria compile to %d bins, layout holds %d", len(set.Bins), MaxBins)
	}
	set.LayoutID = layoutID(set.Bins)
	return set, nil
}

func compileRangeField(spec criteria.FieldSpec, lf criteria.LedgerField, opts Options, nextID *int) ([]DataBin, string) {
	scale := float64(spec.Scale())
	min := float64(lf.Min) / scale
	max := float64(lf.Max) / scale
	span := max - min
	if span <= 0 {
		return nil, fmt.Sprintf("field %s: empty range [%v, %v], no bins generated", spec.Name, min, max)
	}

	count := opts.DefaultBinCount
	switch {
	case span < 10:
		count = clamp(int(math.Floor(span)), 1, opts.MaxBinCount)
	case span > 100:
		count = opts.MaxBinCount
		if count > 5 {
			count = 5
		}
	}
	count = clamp(count, 2, opts.MaxBinCount)

	width := span / float64(count)
	bins := make([]DataBin, 0, count)
	for i := 0; i < count; i++ {
		last := i == count-1
		lo := roundTo(min+float64(i)*width, binDecimals)
		hi := roundTo(min+float64(i+1)*width, binDecimals)
		if last {
			// Close the final bin so the field maximum is always covered
			// despite rounding.
			hi = roundTo(max, binDecimals)
		}
		bins = append(bins, DataBin{
			NumericID:  *nextID,
			Field:      spec.ID,
			Kind:       BinRange,
			MinValue:   lo,
			MaxValue:   hi,
			IncludeMin: true,
			IncludeMax: last,
		})
		*nextID++
	}
	return bins, ""
}

func compileCategoricalField(spec criteria.FieldSpec, pred criteria.CategoricalPredicate, nextID *int) ([]DataBin, string, error) {
	resolved, err := criteria.ResolveCategories(spec, pred)
	if err != nil {
		return nil, "", err
	}
	if len(resolved) == 0 {
		return nil, fmt.Sprintf("field %s: empty category set, no bins generated", spec.Name), nil
	}
	bins := make([]DataBin, 0, len(resolved))
	for _, code := range resolved {
		bins = append(bins, DataBin{
			NumericID:  *nextID,
			Field:      spec.ID,
			Kind:       BinCategorical,
			Categories: []int64{code},
		})
		*nextID++
	}
	return bins, "", nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
