// find.go - Local bin lookup for offline testing and participant self-check.
//
// The on-chain enrollment path never calls this: there, bin membership comes
// from the proof's public outputs so the server learns nothing beyond the
// bitmap.

package bins

import "enrollment/internal/criteria"

// FindBinForValue scans the bins of one field and returns the numericId of
// the bin containing value, honoring each bin's inclusive/exclusive flags.
// The second return is false when no bin matches.
func FindBinForValue(value float64, list []DataBin, field criteria.FieldID) (int, bool) {
	for _, b := range list {
		if b.Field != field {
			continue
		}
		switch b.Kind {
		case BinRange:
			if rangeContains(b, value) {
				return b.NumericID, true
			}
		case BinCategorical:
			for _, code := range b.Categories {
				if int64(value) == code {
					return b.NumericID, true
				}
			}
		}
	}
	return 0, false
}

func rangeContains(b DataBin, v float64) bool {
	if v < b.MinValue || (v == b.MinValue && !b.IncludeMin) {
		return false
	}
	if v > b.MaxValue || (v == b.MaxValue && !b.IncludeMax) {
		return false
	}
	return true
}
