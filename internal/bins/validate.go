// validate.go - Configuration validation for compiled bin lists.

package bins

import "fmt"

// ValidateConfiguration checks a bin list for structural defects and returns
// every violation found, not just the first: duplicate numeric ids, range
// bins with missing or inverted bounds, categorical bins with an empty
// category set.
func ValidateConfiguration(list []DataBin) []error {
	var errs []error
	seen := make(map[int]bool, len(list))
	for _, b := range list {
		if seen[b.NumericID] {
			errs = append(errs, fmt.Errorf("duplicate bin id %d", b.NumericID))
		}
		seen[b.NumericID] = true

		switch b.Kind {
		case BinRange:
			if b.MinValue >= b.MaxValue {
				errs = append(errs, fmt.Errorf("bin %d: range [%v, %v] is missing or inverted", b.NumericID, b.MinValue, b.MaxValue))
			}
		case BinCategorical:
			if len(b.Categories) == 0 {
				errs = append(errs, fmt.Errorf("bin %d: empty category set", b.NumericID))
			}
		default:
			errs = append(errs, fmt.Errorf("bin %d: unknown kind %d", b.NumericID, b.Kind))
		}
	}
	return errs
}
