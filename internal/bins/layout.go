// layout.go - Versioned bin-layout identifier.
//
// The proof circuit bakes the bitmap order in at proving time; if the bin
// enumeration ever drifted across versions, previously issued proofs would
// silently stop matching their bins. The layout id makes that coupling
// explicit: it is stored with the study and checked at proof intake.

package bins

import (
	"encoding/hex"
	"math"
	"math/big"

	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// LayoutVersion tags the public-signal layout the compiled bins target:
// signal 0 is the eligibility flag, signals 1..MaxBins the membership bitmap.
const LayoutVersion = 1

// layoutID hashes the ordered bin list into a stable identifier.
func layoutID(list []DataBin) string {
	h := mimcNative.NewMiMC()
	writeInt := func(v int64) {
		h.Write(new(big.Int).SetInt64(v).FillBytes(make([]byte, 32)))
	}
	writeInt(LayoutVersion)
	for _, b := range list {
		writeInt(int64(b.NumericID))
		writeInt(int64(b.Field))
		writeInt(int64(b.Kind))
		switch b.Kind {
		case BinRange:
			writeInt(scaledBound(b.MinValue))
			writeInt(scaledBound(b.MaxValue))
			writeInt(boolInt(b.IncludeMin))
			writeInt(boolInt(b.IncludeMax))
		case BinCategorical:
			for _, code := range b.Categories {
				writeInt(code)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// scaledBound lifts a rounded bin bound into an integer at the bin rounding
// precision, so the hash never depends on float formatting.
func scaledBound(v float64) int64 {
	return int64(math.Round(v * math.Pow10(binDecimals)))
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
