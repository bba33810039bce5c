package model

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/atrimo/torrent/internal/errs"
)

// ScaleFactor converts decimal prices and quantities to integer units.
// Integer arithmetic throughout the book removes floating-point
// nondeterminism in sums; values only go back to float64 at the analytics
// boundary.
const ScaleFactor uint64 = 10_000_000_000 // 10^10

const scaleExponent = 10

var maxScalable = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Scale parses a decimal string and returns value * ScaleFactor truncated
// toward zero. Fails with BadParse on non-numeric input, negative values,
// or overflow of uint64.
func Scale(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errs.BadParse(err, "scale %q", s)
	}
	if d.IsNegative() {
		return 0, errs.BadParse(nil, "scale %q: negative", s)
	}
	scaled := d.Shift(scaleExponent).Truncate(0)
	if scaled.Cmp(maxScalable) > 0 {
		return 0, errs.BadParse(nil, "scale %q: overflows u64", s)
	}
	return scaled.BigInt().Uint64(), nil
}

// Unscale converts a fixed-point value back to a float. Analytics output
// only; never used in book arithmetic.
func Unscale(v uint64) float64 {
	return float64(v) / float64(ScaleFactor)
}

// BaseMultiplier returns the per-base-asset constant used to express
// quantities in base units for imbalance figures. Every entry equals
// ScaleFactor so base-unit conversion cannot drift from the price scaling.
// Unknown bases fall back to ScaleFactor as well.
func BaseMultiplier(base string) float64 {
	if m, ok := baseMultipliers[base]; ok {
		return m
	}
	return float64(ScaleFactor)
}

var baseMultipliers = map[string]float64{
	"btc":  float64(ScaleFactor),
	"eth":  float64(ScaleFactor),
	"sol":  float64(ScaleFactor),
	"bnb":  float64(ScaleFactor),
	"xrp":  float64(ScaleFactor),
	"usdt": float64(ScaleFactor),
	"usdc": float64(ScaleFactor),
}
