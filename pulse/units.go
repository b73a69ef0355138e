package pulse

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// BinsFromSeconds converts a duration into the nearest whole number of bins.
// Decimal arithmetic keeps values like 1e-9 s at 1.25 GHz from drifting.
func BinsFromSeconds(seconds, sampleRateHz float64) (uint64, error) {
	if err := checkSampleRate(sampleRateHz); err != nil {
		return 0, err
	}
	bins := decimal.NewFromFloat(seconds).Mul(decimal.NewFromFloat(sampleRateHz)).Round(0)
	if bins.IsNegative() {
		return 0, fmt.Errorf("duration %gs is negative", seconds)
	}
	if bins.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("duration %gs does not fit into bins", seconds)
	}
	return uint64(bins.IntPart()), nil
}

// SignedBinsFromSeconds is BinsFromSeconds for increments, which may be negative.
func SignedBinsFromSeconds(seconds, sampleRateHz float64) (int64, error) {
	if err := checkSampleRate(sampleRateHz); err != nil {
		return 0, err
	}
	return decimal.NewFromFloat(seconds).Mul(decimal.NewFromFloat(sampleRateHz)).Round(0).IntPart(), nil
}

// SecondsFromBins converts a bin count into seconds.
func SecondsFromBins(bins int64, sampleRateHz float64) float64 {
	return float64(bins) / sampleRateHz
}
