package scheduler

import (
	"math"
	"math/rand"
)

// fuzzBand contributes jitter in proportion to the part of the interval that
// falls inside [lo, hi): long intervals tolerate a wider spread than short
// ones.
type fuzzBand struct {
	lo, hi float64 // days
	rate   float64
}

// fuzzer jitters day-scale review intervals so cards answered together do
// not stay due together forever. Intervals shorter than minDays pass through
// untouched, and a jittered interval is never shorter than two days, so a
// fuzzed due date cannot land before now.
type fuzzer struct {
	bands   []fuzzBand
	minDays float64
	rng     *rand.Rand
}

func newFuzzer(rng *rand.Rand) *fuzzer {
	return &fuzzer{
		bands: []fuzzBand{
			{lo: 2.5, hi: 7, rate: 0.15},
			{lo: 7, hi: 20, rate: 0.10},
			{lo: 20, hi: math.Inf(1), rate: 0.05},
		},
		minDays: 2.5,
		rng:     rng,
	}
}

// width is the jitter half-width in days for the given interval: one day
// plus each band's contribution.
func (f *fuzzer) width(days float64) float64 {
	w := 1.0
	for _, b := range f.bands {
		if days <= b.lo {
			break
		}
		w += b.rate * (math.Min(days, b.hi) - b.lo)
	}
	return w
}

// jitter picks a uniform interval from [days-width, days+width], clamped to
// [2, maxDays].
func (f *fuzzer) jitter(days, maxDays int) int {
	d := float64(days)
	if d < f.minDays {
		return days
	}

	w := f.width(d)
	lo := int(math.Round(d - w))
	if lo < 2 {
		lo = 2
	}
	hi := int(math.Round(d + w))
	if hi > maxDays {
		hi = maxDays
	}
	if lo > hi {
		lo = hi
	}
	return lo + int(math.Round(f.rng.Float64()*float64(hi-lo)))
}
