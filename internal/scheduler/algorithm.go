package scheduler

import (
	"math"

	"github.com/memodrill/memodrill/pkg/types"
)

// stabilityFactor relates stability to the forgetting curve: retrievability
// falls to the 90% target after 9*S elapsed days under the hyperbolic decay
// R(t) = (1 + t/(9S))^-1.
const stabilityFactor = 9.0

// algo evaluates the forgetting-curve recurrences for one weight vector.
type algo struct {
	w types.Weights
}

// retrievability computes R(t, S) = (1 + t / (9S))^-1.
// A card with zero stability has never been reviewed; R is 0 by definition.
func (a *algo) retrievability(elapsedDays, stability float64) float64 {
	if stability <= 0 {
		return 0
	}
	return 1.0 / (1.0 + elapsedDays/(stabilityFactor*stability))
}

// initStability returns the initial stability S0(G) = clamp_s(w[G-1]).
func (a *algo) initStability(r types.Rating) float64 {
	return clampS(a.w[r-1])
}

// initDifficulty returns the initial difficulty for the first rating.
// D0(G) = w[4] - w[5] * (G - 3), then regressed toward the base difficulty
// w[4] by the mean-reversion weight w[7]. Reversion is applied once, here,
// rather than per review, so repeated updates cannot compound drift.
func (a *algo) initDifficulty(r types.Rating) float64 {
	d0 := a.w[4] - a.w[5]*(float64(r)-3)
	d0 = a.w[7]*a.w[4] + (1-a.w[7])*d0
	return clampD(d0)
}

// nextDifficulty computes D' = clamp(D - w[6] * (G - 3), 1, 10).
func (a *algo) nextDifficulty(difficulty float64, r types.Rating) float64 {
	return clampD(difficulty - a.w[6]*(float64(r)-3))
}

// nextStability dispatches on pass/fail. Stability never decreases on a
// success and never increases on a failure.
func (a *algo) nextStability(d, s, retr float64, rating types.Rating) float64 {
	if rating == types.Again {
		return math.Min(a.nextForgetStability(d, s, retr), s)
	}
	return math.Max(a.nextRecallStability(d, s, retr, rating), s)
}

// nextRecallStability computes stability after a successful recall.
//
//	S' = S * (1 + e^w[8] * (11 - D) * S^(-w[9]) * (e^((1-R)*w[10]) - 1) * hard * easy)
//
// Growth is larger for easy (low-difficulty) items and when retrievability
// was low: recall against the odds is rewarded more.
func (a *algo) nextRecallStability(d, s, retr float64, rating types.Rating) float64 {
	hardPenalty := 1.0
	if rating == types.Hard {
		hardPenalty = a.w[15]
	}
	easyBonus := 1.0
	if rating == types.Easy {
		easyBonus = a.w[16]
	}
	return clampS(s * (1 + math.Exp(a.w[8])*
		(11-d)*
		math.Pow(s, -a.w[9])*
		(math.Exp((1-retr)*a.w[10])-1)*
		hardPenalty*easyBonus))
}

// nextForgetStability computes stability after a failure.
//
//	S' = w[11] * D^(-w[12]) * ((S+1)^w[13] - 1) * e^(w[14]*(1-R))
func (a *algo) nextForgetStability(d, s, retr float64) float64 {
	return clampS(a.w[11] *
		math.Pow(d, -a.w[12]) *
		(math.Pow(s+1, a.w[13]) - 1) *
		math.Exp(a.w[14]*(1-retr)))
}

// shortTermStability computes the same-day review update.
//
//	S' = S * e^(w[17] * (G - 3 + w[18]))
//
// Good and Easy never shrink stability on a same-day review.
func (a *algo) shortTermStability(s float64, rating types.Rating) float64 {
	inc := math.Exp(a.w[17] * (float64(rating) - 3 + a.w[18]))
	if rating >= types.Good {
		inc = math.Max(inc, 1.0)
	}
	return clampS(s * inc)
}

// nextIntervalDays inverts the retrievability formula for the desired
// retention: days = 9 * S * (r^-1 - 1), rounded and clamped to [1, maxIvl].
func (a *algo) nextIntervalDays(stability, desiredRetention float64, maxIvl int) int {
	days := stabilityFactor * stability * (1.0/desiredRetention - 1.0)
	rounded := int(math.Round(days))
	if rounded < 1 {
		rounded = 1
	}
	if rounded > maxIvl {
		rounded = maxIvl
	}
	return rounded
}

// clampS keeps stability strictly positive; the recurrences are undefined at 0.
func clampS(s float64) float64 {
	return math.Max(s, 0.001)
}

// clampD clamps difficulty to [1, 10].
func clampD(d float64) float64 {
	return math.Min(math.Max(d, types.MinDifficulty), types.MaxDifficulty)
}
