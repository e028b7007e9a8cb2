package optimizer

import (
	"math"

	"github.com/memodrill/memodrill/internal/scheduler"
	"github.com/memodrill/memodrill/pkg/types"
)

// probEpsilon keeps predictions away from 0 and 1 so the log loss stays
// finite.
const probEpsilon = 1e-6

// logLoss replays every item history under the candidate weights and
// returns the mean binary cross-entropy of the recall predictions.
func logLoss(ds dataset, w types.Weights) (float64, error) {
	sched, err := scheduler.New(scheduler.Config{
		Weights:        w,
		DisableFuzzing: true,
	})
	if err != nil {
		return 0, err
	}

	var total float64
	for _, h := range ds.histories {
		card := types.NewReviewCard("fit", h.itemID, types.ModeFlashcard)
		for i, ev := range h.events {
			if i > 0 {
				p := sched.Retrievability(card, ev.ReviewedAt)
				p = math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
				if ev.IsCorrect {
					total -= math.Log(p)
				} else {
					total -= math.Log(1 - p)
				}
			}
			next, _, err := sched.Review(card, ev.Rating, ev.ReviewedAt)
			if err != nil {
				return 0, err
			}
			card = next
		}
	}

	if ds.samples == 0 {
		return 0, nil
	}
	return total / float64(ds.samples), nil
}

// gradient estimates the loss gradient by central finite differences. The
// loss is piecewise smooth in the weights, so a small symmetric step gives a
// usable descent direction without an analytic backward pass.
func gradient(ds dataset, w types.Weights, step float64) (types.Weights, error) {
	var grad types.Weights
	for i := 0; i < types.NumWeights; i++ {
		lo, hi := w, w
		lo[i] -= step
		hi[i] += step
		clampWeight(&lo, i)
		clampWeight(&hi, i)
		if hi[i] == lo[i] {
			continue
		}

		lossHi, err := logLoss(ds, hi)
		if err != nil {
			return grad, err
		}
		lossLo, err := logLoss(ds, lo)
		if err != nil {
			return grad, err
		}
		grad[i] = (lossHi - lossLo) / (hi[i] - lo[i])
	}
	return grad, nil
}

// clampWeight projects one weight back into its allowed range.
func clampWeight(w *types.Weights, i int) {
	if w[i] < types.WeightLowerBounds[i] {
		w[i] = types.WeightLowerBounds[i]
	}
	if w[i] > types.WeightUpperBounds[i] {
		w[i] = types.WeightUpperBounds[i]
	}
}

// clampWeights projects the full vector into bounds.
func clampWeights(w types.Weights) types.Weights {
	for i := range w {
		clampWeight(&w, i)
	}
	return w
}
