package optimizer

import (
	"context"
	"fmt"

	"github.com/memodrill/memodrill/pkg/types"
)

// InsufficientDataError reports that the review history is too small to fit
// weights. It is an expected outcome for new users, not a failure.
type InsufficientDataError struct {
	Have   int
	Needed int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("optimizer: %d usable review events, need %d", e.Have, e.Needed)
}

// Config tunes a training run. Zero values produce the defaults.
type Config struct {
	// MaxIterations caps the gradient steps. Default: 100.
	MaxIterations int

	// LearningRate is the initial Adam learning rate. Default: 0.04.
	LearningRate float64

	// GradientStep is the finite-difference step. Default: 1e-4.
	GradientStep float64

	// Initial is the starting weight vector. Zero value starts from the
	// defaults; pass the user's current weights for incremental refits.
	Initial types.Weights
}

// Result is the outcome of a training run.
type Result struct {
	Weights    types.Weights
	LossBefore float64
	LossAfter  float64
	Iterations int
	Samples    int
}

// Train fits the weight vector to the given review history. The returned
// weights are always within bounds and never worse than the starting point
// on the training objective: if descent fails to improve, the best vector
// seen wins, which degenerates to the initial weights.
//
// Training honors ctx: cancellation returns the best result so far together
// with the context error.
func Train(ctx context.Context, events []types.ReviewEvent, cfg Config) (*Result, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.04
	}
	if cfg.GradientStep <= 0 {
		cfg.GradientStep = 1e-4
	}
	if cfg.Initial == (types.Weights{}) {
		cfg.Initial = types.DefaultWeights
	}

	ds := buildDataset(events)
	if ds.samples < MinReviewEvents {
		return nil, &InsufficientDataError{Have: ds.samples, Needed: MinReviewEvents}
	}

	w := clampWeights(cfg.Initial)
	initialLoss, err := logLoss(ds, w)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Weights:    w,
		LossBefore: initialLoss,
		LossAfter:  initialLoss,
		Samples:    ds.samples,
	}

	opt := newAdam(cfg.LearningRate, cfg.MaxIterations)
	for i := 0; i < cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		grad, err := gradient(ds, w, cfg.GradientStep)
		if err != nil {
			return result, err
		}
		w = opt.step(w, grad)

		loss, err := logLoss(ds, w)
		if err != nil {
			return result, err
		}
		result.Iterations = i + 1
		if loss < result.LossAfter {
			result.LossAfter = loss
			result.Weights = w
		}
	}
	return result, nil
}
