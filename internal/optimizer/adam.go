package optimizer

import (
	"math"

	"github.com/memodrill/memodrill/pkg/types"
)

// adam is a plain Adam optimizer over the weight vector with a cosine
// learning-rate schedule decaying from lr to lr/100 over totalSteps.
type adam struct {
	lr         float64
	totalSteps int

	beta1, beta2, eps float64

	t    int
	m, v types.Weights
}

func newAdam(lr float64, totalSteps int) *adam {
	return &adam{
		lr:         lr,
		totalSteps: totalSteps,
		beta1:      0.9,
		beta2:      0.999,
		eps:        1e-8,
	}
}

// step applies one Adam update to w given the gradient and returns the
// projected result.
func (a *adam) step(w, grad types.Weights) types.Weights {
	a.t++

	lr := a.currentLR()
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i := range w {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*grad[i]
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*grad[i]*grad[i]
		mHat := a.m[i] / bc1
		vHat := a.v[i] / bc2
		w[i] -= lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
	return clampWeights(w)
}

// currentLR follows a cosine annealing schedule.
func (a *adam) currentLR() float64 {
	if a.totalSteps <= 1 {
		return a.lr
	}
	minLR := a.lr / 100
	progress := float64(a.t-1) / float64(a.totalSteps-1)
	if progress > 1 {
		progress = 1
	}
	return minLR + 0.5*(a.lr-minLR)*(1+math.Cos(math.Pi*progress))
}
