package types

import "fmt"

// NumWeights is the size of the forgetting-curve parameter vector.
const NumWeights = 19

// Weights is the personalized forgetting-curve parameter set, produced by
// the optimizer or taken from DefaultWeights.
type Weights [NumWeights]float64

// DefaultWeights are the stock parameter values used until a user has enough
// review history to fit a personal vector.
var DefaultWeights = Weights{
	0.4072, 1.1829, 3.1262, 15.4722, // w[0..3]  initial stability per first rating
	7.2102, 0.5316, 1.0651, 0.0234, // w[4..7]  difficulty init, step and mean reversion
	1.6160, 0.1544, 1.0824, 1.9813, // w[8..10] recall growth, w[11] forget base
	0.0953, 0.2975, 2.2042, 0.2407, // w[12..14] forget exponents, w[15] hard penalty
	2.9466, 0.5034, 0.6567, // w[16] easy bonus, w[17..18] same-day review
}

// WeightLowerBounds defines the minimum allowed value for each weight.
var WeightLowerBounds = Weights{
	0.001, 0.001, 0.001, 0.001,
	1.0, 0.001, 0.001, 0.001,
	0.0, 0.0, 0.001, 0.001,
	0.001, 0.001, 0.0, 0.0,
	1.0, 0.0, 0.0,
}

// WeightUpperBounds defines the maximum allowed value for each weight.
var WeightUpperBounds = Weights{
	100.0, 100.0, 100.0, 100.0,
	10.0, 4.0, 4.0, 0.75,
	4.5, 0.8, 3.5, 5.0,
	0.25, 0.9, 4.0, 1.0,
	6.0, 2.0, 2.0,
}

// ValidateWeights checks that every weight lies within its bounds.
func ValidateWeights(w Weights) error {
	for i := 0; i < NumWeights; i++ {
		if w[i] < WeightLowerBounds[i] || w[i] > WeightUpperBounds[i] {
			return fmt.Errorf("%w: w[%d] = %f, bounds [%f, %f]",
				ErrInvalidParameters, i, w[i], WeightLowerBounds[i], WeightUpperBounds[i])
		}
	}
	return nil
}

const (
	// DefaultDesiredRetention is the global target recall probability.
	DefaultDesiredRetention = 0.9

	minDesiredRetention = 0.7
	maxDesiredRetention = 0.99
)

// Parameters is the per-(user, mode) scheduler configuration persisted after
// a successful optimizer run.
type Parameters struct {
	Weights          Weights `json:"weights"`
	DesiredRetention float64 `json:"desired_retention"`
}

// DefaultParameters returns the stock parameter set.
func DefaultParameters() *Parameters {
	return &Parameters{
		Weights:          DefaultWeights,
		DesiredRetention: DefaultDesiredRetention,
	}
}

// Validate checks weight bounds and the desired-retention range (0.7, 0.99].
func (p *Parameters) Validate() error {
	if err := ValidateWeights(p.Weights); err != nil {
		return err
	}
	if p.DesiredRetention <= minDesiredRetention || p.DesiredRetention > maxDesiredRetention {
		return fmt.Errorf("%w: desired retention %f outside (%.2f, %.2f]",
			ErrInvalidParameters, p.DesiredRetention, minDesiredRetention, maxDesiredRetention)
	}
	return nil
}
