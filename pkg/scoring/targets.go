// Package scoring turns feature records into calibrated credit scores:
// synthetic training targets, a regression learner, population-relative
// calibration, and risk tiers.
package scoring

import (
	"errors"
	"math"
	"math/rand"

	"github.com/mchmarny/defiscore/pkg/features"
)

// ErrEmptyPopulation is returned when an operation that is only defined
// over a population (target generation, calibration) receives no wallets.
var ErrEmptyPopulation = errors.New("population is empty")

// Factor is one (feature, max swing, normalizing divisor) entry of the
// synthetic-target table. Positive Points reward, negative penalize; the
// feature value is divided by Divisor and clipped to [0,1] before the
// swing is applied.
type Factor struct {
	Feature string
	Points  float64
	Divisor float64
}

// TargetSpec configures synthetic target generation.
type TargetSpec struct {
	Baseline    float64
	NoiseStdDev float64
	Factors     []Factor
}

// GenerateTargets produces one heuristic training label per record.
//
// Every wallet starts at the neutral baseline; each factor contributes up
// to its Points; zero-mean Gaussian noise avoids a perfectly deterministic,
// over-fittable label; the result is clipped to [0,1000].
//
// These labels are weak supervision, not ground truth: the learner and the
// calibrated scores inherit whatever biases the factor table encodes.
func GenerateTargets(records []features.Record, spec TargetSpec, rng *rand.Rand) ([]float64, error) {
	if len(records) == 0 {
		return nil, ErrEmptyPopulation
	}
	if rng == nil {
		return nil, errors.New("rng is required")
	}

	targets := make([]float64, len(records))
	for i, rec := range records {
		score := spec.Baseline
		for _, f := range spec.Factors {
			v := rec[f.Feature]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			score += features.Clip(v/f.Divisor, 0, 1) * f.Points
		}
		if spec.NoiseStdDev > 0 {
			score += rng.NormFloat64() * spec.NoiseStdDev
		}
		targets[i] = features.Clip(score, 0, 1000)
	}
	return targets, nil
}
