package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/mchmarny/defiscore/pkg/features"
)

// Learner is the regression capability consumed by the pipeline: fit a
// mapping from feature vectors to raw scalar scores, then predict. Any
// conforming implementation satisfies the contract; the pipeline owns no
// model-internal state.
type Learner interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

// Ridge is a linear ridge regressor fit by full-batch gradient descent
// over z-score-standardized columns. Deterministic: zero-initialized
// weights, no sampling.
type Ridge struct {
	Epochs       int
	LearningRate float64
	L2           float64

	weights []float64
	bias    float64
	medians []float64
	means   []float64
	stds    []float64
	yMean   float64
	yStd    float64
	fitted  bool
}

func NewRidge(epochs int, learningRate, l2 float64) *Ridge {
	return &Ridge{
		Epochs:       epochs,
		LearningRate: learningRate,
		L2:           l2,
	}
}

func (r *Ridge) Fit(X [][]float64, y []float64) error {
	n := len(X)
	if n == 0 {
		return ErrEmptyPopulation
	}
	if len(y) != n {
		return fmt.Errorf("feature rows (%d) and targets (%d) do not align", n, len(y))
	}
	d := len(X[0])
	if d == 0 {
		return errors.New("feature rows are empty")
	}

	r.medians = columnMedians(X, d)
	filled := fillNonFinite(X, r.medians)

	r.means, r.stds = columnMoments(filled, d)
	std := standardize(filled, r.means, r.stds)

	r.yMean = features.Mean(y)
	r.yStd = populationStd(y, r.yMean)
	if r.yStd == 0 {
		r.yStd = 1
	}
	ty := make([]float64, n)
	for i, v := range y {
		ty[i] = (v - r.yMean) / r.yStd
	}

	r.weights = make([]float64, d)
	r.bias = 0

	for epoch := 0; epoch < r.Epochs; epoch++ {
		gradW := make([]float64, d)
		var gradB float64
		for i := 0; i < n; i++ {
			pred := r.bias
			for j := 0; j < d; j++ {
				pred += std[i][j] * r.weights[j]
			}
			err := pred - ty[i]
			gradB += err
			for j := 0; j < d; j++ {
				gradW[j] += err * std[i][j]
			}
		}
		scale := 2.0 / float64(n)
		for j := 0; j < d; j++ {
			r.weights[j] -= r.LearningRate * (scale*gradW[j] + 2*r.L2*r.weights[j])
		}
		r.bias -= r.LearningRate * scale * gradB
	}

	r.fitted = true
	return nil
}

func (r *Ridge) Predict(X [][]float64) ([]float64, error) {
	if !r.fitted {
		return nil, errors.New("model is not fitted")
	}
	if len(X) == 0 {
		return nil, ErrEmptyPopulation
	}

	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != len(r.weights) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), len(r.weights))
		}
		pred := r.bias
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = r.medians[j]
			}
			pred += ((v - r.means[j]) / r.stds[j]) * r.weights[j]
		}
		out[i] = r.yMean + r.yStd*pred
	}
	return out, nil
}

// columnMedians computes per-column medians over finite cells only;
// columns with no finite cell get 0.
func columnMedians(X [][]float64, d int) []float64 {
	medians := make([]float64, d)
	col := make([]float64, 0, len(X))
	for j := 0; j < d; j++ {
		col = col[:0]
		for i := range X {
			if v := X[i][j]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				col = append(col, v)
			}
		}
		medians[j] = features.Median(col)
	}
	return medians
}

// fillNonFinite copies X, replacing NaN/Inf cells with column medians.
func fillNonFinite(X [][]float64, medians []float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = medians[j]
			}
			r[j] = v
		}
		out[i] = r
	}
	return out
}

func columnMoments(X [][]float64, d int) (means, stds []float64) {
	n := float64(len(X))
	means = make([]float64, d)
	stds = make([]float64, d)
	for j := 0; j < d; j++ {
		var sum float64
		for i := range X {
			sum += X[i][j]
		}
		means[j] = sum / n

		var ss float64
		for i := range X {
			dv := X[i][j] - means[j]
			ss += dv * dv
		}
		stds[j] = math.Sqrt(ss / n)
		if stds[j] == 0 {
			// Constant column: standardizes to zero either way.
			stds[j] = 1
		}
	}
	return means, stds
}

func standardize(X [][]float64, means, stds []float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - means[j]) / stds[j]
		}
		out[i] = r
	}
	return out
}

func populationStd(vals []float64, mean float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)))
}
