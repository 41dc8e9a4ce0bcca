// Package adapter trains and applies per-collection linear projections that
// morph query vectors toward upvoted chunk vectors. Chunk vectors are never
// touched, so content addressing stays idempotent and deleting the stored
// adapter is a safe rollback.
package adapter

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/vektorlab/passage/internal/util"
)

// ErrDimensionMismatch is returned when an input vector does not match the
// adapter's dimension.
var ErrDimensionMismatch = errors.New("adapter dimension mismatch")

// Training hyperparameters. Loss is negative cosine similarity between the
// projected query and the target chunk vector.
const (
	learningRate = 1e-4
	adamBeta1    = 0.9
	adamBeta2    = 0.999
	adamEpsilon  = 1e-8

	defaultEpochs = 3
	maxBatchSize  = 32

	// SafetyThreshold classifies a transform as safe when the projected
	// vector stays within this cosine of the original. Diagnostic only.
	SafetyThreshold = 0.75
)

// Adapter is one collection's projection: y = Wq + b. A fresh adapter is the
// identity, so an untrained transform is a no-op.
type Adapter struct {
	dim           int
	weights       [][]float64
	bias          []float64
	trainingCount int

	// Adam moments, reset when the adapter is loaded from storage
	step   int
	mW, vW [][]float64
	mB, vB []float64
}

// NewIdentity builds an untrained adapter of the given dimension.
func NewIdentity(dim int) *Adapter {
	w := make([][]float64, dim)
	for i := range w {
		w[i] = make([]float64, dim)
		w[i][i] = 1
	}
	return &Adapter{dim: dim, weights: w, bias: make([]float64, dim)}
}

// Restore rebuilds an adapter from persisted state.
func Restore(weights [][]float64, bias []float64, trainingCount int) (*Adapter, error) {
	dim := len(bias)
	if dim == 0 || len(weights) != dim {
		return nil, fmt.Errorf("restore adapter: inconsistent shape %dx%d", len(weights), dim)
	}
	for _, row := range weights {
		if len(row) != dim {
			return nil, fmt.Errorf("restore adapter: ragged weight row")
		}
	}
	return &Adapter{dim: dim, weights: weights, bias: bias, trainingCount: trainingCount}, nil
}

// Dim returns the adapter's vector dimension.
func (a *Adapter) Dim() int { return a.dim }

// TrainingCount returns how many training calls the adapter has absorbed.
func (a *Adapter) TrainingCount() int { return a.trainingCount }

// Weights returns the current projection matrix.
func (a *Adapter) Weights() [][]float64 { return a.weights }

// Bias returns the current bias vector.
func (a *Adapter) Bias() []float64 { return a.bias }

// Transform projects q and L2-normalizes the result.
func (a *Adapter) Transform(q []float32) ([]float32, error) {
	if len(q) != a.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(q), a.dim)
	}
	out := a.forward(toFloat64(q))
	util.NormalizeL264(out)
	res := make([]float32, a.dim)
	for i, v := range out {
		res[i] = float32(v)
	}
	return res, nil
}

// IsSafe reports whether a transformed vector stayed within SafetyThreshold
// cosine of the original. Both inputs are compared as unit vectors.
func IsSafe(original, transformed []float32) bool {
	return util.Cosine(original, transformed) >= SafetyThreshold
}

// Train runs one fit pass of queries toward targets: rows are L2-normalized,
// then epochs passes of shuffled mini-batches of size min(32, |Q|) descend
// the negative cosine loss with Adam. Increments the training count once.
func (a *Adapter) Train(queries, targets [][]float32, epochs int) error {
	if len(queries) == 0 || len(queries) != len(targets) {
		return fmt.Errorf("train: %d queries vs %d targets", len(queries), len(targets))
	}
	if epochs <= 0 {
		epochs = defaultEpochs
	}
	q64 := make([][]float64, len(queries))
	c64 := make([][]float64, len(targets))
	for i := range queries {
		if len(queries[i]) != a.dim || len(targets[i]) != a.dim {
			return fmt.Errorf("%w: row %d", ErrDimensionMismatch, i)
		}
		q64[i] = util.NormalizeL264(toFloat64(queries[i]))
		c64[i] = util.NormalizeL264(toFloat64(targets[i]))
	}

	a.ensureOptimizer()
	batchSize := maxBatchSize
	if len(q64) < batchSize {
		batchSize = len(q64)
	}
	order := make([]int, len(q64))
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < epochs; epoch++ {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < len(order); start += batchSize {
			end := start + batchSize
			if end > len(order) {
				end = len(order)
			}
			a.fitBatch(q64, c64, order[start:end])
		}
	}
	a.trainingCount++
	return nil
}

func (a *Adapter) forward(q []float64) []float64 {
	out := make([]float64, a.dim)
	for i := 0; i < a.dim; i++ {
		sum := a.bias[i]
		row := a.weights[i]
		for j := 0; j < a.dim; j++ {
			sum += row[j] * q[j]
		}
		out[i] = sum
	}
	return out
}

// fitBatch accumulates the gradient of the mean negative cosine loss over
// one mini-batch and applies a single Adam update.
func (a *Adapter) fitBatch(q64, c64 [][]float64, batch []int) {
	gradW := make([][]float64, a.dim)
	for i := range gradW {
		gradW[i] = make([]float64, a.dim)
	}
	gradB := make([]float64, a.dim)

	for _, idx := range batch {
		q, c := q64[idx], c64[idx]
		y := a.forward(q)
		ny := util.Norm(y)
		if ny == 0 {
			continue
		}
		dot := 0.0
		for i := range y {
			dot += y[i] * c[i]
		}
		// d(-cos)/dy with |c| = 1 after row normalization
		for i := range y {
			gy := -(c[i]/ny - dot*y[i]/(ny*ny*ny))
			gradB[i] += gy
			for j := range q {
				gradW[i][j] += gy * q[j]
			}
		}
	}

	scale := 1.0 / float64(len(batch))
	a.step++
	bc1 := 1 - math.Pow(adamBeta1, float64(a.step))
	bc2 := 1 - math.Pow(adamBeta2, float64(a.step))
	for i := 0; i < a.dim; i++ {
		gb := gradB[i] * scale
		a.mB[i] = adamBeta1*a.mB[i] + (1-adamBeta1)*gb
		a.vB[i] = adamBeta2*a.vB[i] + (1-adamBeta2)*gb*gb
		a.bias[i] -= learningRate * (a.mB[i] / bc1) / (math.Sqrt(a.vB[i]/bc2) + adamEpsilon)
		for j := 0; j < a.dim; j++ {
			gw := gradW[i][j] * scale
			a.mW[i][j] = adamBeta1*a.mW[i][j] + (1-adamBeta1)*gw
			a.vW[i][j] = adamBeta2*a.vW[i][j] + (1-adamBeta2)*gw*gw
			a.weights[i][j] -= learningRate * (a.mW[i][j] / bc1) / (math.Sqrt(a.vW[i][j]/bc2) + adamEpsilon)
		}
	}
}

func (a *Adapter) ensureOptimizer() {
	if a.mW != nil {
		return
	}
	a.mW = make([][]float64, a.dim)
	a.vW = make([][]float64, a.dim)
	for i := 0; i < a.dim; i++ {
		a.mW[i] = make([]float64, a.dim)
		a.vW[i] = make([]float64, a.dim)
	}
	a.mB = make([]float64, a.dim)
	a.vB = make([]float64, a.dim)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
