package params

import (
	"math"
	"math/rand"

	"github.com/born-ml/recipes/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Values are drawn from U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out))).
// The generator is passed in so that every worker replica initializes identically
// from the same seed.
func Xavier(rng *rand.Rand, fanIn, fanOut int, shape tensor.Shape) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return Uniform(rng, -bound, bound, shape)
}

// Uniform returns a tensor with values drawn from U(lo, hi).
func Uniform(rng *rand.Rand, lo, hi float64, shape tensor.Shape) *tensor.Tensor {
	t := tensor.New(shape)
	data := t.Data()
	for i := range data {
		//nolint:gosec // weight initialization is not security-critical
		data[i] = float32(lo + rng.Float64()*(hi-lo))
	}
	return t
}
