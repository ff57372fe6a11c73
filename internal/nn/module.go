// Package nn implements the layers the reference models are assembled from.
//
// This package provides:
//   - Linear: fully connected layer over the last axis
//   - Embedding: lookup table indexed by token ids
//   - Loss functions: MSE and sigmoid cross-entropy, with their gradients
//
// Layers register their parameters in a params.Store under a name prefix. There is
// no tape: every layer has an explicit Backward that takes the forward input and
// the output gradient, accumulates into the parameter gradients held by the store
// and returns the input gradient.
//
//	enc := nn.NewLinear(store, "encoder", 784, 64, rng)
//	z, err := enc.Forward(x)        // [N, 64]
//	...
//	gx, err := enc.Backward(x, gz)  // accumulates encoder.weight/bias grads
package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

// rows splits shape into the number of leading rows and the size of the last axis.
func rows(shape tensor.Shape, features int) (int, error) {
	if len(shape) == 0 || shape[len(shape)-1] != features {
		return 0, errors.Errorf("expected last axis of %d features, got shape %v", features, shape)
	}
	return shape.NumElements() / features, nil
}

// withLast returns shape with its last axis replaced by n.
func withLast(shape tensor.Shape, n int) tensor.Shape {
	out := shape.Clone()
	out[len(out)-1] = n
	return out
}
