// Package vqvae trains a vector-quantized autoencoder on image datasets.
//
// The Trainer drives any Model through train and validation epochs: it normalizes
// each batch according to a Policy, scales the reconstruction error by the data
// variance, sums gradients over all workers and steps the solver once per batch.
// Reference is a small linear VQ-VAE that exercises the loop end to end.
package vqvae

import (
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// Mode selects training or inference behavior of a forward pass.
type Mode int

const (
	// ModeTrain keeps the activations Backward needs.
	ModeTrain Mode = iota
	// ModeTest computes outputs only.
	ModeTest
)

func (m Mode) String() string {
	if m == ModeTest {
		return "test"
	}
	return "train"
}

// Output is the result of one forward pass.
type Output struct {
	// VQLoss is the codebook plus commitment loss of the batch.
	VQLoss float64
	// Recon is the reconstruction, shaped like the input.
	Recon *tensor.Tensor
	// Perplexity is exp(entropy) of the codebook usage in the batch.
	Perplexity float64

	// activations retained by a ModeTrain forward until Backward releases them.
	activations any
}

// Model is a VQ-VAE as seen by the Trainer.
type Model interface {
	// Params returns the store holding every trainable parameter.
	Params() *params.Store
	// Forward encodes, quantizes and decodes a normalized [B, C, H, W] batch.
	Forward(x *tensor.Tensor, mode Mode) (*Output, error)
	// Backward accumulates into the parameter gradients the gradient of
	// VQLoss + R(Recon), where gradRecon is dR/dRecon, then releases the
	// activations held by out. It fails for outputs of a ModeTest forward.
	Backward(out *Output, gradRecon *tensor.Tensor) error
}
