// Package params holds the explicit parameter store shared by models, solvers and
// checkpoints.
//
// A Store replaces a process-wide registry of named variables: a model registers its
// parameters in a Store it owns, the solver is constructed over the same Store, and
// checkpoint code serializes it. Nothing is looked up through global state.
package params

import (
	"github.com/born-ml/recipes/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// The gradient tensor is allocated together with the value and has the same shape.
// Backward passes accumulate into it; ZeroGrad clears it.
type Parameter struct {
	name  string
	value *tensor.Tensor
	grad  *tensor.Tensor
}

// NewParameter creates a new trainable parameter wrapping value.
func NewParameter(name string, value *tensor.Tensor) *Parameter {
	return &Parameter{
		name:  name,
		value: value,
		grad:  tensor.New(value.Shape()),
	}
}

// Name returns the parameter name (e.g. "decoder.weight").
func (p *Parameter) Name() string {
	return p.name
}

// Value returns the parameter tensor.
func (p *Parameter) Value() *tensor.Tensor {
	return p.value
}

// Grad returns the gradient tensor.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter) ZeroGrad() {
	p.grad.Zero()
}
