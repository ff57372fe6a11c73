package nn

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/parallel"
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [..., in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [..., out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *params.Parameter // [out_features, in_features]
	bias        *params.Parameter // [out_features]

	// Parallel fans rows (forward, input gradient) and output features (weight
	// gradient) out over goroutines. Every element is summed by one goroutine in a
	// fixed order, so results do not depend on the worker count.
	Parallel parallel.Config
}

// NewLinear registers name.weight and name.bias in store and returns the layer.
func NewLinear(store *params.Store, name string, inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	weight := params.Xavier(rng, inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures})
	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      store.MustRegister(name+".weight", weight),
		bias:        store.MustRegister(name+".bias", tensor.New(tensor.Shape{outFeatures})),
		Parallel:    parallel.DefaultConfig(),
	}
}

// Forward computes y = x @ W.T + b over the last axis of x.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	n, err := rows(input.Shape(), l.inFeatures)
	if err != nil {
		return nil, errors.Wrap(err, "linear forward")
	}

	out := tensor.New(withLast(input.Shape(), l.outFeatures))
	x, y := input.Data(), out.Data()
	w, b := l.weight.Value().Data(), l.bias.Value().Data()
	in, o := l.inFeatures, l.outFeatures

	parallel.For(n, func(r int) {
		xr := x[r*in : (r+1)*in]
		yr := y[r*o : (r+1)*o]
		for j := range yr {
			wj := w[j*in : (j+1)*in]
			sum := b[j]
			for k, v := range xr {
				sum += wj[k] * v
			}
			yr[j] = sum
		}
	}, l.Parallel)
	return out, nil
}

// Backward accumulates dW += gy.T @ x and db += sum(gy) into the parameter
// gradients and returns gx = gy @ W.
func (l *Linear) Backward(input, gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	n, err := rows(input.Shape(), l.inFeatures)
	if err != nil {
		return nil, errors.Wrap(err, "linear backward")
	}
	if m, err := rows(gradOutput.Shape(), l.outFeatures); err != nil || m != n {
		return nil, errors.Errorf("linear backward: output gradient %v does not match input %v", gradOutput.Shape(), input.Shape())
	}

	x, gy := input.Data(), gradOutput.Data()
	w := l.weight.Value().Data()
	gw, gb := l.weight.Grad().Data(), l.bias.Grad().Data()
	in, o := l.inFeatures, l.outFeatures

	parallel.For(o, func(j int) {
		gwj := gw[j*in : (j+1)*in]
		for r := 0; r < n; r++ {
			g := gy[r*o+j]
			if g == 0 {
				continue
			}
			gb[j] += g
			xr := x[r*in : (r+1)*in]
			for k, v := range xr {
				gwj[k] += g * v
			}
		}
	}, l.Parallel)

	gradInput := tensor.New(input.Shape())
	gx := gradInput.Data()
	parallel.For(n, func(r int) {
		gxr := gx[r*in : (r+1)*in]
		for j := 0; j < o; j++ {
			g := gy[r*o+j]
			if g == 0 {
				continue
			}
			wj := w[j*in : (j+1)*in]
			for k := range gxr {
				gxr[k] += g * wj[k]
			}
		}
	}, l.Parallel)
	return gradInput, nil
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *params.Parameter {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Linear) Bias() *params.Parameter {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}
