package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

// MSELoss computes mean((predictions - targets)²).
//
// Sums run in float64 so that the loss of a large batch does not depend on the
// order float32 rounding happens in.
func MSELoss(predictions, targets *tensor.Tensor) (float64, error) {
	if !predictions.Shape().Equal(targets.Shape()) {
		return 0, errors.Errorf("mse: predictions %v and targets %v differ in shape", predictions.Shape(), targets.Shape())
	}
	p, t := predictions.Data(), targets.Data()
	if len(p) == 0 {
		return 0, errors.New("mse: empty tensors")
	}
	var sum float64
	for i := range p {
		d := float64(p[i]) - float64(t[i])
		sum += d * d
	}
	return sum / float64(len(p)), nil
}

// MSEGrad returns scale * d/dpredictions MSELoss = scale * 2(predictions - targets)/n.
func MSEGrad(predictions, targets *tensor.Tensor, scale float32) (*tensor.Tensor, error) {
	if !predictions.Shape().Equal(targets.Shape()) {
		return nil, errors.Errorf("mse: predictions %v and targets %v differ in shape", predictions.Shape(), targets.Shape())
	}
	grad := tensor.New(predictions.Shape())
	p, t, g := predictions.Data(), targets.Data(), grad.Data()
	k := 2 * scale / float32(len(p))
	for i := range p {
		g[i] = k * (p[i] - t[i])
	}
	return grad, nil
}

// SigmoidCrossEntropy computes mean(BCE(sigmoid(logits), targets)) in the stable
// form max(x, 0) - x*t + log(1 + exp(-|x|)).
func SigmoidCrossEntropy(logits, targets *tensor.Tensor) (float64, error) {
	if !logits.Shape().Equal(targets.Shape()) {
		return 0, errors.Errorf("sigmoid cross-entropy: logits %v and targets %v differ in shape", logits.Shape(), targets.Shape())
	}
	x, t := logits.Data(), targets.Data()
	if len(x) == 0 {
		return 0, errors.New("sigmoid cross-entropy: empty tensors")
	}
	var sum float64
	for i := range x {
		xi, ti := float64(x[i]), float64(t[i])
		sum += math.Max(xi, 0) - xi*ti + math.Log1p(math.Exp(-math.Abs(xi)))
	}
	return sum / float64(len(x)), nil
}

// SigmoidCrossEntropyGrad returns scale * (sigmoid(logits) - targets)/n.
func SigmoidCrossEntropyGrad(logits, targets *tensor.Tensor, scale float32) (*tensor.Tensor, error) {
	if !logits.Shape().Equal(targets.Shape()) {
		return nil, errors.Errorf("sigmoid cross-entropy: logits %v and targets %v differ in shape", logits.Shape(), targets.Shape())
	}
	grad := tensor.New(logits.Shape())
	x, t, g := logits.Data(), targets.Data(), grad.Data()
	k := scale / float32(len(x))
	for i := range x {
		g[i] = k * (Sigmoid(x[i]) - t[i])
	}
	return grad, nil
}

// Sigmoid is the logistic function.
func Sigmoid(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + float32(math.Exp(float64(-x))))
	}
	e := float32(math.Exp(float64(x)))
	return e / (1 + e)
}
