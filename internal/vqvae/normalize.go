package vqvae

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

// Policy selects how raw batches are mapped into the model's input range.
type Policy int

const (
	// PolicyAuto divides by 255 when any value exceeds 1, then maps [0, 1] to [-1, 1].
	PolicyAuto Policy = iota
	// PolicyUnit maps [0, 1] to [-1, 1].
	PolicyUnit
	// PolicyPassthrough feeds pre-normalized batches unchanged.
	PolicyPassthrough
	// PolicyByte divides raw 0..255 values by 255, then maps [0, 1] to [-1, 1].
	PolicyByte
)

var policyNames = map[Policy]string{
	PolicyAuto:        "auto",
	PolicyUnit:        "unit",
	PolicyPassthrough: "passthrough",
	PolicyByte:        "byte",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return "unknown"
}

// ParsePolicy converts a configuration value into a Policy. Empty means auto.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyAuto, nil
	}
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, errors.Errorf("unknown normalization policy %q", s)
}

// Resolve fixes an auto policy from what the dataset stores: byte for raw 0..255
// pixels, unit otherwise. Explicit policies are returned unchanged.
func (p Policy) Resolve(byteRange bool) Policy {
	if p != PolicyAuto {
		return p
	}
	if byteRange {
		return PolicyByte
	}
	return PolicyUnit
}

// Normalize returns x mapped by the policy. The input is never modified;
// passthrough returns x itself.
func (p Policy) Normalize(x *tensor.Tensor) *tensor.Tensor {
	if p == PolicyPassthrough {
		return x
	}
	out := x.Clone()
	d := out.Data()
	if p == PolicyByte || (p == PolicyAuto && x.Max() > 1) {
		for i := range d {
			d[i] /= 255
		}
	}
	for i := range d {
		d[i] = (d[i] - 0.5) / 0.5
	}
	return out
}

// Denormalize maps [-1, 1] back to [0, 1] for display.
func Denormalize(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()
	d := out.Data()
	for i := range d {
		d[i] = d[i]*0.5 + 0.5
	}
	return out
}
