// Package tensor provides the dense float32 tensor shared by the training drivers.
//
// A Tensor is a shape plus a row-major backing slice. It carries no device or
// autodiff state: models compute their own gradients into the gradient tensors held by
// params.Store, and solvers and communicators operate on the raw slices.
package tensor

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Tensor is a dense row-major float32 array.
type Tensor struct {
	shape Shape
	data  []float32
}

// New returns a zero-filled tensor of the given shape.
func New(shape Shape) *Tensor {
	return &Tensor{
		shape: shape.Clone(),
		data:  make([]float32, shape.NumElements()),
	}
}

// Full returns a tensor of the given shape with every element set to v.
func Full(shape Shape, v float32) *Tensor {
	t := New(shape)
	t.Fill(v)
	return t
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, errors.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t := New(shape)
	copy(t.data, data)
	return t, nil
}

// MustFromSlice is like FromSlice but panics if data does not fill shape.
func MustFromSlice(data []float32, shape Shape) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// Wrap creates a tensor that shares data with the caller.
func Wrap(data []float32, shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, errors.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}

// Shape returns the tensor's shape. The caller must not modify it.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the backing slice.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Len returns the total number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// String implements fmt.Stringer with the shape only; data can be large.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", []int(t.shape))
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := New(t.shape)
	copy(out.data, t.data)
	return out
}

// CopyFrom overwrites t with the contents of src. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return errors.Errorf("copy: shape mismatch %v vs %v", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Zero sets every element to zero.
func (t *Tensor) Zero() {
	clear(t.data)
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.data {
		t.data[i] = v
	}
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// AddScaled computes t += s * src in place.
func (t *Tensor) AddScaled(src *Tensor, s float32) error {
	if len(t.data) != len(src.data) {
		return errors.Errorf("add: size mismatch %v vs %v", t.shape, src.shape)
	}
	for i, v := range src.data {
		t.data[i] += s * v
	}
	return nil
}

// Row returns a view of the i-th slice along the leading dimension.
// The view shares memory with t.
func (t *Tensor) Row(i int) *Tensor {
	inner := t.shape.Inner()
	return &Tensor{
		shape: t.shape[1:].Clone(),
		data:  t.data[i*inner : (i+1)*inner],
	}
}

// Reshape returns a view of t with a new shape of the same size.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(t.data) {
		return nil, errors.Errorf("reshape: cannot view %v as %v", t.shape, shape)
	}
	return &Tensor{shape: shape.Clone(), data: t.data}, nil
}

// Transpose returns a new [cols, rows] tensor holding the transpose of a 2-D tensor.
func (t *Tensor) Transpose() (*Tensor, error) {
	if len(t.shape) != 2 {
		return nil, errors.Errorf("transpose: want a 2-D tensor, got %v", t.shape)
	}
	rows, cols := t.shape[0], t.shape[1]
	out := New(Shape{cols, rows})
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.data[c*rows+r] = t.data[r*cols+c]
		}
	}
	return out, nil
}

// Min returns the smallest element, or 0 for an empty tensor.
func (t *Tensor) Min() float32 {
	if len(t.data) == 0 {
		return 0
	}
	m := t.data[0]
	for _, v := range t.data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest element, or 0 for an empty tensor.
func (t *Tensor) Max() float32 {
	if len(t.data) == 0 {
		return 0
	}
	m := t.data[0]
	for _, v := range t.data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Sum returns the float64 sum of all elements.
func (t *Tensor) Sum() float64 {
	var s float64
	for _, v := range t.data {
		s += float64(v)
	}
	return s
}

// Mean returns the arithmetic mean of all elements.
func (t *Tensor) Mean() float64 {
	if len(t.data) == 0 {
		return 0
	}
	return t.Sum() / float64(len(t.data))
}

// Variance returns the population variance of all elements.
func (t *Tensor) Variance() float64 {
	if len(t.data) == 0 {
		return 0
	}
	mean := t.Mean()
	var acc float64
	for _, v := range t.data {
		d := float64(v) - mean
		acc += d * d
	}
	return acc / float64(len(t.data))
}

// Equal reports whether a and b have the same shape and bit-identical data.
func Equal(a, b *Tensor) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i := range a.data {
		if math.Float32bits(a.data[i]) != math.Float32bits(b.data[i]) {
			return false
		}
	}
	return true
}

// AllClose reports whether a and b have the same shape and every element pair
// satisfies |a-b| <= atol + rtol*|b|.
func AllClose(a, b *Tensor, rtol, atol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i := range a.data {
		x, y := float64(a.data[i]), float64(b.data[i])
		if math.Abs(x-y) > atol+rtol*math.Abs(y) {
			return false
		}
	}
	return true
}
