package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	tests := []struct {
		name     string
		shape    Shape
		elements int
		inner    int
	}{
		{name: "scalar", shape: Shape{}, elements: 1, inner: 1},
		{name: "vector", shape: Shape{5}, elements: 5, inner: 1},
		{name: "image batch", shape: Shape{4, 3, 8, 8}, elements: 768, inner: 192},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.elements, tt.shape.NumElements())
			assert.Equal(t, tt.inner, tt.shape.Inner())
		})
	}

	assert.Error(t, Shape{2, 0}.Validate())
	assert.NoError(t, Shape{2, 3}.Validate())
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.ComputeStrides())
	assert.Equal(t, Shape{7, 3, 4}, Shape{2, 3, 4}.WithLeading(7))
}

func TestFromSlice(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2})
	require.Error(t, err)

	src := []float32{1, 2, 3, 4}
	x, err := FromSlice(src, Shape{2, 2})
	require.NoError(t, err)
	src[0] = 100
	assert.Equal(t, float32(1), x.Data()[0], "FromSlice must copy")
}

func TestRowSharesMemory(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{3, 2})
	require.NoError(t, err)

	row := x.Row(1)
	assert.Equal(t, Shape{2}, row.Shape())
	assert.Equal(t, []float32{3, 4}, row.Data())

	row.Data()[0] = -1
	assert.Equal(t, float32(-1), x.Data()[2])
}

func TestStatistics(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4}, Shape{4})
	require.NoError(t, err)

	assert.Equal(t, float32(1), x.Min())
	assert.Equal(t, float32(4), x.Max())
	assert.InDelta(t, 2.5, x.Mean(), 1e-9)
	assert.InDelta(t, 1.25, x.Variance(), 1e-9)
}

func TestArithmetic(t *testing.T) {
	x := Full(Shape{3}, 2)
	y := Full(Shape{3}, 1)

	require.NoError(t, x.AddScaled(y, 0.5))
	assert.Equal(t, []float32{2.5, 2.5, 2.5}, x.Data())

	x.Scale(2)
	assert.Equal(t, []float32{5, 5, 5}, x.Data())

	require.Error(t, x.AddScaled(New(Shape{2}), 1))
	require.Error(t, x.CopyFrom(New(Shape{2})))

	c := x.Clone()
	x.Zero()
	assert.Equal(t, []float32{5, 5, 5}, c.Data())
	assert.Equal(t, []float32{0, 0, 0}, x.Data())
}

func TestEqualAndAllClose(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2}, Shape{2})
	b, _ := FromSlice([]float32{1, 2.000001}, Shape{2})

	assert.True(t, Equal(a, a.Clone()))
	assert.False(t, Equal(a, b))
	assert.True(t, AllClose(a, b, 1e-5, 1e-6))
	assert.False(t, AllClose(a, New(Shape{1, 2}), 1, 1))
}

func TestReshape(t *testing.T) {
	x := New(Shape{2, 6})
	v, err := x.Reshape(Shape{3, 4})
	require.NoError(t, err)
	v.Data()[11] = 9
	assert.Equal(t, float32(9), x.Data()[11])

	_, err = x.Reshape(Shape{5})
	assert.Error(t, err)
}

func TestTranspose(t *testing.T) {
	x := MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	y, err := x.Transpose()
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2}, y.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, y.Data())

	_, err = New(Shape{2, 2, 2}).Transpose()
	assert.Error(t, err)

	assert.Panics(t, func() { MustFromSlice([]float32{1}, Shape{2}) })
}
