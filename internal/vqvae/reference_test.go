package vqvae

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/recipes/internal/data"
	"github.com/born-ml/recipes/internal/nn"
	"github.com/born-ml/recipes/internal/tensor"
)

func smallDims() Dims {
	return Dims{
		InputShape:     tensor.Shape{1, 4, 4},
		NumEmbedding:   8,
		EmbeddingDim:   3,
		LatentSlots:    2,
		CommitmentCost: 0.25,
	}
}

func imageBatch(t *testing.T, n int, seed int64) *tensor.Tensor {
	t.Helper()
	set := data.SyntheticImages(n, tensor.Shape{1, 4, 4}, seed)
	x, err := tensor.FromSlice(set.Pixels, tensor.Shape{n, 1, 4, 4})
	require.NoError(t, err)
	return PolicyAuto.Normalize(x)
}

func TestNewReferenceValidatesDims(t *testing.T) {
	bad := smallDims()
	bad.InputShape = tensor.Shape{16}
	_, err := NewReference(bad, 1)
	assert.Error(t, err)

	bad = smallDims()
	bad.NumEmbedding = 0
	_, err = NewReference(bad, 1)
	assert.Error(t, err)

	bad = smallDims()
	bad.CommitmentCost = -1
	_, err = NewReference(bad, 1)
	assert.Error(t, err)
}

func TestReferenceSameSeedSameReplica(t *testing.T) {
	a, err := NewReference(smallDims(), 42)
	require.NoError(t, err)
	b, err := NewReference(smallDims(), 42)
	require.NoError(t, err)

	assert.Equal(t, []string{"encoder.weight", "encoder.bias", "decoder.weight", "decoder.bias", "codebook"}, a.Params().Names())
	for _, p := range a.Params().Parameters() {
		q, ok := b.Params().Get(p.Name())
		require.True(t, ok)
		assert.True(t, tensor.Equal(p.Value(), q.Value()), p.Name())
	}
}

func TestReferenceForward(t *testing.T) {
	m, err := NewReference(smallDims(), 1)
	require.NoError(t, err)
	x := imageBatch(t, 5, 1)

	out, err := m.Forward(x, ModeTest)
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), out.Recon.Shape())
	assert.GreaterOrEqual(t, out.VQLoss, 0.0)
	assert.GreaterOrEqual(t, out.Perplexity, 1.0-1e-6)
	assert.LessOrEqual(t, out.Perplexity, float64(m.Dims().NumEmbedding)+1e-6)
	assert.Nil(t, out.activations)

	_, err = m.Forward(tensor.New(tensor.Shape{5, 1, 4, 5}), ModeTest)
	assert.Error(t, err)
}

func TestQuantizePicksNearestCodebookVector(t *testing.T) {
	dims := smallDims()
	dims.NumEmbedding = 3
	dims.EmbeddingDim = 2
	m, err := NewReference(dims, 1)
	require.NoError(t, err)
	copy(m.Codebook().Value().Data(), []float32{0, 0, 10, 10, -5, 5})

	z := tensor.MustFromSlice([]float32{9, 8, -4, 6, 1, -1, 0, 0}, tensor.Shape{2, 4})
	q, idx := m.quantize(z)
	assert.Equal(t, []int{1, 2, 0, 0}, idx)
	assert.Equal(t, []float32{10, 10, -5, 5, 0, 0, 0, 0}, q.Data())

	// Uniform use of two of three codes.
	assert.InDelta(t, 2, m.perplexity([]int{0, 1, 0, 1}), 1e-6)
	assert.InDelta(t, 1, m.perplexity([]int{2, 2, 2}), 1e-6)
}

func TestReferenceBackwardNeedsTrainMode(t *testing.T) {
	m, err := NewReference(smallDims(), 1)
	require.NoError(t, err)
	x := imageBatch(t, 2, 1)

	out, err := m.Forward(x, ModeTest)
	require.NoError(t, err)
	assert.Error(t, m.Backward(out, tensor.New(x.Shape())))

	out, err = m.Forward(x, ModeTrain)
	require.NoError(t, err)
	require.NoError(t, m.Backward(out, tensor.New(x.Shape())))
	assert.Nil(t, out.activations, "backward releases activations")
	assert.Error(t, m.Backward(out, tensor.New(x.Shape())))
}

func TestReferenceDecoderGradientMatchesFiniteDifferences(t *testing.T) {
	m, err := NewReference(smallDims(), 3)
	require.NoError(t, err)
	x := imageBatch(t, 4, 2)
	const variance = 0.5

	loss := func() float64 {
		out, err := m.Forward(x, ModeTest)
		require.NoError(t, err)
		mse, err := nn.MSELoss(out.Recon, x)
		require.NoError(t, err)
		return out.VQLoss + mse/variance
	}

	out, err := m.Forward(x, ModeTrain)
	require.NoError(t, err)
	grad, err := nn.MSEGrad(out.Recon, x, 1/variance)
	require.NoError(t, err)
	m.Params().ZeroGrad()
	require.NoError(t, m.Backward(out, grad))

	for _, name := range []string{"decoder.weight", "decoder.bias"} {
		p, ok := m.Params().Get(name)
		require.True(t, ok)
		v, g := p.Value().Data(), p.Grad().Data()
		for i := range v {
			assert.InDelta(t, numericGrad(v, i, loss), g[i], 1e-3, "%s[%d]", name, i)
		}
	}
}

func TestReferenceCodebookGradientPullsTowardEncodings(t *testing.T) {
	dims := smallDims()
	dims.NumEmbedding = 1
	m, err := NewReference(dims, 5)
	require.NoError(t, err)
	x := imageBatch(t, 3, 4)

	out, err := m.Forward(x, ModeTrain)
	require.NoError(t, err)
	z := out.activations.(*activations).z.Data()
	m.Params().ZeroGrad()
	require.NoError(t, m.Backward(out, tensor.New(x.Shape())))

	// With a single code every slot maps to it: grad = 2 * sum(e - z_s) / n.
	e := m.Codebook().Value().Data()
	g := m.Codebook().Grad().Data()
	n := float64(len(z))
	for j := 0; j < dims.EmbeddingDim; j++ {
		var want float64
		for s := 0; s < len(z)/dims.EmbeddingDim; s++ {
			want += 2 * (float64(e[j]) - float64(z[s*dims.EmbeddingDim+j])) / n
		}
		assert.InDelta(t, want, g[j], 1e-5)
	}
	assert.False(t, math.IsNaN(out.Perplexity))
}

// numericGrad estimates d loss / d v[i] by central differences.
func numericGrad(v []float32, i int, loss func() float64) float64 {
	orig := v[i]
	defer func() { v[i] = orig }()
	return fd.Derivative(func(x float64) float64 {
		v[i] = float32(x)
		return loss()
	}, float64(orig), &fd.Settings{Formula: fd.Central, Step: 1e-2})
}
