package vqvae

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/recipes/internal/nn"
	"github.com/born-ml/recipes/internal/parallel"
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// Dims sizes the reference model.
type Dims struct {
	// InputShape of one image, [C, H, W].
	InputShape tensor.Shape
	// NumEmbedding is the number of codebook vectors.
	NumEmbedding int
	// EmbeddingDim is the size of one codebook vector.
	EmbeddingDim int
	// LatentSlots is the number of quantized vectors per image.
	LatentSlots int
	// CommitmentCost weights the encoder commitment term.
	CommitmentCost float64
}

func (d Dims) validate() error {
	if len(d.InputShape) != 3 {
		return errors.Errorf("vqvae: input shape must be [C, H, W], got %v", d.InputShape)
	}
	if err := d.InputShape.Validate(); err != nil {
		return errors.Wrap(err, "vqvae: input shape")
	}
	if d.NumEmbedding <= 0 || d.EmbeddingDim <= 0 || d.LatentSlots <= 0 {
		return errors.Errorf("vqvae: codebook %dx%d with %d slots must be non-empty",
			d.NumEmbedding, d.EmbeddingDim, d.LatentSlots)
	}
	if d.CommitmentCost < 0 {
		return errors.Errorf("vqvae: commitment cost must be >= 0 (got %g)", d.CommitmentCost)
	}
	return nil
}

// Reference is a linear VQ-VAE:
//
//	z   = encoder(x)              [B, S*E], viewed as S slots of E dims
//	q_s = argmin_k |z_s - e_k|    nearest codebook vector per slot
//	x'  = decoder(q)              [B, C, H, W]
//
// The VQ loss is |sg(z) - q|² + β|z - sg(q)|² averaged over elements. The decoder
// gradient passes straight through the quantizer to the encoder.
type Reference struct {
	dims     Dims
	store    *params.Store
	encoder  *nn.Linear
	decoder  *nn.Linear
	codebook *params.Parameter // [N, E]

	// Parallel fans the nearest-neighbor search out over latent vectors.
	Parallel parallel.Config
}

type activations struct {
	x   *tensor.Tensor // [B, D]
	z   *tensor.Tensor // [B, S*E]
	q   *tensor.Tensor // [B, S*E]
	idx []int          // codebook index of every slot
}

// NewReference builds a reference model whose parameters are drawn from seed.
// Workers built from the same seed start from identical replicas.
func NewReference(dims Dims, seed int64) (*Reference, error) {
	if err := dims.validate(); err != nil {
		return nil, err
	}
	//nolint:gosec // weight initialization is not security-critical
	rng := rand.New(rand.NewSource(seed))
	store := params.NewStore()
	in := dims.InputShape.NumElements()
	latent := dims.LatentSlots * dims.EmbeddingDim

	m := &Reference{
		dims:     dims,
		store:    store,
		encoder:  nn.NewLinear(store, "encoder", in, latent, rng),
		decoder:  nn.NewLinear(store, "decoder", latent, in, rng),
		Parallel: parallel.DefaultConfig(),
	}
	bound := 1 / float64(dims.NumEmbedding)
	m.codebook = store.MustRegister("codebook",
		params.Uniform(rng, -bound, bound, tensor.Shape{dims.NumEmbedding, dims.EmbeddingDim}))
	return m, nil
}

// Params returns the parameter store.
func (m *Reference) Params() *params.Store {
	return m.store
}

// Dims returns the model sizes.
func (m *Reference) Dims() Dims {
	return m.dims
}

// Codebook returns the codebook parameter.
func (m *Reference) Codebook() *params.Parameter {
	return m.codebook
}

// Forward implements Model.
func (m *Reference) Forward(x *tensor.Tensor, mode Mode) (*Output, error) {
	shape := x.Shape()
	if len(shape) != 4 || !tensor.Shape(shape[1:]).Equal(m.dims.InputShape) {
		return nil, errors.Errorf("vqvae: want [B, %v] input, got %v", m.dims.InputShape, shape)
	}
	batch := shape[0]
	flat, err := x.Reshape(tensor.Shape{batch, m.dims.InputShape.NumElements()})
	if err != nil {
		return nil, err
	}

	z, err := m.encoder.Forward(flat)
	if err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	q, idx := m.quantize(z)

	var sq float64
	zd, qd := z.Data(), q.Data()
	for i := range zd {
		d := float64(zd[i]) - float64(qd[i])
		sq += d * d
	}
	mse := sq / float64(len(zd))

	recon, err := m.decoder.Forward(q)
	if err != nil {
		return nil, errors.Wrap(err, "decoder")
	}
	if recon, err = recon.Reshape(shape); err != nil {
		return nil, err
	}

	out := &Output{
		VQLoss:     (1 + m.dims.CommitmentCost) * mse,
		Recon:      recon,
		Perplexity: m.perplexity(idx),
	}
	if mode == ModeTrain {
		out.activations = &activations{x: flat, z: z, q: q, idx: idx}
	}
	return out, nil
}

// quantize replaces every E-dim slot of z by its nearest codebook vector. Ties go
// to the lowest index.
func (m *Reference) quantize(z *tensor.Tensor) (*tensor.Tensor, []int) {
	e, n := m.dims.EmbeddingDim, m.dims.NumEmbedding
	zd := z.Data()
	slots := len(zd) / e
	q := tensor.New(z.Shape())
	qd, cb := q.Data(), m.codebook.Value().Data()
	idx := make([]int, slots)

	parallel.For(slots, func(s int) {
		zs := zd[s*e : (s+1)*e]
		best, bestDist := 0, math.Inf(1)
		for k := 0; k < n; k++ {
			ek := cb[k*e : (k+1)*e]
			var dist float64
			for j, v := range zs {
				d := float64(v) - float64(ek[j])
				dist += d * d
			}
			if dist < bestDist {
				best, bestDist = k, dist
			}
		}
		idx[s] = best
		copy(qd[s*e:(s+1)*e], cb[best*e:(best+1)*e])
	}, m.Parallel)
	return q, idx
}

// perplexity is exp of the entropy of codebook usage over idx.
func (m *Reference) perplexity(idx []int) float64 {
	probs := make([]float64, m.dims.NumEmbedding)
	for _, k := range idx {
		probs[k]++
	}
	floats.Scale(1/float64(len(idx)), probs)
	return math.Exp(stat.Entropy(probs))
}

// Backward implements Model.
func (m *Reference) Backward(out *Output, gradRecon *tensor.Tensor) error {
	act, ok := out.activations.(*activations)
	if !ok || act == nil {
		return errors.New("vqvae: backward needs the output of a train-mode forward")
	}
	defer func() { out.activations = nil }()

	if !gradRecon.Shape().Equal(out.Recon.Shape()) {
		return errors.Errorf("vqvae: reconstruction gradient %v, want %v", gradRecon.Shape(), out.Recon.Shape())
	}
	gy, err := gradRecon.Reshape(act.x.Shape())
	if err != nil {
		return err
	}

	gq, err := m.decoder.Backward(act.q, gy)
	if err != nil {
		return errors.Wrap(err, "decoder")
	}

	e := m.dims.EmbeddingDim
	zd, qd := act.z.Data(), act.q.Data()
	scale := 2 / float32(len(zd))
	beta := float32(m.dims.CommitmentCost)

	// Codebook term: d|sg(z) - e_k|²/de_k, summed over the slots assigned to k.
	cg := m.codebook.Grad().Data()
	for s, k := range act.idx {
		row := cg[k*e : (k+1)*e]
		for j := 0; j < e; j++ {
			row[j] += scale * (qd[s*e+j] - zd[s*e+j])
		}
	}

	// Straight-through decoder gradient plus the commitment term.
	gz := gq.Data()
	for i := range gz {
		gz[i] += beta * scale * (zd[i] - qd[i])
	}
	if _, err := m.encoder.Backward(act.x, gq); err != nil {
		return errors.Wrap(err, "encoder")
	}
	return nil
}
