package nn

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// Embedding is a lookup table that maps discrete indices to dense vectors.
//
// Architecture:
//   - Weight: [NumEmbed, EmbedDim] learnable parameter
//   - Forward: indices [batch, seq] -> embeddings [batch, seq, EmbedDim]
//   - Backward: gradients scatter-add to weight rows
//
// Indices arrive as float32 tensors, the way data sources hand out token ids.
type Embedding struct {
	Weight   *params.Parameter // [NumEmbed, EmbedDim]
	NumEmbed int
	EmbedDim int
}

// NewEmbedding registers name.weight in store, initialized from U(-0.1, 0.1).
func NewEmbedding(store *params.Store, name string, numEmbeddings, embeddingDim int, rng *rand.Rand) *Embedding {
	weight := params.Uniform(rng, -0.1, 0.1, tensor.Shape{numEmbeddings, embeddingDim})
	return &Embedding{
		Weight:   store.MustRegister(name+".weight", weight),
		NumEmbed: numEmbeddings,
		EmbedDim: embeddingDim,
	}
}

// Forward looks up every index and returns a tensor of shape indices.Shape + [EmbedDim].
func (e *Embedding) Forward(indices *tensor.Tensor) (*tensor.Tensor, error) {
	ids, err := e.ids(indices)
	if err != nil {
		return nil, errors.Wrap(err, "embedding forward")
	}

	out := tensor.New(append(indices.Shape().Clone(), e.EmbedDim))
	dst, w := out.Data(), e.Weight.Value().Data()
	d := e.EmbedDim
	for i, id := range ids {
		copy(dst[i*d:(i+1)*d], w[id*d:(id+1)*d])
	}
	return out, nil
}

// Backward scatter-adds gradOutput rows into the weight gradient.
func (e *Embedding) Backward(indices, gradOutput *tensor.Tensor) error {
	ids, err := e.ids(indices)
	if err != nil {
		return errors.Wrap(err, "embedding backward")
	}
	if gradOutput.Len() != len(ids)*e.EmbedDim {
		return errors.Errorf("embedding backward: gradient %v does not match indices %v", gradOutput.Shape(), indices.Shape())
	}

	gy, gw := gradOutput.Data(), e.Weight.Grad().Data()
	d := e.EmbedDim
	for i, id := range ids {
		row := gw[id*d : (id+1)*d]
		for k, g := range gy[i*d : (i+1)*d] {
			row[k] += g
		}
	}
	return nil
}

func (e *Embedding) ids(indices *tensor.Tensor) ([]int, error) {
	data := indices.Data()
	ids := make([]int, len(data))
	for i, v := range data {
		id := int(v)
		if float32(id) != v {
			return nil, errors.Errorf("index %v at position %d is not an integer", v, i)
		}
		if id < 0 || id >= e.NumEmbed {
			return nil, errors.Errorf("index %d at position %d out of range [0, %d)", id, i, e.NumEmbed)
		}
		ids[i] = id
	}
	return ids, nil
}
