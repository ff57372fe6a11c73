package tacotron2

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/nn"
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// Reference is a small sequence-to-sequence model fed the ground-truth previous frame:
//
//	h       = embed(txt)                          [B, L, D]
//	a       = monotonic Gaussian alignment        [B, T, L]
//	ctx     = a @ h                               [B, T, D]
//	mel     = proj(ctx) + prenet(mel shifted by 1) [B, T, F]
//	melPost = mel + postnet(mel)
//	gate    = gate(ctx)                           [B, T]
//
// The alignment is fixed: decoder step t attends around encoder position
// (t+0.5)*len/T - 0.5 of the utterance's unpadded length. Token id 0 is padding.
type Reference struct {
	hp      HParams
	store   *params.Store
	embed   *nn.Embedding
	proj    *nn.Linear
	prenet  *nn.Linear
	postnet *nn.Linear
	gate    *nn.Linear
}

type activations struct {
	txt  *tensor.Tensor // [B, L]
	att  *tensor.Tensor // [B, T, L]
	ctx  *tensor.Tensor // [B, T, D]
	prev *tensor.Tensor // [B, T, F]
	mel  *tensor.Tensor // [B, T, F], postnet input
}

// NewReference builds a reference model whose parameters are drawn from seed.
func NewReference(hp HParams, seed int64) (*Reference, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	//nolint:gosec // weight initialization is not security-critical
	rng := rand.New(rand.NewSource(seed))
	store := params.NewStore()
	f, d := hp.FrameDim(), hp.EmbeddingDim
	return &Reference{
		hp:      hp,
		store:   store,
		embed:   nn.NewEmbedding(store, "encoder.embed", hp.VocabSize, d, rng),
		proj:    nn.NewLinear(store, "decoder.proj", d, f, rng),
		prenet:  nn.NewLinear(store, "decoder.prenet", f, f, rng),
		postnet: nn.NewLinear(store, "postnet", f, f, rng),
		gate:    nn.NewLinear(store, "decoder.gate", d, 1, rng),
	}, nil
}

// Params returns the parameter store.
func (m *Reference) Params() *params.Store {
	return m.store
}

// Forward implements Model.
func (m *Reference) Forward(txt, mel *tensor.Tensor, training bool) (*Outputs, error) {
	b, l, t, f := m.hp.BatchSize, m.hp.TextLen, m.hp.MelLen, m.hp.FrameDim()
	if !txt.Shape().Equal(tensor.Shape{b, l}) {
		return nil, errors.Errorf("tacotron2: text %v, want [%d %d]", txt.Shape(), b, l)
	}
	if !mel.Shape().Equal(tensor.Shape{b, t, f}) {
		return nil, errors.Errorf("tacotron2: mel %v, want [%d %d %d]", mel.Shape(), b, t, f)
	}

	h, err := m.embed.Forward(txt)
	if err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	att := m.align(txt)
	ctx := m.attend(att, h)

	prev := tensor.New(mel.Shape())
	pd, md := prev.Data(), mel.Data()
	for i := 0; i < b; i++ {
		copy(pd[(i*t+1)*f:(i+1)*t*f], md[i*t*f:((i+1)*t-1)*f])
	}

	out, err := m.proj.Forward(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "projection")
	}
	fed, err := m.prenet.Forward(prev)
	if err != nil {
		return nil, errors.Wrap(err, "prenet")
	}
	if err := out.AddScaled(fed, 1); err != nil {
		return nil, err
	}

	post, err := m.postnet.Forward(out)
	if err != nil {
		return nil, errors.Wrap(err, "postnet")
	}
	if err := post.AddScaled(out, 1); err != nil {
		return nil, err
	}

	gate, err := m.gate.Forward(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gate")
	}
	if gate, err = gate.Reshape(tensor.Shape{b, t}); err != nil {
		return nil, err
	}

	o := &Outputs{Mel: out, MelPost: post, Gate: gate, Attention: att}
	if training {
		o.activations = &activations{txt: txt.Clone(), att: att, ctx: ctx, prev: prev, mel: out}
	}
	return o, nil
}

// textLength returns the position after the last non-padding id, at least 1.
func textLength(ids []float32) int {
	for i := len(ids) - 1; i >= 0; i-- {
		if ids[i] != 0 {
			return i + 1
		}
	}
	return 1
}

func (m *Reference) align(txt *tensor.Tensor) *tensor.Tensor {
	b, l, t := m.hp.BatchSize, m.hp.TextLen, m.hp.MelLen
	att := tensor.New(tensor.Shape{b, t, l})
	ad, td := att.Data(), txt.Data()
	for i := 0; i < b; i++ {
		n := textLength(td[i*l : (i+1)*l])
		for s := 0; s < t; s++ {
			row := ad[(i*t+s)*l : (i*t+s+1)*l]
			center := (float64(s)+0.5)*float64(n)/float64(t) - 0.5
			var sum float64
			for j := 0; j < n; j++ {
				d := float64(j) - center
				w := math.Exp(-0.5 * d * d)
				row[j] = float32(w)
				sum += w
			}
			for j := 0; j < n; j++ {
				row[j] = float32(float64(row[j]) / sum)
			}
		}
	}
	return att
}

// attend computes ctx[b, t] = sum_l att[b, t, l] * h[b, l].
func (m *Reference) attend(att, h *tensor.Tensor) *tensor.Tensor {
	b, l, t, d := m.hp.BatchSize, m.hp.TextLen, m.hp.MelLen, m.hp.EmbeddingDim
	ctx := tensor.New(tensor.Shape{b, t, d})
	cd, ad, hd := ctx.Data(), att.Data(), h.Data()
	for i := 0; i < b; i++ {
		for s := 0; s < t; s++ {
			c := cd[(i*t+s)*d : (i*t+s+1)*d]
			for j := 0; j < l; j++ {
				w := ad[(i*t+s)*l+j]
				if w == 0 {
					continue
				}
				hj := hd[(i*l+j)*d : (i*l+j+1)*d]
				for k := range c {
					c[k] += w * hj[k]
				}
			}
		}
	}
	return ctx
}

// Backward implements Model.
func (m *Reference) Backward(out, grads *Outputs) error {
	act, ok := out.activations.(*activations)
	if !ok || act == nil {
		return errors.New("tacotron2: backward needs the outputs of a training forward")
	}
	defer func() { out.activations = nil }()

	b, l, t, d := m.hp.BatchSize, m.hp.TextLen, m.hp.MelLen, m.hp.EmbeddingDim
	if grads.Mel == nil || grads.MelPost == nil || grads.Gate == nil {
		return errors.New("tacotron2: backward needs mel, postnet and gate gradients")
	}

	// melPost = mel + postnet(mel)
	gMel, err := m.postnet.Backward(act.mel, grads.MelPost)
	if err != nil {
		return errors.Wrap(err, "postnet")
	}
	if err := gMel.AddScaled(grads.MelPost, 1); err != nil {
		return err
	}
	if err := gMel.AddScaled(grads.Mel, 1); err != nil {
		return err
	}

	gCtx, err := m.proj.Backward(act.ctx, gMel)
	if err != nil {
		return errors.Wrap(err, "projection")
	}
	if _, err := m.prenet.Backward(act.prev, gMel); err != nil {
		return errors.Wrap(err, "prenet")
	}
	gGate, err := grads.Gate.Reshape(tensor.Shape{b, t, 1})
	if err != nil {
		return err
	}
	gCtxGate, err := m.gate.Backward(act.ctx, gGate)
	if err != nil {
		return errors.Wrap(err, "gate")
	}
	if err := gCtx.AddScaled(gCtxGate, 1); err != nil {
		return err
	}

	// h gradient: gh[b, l] = sum_t att[b, t, l] * gctx[b, t]
	gh := tensor.New(tensor.Shape{b, l, d})
	ghd, ad, gcd := gh.Data(), act.att.Data(), gCtx.Data()
	for i := 0; i < b; i++ {
		for s := 0; s < t; s++ {
			gc := gcd[(i*t+s)*d : (i*t+s+1)*d]
			for j := 0; j < l; j++ {
				w := ad[(i*t+s)*l+j]
				if w == 0 {
					continue
				}
				row := ghd[(i*l+j)*d : (i*l+j+1)*d]
				for k, g := range gc {
					row[k] += w * g
				}
			}
		}
	}
	if err := m.embed.Backward(act.txt, gh); err != nil {
		return errors.Wrap(err, "encoder")
	}
	return nil
}
