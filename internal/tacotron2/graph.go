package tacotron2

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/data"
	"github.com/born-ml/recipes/internal/nn"
	"github.com/born-ml/recipes/internal/tensor"
)

// Graph modes.
const (
	KeyTrain = "train"
	KeyValid = "valid"
)

// Variable names bound in a Graph.
const (
	XMel  = "x_mel"
	XTxt  = "x_txt"
	XGat  = "x_gat"
	OMel  = "o_mel"
	OMelP = "o_mel_p"
	OGat  = "o_gat"
	OAtt  = "o_att"
	LMel  = "l_mel"
	LGat  = "l_gat"
	LNet  = "l_net"
)

// Graph binds one mode's placeholders, model outputs and losses to fixed tensors.
//
// Every variable is allocated once, sized by the hyperparameters. Bind copies a
// batch into the placeholders and Forward overwrites the outputs and losses in
// place, so handles returned by Var stay valid for the life of the graph.
type Graph struct {
	key      string
	training bool
	model    Model
	vars     map[string]*tensor.Tensor

	// last holds the model outputs of the latest Forward until Backward.
	last *Outputs
}

func newGraph(key string, hp HParams, model Model) (*Graph, error) {
	if key != KeyTrain && key != KeyValid {
		return nil, errors.Errorf("tacotron2: graph key %q is not %q or %q", key, KeyTrain, KeyValid)
	}
	b, l, t, f := hp.BatchSize, hp.TextLen, hp.MelLen, hp.FrameDim()
	return &Graph{
		key:      key,
		training: key != KeyValid,
		model:    model,
		vars: map[string]*tensor.Tensor{
			XTxt:  tensor.New(tensor.Shape{b, l}),
			XMel:  tensor.New(tensor.Shape{b, t, f}),
			XGat:  tensor.New(tensor.Shape{b, t}),
			OMel:  tensor.New(tensor.Shape{b, t, f}),
			OMelP: tensor.New(tensor.Shape{b, t, f}),
			OGat:  tensor.New(tensor.Shape{b, t}),
			OAtt:  tensor.New(tensor.Shape{b, t, l}),
			LMel:  tensor.New(tensor.Shape{1}),
			LGat:  tensor.New(tensor.Shape{1}),
			LNet:  tensor.New(tensor.Shape{1}),
		},
	}, nil
}

// Key returns the graph mode.
func (g *Graph) Key() string {
	return g.key
}

// Var returns the tensor bound to name, or nil.
func (g *Graph) Var(name string) *tensor.Tensor {
	return g.vars[name]
}

// Loss returns the scalar held by one of l_mel, l_gat or l_net.
func (g *Graph) Loss(name string) float64 {
	v, ok := g.vars[name]
	if !ok || v.Len() != 1 {
		return 0
	}
	return float64(v.Data()[0])
}

// Bind copies a {mel, text, gate} batch into the placeholders.
func (g *Graph) Bind(batch data.Batch) error {
	if len(batch) != 3 {
		return errors.Errorf("tacotron2: want a {mel, text, gate} batch, got %d tensors", len(batch))
	}
	for i, name := range []string{XMel, XTxt, XGat} {
		if err := g.vars[name].CopyFrom(batch[i]); err != nil {
			return errors.Wrapf(err, "bind %s", name)
		}
	}
	return nil
}

// Forward runs the model on the bound placeholders and computes
//
//	l_mel = mse(o_mel, x_mel) + mse(o_mel_p, x_mel)
//	l_gat = mean(sigmoid_cross_entropy(o_gat, x_gat))
//	l_net = l_mel + l_gat
func (g *Graph) Forward() error {
	xMel, xGat := g.vars[XMel], g.vars[XGat]
	out, err := g.model.Forward(g.vars[XTxt], xMel, g.training)
	if err != nil {
		return errors.Wrapf(err, "%s forward", g.key)
	}
	for name, src := range map[string]*tensor.Tensor{OMel: out.Mel, OMelP: out.MelPost, OGat: out.Gate, OAtt: out.Attention} {
		if err := g.vars[name].CopyFrom(src); err != nil {
			return errors.Wrapf(err, "output %s", name)
		}
	}

	mel, err := nn.MSELoss(out.Mel, xMel)
	if err != nil {
		return err
	}
	melPost, err := nn.MSELoss(out.MelPost, xMel)
	if err != nil {
		return err
	}
	gate, err := nn.SigmoidCrossEntropy(out.Gate, xGat)
	if err != nil {
		return err
	}
	g.vars[LMel].Data()[0] = float32(mel + melPost)
	g.vars[LGat].Data()[0] = float32(gate)
	g.vars[LNet].Data()[0] = float32(mel + melPost + gate)

	if g.training {
		g.last = out
	}
	return nil
}

// Backward propagates l_net of the latest Forward into the parameter gradients.
func (g *Graph) Backward() error {
	if !g.training {
		return errors.Errorf("tacotron2: %s graph has no backward", g.key)
	}
	if g.last == nil {
		return errors.New("tacotron2: backward before forward")
	}
	out := g.last
	g.last = nil

	xMel, xGat := g.vars[XMel], g.vars[XGat]
	gMel, err := nn.MSEGrad(out.Mel, xMel, 1)
	if err != nil {
		return err
	}
	gMelPost, err := nn.MSEGrad(out.MelPost, xMel, 1)
	if err != nil {
		return err
	}
	gGate, err := nn.SigmoidCrossEntropyGrad(out.Gate, xGat, 1)
	if err != nil {
		return err
	}
	return errors.Wrapf(g.model.Backward(out, &Outputs{Mel: gMel, MelPost: gMelPost, Gate: gGate}), "%s backward", g.key)
}
