// Package optim implements the solvers used by the training drivers.
//
// This package provides:
//   - Solver interface: learning-rate control, zero-grad, weight decay, update, state
//   - SGD: Stochastic Gradient Descent with optional momentum
//   - Adam: Adaptive Moment Estimation
//
// A solver is bound to a params.Store at construction and updates it in place from
// the gradients held by the store. The drivers call, per training batch:
//
//	solver.ZeroGrad()
//	model.Backward(...)                 // accumulates into store grads
//	comm.AllReduce(ctx, store.Grads(), false, true)
//	solver.WeightDecay(cfg.WeightDecay)
//	solver.Update()
package optim

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/parallel"
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// State keys shared by all solvers.
const (
	stateLR   = "solver.lr"
	stateStep = "solver.t"
)

// Solver is the base interface for all optimization algorithms.
type Solver interface {
	// Name identifies the algorithm ("sgd", "momentum", "adam").
	Name() string

	// LearningRate returns the current learning rate.
	LearningRate() float32

	// SetLearningRate replaces the learning rate, e.g. on a decay epoch.
	SetLearningRate(lr float32)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// WeightDecay adds decay * param to every gradient.
	WeightDecay(decay float32)

	// Update applies one step using the current gradients.
	Update()

	// StateDict returns internal buffers (momentum, moments, lr, step) for persistence.
	StateDict() map[string]*tensor.Tensor

	// LoadStateDict restores buffers produced by StateDict.
	LoadStateDict(state map[string]*tensor.Tensor) error
}

// Config is the shared solver configuration.
type Config struct {
	LR       float32         // Learning rate
	Momentum float32         // SGD momentum factor, range [0, 1)
	Betas    [2]float32      // Adam running-average coefficients
	Eps      float32         // Adam numerical stability term
	Parallel parallel.Config // Element-wise fan-out for updates
}

// New creates a solver by name over the parameters of store.
//
// Supported kinds: "sgd", "momentum" (SGD with Config.Momentum, default 0.9), "adam".
func New(kind string, store *params.Store, cfg Config) (Solver, error) {
	switch strings.ToLower(kind) {
	case "sgd":
		return NewSGD(store, cfg), nil
	case "momentum":
		if cfg.Momentum == 0 {
			cfg.Momentum = 0.9
		}
		return NewSGD(store, cfg), nil
	case "adam":
		return NewAdam(store, cfg), nil
	default:
		return nil, errors.Errorf("unknown solver %q", kind)
	}
}

// weightDecay implements Solver.WeightDecay for any solver over store.
func weightDecay(store *params.Store, decay float32, cfg parallel.Config) {
	if decay == 0 {
		return
	}
	for _, p := range store.Parameters() {
		g, w := p.Grad().Data(), p.Value().Data()
		parallel.Range(len(g), func(start, end int) {
			for i := start; i < end; i++ {
				g[i] += decay * w[i]
			}
		}, cfg)
	}
}

// scalarState wraps v in a one-element tensor for StateDict.
func scalarState(v float32) *tensor.Tensor {
	return tensor.Full(tensor.Shape{1}, v)
}

// loadBuffer copies a per-parameter buffer from state, allocating dst when needed.
func loadBuffer(state map[string]*tensor.Tensor, key string, p *params.Parameter) (*tensor.Tensor, bool, error) {
	src, ok := state[key]
	if !ok {
		return nil, false, nil
	}
	if !src.Shape().Equal(p.Value().Shape()) {
		return nil, false, errors.Errorf("%s: shape mismatch: expected %v, got %v", key, p.Value().Shape(), src.Shape())
	}
	return src.Clone(), true, nil
}
