package optim

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/parallel"
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
type SGD struct {
	store      *params.Store
	lr         float32
	momentum   float32
	velocities map[*params.Parameter]*tensor.Tensor
	par        parallel.Config
}

// NewSGD creates a new SGD optimizer over store.
func NewSGD(store *params.Store, cfg Config) *SGD {
	if cfg.LR == 0 {
		cfg.LR = 0.01
	}
	return &SGD{
		store:      store,
		lr:         cfg.LR,
		momentum:   cfg.Momentum,
		velocities: make(map[*params.Parameter]*tensor.Tensor),
		par:        cfg.Parallel,
	}
}

// Name implements Solver.
func (s *SGD) Name() string {
	if s.momentum != 0 {
		return "momentum"
	}
	return "sgd"
}

// Update performs a single optimization step.
func (s *SGD) Update() {
	for _, p := range s.store.Parameters() {
		w, g := p.Value().Data(), p.Grad().Data()

		if s.momentum == 0 {
			parallel.Range(len(w), func(start, end int) {
				for i := start; i < end; i++ {
					w[i] -= s.lr * g[i]
				}
			}, s.par)
			continue
		}

		velocity, ok := s.velocities[p]
		if !ok {
			velocity = tensor.New(p.Value().Shape())
			s.velocities[p] = velocity
		}
		v := velocity.Data()
		parallel.Range(len(w), func(start, end int) {
			for i := start; i < end; i++ {
				v[i] = s.momentum*v[i] + g[i]
				w[i] -= s.lr * v[i]
			}
		}, s.par)
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD) ZeroGrad() {
	s.store.ZeroGrad()
}

// WeightDecay adds decay * param to every gradient.
func (s *SGD) WeightDecay(decay float32) {
	weightDecay(s.store, decay, s.par)
}

// LearningRate returns the current learning rate.
func (s *SGD) LearningRate() float32 {
	return s.lr
}

// SetLearningRate updates the learning rate.
func (s *SGD) SetLearningRate(lr float32) {
	s.lr = lr
}

// StateDict returns the learning rate and, with momentum, the velocity buffers
// keyed "<param>.momentum".
func (s *SGD) StateDict() map[string]*tensor.Tensor {
	state := map[string]*tensor.Tensor{stateLR: scalarState(s.lr)}
	if s.momentum == 0 {
		return state
	}
	for _, p := range s.store.Parameters() {
		if v, ok := s.velocities[p]; ok {
			state[p.Name()+".momentum"] = v
		}
	}
	return state
}

// LoadStateDict restores the learning rate and velocity buffers.
func (s *SGD) LoadStateDict(state map[string]*tensor.Tensor) error {
	if lr, ok := state[stateLR]; ok {
		s.lr = lr.Data()[0]
	}
	if s.momentum == 0 {
		return nil
	}

	velocities := make(map[*params.Parameter]*tensor.Tensor)
	for _, p := range s.store.Parameters() {
		v, ok, err := loadBuffer(state, p.Name()+".momentum", p)
		if err != nil {
			return errors.Wrap(err, "sgd")
		}
		if ok {
			velocities[p] = v
		}
	}
	s.velocities = velocities
	return nil
}
