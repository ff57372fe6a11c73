package optim

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/parallel"
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	store *params.Store
	lr    float32
	beta1 float32
	beta2 float32
	eps   float32
	t     int // Timestep for bias correction
	m     map[*params.Parameter]*tensor.Tensor
	v     map[*params.Parameter]*tensor.Tensor
	par   parallel.Config
}

// NewAdam creates a new Adam optimizer.
//
// Default hyperparameters: LR 0.001, Betas (0.9, 0.999), Eps 1e-8.
func NewAdam(store *params.Store, cfg Config) *Adam {
	if cfg.LR == 0 {
		cfg.LR = 0.001
	}
	if cfg.Betas[0] == 0 {
		cfg.Betas[0] = 0.9
	}
	if cfg.Betas[1] == 0 {
		cfg.Betas[1] = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}

	return &Adam{
		store: store,
		lr:    cfg.LR,
		beta1: cfg.Betas[0],
		beta2: cfg.Betas[1],
		eps:   cfg.Eps,
		m:     make(map[*params.Parameter]*tensor.Tensor),
		v:     make(map[*params.Parameter]*tensor.Tensor),
		par:   cfg.Parallel,
	}
}

// Name implements Solver.
func (a *Adam) Name() string {
	return "adam"
}

// Update performs a single optimization step using Adam algorithm.
func (a *Adam) Update() {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, p := range a.store.Parameters() {
		m, ok := a.m[p]
		if !ok {
			m = tensor.New(p.Value().Shape())
			a.m[p] = m
		}
		v, ok := a.v[p]
		if !ok {
			v = tensor.New(p.Value().Shape())
			a.v[p] = v
		}

		w, g, md, vd := p.Value().Data(), p.Grad().Data(), m.Data(), v.Data()
		parallel.Range(len(w), func(start, end int) {
			for i := start; i < end; i++ {
				gi := g[i]
				md[i] = a.beta1*md[i] + (1.0-a.beta1)*gi
				vd[i] = a.beta2*vd[i] + (1.0-a.beta2)*gi*gi
				mHat := md[i] / biasCorrection1
				vHat := vd[i] / biasCorrection2
				w[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
			}
		}, a.par)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	a.store.ZeroGrad()
}

// WeightDecay adds decay * param to every gradient.
func (a *Adam) WeightDecay(decay float32) {
	weightDecay(a.store, decay, a.par)
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float32 {
	return a.lr
}

// SetLearningRate updates the learning rate.
func (a *Adam) SetLearningRate(lr float32) {
	a.lr = lr
}

// Timestep returns the number of updates applied so far.
func (a *Adam) Timestep() int {
	return a.t
}

// StateDict returns lr, timestep and the moment buffers keyed "<param>.m" and
// "<param>.v".
func (a *Adam) StateDict() map[string]*tensor.Tensor {
	state := map[string]*tensor.Tensor{
		stateLR:   scalarState(a.lr),
		stateStep: scalarState(float32(a.t)),
	}
	for _, p := range a.store.Parameters() {
		if m, ok := a.m[p]; ok {
			state[p.Name()+".m"] = m
		}
		if v, ok := a.v[p]; ok {
			state[p.Name()+".v"] = v
		}
	}
	return state
}

// LoadStateDict restores lr, timestep and moment buffers.
func (a *Adam) LoadStateDict(state map[string]*tensor.Tensor) error {
	if lr, ok := state[stateLR]; ok {
		a.lr = lr.Data()[0]
	}
	if t, ok := state[stateStep]; ok {
		a.t = int(t.Data()[0])
	}

	ms := make(map[*params.Parameter]*tensor.Tensor)
	vs := make(map[*params.Parameter]*tensor.Tensor)
	for _, p := range a.store.Parameters() {
		m, ok, err := loadBuffer(state, p.Name()+".m", p)
		if err != nil {
			return errors.Wrap(err, "adam")
		}
		if ok {
			ms[p] = m
		}
		v, ok, err := loadBuffer(state, p.Name()+".v", p)
		if err != nil {
			return errors.Wrap(err, "adam")
		}
		if ok {
			vs[p] = v
		}
	}
	a.m, a.v = ms, vs
	return nil
}
