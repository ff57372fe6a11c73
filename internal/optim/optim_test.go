package optim_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/recipes/internal/optim"
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// singleParam returns a store holding x = values, with grad set to grads.
func singleParam(t *testing.T, values, grads []float32) (*params.Store, *params.Parameter) {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{len(values)})
	require.NoError(t, err)
	s := params.NewStore()
	p, err := s.Register("x", x)
	require.NoError(t, err)
	copy(p.Grad().Data(), grads)
	return s, p
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	store, p := singleParam(t, []float32{2.0}, []float32{1.0})
	sgd := optim.NewSGD(store, optim.Config{LR: 0.1})

	sgd.Update()

	// Expected: x_new = x_old - lr * grad = 2.0 - 0.1 * 1.0 = 1.9
	assert.InDelta(t, 1.9, p.Value().Data()[0], 1e-6)
	assert.Equal(t, "sgd", sgd.Name())
}

// TestSGD_WithMomentum tests SGD with momentum over two steps.
func TestSGD_WithMomentum(t *testing.T) {
	store, p := singleParam(t, []float32{1.0}, []float32{1.0})
	sgd := optim.NewSGD(store, optim.Config{LR: 0.1, Momentum: 0.9})

	sgd.Update() // v = 1, x = 0.9
	sgd.Update() // v = 1.9, x = 0.71

	assert.InDelta(t, 0.71, p.Value().Data()[0], 1e-6)
	assert.Equal(t, "momentum", sgd.Name())
}

func TestAdam_FirstStep(t *testing.T) {
	store, p := singleParam(t, []float32{1.0, -1.0}, []float32{0.5, -2.0})
	adam := optim.NewAdam(store, optim.Config{LR: 0.01})

	adam.Update()

	// First Adam step moves each weight by ~lr in the direction opposite to the gradient.
	assert.InDelta(t, 0.99, p.Value().Data()[0], 1e-5)
	assert.InDelta(t, -0.99, p.Value().Data()[1], 1e-5)
	assert.Equal(t, 1, adam.Timestep())
}

func TestWeightDecay(t *testing.T) {
	store, p := singleParam(t, []float32{2.0, -4.0}, []float32{1.0, 1.0})
	sgd := optim.NewSGD(store, optim.Config{LR: 0.1})

	sgd.WeightDecay(0.5)
	assert.Equal(t, []float32{2.0, -1.0}, p.Grad().Data())

	sgd.WeightDecay(0)
	assert.Equal(t, []float32{2.0, -1.0}, p.Grad().Data())
}

func TestZeroGrad(t *testing.T) {
	store, p := singleParam(t, []float32{1}, []float32{5})
	optim.NewAdam(store, optim.Config{}).ZeroGrad()
	assert.Equal(t, []float32{0}, p.Grad().Data())
}

func TestLearningRate(t *testing.T) {
	store, _ := singleParam(t, []float32{1}, []float32{1})
	for _, kind := range []string{"sgd", "momentum", "adam"} {
		t.Run(kind, func(t *testing.T) {
			s, err := optim.New(kind, store, optim.Config{LR: 0.2})
			require.NoError(t, err)
			assert.InDelta(t, 0.2, s.LearningRate(), 1e-7)
			s.SetLearningRate(s.LearningRate() * 0.5)
			assert.InDelta(t, 0.1, s.LearningRate(), 1e-7)
		})
	}

	_, err := optim.New("lbfgs", store, optim.Config{})
	assert.Error(t, err)
}

func TestStatesRoundTrip(t *testing.T) {
	for _, kind := range []string{"momentum", "adam"} {
		t.Run(kind, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "solver.safetensors")

			store, p := singleParam(t, []float32{1, 2, 3}, []float32{0.1, -0.2, 0.3})
			src, err := optim.New(kind, store, optim.Config{LR: 0.05})
			require.NoError(t, err)
			src.Update()
			src.Update()
			src.SetLearningRate(0.025)
			require.NoError(t, optim.SaveStates(path, src, nil))

			// Restore into a fresh solver over an identical copy of the parameters.
			store2, p2 := singleParam(t, p.Value().Data(), p.Grad().Data())
			dst, err := optim.New(kind, store2, optim.Config{LR: 0.05})
			require.NoError(t, err)
			require.NoError(t, optim.LoadStates(path, dst))
			assert.InDelta(t, 0.025, dst.LearningRate(), 1e-9)

			// Both solvers must now produce the same next step.
			src.Update()
			dst.Update()
			assert.True(t, tensor.AllClose(p.Value(), p2.Value(), 1e-6, 1e-7))
		})
	}
}

func TestLoadStatesRejectsOtherSolver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.safetensors")
	store, _ := singleParam(t, []float32{1}, []float32{1})

	require.NoError(t, optim.SaveStates(path, optim.NewAdam(store, optim.Config{}), nil))
	assert.Error(t, optim.LoadStates(path, optim.NewSGD(store, optim.Config{})))
}

func TestLoadStateDictShapeMismatch(t *testing.T) {
	store, _ := singleParam(t, []float32{1, 2}, []float32{1, 1})
	adam := optim.NewAdam(store, optim.Config{})
	err := adam.LoadStateDict(map[string]*tensor.Tensor{"x.m": tensor.New(tensor.Shape{3})})
	assert.Error(t, err)
}
