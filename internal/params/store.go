package params

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/serialization"
	"github.com/born-ml/recipes/internal/tensor"
)

// Store is an ordered collection of named parameters.
//
// Registration order is preserved; solvers and communicators iterate in that order so
// every worker reduces gradients in the same sequence.
type Store struct {
	params []*Parameter
	index  map[string]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Register adds a parameter named name holding value.
func (s *Store) Register(name string, value *tensor.Tensor) (*Parameter, error) {
	if err := serialization.ValidateTensorName(name); err != nil {
		return nil, errors.Wrapf(err, "register %q", name)
	}
	if _, ok := s.index[name]; ok {
		return nil, errors.Errorf("parameter %q already registered", name)
	}
	p := NewParameter(name, value)
	s.index[name] = len(s.params)
	s.params = append(s.params, p)
	return p, nil
}

// MustRegister is Register for model constructors with fixed, known-good names.
func (s *Store) MustRegister(name string, value *tensor.Tensor) *Parameter {
	p, err := s.Register(name, value)
	if err != nil {
		panic(err)
	}
	return p
}

// Get returns the parameter named name.
func (s *Store) Get(name string) (*Parameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.params[i], true
}

// Parameters returns all parameters in registration order.
func (s *Store) Parameters() []*Parameter {
	return s.params
}

// Names returns parameter names in registration order.
func (s *Store) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.name
	}
	return names
}

// Len returns the number of parameters.
func (s *Store) Len() int {
	return len(s.params)
}

// NumElements returns the total number of scalar weights.
func (s *Store) NumElements() int {
	n := 0
	for _, p := range s.params {
		n += p.value.Len()
	}
	return n
}

// Grads returns gradient tensors in registration order.
func (s *Store) Grads() []*tensor.Tensor {
	grads := make([]*tensor.Tensor, len(s.params))
	for i, p := range s.params {
		grads[i] = p.grad
	}
	return grads
}

// ZeroGrad clears all gradients.
func (s *Store) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// StateDict returns the live parameter values keyed by name.
func (s *Store) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor, len(s.params))
	for _, p := range s.params {
		state[p.name] = p.value
	}
	return state
}

// LoadStateDict copies values from state into the registered parameters.
//
// Every registered parameter must be present with a matching shape; extra entries
// are rejected so that loading a checkpoint of a different model fails loudly.
func (s *Store) LoadStateDict(state map[string]*tensor.Tensor) error {
	for name := range state {
		if _, ok := s.index[name]; !ok {
			return errors.Errorf("unexpected parameter %q in state", name)
		}
	}
	for _, p := range s.params {
		src, ok := state[p.name]
		if !ok {
			return errors.Errorf("missing parameter %q in state", p.name)
		}
		if err := p.value.CopyFrom(src); err != nil {
			return errors.Wrapf(err, "parameter %q", p.name)
		}
	}
	return nil
}

// Snapshot returns deep copies of all parameter values.
func (s *Store) Snapshot() map[string]*tensor.Tensor {
	snap := make(map[string]*tensor.Tensor, len(s.params))
	for _, p := range s.params {
		snap[p.name] = p.value.Clone()
	}
	return snap
}

// Save writes all parameter values to a SafeTensors file.
func (s *Store) Save(path string, metadata map[string]string) error {
	if err := serialization.WriteSafeTensors(path, s.StateDict(), metadata); err != nil {
		return errors.Wrap(err, "save parameters")
	}
	return nil
}

// Load restores parameter values from a SafeTensors file written by Save.
func (s *Store) Load(path string) (map[string]string, error) {
	state, meta, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return nil, errors.Wrap(err, "load parameters")
	}
	if err := s.LoadStateDict(state); err != nil {
		return nil, errors.Wrapf(err, "load parameters from %s", path)
	}
	return meta, nil
}
