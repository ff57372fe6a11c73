package optim

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/serialization"
)

const metadataSolver = "solver"

// SaveStates writes the solver state to a SafeTensors file.
func SaveStates(path string, s Solver, metadata map[string]string) error {
	meta := map[string]string{metadataSolver: s.Name()}
	for k, v := range metadata {
		meta[k] = v
	}
	if err := serialization.WriteSafeTensors(path, s.StateDict(), meta); err != nil {
		return errors.Wrap(err, "save solver states")
	}
	return nil
}

// LoadStates restores solver state written by SaveStates.
// The file must have been written by a solver of the same kind.
func LoadStates(path string, s Solver) error {
	state, meta, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return errors.Wrap(err, "load solver states")
	}
	if name := meta[metadataSolver]; name != "" && name != s.Name() {
		return errors.Errorf("solver state in %s is for %q, not %q", path, name, s.Name())
	}
	if err := s.LoadStateDict(state); err != nil {
		return errors.Wrapf(err, "load solver states from %s", path)
	}
	return nil
}
