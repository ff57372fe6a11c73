// Package checkpoint saves and restores training state as epoch_<N> directories.
//
// A checkpoint directory holds:
//   - params.safetensors: every parameter of the model's params.Store
//   - solver.safetensors: the solver buffers, learning rate and step count
//
// Both files carry the epoch and any caller metadata (such as the run id) in their
// SafeTensors metadata. Each file is written to a temporary name and renamed, so an
// interrupted save never leaves a truncated file behind.
//
// To resume training:
//
//	dir, err := checkpoint.Resolve(base, "latest")
//	meta, err := checkpoint.Load(dir, store, solver)
//	epoch, err := checkpoint.EpochOf(dir)
//	// continue from epoch+1
package checkpoint

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/optim"
	"github.com/born-ml/recipes/internal/params"
)

// File names inside a checkpoint directory.
const (
	ParamsFile = "params.safetensors"
	SolverFile = "solver.safetensors"

	dirPrefix   = "epoch_"
	metaEpoch   = "epoch"
	latestAlias = "latest"
)

// ErrNoCheckpoint is returned when a base directory holds no complete checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Dir returns the checkpoint directory of epoch under base.
func Dir(base string, epoch int) string {
	return filepath.Join(base, dirPrefix+strconv.Itoa(epoch))
}

// Save writes parameters and solver state to Dir(base, epoch) and returns it.
func Save(base string, epoch int, store *params.Store, solver optim.Solver, metadata map[string]string) (string, error) {
	dir := Dir(base, epoch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create checkpoint directory")
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[metaEpoch] = strconv.Itoa(epoch)

	if err := store.Save(filepath.Join(dir, ParamsFile), meta); err != nil {
		return "", errors.Wrapf(err, "checkpoint epoch %d", epoch)
	}
	if err := optim.SaveStates(filepath.Join(dir, SolverFile), solver, meta); err != nil {
		return "", errors.Wrapf(err, "checkpoint epoch %d", epoch)
	}
	return dir, nil
}

// Load restores parameters and solver state from dir and returns the parameter
// file metadata.
func Load(dir string, store *params.Store, solver optim.Solver) (map[string]string, error) {
	meta, err := store.Load(filepath.Join(dir, ParamsFile))
	if err != nil {
		return nil, errors.Wrapf(err, "restore checkpoint %s", dir)
	}
	if err := optim.LoadStates(filepath.Join(dir, SolverFile), solver); err != nil {
		return nil, errors.Wrapf(err, "restore checkpoint %s", dir)
	}
	return meta, nil
}

// EpochOf parses the epoch from a directory named epoch_<N>.
func EpochOf(dir string) (int, error) {
	name := filepath.Base(filepath.Clean(dir))
	if !strings.HasPrefix(name, dirPrefix) {
		return 0, errors.Errorf("%q is not an %s<N> directory", dir, dirPrefix)
	}
	epoch, err := strconv.Atoi(strings.TrimPrefix(name, dirPrefix))
	if err != nil || epoch < 0 {
		return 0, errors.Errorf("%q is not an %s<N> directory", dir, dirPrefix)
	}
	return epoch, nil
}

// Latest returns the complete checkpoint with the highest epoch under base.
func Latest(base string) (string, error) {
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return "", errors.Wrapf(ErrNoCheckpoint, "in %s", base)
	}
	if err != nil {
		return "", errors.Wrap(err, "list checkpoints")
	}

	best, bestEpoch := "", -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(base, e.Name())
		epoch, err := EpochOf(dir)
		if err != nil || epoch <= bestEpoch || !complete(dir) {
			continue
		}
		best, bestEpoch = dir, epoch
	}
	if best == "" {
		return "", errors.Wrapf(ErrNoCheckpoint, "in %s", base)
	}
	return best, nil
}

// Resolve maps a resume reference to a checkpoint directory: "latest" selects
// Latest(base), anything else is taken as a directory path.
func Resolve(base, ref string) (string, error) {
	if ref == latestAlias {
		return Latest(base)
	}
	if !complete(ref) {
		return "", errors.Wrapf(ErrNoCheckpoint, "%s is missing %s or %s", ref, ParamsFile, SolverFile)
	}
	return ref, nil
}

func complete(dir string) bool {
	for _, name := range []string{ParamsFile, SolverFile} {
		if st, err := os.Stat(filepath.Join(dir, name)); err != nil || st.IsDir() {
			return false
		}
	}
	return true
}
