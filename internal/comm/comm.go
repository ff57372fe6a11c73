// Package comm provides the collective operations used to keep worker replicas in
// sync.
//
// Every worker of a training run holds a Communicator. Before each parameter update
// the worker hands its gradient tensors to AllReduce; when the call returns, every
// worker holds the same combined gradients. All members must call AllReduce the same
// number of times in the same order: a member that skips a call leaves its peers
// blocked until their context is cancelled or the group is aborted.
package comm

import (
	"context"

	"github.com/born-ml/recipes/internal/tensor"
)

// Communicator performs collective reductions across the workers of a run.
type Communicator interface {
	// Rank is this worker's index in [0, Size).
	Rank() int

	// Size is the number of workers.
	Size() int

	// AllReduce sums data element-wise across all workers and writes the result back
	// into data on every worker. With division the sum is divided by Size (an
	// average). With inplace each tensor is reduced directly; otherwise the tensors are
	// packed into one contiguous buffer first. Both modes produce identical values.
	AllReduce(ctx context.Context, data []*tensor.Tensor, division, inplace bool) error
}

// single is the communicator of a one-worker run.
type single struct{}

// Single returns a communicator for a run with exactly one worker.
// AllReduce is a no-op: the sum (and the average) over one worker is the input.
func Single() Communicator {
	return single{}
}

func (single) Rank() int { return 0 }

func (single) Size() int { return 1 }

func (single) AllReduce(ctx context.Context, _ []*tensor.Tensor, _, _ bool) error {
	return ctx.Err()
}

// IsLeader reports whether c is the worker that owns shared side effects
// (logging, artifact files).
func IsLeader(c Communicator) bool {
	return c.Rank() == 0
}
