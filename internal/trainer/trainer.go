// Package trainer runs the epoch loop shared by the recipes and fans a run out over
// worker goroutines.
package trainer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/recipes/internal/comm"
)

// Driver is one worker's view of a recipe.
type Driver interface {
	// Train runs one epoch of updates and returns the mean batch loss.
	Train(ctx context.Context, epoch int) (float64, error)
	// Validate evaluates without updating and returns the mean batch loss.
	Validate(ctx context.Context, epoch int) (float64, error)
	// SaveCheckpoint persists the state reached at the end of epoch.
	SaveCheckpoint(epoch int) error
}

// Options schedules the epoch loop.
type Options struct {
	// StartEpoch is the first epoch to run; a resumed run starts after its checkpoint.
	StartEpoch int
	// Epochs is the total number of epochs: epochs StartEpoch..Epochs-1 run.
	Epochs int
	// ValidateEvery validates after every n-th epoch and after the last. Zero disables.
	ValidateEvery int
	// CheckpointEvery checkpoints after every n-th epoch and after the last. Zero
	// disables.
	CheckpointEvery int
	// Leader logs epoch summaries.
	Leader bool
}

func due(epoch, every, last int) bool {
	return every > 0 && ((epoch+1)%every == 0 || epoch == last)
}

// Run drives d through the scheduled epochs. It stops at the first error or when
// ctx is cancelled between epochs.
func Run(ctx context.Context, d Driver, opts Options) error {
	if opts.StartEpoch < 0 {
		return errors.Errorf("trainer: start epoch must be >= 0 (got %d)", opts.StartEpoch)
	}
	last := opts.Epochs - 1
	for epoch := opts.StartEpoch; epoch <= last; epoch++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "stopped before epoch %d", epoch)
		}

		loss, err := d.Train(ctx, epoch)
		if err != nil {
			return errors.Wrapf(err, "train epoch %d", epoch)
		}
		if opts.Leader {
			klog.Infof("epoch %d/%d: train loss %.5f", epoch, opts.Epochs, loss)
		}

		if due(epoch, opts.ValidateEvery, last) {
			vloss, err := d.Validate(ctx, epoch)
			if err != nil {
				return errors.Wrapf(err, "validate epoch %d", epoch)
			}
			if opts.Leader {
				klog.Infof("epoch %d/%d: validation loss %.5f", epoch, opts.Epochs, vloss)
			}
		}

		if due(epoch, opts.CheckpointEvery, last) {
			if err := d.SaveCheckpoint(epoch); err != nil {
				return errors.Wrapf(err, "checkpoint epoch %d", epoch)
			}
		}
	}
	return nil
}

// Launch runs fn on n workers, one goroutine each, connected by a communicator
// group. The first failing worker aborts the group so that peers blocked in a
// collective return, and its error is returned once every worker has exited.
func Launch(ctx context.Context, n int, fn func(ctx context.Context, c comm.Communicator) error) error {
	if n == 1 {
		return fn(ctx, comm.Single())
	}
	group, err := comm.NewGroup(n)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		first error
		wg    sync.WaitGroup
	)
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			err := fn(ctx, group.Member(rank))
			if err == nil {
				return
			}
			err = errors.Wrapf(err, "worker %d", rank)

			mu.Lock()
			if first == nil {
				first = err
			}
			mu.Unlock()

			group.Abort(err)
			cancel()
		}(rank)
	}
	wg.Wait()
	return first
}
