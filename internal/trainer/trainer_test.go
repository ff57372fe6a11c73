package trainer

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/recipes/internal/comm"
	"github.com/born-ml/recipes/internal/tensor"
)

type recordingDriver struct {
	calls     []string
	failTrain int
	cancel    context.CancelFunc
	cancelAt  int
}

func (d *recordingDriver) Train(_ context.Context, epoch int) (float64, error) {
	d.calls = append(d.calls, fmt.Sprintf("train %d", epoch))
	if d.failTrain >= 0 && epoch == d.failTrain {
		return 0, errors.New("boom")
	}
	if d.cancel != nil && epoch == d.cancelAt {
		d.cancel()
	}
	return float64(epoch), nil
}

func (d *recordingDriver) Validate(_ context.Context, epoch int) (float64, error) {
	d.calls = append(d.calls, fmt.Sprintf("validate %d", epoch))
	return 0, nil
}

func (d *recordingDriver) SaveCheckpoint(epoch int) error {
	d.calls = append(d.calls, fmt.Sprintf("checkpoint %d", epoch))
	return nil
}

func TestRunSchedule(t *testing.T) {
	d := &recordingDriver{failTrain: -1}
	err := Run(context.Background(), d, Options{Epochs: 5, ValidateEvery: 2, CheckpointEvery: 3, Leader: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"train 0",
		"train 1", "validate 1",
		"train 2", "checkpoint 2",
		"train 3", "validate 3",
		"train 4", "validate 4", "checkpoint 4",
	}, d.calls)
}

func TestRunResumesFromStartEpoch(t *testing.T) {
	d := &recordingDriver{failTrain: -1}
	require.NoError(t, Run(context.Background(), d, Options{StartEpoch: 3, Epochs: 5, ValidateEvery: 1}))
	assert.Equal(t, []string{"train 3", "validate 3", "train 4", "validate 4"}, d.calls)

	d = &recordingDriver{failTrain: -1}
	require.NoError(t, Run(context.Background(), d, Options{StartEpoch: 5, Epochs: 5, ValidateEvery: 1}))
	assert.Empty(t, d.calls)

	assert.Error(t, Run(context.Background(), d, Options{StartEpoch: -1, Epochs: 5}))
}

func TestRunStopsOnError(t *testing.T) {
	d := &recordingDriver{failTrain: 1}
	err := Run(context.Background(), d, Options{Epochs: 5, ValidateEvery: 1, CheckpointEvery: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "train epoch 1")
	assert.Equal(t, []string{"train 0", "validate 0", "checkpoint 0", "train 1"}, d.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &recordingDriver{failTrain: -1, cancel: cancel, cancelAt: 1}

	err := Run(ctx, d, Options{Epochs: 5})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"train 0", "train 1"}, d.calls)
}

func TestLaunchSingleWorker(t *testing.T) {
	var size int
	err := Launch(context.Background(), 1, func(_ context.Context, c comm.Communicator) error {
		size = c.Size()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestLaunchReducesAcrossWorkers(t *testing.T) {
	var total atomic.Int64
	err := Launch(context.Background(), 4, func(ctx context.Context, c comm.Communicator) error {
		x := tensor.Full(tensor.Shape{1}, float32(c.Rank()))
		if err := c.AllReduce(ctx, []*tensor.Tensor{x}, false, true); err != nil {
			return err
		}
		total.Add(int64(x.Data()[0]))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4*6), total.Load())
}

func TestLaunchAbortsPeersOnFailure(t *testing.T) {
	cause := errors.New("disk full")
	err := Launch(context.Background(), 3, func(ctx context.Context, c comm.Communicator) error {
		if c.Rank() == 2 {
			return cause
		}
		// Peers wait in a collective that rank 2 never joins.
		x := tensor.New(tensor.Shape{1})
		return c.AllReduce(ctx, []*tensor.Tensor{x}, false, true)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "worker 2")
}

func TestLaunchRejectsZeroWorkers(t *testing.T) {
	err := Launch(context.Background(), 0, func(context.Context, comm.Communicator) error { return nil })
	assert.Error(t, err)
}
