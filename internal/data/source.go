// Package data feeds batches to the training drivers.
//
// A Source belongs to one worker. It sees only that worker's partition of the
// dataset, walks it in (optionally shuffled) order and wraps around at the end, so
// Next never runs dry. Size reports the whole dataset, which is what the drivers
// divide by batch size and worker count to get the iterations of an epoch.
package data

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

// ErrEmptyPartition is returned when a worker's share of the dataset is empty.
var ErrEmptyPartition = errors.New("data: empty partition")

// Batch holds the aligned tensors of one iteration.
//
// Image sources yield {images [B,C,H,W], labels [B]}; speech sources yield
// {mel [B,mel_len,n_mels*r], text [B,text_len], gate [B,mel_len]}.
type Batch []*tensor.Tensor

// Source yields batches for one worker.
type Source interface {
	// Size is the number of samples in the whole dataset.
	Size() int
	// BatchSize is the number of samples in every batch.
	BatchSize() int
	// Next returns the following batch. Tensors are freshly allocated.
	Next() (Batch, error)
}

// IterationsPerEpoch returns ceil(size / batchSize / workers), the number of
// batches each worker processes per epoch.
func IterationsPerEpoch(size, batchSize, workers int) int {
	if size <= 0 || batchSize <= 0 || workers <= 0 {
		return 0
	}
	per := batchSize * workers
	return (size + per - 1) / per
}

// Sharding selects one worker's partition and its iteration order.
type Sharding struct {
	// Rank and Workers pick the contiguous slice [Rank*N/Workers, (Rank+1)*N/Workers).
	Rank    int
	Workers int
	// Shuffle reorders the partition at the start of every pass.
	Shuffle bool
	// Seed makes shuffling reproducible. Each rank derives its own stream from it.
	Seed int64
}

func (s Sharding) validate() error {
	if s.Workers <= 0 {
		return errors.Errorf("data: workers must be > 0 (got %d)", s.Workers)
	}
	if s.Rank < 0 || s.Rank >= s.Workers {
		return errors.Errorf("data: rank %d out of range [0, %d)", s.Rank, s.Workers)
	}
	return nil
}

// Partition returns the half-open index range of rank's share of n samples.
func Partition(n, rank, workers int) (start, end int) {
	return rank * n / workers, (rank + 1) * n / workers
}
