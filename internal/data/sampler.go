package data

import (
	"math/rand"

	"github.com/pkg/errors"
)

// sampler walks a worker's partition, reshuffling and wrapping around between passes.
type sampler struct {
	order   []int
	pos     int
	shuffle bool
	rng     *rand.Rand
}

func newSampler(n int, sh Sharding) (*sampler, error) {
	if err := sh.validate(); err != nil {
		return nil, err
	}
	start, end := Partition(n, sh.Rank, sh.Workers)
	if end <= start {
		return nil, errors.Wrapf(ErrEmptyPartition, "rank %d of %d over %d samples", sh.Rank, sh.Workers, n)
	}
	order := make([]int, end-start)
	for i := range order {
		order[i] = start + i
	}
	s := &sampler{
		order:   order,
		shuffle: sh.Shuffle,
		rng:     rand.New(rand.NewSource(sh.Seed + int64(sh.Rank)*7919)), //nolint:gosec // reproducible order, not security.
	}
	s.reshuffle()
	return s, nil
}

func (s *sampler) reshuffle() {
	if !s.shuffle {
		return
	}
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
}

// take returns the next n sample indices.
func (s *sampler) take(n int) []int {
	out := make([]int, n)
	for i := range out {
		if s.pos == len(s.order) {
			s.pos = 0
			s.reshuffle()
		}
		out[i] = s.order[s.pos]
		s.pos++
	}
	return out
}

func (s *sampler) len() int {
	return len(s.order)
}
