package comm

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/parallel"
	"github.com/born-ml/recipes/internal/tensor"
)

// ErrAborted is returned by AllReduce after the group has been aborted.
var ErrAborted = errors.New("communicator group aborted")

// Group is an in-process set of workers that reduce through shared memory.
//
// Each call to AllReduce on a member joins the group's current round. The last
// member to arrive finalizes the round and releases the others, which then copy the
// combined result into their own tensors. A new round object is created for every
// collective so that a fast worker entering the next round never touches the
// previous round's result.
type Group struct {
	size int
	par  parallel.Config

	mu      sync.Mutex
	round   *round
	aborted chan struct{}
	err     error
}

type round struct {
	sum     []float32
	arrived int
	done    chan struct{}
	err     error
}

// NewGroup creates a group of n workers.
func NewGroup(n int) (*Group, error) {
	if n <= 0 {
		return nil, errors.Errorf("comm: group size must be > 0 (got %d)", n)
	}
	return &Group{
		size:    n,
		par:     parallel.DefaultConfig(),
		aborted: make(chan struct{}),
	}, nil
}

// Size returns the number of members.
func (g *Group) Size() int {
	return g.size
}

// Member returns the communicator of worker rank.
func (g *Group) Member(rank int) Communicator {
	if rank < 0 || rank >= g.size {
		panic(errors.Errorf("comm: rank %d out of range [0, %d)", rank, g.size))
	}
	return &member{group: g, rank: rank}
}

// Abort releases every member blocked in AllReduce and makes all later calls fail
// with ErrAborted. The first non-nil cause is retained.
func (g *Group) Abort(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return
	}
	if cause == nil {
		cause = ErrAborted
	}
	g.err = cause
	close(g.aborted)
}

func (g *Group) abortErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.abortErrLocked()
}

func (g *Group) abortErrLocked() error {
	if errors.Is(g.err, ErrAborted) {
		return g.err
	}
	return errors.Wrapf(ErrAborted, "%v", g.err)
}

// contribute adds segments, laid end to end, into the current round and returns the
// round to wait on.
func (g *Group) contribute(segments [][]float32, division bool) (*round, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return nil, g.abortErrLocked()
	}

	n := 0
	for _, seg := range segments {
		n += len(seg)
	}

	r := g.round
	if r == nil {
		r = &round{sum: make([]float32, n), done: make(chan struct{})}
		g.round = r
	}
	if n != len(r.sum) {
		// Members disagree on what is being reduced; nobody can make progress.
		r.err = errors.Errorf("comm: all-reduce size mismatch: %d vs %d elements", n, len(r.sum))
	} else {
		offset := 0
		for _, seg := range segments {
			dst := r.sum[offset : offset+len(seg)]
			parallel.Range(len(seg), func(start, end int) {
				for i := start; i < end; i++ {
					dst[i] += seg[i]
				}
			}, g.par)
			offset += len(seg)
		}
	}

	r.arrived++
	if r.arrived == g.size {
		if division && g.size > 1 {
			inv := 1 / float32(g.size)
			for i := range r.sum {
				r.sum[i] *= inv
			}
		}
		g.round = nil
		close(r.done)
	}
	return r, nil
}

type member struct {
	group *Group
	rank  int
}

func (m *member) Rank() int { return m.rank }

func (m *member) Size() int { return m.group.size }

func (m *member) AllReduce(ctx context.Context, data []*tensor.Tensor, division, inplace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var segments [][]float32
	if inplace {
		segments = make([][]float32, len(data))
		for i, t := range data {
			segments[i] = t.Data()
		}
	} else {
		n := 0
		for _, t := range data {
			n += t.Len()
		}
		packed := make([]float32, 0, n)
		for _, t := range data {
			packed = append(packed, t.Data()...)
		}
		segments = [][]float32{packed}
	}

	r, err := m.group.contribute(segments, division)
	if err != nil {
		return err
	}

	select {
	case <-r.done:
	case <-m.group.aborted:
		return m.group.abortErr()
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "rank %d waiting in all-reduce", m.rank)
	}

	if r.err != nil {
		return r.err
	}
	offset := 0
	for _, t := range data {
		offset += copy(t.Data(), r.sum[offset:offset+t.Len()])
	}
	return nil
}
