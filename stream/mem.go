package stream

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
)

// MemSource is a sorted in-memory Source. It is the reference
// implementation of the mutation-source contract and the test double for
// underlying storage.
type MemSource struct {
	mu        sync.RWMutex
	mutations []*model.Mutation // sorted by key
}

// NewMemSource creates a MemSource holding the given mutations.
// Mutations for the same key are merged.
func NewMemSource(mutations ...*model.Mutation) *MemSource {
	s := &MemSource{}
	for _, m := range mutations {
		s.Apply(m)
	}
	return s
}

// Apply merges m into the source.
func (s *MemSource) Apply(m *model.Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.mutations), func(i int) bool {
		return !s.mutations[i].Key.Less(m.Key)
	})
	if i < len(s.mutations) && s.mutations[i].Key.Equal(m.Key) {
		s.mutations[i].Apply(m)
		return
	}
	s.mutations = append(s.mutations, nil)
	copy(s.mutations[i+1:], s.mutations[i:])
	s.mutations[i] = m.Clone()
}

// Len returns the number of partitions held.
func (s *MemSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mutations)
}

// NewReader implements Source. The reader iterates a snapshot of the
// source taken at creation.
func (s *MemSource) NewReader(_ context.Context, _ *model.Schema, r model.KeyRange, slice model.Slice, _ *permit.Permit) (Reader, error) {
	s.mu.RLock()
	snap := make([]*model.Mutation, len(s.mutations))
	copy(snap, s.mutations)
	s.mu.RUnlock()
	return &memReader{mutations: snap, rng: r, slice: slice}, nil
}

type memReader struct {
	mutations []*model.Mutation
	rng       model.KeyRange
	slice     model.Slice
	idx       int
	emitter   Emitter
	closed    bool
}

func (r *memReader) Next(ctx context.Context) (Fragment, error) {
	if r.closed {
		return Fragment{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}
	for {
		if f, ok := r.emitter.Next(); ok {
			return f, nil
		}
		m := r.nextPartition()
		if m == nil {
			return Fragment{}, io.EOF
		}
		r.emitter.Reset(m, r.slice)
	}
}

func (r *memReader) nextPartition() *model.Mutation {
	for r.idx < len(r.mutations) {
		m := r.mutations[r.idx]
		// Sorted order: stop before consuming anything past the end, so
		// a later FastForwardTo can still reach it.
		if beyondEnd(r.rng, m.Key) {
			return nil
		}
		r.idx++
		if r.rng.Contains(m.Key) {
			return m
		}
	}
	return nil
}

func (r *memReader) FastForwardTo(_ context.Context, rng model.KeyRange) error {
	r.rng = rng
	r.emitter.Reset(nil, r.slice)
	return nil
}

func beyondEnd(rng model.KeyRange, k model.Key) bool {
	if rng.End == nil {
		return false
	}
	c := k.Compare(rng.End.Key)
	return c > 0 || (c == 0 && !rng.End.Inclusive)
}

func (r *memReader) Close() error {
	r.closed = true
	return nil
}
