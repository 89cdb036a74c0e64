package stream

import (
	"context"
	"errors"
	"io"

	"github.com/okrasa/strata/model"
)

// Merge combines readers into one stream: partitions in key order, equal
// keys merged timestamp-convergently. Inputs must each be well-formed;
// their slices are assumed to already match. The merged reader owns the
// inputs and closes them.
func Merge(readers ...Reader) Reader {
	if len(readers) == 1 {
		return readers[0]
	}
	m := &mergedReader{inputs: make([]mergeInput, len(readers))}
	for i, r := range readers {
		m.inputs[i].r = r
	}
	return m
}

type mergeInput struct {
	r       Reader
	pending *model.Mutation
	done    bool
}

type mergedReader struct {
	inputs  []mergeInput
	emitter Emitter
	closed  bool
}

func (m *mergedReader) Next(ctx context.Context) (Fragment, error) {
	if m.closed {
		return Fragment{}, io.EOF
	}
	for {
		if f, ok := m.emitter.Next(); ok {
			return f, nil
		}
		merged, err := m.nextMerged(ctx)
		if err != nil {
			return Fragment{}, err
		}
		m.emitter.Reset(merged, model.FullSlice())
	}
}

// nextMerged buffers one partition per input and merges the smallest key.
func (m *mergedReader) nextMerged(ctx context.Context) (*model.Mutation, error) {
	var min *model.Key
	for i := range m.inputs {
		in := &m.inputs[i]
		if in.pending == nil && !in.done {
			p, err := NextPartition(ctx, in.r)
			if errors.Is(err, io.EOF) {
				in.done = true
				continue
			}
			if err != nil {
				return nil, err
			}
			in.pending = p
		}
		if in.pending != nil && (min == nil || in.pending.Key.Less(*min)) {
			k := in.pending.Key
			min = &k
		}
	}
	if min == nil {
		return nil, io.EOF
	}
	var merged *model.Mutation
	for i := range m.inputs {
		in := &m.inputs[i]
		if in.pending == nil || !in.pending.Key.Equal(*min) {
			continue
		}
		if merged == nil {
			merged = in.pending
		} else {
			merged.Apply(in.pending)
		}
		in.pending = nil
	}
	return merged, nil
}

func (m *mergedReader) FastForwardTo(ctx context.Context, rng model.KeyRange) error {
	m.emitter.Reset(nil, model.FullSlice())
	for i := range m.inputs {
		in := &m.inputs[i]
		// A buffered partition inside the new range stays usable; an
		// inner EOF only meant the previous range was exhausted.
		if in.pending != nil && !rng.Contains(in.pending.Key) {
			in.pending = nil
		}
		in.done = false
		if err := in.r.FastForwardTo(ctx, rng); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergedReader) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var first error
	for i := range m.inputs {
		if err := m.inputs[i].r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
