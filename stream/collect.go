package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
)

// NextPartition assembles the reader's next partition into a mutation.
// Returns io.EOF when the stream is exhausted.
func NextPartition(ctx context.Context, r Reader) (*model.Mutation, error) {
	first, err := r.Next(ctx)
	if err != nil {
		return nil, err
	}
	if first.Kind != KindPartitionStart {
		return nil, fmt.Errorf("stream: expected partition start, got %s", first.Kind)
	}
	m := &model.Mutation{
		Key:                first.Key,
		PartitionTombstone: first.PartitionTombstone,
	}
	for {
		f, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("stream: truncated partition %s", m.Key)
		}
		if err != nil {
			return nil, err
		}
		switch f.Kind {
		case KindRow:
			// Clone: fragments may alias the producer's internal rows,
			// and the assembled mutation is mutated by later merges.
			m.Rows = append(m.Rows, f.Row.Clone())
		case KindRangeTombstone:
			m.RangeTombstones = append(m.RangeTombstones, f.RangeTombstone)
		case KindPartitionEnd:
			return m, nil
		default:
			return nil, fmt.Errorf("stream: unexpected %s inside partition %s", f.Kind, m.Key)
		}
	}
}

// ReadAll drains the reader into mutations, one per partition.
func ReadAll(ctx context.Context, r Reader) ([]*model.Mutation, error) {
	var out []*model.Mutation
	for {
		m, err := NextPartition(ctx, r)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
}

// Collect opens a reader on the source, drains it, and closes it.
func Collect(ctx context.Context, s Source, schema *model.Schema, rng model.KeyRange, slice model.Slice, p *permit.Permit) ([]*model.Mutation, error) {
	r, err := s.NewReader(ctx, schema, rng, slice, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ReadAll(ctx, r)
}
