package stream

import "github.com/okrasa/strata/model"

// Emitter turns one merged partition into its fragment sequence,
// applying the read's slice restriction. Rows and range tombstones are
// interleaved in clustering order, tombstones first on ties.
type Emitter struct {
	m     *model.Mutation
	slice model.Slice

	started bool
	ended   bool
	rowIdx  int
	rtIdx   int
}

// Reset points the emitter at a new partition.
func (e *Emitter) Reset(m *model.Mutation, slice model.Slice) {
	e.m = m
	e.slice = slice
	e.started = false
	e.ended = false
	e.rowIdx = 0
	e.rtIdx = 0
}

// Active reports whether the emitter still has fragments to produce.
func (e *Emitter) Active() bool {
	return e.m != nil && !e.ended
}

// Next produces the next fragment, or false when the partition is done.
func (e *Emitter) Next() (Fragment, bool) {
	if e.m == nil || e.ended {
		return Fragment{}, false
	}
	if !e.started {
		e.started = true
		return Fragment{
			Kind:               KindPartitionStart,
			Key:                e.m.Key,
			PartitionTombstone: e.m.PartitionTombstone,
		}, true
	}
	row := e.nextRow()
	var rt *model.RangeTombstone
	if e.rtIdx < len(e.m.RangeTombstones) {
		rt = &e.m.RangeTombstones[e.rtIdx]
	}
	switch {
	case row == nil && rt == nil:
		e.ended = true
		return Fragment{Kind: KindPartitionEnd, Key: e.m.Key}, true
	case rt != nil && (row == nil || model.CompareClustering(rt.Start, row.Key) <= 0):
		e.rtIdx++
		return Fragment{Kind: KindRangeTombstone, Key: e.m.Key, RangeTombstone: *rt}, true
	default:
		e.rowIdx++
		return Fragment{Kind: KindRow, Key: e.m.Key, Row: e.slice.FilterRow(row)}, true
	}
}

// nextRow skips rows the slice does not select.
func (e *Emitter) nextRow() *model.Row {
	for e.rowIdx < len(e.m.Rows) {
		r := e.m.Rows[e.rowIdx]
		if e.slice.SelectsRow(r.Key) {
			return r
		}
		e.rowIdx++
	}
	return nil
}
