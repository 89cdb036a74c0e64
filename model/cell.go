package model

import "bytes"

// ColumnID identifies a column within a schema.
type ColumnID uint32

// Cell is a single column value tagged with its write timestamp.
// Live is false for a cell-level deletion marker.
type Cell struct {
	Column    ColumnID
	Timestamp Timestamp
	Value     []byte
	Live      bool
}

// Supersedes reports whether c wins over o when both carry the same column.
// Higher timestamp wins; on equal timestamps a dead cell beats a live one,
// then the larger value wins, so merge order never affects the outcome.
func (c Cell) Supersedes(o Cell) bool {
	if c.Timestamp != o.Timestamp {
		return c.Timestamp > o.Timestamp
	}
	if c.Live != o.Live {
		return !c.Live
	}
	return bytes.Compare(c.Value, o.Value) > 0
}

// Size estimates the heap footprint of the cell in bytes.
func (c Cell) Size() int64 {
	return int64(len(c.Value)) + 16
}

// mergeCells merges two column-sorted cell slices, keeping the winning cell
// per column. The result never shares backing storage with a or b; Merge
// filters it in place afterwards.
func mergeCells(a, b []Cell) []Cell {
	if len(a) == 0 {
		return append([]Cell(nil), b...)
	}
	if len(b) == 0 {
		return append([]Cell(nil), a...)
	}
	out := make([]Cell, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Column < b[j].Column:
			out = append(out, a[i])
			i++
		case a[i].Column > b[j].Column:
			out = append(out, b[j])
			j++
		default:
			if b[j].Supersedes(a[i]) {
				out = append(out, b[j])
			} else {
				out = append(out, a[i])
			}
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
