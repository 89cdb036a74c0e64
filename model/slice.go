package model

// ClusteringRange selects rows in [Start, End]; a nil bound is unbounded.
type ClusteringRange struct {
	Start ClusteringKey
	End   ClusteringKey
}

// Contains reports whether ck falls inside the range.
func (r ClusteringRange) Contains(ck ClusteringKey) bool {
	if r.Start != nil && CompareClustering(ck, r.Start) < 0 {
		return false
	}
	if r.End != nil && CompareClustering(ck, r.End) > 0 {
		return false
	}
	return true
}

// Slice restricts a read to clustering sub-ranges and a column subset.
// The zero value selects everything.
type Slice struct {
	ClusteringRanges []ClusteringRange
	Columns          []ColumnID
}

// FullSlice returns the slice selecting everything.
func FullSlice() Slice {
	return Slice{}
}

// IsFull reports whether the slice applies no restriction.
func (s Slice) IsFull() bool {
	return len(s.ClusteringRanges) == 0 && len(s.Columns) == 0
}

// SelectsRow reports whether a row at ck passes the clustering restriction.
func (s Slice) SelectsRow(ck ClusteringKey) bool {
	if len(s.ClusteringRanges) == 0 {
		return true
	}
	for _, r := range s.ClusteringRanges {
		if r.Contains(ck) {
			return true
		}
	}
	return false
}

// FilterRow projects a row through the column restriction. Returns the row
// unchanged when no column restriction applies.
func (s Slice) FilterRow(r *Row) *Row {
	if len(s.Columns) == 0 {
		return r
	}
	out := &Row{Key: r.Key, Tombstone: r.Tombstone}
	for _, c := range r.Cells {
		if s.selectsColumn(c.Column) {
			out.Cells = append(out.Cells, c)
		}
	}
	return out
}

func (s Slice) selectsColumn(id ColumnID) bool {
	for _, c := range s.Columns {
		if c == id {
			return true
		}
	}
	return false
}
