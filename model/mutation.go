package model

import (
	"sort"
	"time"
)

// Mutation is a partition's worth of writes: both the unit applied through
// the write entry point and the merged payload produced by reads, flushes,
// and compactions.
type Mutation struct {
	Schema             *Schema
	Key                Key
	PartitionTombstone Tombstone
	RangeTombstones    []RangeTombstone // sorted by start
	Rows               []*Row           // sorted by clustering key
}

// NewMutation creates an empty mutation for the given partition.
func NewMutation(schema *Schema, key Key) *Mutation {
	return &Mutation{Schema: schema, Key: key}
}

// SetCell writes a live cell at the given clustering position.
func (m *Mutation) SetCell(ck ClusteringKey, col ColumnID, ts Timestamp, value []byte) {
	r := m.rowFor(ck)
	m.setRowCell(r, Cell{Column: col, Timestamp: ts, Value: value, Live: true})
}

// DeleteCell writes a cell-level deletion marker.
func (m *Mutation) DeleteCell(ck ClusteringKey, col ColumnID, ts Timestamp) {
	r := m.rowFor(ck)
	m.setRowCell(r, Cell{Column: col, Timestamp: ts, Live: false})
}

// DeleteRow writes a row tombstone at the given clustering position.
func (m *Mutation) DeleteRow(ck ClusteringKey, ts Timestamp, deletedAt time.Time) {
	r := m.rowFor(ck)
	r.Tombstone = r.Tombstone.Merge(Tombstone{Timestamp: ts, DeletedAt: deletedAt})
	r.dropShadowed()
	r.hasDigest = false
}

// DeleteRange writes a range tombstone over [start, end].
func (m *Mutation) DeleteRange(start, end ClusteringKey, ts Timestamp, deletedAt time.Time) {
	rt := RangeTombstone{Start: start, End: end, Tombstone: Tombstone{Timestamp: ts, DeletedAt: deletedAt}}
	i := sort.Search(len(m.RangeTombstones), func(i int) bool {
		return CompareClustering(m.RangeTombstones[i].Start, start) >= 0
	})
	m.RangeTombstones = append(m.RangeTombstones, RangeTombstone{})
	copy(m.RangeTombstones[i+1:], m.RangeTombstones[i:])
	m.RangeTombstones[i] = rt
	m.normalize()
}

// DeletePartition writes a partition tombstone.
func (m *Mutation) DeletePartition(ts Timestamp, deletedAt time.Time) {
	m.PartitionTombstone = m.PartitionTombstone.Merge(Tombstone{Timestamp: ts, DeletedAt: deletedAt})
	m.normalize()
}

// Row returns the row at the given clustering position, or nil.
func (m *Mutation) Row(ck ClusteringKey) *Row {
	i := m.rowIndex(ck)
	if i < len(m.Rows) && CompareClustering(m.Rows[i].Key, ck) == 0 {
		return m.Rows[i]
	}
	return nil
}

// Apply merges other into m. The merge is timestamp-convergent: for any set
// of mutations the result is independent of application order.
func (m *Mutation) Apply(other *Mutation) {
	m.PartitionTombstone = m.PartitionTombstone.Merge(other.PartitionTombstone)
	if len(other.RangeTombstones) > 0 {
		m.RangeTombstones = MergeRangeTombstones(m.RangeTombstones, other.RangeTombstones)
	}
	m.Rows = mergeRows(m.Rows, other.Rows)
	m.normalize()
}

// IsEmpty reports whether the mutation carries no data and no tombstones.
func (m *Mutation) IsEmpty() bool {
	return len(m.Rows) == 0 && len(m.RangeTombstones) == 0 && !m.PartitionTombstone.IsSet()
}

// Size estimates the heap footprint of the mutation in bytes, used for
// dirty-memory accounting.
func (m *Mutation) Size() int64 {
	size := int64(len(m.Key.Raw)) + 64
	for _, rt := range m.RangeTombstones {
		size += int64(len(rt.Start)+len(rt.End)) + 32
	}
	for _, r := range m.Rows {
		size += r.Size()
	}
	return size
}

// Clone returns a deep-enough copy: rows are cloned, cell values shared.
func (m *Mutation) Clone() *Mutation {
	out := &Mutation{
		Schema:             m.Schema,
		Key:                m.Key,
		PartitionTombstone: m.PartitionTombstone,
	}
	if len(m.RangeTombstones) > 0 {
		out.RangeTombstones = make([]RangeTombstone, len(m.RangeTombstones))
		copy(out.RangeTombstones, m.RangeTombstones)
	}
	if len(m.Rows) > 0 {
		out.Rows = make([]*Row, len(m.Rows))
		for i, r := range m.Rows {
			out.Rows[i] = r.Clone()
		}
	}
	return out
}

// CompactTo drops data shadowed by tombstones and purges tombstones whose
// GC grace expired before gcBefore. A zero gcBefore purges nothing; callers
// must pass a non-zero horizon only when the compaction covers every source
// that may still hold data the tombstones shadow.
func (m *Mutation) CompactTo(gcBefore time.Time) {
	m.normalize()
	if gcBefore.IsZero() {
		return
	}
	if m.PartitionTombstone.ExpiredBefore(gcBefore) {
		m.PartitionTombstone = Tombstone{}
	}
	kept := m.RangeTombstones[:0]
	for _, rt := range m.RangeTombstones {
		if !rt.ExpiredBefore(gcBefore) {
			kept = append(kept, rt)
		}
	}
	m.RangeTombstones = kept
	rows := m.Rows[:0]
	for _, r := range m.Rows {
		if r.Tombstone.ExpiredBefore(gcBefore) {
			r.Tombstone = Tombstone{}
			r.hasDigest = false
		}
		if !r.IsEmpty() {
			rows = append(rows, r)
		}
	}
	m.Rows = rows
}

// normalize drops cells shadowed by the partition tombstone, covering range
// tombstones, or their row tombstone. Shadow-dropping is order-independent
// because the shadowing tombstone itself survives until GC purge.
func (m *Mutation) normalize() {
	rows := m.Rows[:0]
	for _, r := range m.Rows {
		r.Tombstone = r.Tombstone.Merge(m.rowShadow(r.Key))
		r.dropShadowed()
		r.hasDigest = false
		// A row tombstone already implied by the partition tombstone
		// carries no information of its own.
		if len(r.Cells) == 0 && r.Tombstone.Timestamp <= m.rowShadow(r.Key).Timestamp {
			continue
		}
		if !r.IsEmpty() {
			rows = append(rows, r)
		}
	}
	m.Rows = rows
}

// rowShadow returns the strongest tombstone covering ck from the partition
// tombstone and range tombstones.
func (m *Mutation) rowShadow(ck ClusteringKey) Tombstone {
	t := m.PartitionTombstone
	for _, rt := range m.RangeTombstones {
		if rt.Covers(ck) {
			t = t.Merge(rt.Tombstone)
		}
	}
	return t
}

func (m *Mutation) rowFor(ck ClusteringKey) *Row {
	i := m.rowIndex(ck)
	if i < len(m.Rows) && CompareClustering(m.Rows[i].Key, ck) == 0 {
		return m.Rows[i]
	}
	r := &Row{Key: ck}
	m.Rows = append(m.Rows, nil)
	copy(m.Rows[i+1:], m.Rows[i:])
	m.Rows[i] = r
	return r
}

func (m *Mutation) rowIndex(ck ClusteringKey) int {
	return sort.Search(len(m.Rows), func(i int) bool {
		return CompareClustering(m.Rows[i].Key, ck) >= 0
	})
}

func (m *Mutation) setRowCell(r *Row, c Cell) {
	i := sort.Search(len(r.Cells), func(i int) bool {
		return r.Cells[i].Column >= c.Column
	})
	if i < len(r.Cells) && r.Cells[i].Column == c.Column {
		if c.Supersedes(r.Cells[i]) {
			r.Cells[i] = c
		}
	} else {
		r.Cells = append(r.Cells, Cell{})
		copy(r.Cells[i+1:], r.Cells[i:])
		r.Cells[i] = c
	}
	r.hasDigest = false
	m.normalizeRow(r)
}

func (m *Mutation) normalizeRow(r *Row) {
	shadow := r.Tombstone.Merge(m.rowShadow(r.Key))
	if !shadow.IsSet() {
		return
	}
	kept := r.Cells[:0]
	for _, c := range r.Cells {
		if !shadow.Covers(c.Timestamp) {
			kept = append(kept, c)
		}
	}
	r.Cells = kept
}

func mergeRows(a, b []*Row) []*Row {
	if len(a) == 0 {
		out := make([]*Row, len(b))
		for i, r := range b {
			out[i] = r.Clone()
		}
		return out
	}
	if len(b) == 0 {
		return a
	}
	out := make([]*Row, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch CompareClustering(a[i].Key, b[j].Key) {
		case -1:
			out = append(out, a[i])
			i++
		case 1:
			out = append(out, b[j].Clone())
			j++
		default:
			out = append(out, a[i].Merge(b[j]))
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	for ; j < len(b); j++ {
		out = append(out, b[j].Clone())
	}
	return out
}

// MergeRangeTombstones combines two start-sorted tombstone lists, keeping
// sort order and collapsing identical ranges to the strongest tombstone.
func MergeRangeTombstones(a, b []RangeTombstone) []RangeTombstone {
	out := make([]RangeTombstone, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.SliceStable(out, func(i, j int) bool {
		c := CompareClustering(out[i].Start, out[j].Start)
		if c != 0 {
			return c < 0
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	// Identical ranges collapse to the strongest tombstone.
	dedup := out[:0]
	for _, rt := range out {
		n := len(dedup)
		if n > 0 &&
			CompareClustering(dedup[n-1].Start, rt.Start) == 0 &&
			CompareClustering(dedup[n-1].End, rt.End) == 0 {
			dedup[n-1].Tombstone = dedup[n-1].Tombstone.Merge(rt.Tombstone)
			continue
		}
		dedup = append(dedup, rt)
	}
	return dedup
}
