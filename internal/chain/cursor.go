package chain

import "github.com/okrasa/strata/model"

// Cursor iterates the merged rows of a snapshot lazily, one clustering
// position at a time, without materializing the partition. It tolerates
// concurrent Compact on the chain: when the chain's change mark moves, the
// cursor re-resolves the version layout and re-anchors just after the last
// emitted position. Compaction preserves logical content, so the
// continuation is identical to an undisturbed iteration.
type Cursor struct {
	snap  *Snapshot
	slice model.Slice

	resolved bool
	mark     uint64
	partTomb model.Tombstone
	rts      []model.RangeTombstone
	rows     []versionRows

	started bool
	lastKey model.ClusteringKey
}

type versionRows struct {
	rows []*model.Row
	idx  int
}

// PartitionTombstone returns the merged partition tombstone.
func (c *Cursor) PartitionTombstone() model.Tombstone {
	c.ensureResolved()
	return c.partTomb
}

// RangeTombstones returns the merged range tombstones, sorted by start.
func (c *Cursor) RangeTombstones() []model.RangeTombstone {
	c.ensureResolved()
	return c.rts
}

// Next returns the next merged row in clustering order, or false at the
// end of the partition.
func (c *Cursor) Next() (*model.Row, bool) {
	c.ensureResolved()
	for {
		row := c.mergeNext()
		if row == nil {
			return nil, false
		}
		c.started = true
		c.lastKey = row.Key
		if !c.slice.SelectsRow(row.Key) {
			continue
		}
		row.Tombstone = row.Tombstone.Merge(c.shadowAt(row.Key))
		row = c.dropShadowed(row)
		if row == nil {
			continue
		}
		return c.slice.FilterRow(row), true
	}
}

// mergeNext merges all version rows at the smallest unemitted clustering
// position. Returns nil when every version is exhausted.
func (c *Cursor) mergeNext() *model.Row {
	ch := c.snap.chain
	ch.mu.Lock()
	if ch.mark != c.mark {
		c.resolveLocked()
	}
	var minKey model.ClusteringKey
	found := false
	for i := range c.rows {
		vr := &c.rows[i]
		if vr.idx >= len(vr.rows) {
			continue
		}
		k := vr.rows[vr.idx].Key
		if !found || model.CompareClustering(k, minKey) < 0 {
			minKey = k
			found = true
		}
	}
	if !found {
		ch.mu.Unlock()
		return nil
	}
	var merged *model.Row
	for i := range c.rows {
		vr := &c.rows[i]
		if vr.idx >= len(vr.rows) || model.CompareClustering(vr.rows[vr.idx].Key, minKey) != 0 {
			continue
		}
		r := vr.rows[vr.idx]
		vr.idx++
		if merged == nil {
			merged = r.Clone()
		} else {
			merged = merged.Merge(r)
		}
	}
	ch.mu.Unlock()
	return merged
}

func (c *Cursor) ensureResolved() {
	if c.resolved {
		return
	}
	ch := c.snap.chain
	ch.mu.Lock()
	c.resolveLocked()
	ch.mu.Unlock()
}

// resolveLocked rebuilds the per-version row positions from the current
// chain layout, anchored strictly after the last emitted key. Caller holds
// the chain mutex.
func (c *Cursor) resolveLocked() {
	ch := c.snap.chain
	visible := ch.visible(c.snap.seq)

	c.partTomb = model.Tombstone{}
	c.rts = nil
	c.rows = c.rows[:0]
	for _, v := range visible {
		c.partTomb = c.partTomb.Merge(v.mut.PartitionTombstone)
		c.rts = model.MergeRangeTombstones(c.rts, v.mut.RangeTombstones)
		vr := versionRows{rows: v.mut.Rows}
		if c.started {
			for vr.idx < len(vr.rows) && model.CompareClustering(vr.rows[vr.idx].Key, c.lastKey) <= 0 {
				vr.idx++
			}
		}
		c.rows = append(c.rows, vr)
	}
	c.mark = ch.mark
	c.resolved = true
}

// shadowAt returns the strongest covering tombstone at ck from the
// partition tombstone and range tombstones.
func (c *Cursor) shadowAt(ck model.ClusteringKey) model.Tombstone {
	t := c.partTomb
	for _, rt := range c.rts {
		if rt.Covers(ck) {
			t = t.Merge(rt.Tombstone)
		}
	}
	return t
}

// dropShadowed removes cells the row tombstone covers; returns nil when
// the row carries nothing beyond what the partition-level shadow implies.
func (c *Cursor) dropShadowed(r *model.Row) *model.Row {
	kept := r.Cells[:0]
	for _, cell := range r.Cells {
		if !r.Tombstone.Covers(cell.Timestamp) {
			kept = append(kept, cell)
		}
	}
	r.Cells = kept
	if len(r.Cells) == 0 {
		if !r.Tombstone.IsSet() || r.Tombstone.Timestamp <= c.shadowAt(r.Key).Timestamp {
			return nil
		}
	}
	return r
}
