// Package chain implements the per-partition multi-version structure: an
// ordered set of immutable mutation layers for one partition key.
//
// Writes prepend or merge into the newest version; snapshots pin the chain
// at a write-order index so concurrent readers keep a fixed view while
// newer writes land. Compaction merges version runs no live snapshot
// distinguishes, preserving exact logical content. Cursors iterate a
// snapshot's merged rows lazily and survive concurrent compaction through
// the chain's change mark.
package chain

import (
	"sync"

	"github.com/okrasa/strata/model"
)

// Chain is the version chain for one partition. An empty chain is a valid
// representation of a known-empty partition; whether the partition has
// been populated at all is tracked by the owning entry, not here.
type Chain struct {
	mu       sync.Mutex
	schema   *model.Schema
	key      model.Key
	versions []*version // newest first
	nextSeq  uint64
	mark     uint64         // bumped whenever the version layout changes
	pins     map[uint64]int // snapshot seq -> open snapshots
	size     int64
}

// version is one immutable layer. Its mutation is only written in place
// while the version is the unpinned head.
type version struct {
	seq uint64
	mut *model.Mutation
}

// New creates an empty chain for the given partition.
func New(schema *model.Schema, key model.Key) *Chain {
	return &Chain{
		schema:  schema,
		key:     key,
		nextSeq: 1,
		pins:    make(map[uint64]int),
	}
}

// Key returns the partition key.
func (c *Chain) Key() model.Key { return c.key }

// Size returns the estimated heap footprint of all versions.
func (c *Chain) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Versions returns the current version count.
func (c *Chain) Versions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.versions)
}

// Apply merges m into the chain and returns the size delta, which may be
// negative when the write shrinks existing data (e.g. a smaller overwrite).
// If the newest version is pinned by a snapshot it is left untouched and a
// fresh version is prepended; older versions are never touched.
func (c *Chain) Apply(m *model.Mutation) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.versions) > 0 {
		head := c.versions[0]
		if c.pins[head.seq] == 0 {
			before := head.mut.Size()
			head.mut.Apply(m)
			delta := head.mut.Size() - before
			c.size += delta
			return delta
		}
	}

	v := &version{seq: c.nextSeq, mut: m.Clone()}
	c.nextSeq++
	c.versions = append([]*version{v}, c.versions...)
	delta := v.mut.Size()
	c.size += delta
	c.mark++
	return delta
}

// OpenSnapshot pins the chain at its current head. The snapshot must be
// closed; until then no version it can see is merged out from under it.
func (c *Chain) OpenSnapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var seq uint64
	if len(c.versions) > 0 {
		seq = c.versions[0].seq
	}
	c.pins[seq]++
	return &Snapshot{chain: c, seq: seq}
}

// Compact merges version runs that no live snapshot can tell apart,
// reducing lookup cost. Logical content is preserved exactly. Returns the
// size delta (<= 0).
func (c *Chain) Compact() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.versions) < 2 {
		return 0
	}

	var out []*version
	group := []*version{c.versions[0]}
	changed := false
	for _, v := range c.versions[1:] {
		// Merging v into the group is safe only if no snapshot sees part
		// of the group without v: no pin in [v.seq, oldest(group).seq-1].
		if c.pinnedBetween(v.seq, group[len(group)-1].seq) {
			out = append(out, c.mergeGroup(group, &changed))
			group = []*version{v}
			continue
		}
		group = append(group, v)
	}
	out = append(out, c.mergeGroup(group, &changed))

	if !changed {
		return 0
	}
	c.versions = out
	c.mark++

	before := c.size
	c.size = 0
	for _, v := range c.versions {
		c.size += v.mut.Size()
	}
	return c.size - before
}

// pinnedBetween reports whether a snapshot pin exists in [lo, hi).
// Caller holds mu.
func (c *Chain) pinnedBetween(lo, hi uint64) bool {
	for seq, n := range c.pins {
		if n > 0 && seq >= lo && seq < hi {
			return true
		}
	}
	return false
}

// mergeGroup collapses a newest-first run into one version carrying the
// newest seq of the run. Caller holds mu.
func (c *Chain) mergeGroup(group []*version, changed *bool) *version {
	if len(group) == 1 {
		return group[0]
	}
	*changed = true
	// Merge oldest to newest; merge order does not affect the result.
	merged := group[len(group)-1].mut.Clone()
	for i := len(group) - 2; i >= 0; i-- {
		merged.Apply(group[i].mut)
	}
	return &version{seq: group[0].seq, mut: merged}
}

// visible returns the versions a snapshot at seq sees, newest first.
// Caller holds mu.
func (c *Chain) visible(seq uint64) []*version {
	for i, v := range c.versions {
		if v.seq <= seq {
			return c.versions[i:]
		}
	}
	return nil
}

func (c *Chain) unpin(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[seq]--
	if c.pins[seq] <= 0 {
		delete(c.pins, seq)
	}
}
