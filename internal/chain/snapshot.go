package chain

import "github.com/okrasa/strata/model"

// Snapshot is a pinned view of a chain at a fixed write-order index.
// Versions the snapshot can see are immutable until it closes.
type Snapshot struct {
	chain  *Chain
	seq    uint64
	closed bool
}

// Seq returns the snapshot's write-order index.
func (s *Snapshot) Seq() uint64 { return s.seq }

// Key returns the partition key.
func (s *Snapshot) Key() model.Key { return s.chain.key }

// Size returns the estimated footprint of the versions the snapshot sees.
func (s *Snapshot) Size() int64 {
	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	var size int64
	for _, v := range c.visible(s.seq) {
		size += v.mut.Size()
	}
	return size
}

// Merged materializes the snapshot's logical partition: all visible
// versions merged oldest to newest.
func (s *Snapshot) Merged() *model.Mutation {
	c := s.chain
	c.mu.Lock()
	visible := c.visible(s.seq)
	c.mu.Unlock()

	out := model.NewMutation(c.schema, c.key)
	for i := len(visible) - 1; i >= 0; i-- {
		out.Apply(visible[i].mut)
	}
	return out
}

// Cursor opens a lazy row iteration over the snapshot's merged content.
func (s *Snapshot) Cursor(slice model.Slice) *Cursor {
	return &Cursor{snap: s, slice: slice}
}

// Close releases the pin. Idempotent.
func (s *Snapshot) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.chain.unpin(s.seq)
}
