package memtable

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/okrasa/strata/internal/chain"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
	"github.com/okrasa/strata/stream"
)

// entry pairs a partition key with its version chain.
type entry struct {
	key   model.Key
	chain *chain.Chain
}

func lessEntry(a, b *entry) bool { return a.key.Less(b.key) }

// flushedSource boxes the post-flush underlying source so it can live in
// an atomic pointer.
type flushedSource struct {
	src stream.Source
}

// Memtable is the write buffer for one table. Applies never suspend;
// reads see every applied mutation immediately. It implements
// stream.Source.
type Memtable struct {
	dirty  *DirtyTracker
	schema atomic.Pointer[model.Schema]

	mu    sync.Mutex
	index *btree.BTreeG[*entry]

	size    atomic.Int64
	flushed atomic.Pointer[flushedSource]

	refs     atomic.Int64
	onRetire func()

	encoding encodingTracker
}

// EncodingStats returns timestamp minima across all applied data.
func (m *Memtable) EncodingStats() EncodingStats {
	return m.encoding.snapshot()
}

// New creates an empty memtable holding one reference for the owner.
// onRetire runs once when the last reference drops; it may be nil.
func New(schema *model.Schema, dirty *DirtyTracker, onRetire func()) *Memtable {
	m := &Memtable{
		dirty:    dirty,
		index:    btree.NewG(32, lessEntry),
		onRetire: onRetire,
	}
	m.schema.Store(schema)
	m.refs.Store(1)
	return m
}

// Schema returns the current schema.
func (m *Memtable) Schema() *model.Schema {
	return m.schema.Load()
}

// SetSchema swaps the schema. Readers created before the swap keep
// producing the old schema's view.
func (m *Memtable) SetSchema(s *model.Schema) {
	m.schema.Store(s)
}

// Size returns the estimated heap footprint of buffered data.
func (m *Memtable) Size() int64 {
	return m.size.Load()
}

// PartitionCount returns the number of partition entries.
func (m *Memtable) PartitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Len()
}

// Apply validates and merges one mutation, updating dirty accounting.
// The delta may be negative when an overwrite shrinks existing data.
func (m *Memtable) Apply(mut *model.Mutation) error {
	schema := m.schema.Load()
	if err := schema.Validate(mut); err != nil {
		return err
	}

	m.mu.Lock()
	e, ok := m.index.Get(&entry{key: mut.Key})
	if !ok {
		e = &entry{key: mut.Key, chain: chain.New(schema, mut.Key)}
		m.index.ReplaceOrInsert(e)
	}
	m.mu.Unlock()

	delta := e.chain.Apply(mut)
	m.encoding.note(mut)
	m.size.Add(delta)
	if m.dirty != nil {
		m.dirty.AddReal(delta)
		m.dirty.AddVirtual(delta)
	}
	return nil
}

// Compact merges version chains that no live snapshot distinguishes.
// Returns the size delta (<= 0). Virtual dirty is untouched: compaction
// changes layout, not durability.
func (m *Memtable) Compact() int64 {
	var total int64
	for _, e := range m.entries() {
		total += e.chain.Compact()
	}
	m.size.Add(total)
	if m.dirty != nil {
		m.dirty.AddReal(total)
	}
	return total
}

// MarkFlushed installs the durable source now holding this memtable's
// flushed data. Readers merge it under any versions still buffered here,
// which is idempotent because the flushed data re-merges with itself.
func (m *Memtable) MarkFlushed(src stream.Source) {
	m.flushed.Store(&flushedSource{src: src})
}

// IncRef takes a reference for a new consumer.
func (m *Memtable) IncRef() {
	m.refs.Add(1)
}

// DecRef drops a reference; the last drop retires the memtable and
// returns its bytes to the dirty tracker.
func (m *Memtable) DecRef() {
	if m.refs.Add(-1) != 0 {
		return
	}
	size := m.size.Swap(0)
	if m.dirty != nil && size != 0 {
		m.dirty.AddReal(-size)
	}
	m.mu.Lock()
	m.index.Clear(false)
	m.mu.Unlock()
	if m.onRetire != nil {
		m.onRetire()
	}
}

// NewReader opens an ordered scan over the memtable, layered above the
// flushed source once MarkFlushed installs one. The reader holds a
// reference; the memtable is not retired under it.
func (m *Memtable) NewReader(ctx context.Context, schema *model.Schema, rng model.KeyRange, slice model.Slice, p *permit.Permit) (stream.Reader, error) {
	if schema == nil {
		schema = m.schema.Load()
	}
	m.IncRef()
	scan := &mtReader{mt: m, rng: rng, slice: slice}
	fs := m.flushed.Load()
	if fs == nil {
		return scan, nil
	}
	under, err := fs.src.NewReader(ctx, schema, rng, slice, p)
	if err != nil {
		scan.Close()
		return nil, err
	}
	return stream.Merge(scan, under), nil
}

// entries returns the current entry list in key order.
func (m *Memtable) entries() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry, 0, m.index.Len())
	m.index.Ascend(func(e *entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// nextEntry returns the first entry within rng strictly after `after`
// (or from the range start when after is nil). Querying the live index
// at each step means partitions created behind the cursor are the only
// ones a scan can miss.
func (m *Memtable) nextEntry(after *model.Key, rng model.KeyRange) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *entry
	visit := func(e *entry) bool {
		if after != nil && !after.Less(e.key) {
			return true
		}
		if rng.Start != nil {
			c := e.key.Compare(rng.Start.Key)
			if c < 0 || (c == 0 && !rng.Start.Inclusive) {
				return true
			}
		}
		if beyondEnd(rng, e.key) {
			return false
		}
		found = e
		return false
	}

	pivot := after
	if pivot == nil && rng.Start != nil {
		pivot = &rng.Start.Key
	}
	if pivot == nil {
		m.index.Ascend(visit)
	} else {
		m.index.AscendGreaterOrEqual(&entry{key: *pivot}, visit)
	}
	return found
}

func beyondEnd(rng model.KeyRange, k model.Key) bool {
	if rng.End == nil {
		return false
	}
	c := k.Compare(rng.End.Key)
	return c > 0 || (c == 0 && !rng.End.Inclusive)
}

// mtReader scans the memtable's own chains, snapshotting each partition
// as the scan reaches it.
type mtReader struct {
	mt    *Memtable
	rng   model.KeyRange
	slice model.Slice

	lastKey *model.Key
	emitter stream.Emitter
	closed  bool
}

func (r *mtReader) Next(ctx context.Context) (stream.Fragment, error) {
	for {
		if f, ok := r.emitter.Next(); ok {
			return f, nil
		}
		e := r.mt.nextEntry(r.lastKey, r.rng)
		if e == nil {
			return stream.Fragment{}, io.EOF
		}
		k := e.key
		r.lastKey = &k

		snap := e.chain.OpenSnapshot()
		merged := snap.Merged()
		snap.Close()
		if merged.IsEmpty() {
			continue
		}
		r.emitter.Reset(merged, r.slice)
	}
}

func (r *mtReader) FastForwardTo(_ context.Context, rng model.KeyRange) error {
	r.rng = rng
	r.emitter.Reset(nil, r.slice)
	return nil
}

func (r *mtReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.mt.DecRef()
	return nil
}
