package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/okrasa/strata/internal/barrier"
	"github.com/okrasa/strata/internal/chain"
	"github.com/okrasa/strata/memtable"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/stream"
)

// Options configures a cache.
type Options struct {
	// Capacity bounds tracked entry bytes; <= 0 means unbounded.
	Capacity int64

	// PopulationPolicy decides whether a read of the given range
	// populates the cache. Nil installs the default: populate unless
	// the range is unbounded on both ends.
	PopulationPolicy func(model.KeyRange) bool

	Logger *slog.Logger
}

// Cache is the row cache for one table. It implements stream.Source;
// reads served from it are indistinguishable from reads against the
// underlying source it shadows.
type Cache struct {
	schema   atomic.Pointer[model.Schema]
	provider func() stream.Source
	policy   func(model.KeyRange) bool
	logger   *slog.Logger

	barrier barrier.Barrier
	tracker *Tracker

	mu    sync.Mutex
	index *btree.BTreeG[*Entry]
	snap  stream.Source

	// prevSnap is the superseded snapshot held while a flush merge is
	// in progress; readers positioned past the cursor recreate against
	// it so their view stays anchored to the previous phase.
	prevSnap stream.Source

	// Flush-merge progress. While cursorOn, keys at or under cursor
	// read at the current phase and keys past it at the previous one.
	cursorOn bool
	cursor   *model.Key
}

// New creates a cache over the underlying source produced by provider.
// provider is re-invoked on every phase advance to obtain a fresh
// snapshot; snapshots implementing io.Closer are closed when superseded
// and quiescent.
func New(schema *model.Schema, provider func() stream.Source, opts Options) *Cache {
	c := &Cache{
		provider: provider,
		policy:   opts.PopulationPolicy,
		logger:   opts.Logger,
		index:    btree.NewG(32, lessEntry),
		snap:     provider(),
	}
	c.schema.Store(schema)
	if c.policy == nil {
		c.policy = func(r model.KeyRange) bool { return !r.IsFull() }
	}
	c.tracker = newTracker(opts.Capacity, c.unlink)
	return c
}

// Schema returns the current schema.
func (c *Cache) Schema() *model.Schema { return c.schema.Load() }

// SetSchema swaps the schema for subsequent reads.
func (c *Cache) SetSchema(s *model.Schema) { c.schema.Store(s) }

// Stats returns the tracker counters.
func (c *Cache) Stats() TrackerStats { return c.tracker.Stats() }

// Size returns tracked entry bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Size()
}

// EntryCount returns the number of cached partitions.
func (c *Cache) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// Phase returns the current phase.
func (c *Cache) Phase() uint64 { return c.barrier.Phase() }

// PhaseOf returns the phase governing reads positioned at k. During a
// flush merge the already-merged prefix reports the new phase and the
// rest the previous one, so readers recreate their underlying reader
// exactly when their position crosses content that moved.
func (c *Cache) PhaseOf(k model.Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phaseForStart(&k)
}

// phaseForStart implements PhaseOf for a possibly unbounded position.
// Caller holds mu.
func (c *Cache) phaseForStart(k *model.Key) uint64 {
	p := c.barrier.Phase()
	if !c.cursorOn {
		return p
	}
	if c.cursor == nil {
		return p - 1
	}
	if k != nil && !c.cursor.Less(*k) {
		return p
	}
	return p - 1
}

// snapshot returns the current underlying snapshot.
func (c *Cache) snapshot() stream.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Update write-throughs a freshly applied mutation into the matching
// entry. Absent keys are left alone: the write lives in the memtable and
// the entry, if later populated, reads it from the underlying source
// after flush.
func (c *Cache) Update(m *model.Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index.Get(&Entry{key: m.Key})
	if !ok {
		return
	}
	e.chain.Apply(m)
	c.tracker.resize(e, e.chain.Size())
	c.tracker.touch(e)
}

// Invalidate advances the phase, drops entries in rng, re-snapshots the
// underlying source and waits until every reader of older phases has
// finished. Populations begun before the call discard their results.
func (c *Cache) Invalidate(ctx context.Context, rng model.KeyRange) error {
	c.mu.Lock()
	token := c.barrier.Advance()
	c.dropRange(rng)
	prev := c.snap
	c.snap = c.provider()
	c.mu.Unlock()

	if err := c.barrier.AwaitQuiescence(ctx, token); err != nil {
		return err
	}
	closeSource(prev)
	if c.logger != nil {
		c.logger.Debug("cache invalidated", "phase", c.barrier.Phase())
	}
	return nil
}

// InvalidateKey invalidates a single partition.
func (c *Cache) InvalidateKey(ctx context.Context, k model.Key) error {
	return c.Invalidate(ctx, model.SingularRange(k))
}

// RefreshSnapshot advances the phase and re-snapshots the underlying
// source without touching entries. Used after a compaction that changed
// layout but not logical content.
func (c *Cache) RefreshSnapshot(ctx context.Context) error {
	c.mu.Lock()
	token := c.barrier.Advance()
	prev := c.snap
	c.snap = c.provider()
	c.mu.Unlock()

	if err := c.barrier.AwaitQuiescence(ctx, token); err != nil {
		return err
	}
	closeSource(prev)
	return nil
}

// UpdateFromFlushed runs the flush-completion protocol: advance the
// phase, install the new underlying content via swapUnderlying,
// re-snapshot, then merge the flushed memtable's partitions into their
// cache entries in key order, moving the cursor so concurrent readers
// recreate against the correct side. The superseded snapshot is released
// only after all older-phase readers have left.
//
// Call before MarkFlushed so the memtable read below sees buffered
// content only.
func (c *Cache) UpdateFromFlushed(ctx context.Context, swapUnderlying func() error, mt *memtable.Memtable) error {
	c.mu.Lock()
	token := c.barrier.Advance()
	c.cursorOn = true
	c.cursor = nil
	prev := c.snap
	c.prevSnap = prev
	c.mu.Unlock()

	finish := func() {
		c.mu.Lock()
		c.cursorOn = false
		c.cursor = nil
		c.prevSnap = nil
		c.mu.Unlock()
	}

	if err := swapUnderlying(); err != nil {
		finish()
		return err
	}

	c.mu.Lock()
	c.snap = c.provider()
	c.mu.Unlock()

	r, err := mt.NewReader(ctx, c.schema.Load(), model.FullRange(), model.FullSlice(), nil)
	if err != nil {
		finish()
		return err
	}
	defer r.Close()

	for {
		m, err := stream.NextPartition(ctx, r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			finish()
			return err
		}
		c.mergeFlushed(m)
	}
	finish()

	if err := c.barrier.AwaitQuiescence(ctx, token); err != nil {
		return err
	}
	closeSource(prev)
	if c.logger != nil {
		c.logger.Debug("flush merged into cache", "phase", c.barrier.Phase())
	}
	return nil
}

// mergeFlushed write-throughs one flushed partition and advances the
// cursor past it.
func (c *Cache) mergeFlushed(m *model.Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.index.Get(&Entry{key: m.Key}); ok {
		e.chain.Apply(m)
		c.tracker.resize(e, e.chain.Size())
	} else {
		// The key is new to the underlying source; the successor can no
		// longer vouch that nothing precedes it.
		c.clearSuccessorCont(m.Key)
	}
	k := m.Key
	c.cursor = &k
}

// commitPopulation installs a partition read from the underlying source
// at the given phase. Returns false when the phase advanced since the
// read began, in which case the result is discarded.
func (c *Cache) commitPopulation(u *model.Mutation, phase uint64, contPrev, complete bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phaseForStart(&u.Key) != phase {
		c.tracker.populationsDropped.Add(1)
		return false
	}
	e, ok := c.index.Get(&Entry{key: u.Key})
	if !ok {
		e = &Entry{key: u.Key, chain: chain.New(c.schema.Load(), u.Key)}
		e.chain.Apply(u)
		e.complete = complete
		e.contPrev = contPrev
		e.size = e.chain.Size()
		c.index.ReplaceOrInsert(e)
		c.tracker.insert(e)
		return true
	}
	e.chain.Apply(u)
	if complete {
		e.complete = true
	}
	if contPrev {
		e.contPrev = true
	}
	c.tracker.resize(e, e.chain.Size())
	c.tracker.touch(e)
	return true
}

// Compact merges entry version chains that no snapshot distinguishes.
// Returns the size delta (<= 0).
func (c *Cache) Compact() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]*Entry, 0, c.index.Len())
	c.index.Ascend(func(e *Entry) bool {
		entries = append(entries, e)
		return true
	})
	var total int64
	for _, e := range entries {
		total += e.chain.Compact()
		c.tracker.resize(e, e.chain.Size())
	}
	return total
}

// touch marks the entry recently used.
func (c *Cache) touch(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.touch(e)
}

// confirmSolo marks an entry complete after the underlying source proved
// it holds nothing for the entry's key. Skipped when the phase the proof
// was obtained at has passed.
func (c *Cache) confirmSolo(e *Entry, phase uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phaseForStart(&e.key) != phase {
		return
	}
	e.complete = true
	c.tracker.touch(e)
}

// nextEntry returns the first entry in rng strictly after `after`, plus
// the key of its index predecessor (nil when it is the first entry).
// Caller uses the predecessor to decide whether contPrev is anchored at
// its own position.
func (c *Cache) nextEntry(after *model.Key, rng model.KeyRange) (*Entry, *model.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var found *Entry
	var prevKey *model.Key
	visit := func(e *Entry) bool {
		if after != nil && !after.Less(e.key) {
			return true
		}
		if rng.Start != nil {
			cmp := e.key.Compare(rng.Start.Key)
			if cmp < 0 || (cmp == 0 && !rng.Start.Inclusive) {
				return true
			}
		}
		if rng.End != nil {
			cmp := e.key.Compare(rng.End.Key)
			if cmp > 0 || (cmp == 0 && !rng.End.Inclusive) {
				return false
			}
		}
		found = e
		return false
	}

	pivot := after
	if pivot == nil && rng.Start != nil {
		pivot = &rng.Start.Key
	}
	if pivot == nil {
		c.index.Ascend(visit)
	} else {
		c.index.AscendGreaterOrEqual(&Entry{key: *pivot}, visit)
	}
	if found != nil {
		c.index.DescendLessOrEqual(&Entry{key: found.key}, func(e *Entry) bool {
			if e.key.Equal(found.key) {
				return true
			}
			k := e.key
			prevKey = &k
			return false
		})
	}
	return found, prevKey
}

// dropRange removes entries within rng. Caller holds mu.
func (c *Cache) dropRange(rng model.KeyRange) {
	var doomed []*Entry
	c.index.Ascend(func(e *Entry) bool {
		if rng.Contains(e.key) {
			doomed = append(doomed, e)
		}
		return true
	})
	for _, e := range doomed {
		c.index.Delete(e)
		c.tracker.remove(e)
		c.clearSuccessorCont(e.key)
	}
}

// unlink is the tracker's eviction callback. Caller holds mu.
func (c *Cache) unlink(e *Entry) {
	c.index.Delete(e)
	c.clearSuccessorCont(e.key)
}

// clearSuccessorCont clears continuity on the first entry after k.
// Caller holds mu.
func (c *Cache) clearSuccessorCont(k model.Key) {
	c.index.AscendGreaterOrEqual(&Entry{key: k}, func(e *Entry) bool {
		if e.key.Equal(k) {
			return true
		}
		e.contPrev = false
		return false
	})
}

func closeSource(s stream.Source) {
	if cl, ok := s.(io.Closer); ok {
		cl.Close()
	}
}
