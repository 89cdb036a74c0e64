package strata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okrasa/strata/blobstore"
	"github.com/okrasa/strata/cache"
	"github.com/okrasa/strata/memtable"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
	"github.com/okrasa/strata/segment"
	"github.com/okrasa/strata/stream"
)

// Table is one shard of a table: the active memtable, sealed memtables
// awaiting flush, the row cache and the segment store, wired together
// behind a single write and read surface.
//
// Writes go to the active memtable and write-through into the cache.
// Reads merge the memtables above the cache; the cache stitches its
// entries with the segment store. Flush moves the active memtable's
// content into a segment and folds it into the cache without ever
// making a written mutation unreadable.
type Table struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector

	schema atomic.Pointer[model.Schema]
	dirty  *memtable.DirtyTracker
	store  *segment.Store
	cache  *cache.Cache

	mu     sync.Mutex
	active *memtable.Memtable
	sealed []*memtable.Memtable
	closed bool

	// flushMu serializes Flush; applies and reads do not take it.
	flushMu sync.Mutex
}

// New creates a table for the given schema. With no options segments
// live in an in-memory blob store and the cache is unbounded.
func New(schema *model.Schema, optFns ...Option) (*Table, error) {
	if schema == nil {
		return nil, errors.New("nil schema")
	}
	o := applyOptions(optFns)
	if o.gcGrace > 0 {
		schema = schema.WithGCGrace(o.gcGrace)
	}

	blobs := o.blobStore
	if blobs == nil {
		blobs = blobstore.NewMemoryStore()
	}
	store, err := segment.NewStore(context.Background(), blobs, segment.StoreOptions{
		Compression: o.compression,
		Controller:  o.controller,
		Logger:      o.logger.Logger,
	})
	if err != nil {
		return nil, translateError(err)
	}

	t := &Table{
		opts:    o,
		logger:  o.logger,
		metrics: o.metricsCollector,
		store:   store,
	}
	t.schema.Store(schema)
	t.dirty = memtable.NewDirtyTracker(o.dirtyHighWater, o.flushCallback)
	t.active = memtable.New(schema, t.dirty, nil)
	t.cache = cache.New(schema, func() stream.Source { return store.Snapshot() }, cache.Options{
		Capacity:         o.cacheCapacity,
		PopulationPolicy: o.populationPolicy,
		Logger:           o.logger.Logger,
	})
	return t, nil
}

// Schema returns the current schema.
func (t *Table) Schema() *model.Schema { return t.schema.Load() }

// Apply validates and applies one mutation. Idempotent under timestamp
// ordering: re-applying or reordering the same logical writes converges
// to the same state.
func (t *Table) Apply(m *model.Mutation) error {
	start := time.Now()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.metrics.RecordApply(time.Since(start), ErrClosed)
		return ErrClosed
	}
	mt := t.active
	t.mu.Unlock()

	err := mt.Apply(m)
	if err == nil {
		t.cache.Update(m)
	}
	t.metrics.RecordApply(time.Since(start), err)
	return err
}

// NewReader opens a merged read over the table: active memtable, sealed
// memtables, then the cache stitched with the segment store underneath.
func (t *Table) NewReader(ctx context.Context, rng model.KeyRange, slice model.Slice, p *permit.Permit) (stream.Reader, error) {
	if rng.IsEmpty() {
		return nil, ErrInvalidRange
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	mts := make([]*memtable.Memtable, 0, 1+len(t.sealed))
	mts = append(mts, t.active)
	mts = append(mts, t.sealed...)
	t.mu.Unlock()

	readers := make([]stream.Reader, 0, len(mts)+1)
	fail := func(err error) (stream.Reader, error) {
		for _, r := range readers {
			r.Close()
		}
		return nil, translateError(err)
	}
	for _, mt := range mts {
		r, err := mt.NewReader(ctx, nil, rng, slice, p)
		if err != nil {
			return fail(err)
		}
		readers = append(readers, r)
	}
	cr, err := t.cache.NewReader(ctx, nil, rng, slice, p)
	if err != nil {
		return fail(err)
	}
	readers = append(readers, cr)
	return stream.Merge(readers...), nil
}

// Flush seals the active memtable and persists every sealed memtable:
// each is streamed into a new segment, folded into the cache through the
// phase protocol, marked flushed and retired once its readers drain. On
// failure the memtable stays sealed with its accounting restored, ready
// for the next Flush; applied mutations are never lost.
func (t *Table) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.active.Size() > 0 {
		mt := t.active
		t.active = memtable.New(mt.Schema(), t.dirty, nil)
		t.sealed = append(t.sealed, mt)
	}
	queue := make([]*memtable.Memtable, len(t.sealed))
	copy(queue, t.sealed)
	t.mu.Unlock()

	for _, mt := range queue {
		if err := t.flushOne(ctx, mt); err != nil {
			return translateError(err)
		}
		t.mu.Lock()
		for i, s := range t.sealed {
			if s == mt {
				t.sealed = append(t.sealed[:i], t.sealed[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
		mt.DecRef()
	}
	return nil
}

func (t *Table) flushOne(ctx context.Context, mt *memtable.Memtable) error {
	start := time.Now()
	// A flush never purges tombstones: the target segment does not
	// cover the older sources they may still shadow.
	fr := mt.NewFlushReader(ctx, time.Time{})

	var info segment.SegmentInfo
	err := t.cache.UpdateFromFlushed(ctx, func() error {
		var err error
		info, err = t.store.AddSegment(ctx, fr)
		return err
	}, mt)
	if err != nil {
		fr.Abort()
		fr.Close()
		t.metrics.RecordFlush(0, 0, time.Since(start), err)
		t.logger.LogFlush(ctx, 0, 0, err)
		return err
	}
	fr.Close()

	mt.MarkFlushed(storeSource{store: t.store})
	t.metrics.RecordFlush(int(info.Partitions), info.Size, time.Since(start), nil)
	t.logger.LogFlush(ctx, int(info.Partitions), info.Size, nil)
	return nil
}

// InvalidateKey drops the cached state of one partition and re-snapshots
// the underlying storage. Synchronous: returns after in-flight readers
// of older phases have moved on.
func (t *Table) InvalidateKey(ctx context.Context, k model.Key) error {
	return t.InvalidateRange(ctx, model.SingularRange(k))
}

// InvalidateRange drops cached state over a key range.
func (t *Table) InvalidateRange(ctx context.Context, rng model.KeyRange) error {
	start := time.Now()
	err := t.cache.Invalidate(ctx, rng)
	t.metrics.RecordInvalidation(time.Since(start), err)
	t.logger.LogInvalidation(ctx, rng.String(), err)
	return translateError(err)
}

// SetSchema attaches a new schema to the table and invalidates the
// cache; cached contents never survive a schema change. Readers created
// before the call keep the schema they started with.
func (t *Table) SetSchema(ctx context.Context, s *model.Schema) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.schema.Store(s)
	t.active.SetSchema(s)
	t.mu.Unlock()

	t.cache.SetSchema(s)
	return translateError(t.cache.Invalidate(ctx, model.FullRange()))
}

// CompactStorage rewrites all segments into one, purging tombstones past
// the schema's GC grace, then refreshes the cache's snapshot. Logical
// content is unchanged; open readers are unaffected.
func (t *Table) CompactStorage(ctx context.Context) error {
	start := time.Now()
	gcBefore := t.schema.Load().GCBefore(time.Now())
	err := t.store.CompactAll(ctx, gcBefore)
	if err == nil {
		err = t.cache.RefreshSnapshot(ctx)
		t.logger.LogCacheRefresh(ctx, t.cache.Phase(), err)
	}
	t.metrics.RecordCompaction(time.Since(start), err)
	t.logger.LogCompaction(ctx, t.store.SegmentCount(), err)
	return translateError(err)
}

// CompactMemory opportunistically merges version chains in the active
// memtable and the cache. Returns the bytes reclaimed (>= 0).
func (t *Table) CompactMemory() int64 {
	t.mu.Lock()
	mt := t.active
	t.mu.Unlock()
	return -(mt.Compact() + t.cache.Compact())
}

// Vacuum deletes unreferenced blobs left behind by compaction.
func (t *Table) Vacuum(ctx context.Context) error {
	return translateError(t.store.Vacuum(ctx))
}

// TableStats is a point-in-time view of the table's resource state.
type TableStats struct {
	DirtyReal       int64
	DirtyVirtual    int64
	MemtableSize    int64
	SealedMemtables int
	SegmentCount    int
	CacheSize       int64
	CacheEntries    int
	Cache           cache.TrackerStats
}

// Stats returns current counters.
func (t *Table) Stats() TableStats {
	t.mu.Lock()
	active := t.active
	sealed := len(t.sealed)
	t.mu.Unlock()
	return TableStats{
		DirtyReal:       t.dirty.Real(),
		DirtyVirtual:    t.dirty.Virtual(),
		MemtableSize:    active.Size(),
		SealedMemtables: sealed,
		SegmentCount:    t.store.SegmentCount(),
		CacheSize:       t.cache.Size(),
		CacheEntries:    t.cache.EntryCount(),
		Cache:           t.cache.Stats(),
	}
}

// Close releases the table. Buffered data is not flushed; call Flush
// first when durability is required.
func (t *Table) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	active := t.active
	sealed := make([]*memtable.Memtable, len(t.sealed))
	copy(sealed, t.sealed)
	t.sealed = nil
	t.mu.Unlock()

	active.DecRef()
	for _, mt := range sealed {
		mt.DecRef()
	}
	return translateError(t.store.Close())
}

// storeSource adapts the segment store into a stream.Source whose every
// reader runs against a fresh snapshot. Installed as the memtable's
// flushed source so post-flush reads follow later compactions.
type storeSource struct {
	store *segment.Store
}

func (s storeSource) NewReader(ctx context.Context, schema *model.Schema, rng model.KeyRange, slice model.Slice, p *permit.Permit) (stream.Reader, error) {
	v := s.store.Snapshot()
	r, err := v.NewReader(ctx, schema, rng, slice, p)
	if err != nil {
		v.Close()
		return nil, err
	}
	return &viewReader{Reader: r, view: v}, nil
}

// viewReader ties a reader's lifetime to the view it reads.
type viewReader struct {
	stream.Reader
	view *segment.View
}

func (r *viewReader) Close() error {
	err := r.Reader.Close()
	r.view.Close()
	return err
}
