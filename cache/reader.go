package cache

import (
	"context"
	"io"

	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
	"github.com/okrasa/strata/stream"
)

// NewReader opens a read over the cache. Ranges the population policy
// rejects read straight through: the underlying stream is merged with
// whatever entries already exist, and nothing is populated. Everything
// else goes through the caching read path.
func (c *Cache) NewReader(ctx context.Context, schema *model.Schema, rng model.KeyRange, slice model.Slice, p *permit.Permit) (stream.Reader, error) {
	if schema == nil {
		schema = c.schema.Load()
	}
	if !c.policy(rng) {
		under := c.newAutoUpdatingReader(schema, rng, slice, p)
		cached := &entryReader{c: c, rng: rng, slice: slice}
		return stream.Merge(under, cached), nil
	}
	return &cacheReader{
		c:        c,
		schema:   schema,
		rng:      rng,
		slice:    slice,
		singular: rng.IsSingular(),
		under:    c.newAutoUpdatingReader(schema, rng, slice, p),
	}, nil
}

// entryReader scans cached chains only. It neither populates nor trusts
// continuity; the bypass path merges it with the underlying stream.
type entryReader struct {
	c     *Cache
	rng   model.KeyRange
	slice model.Slice

	lastKey *model.Key
	emitter stream.Emitter
	pinned  *Entry
}

func (r *entryReader) Next(ctx context.Context) (stream.Fragment, error) {
	for {
		if f, ok := r.emitter.Next(); ok {
			return f, nil
		}
		r.unpin()

		e, _ := r.c.nextEntry(r.lastKey, r.rng)
		if e == nil {
			return stream.Fragment{}, io.EOF
		}
		k := e.key
		r.lastKey = &k

		e.pin()
		r.pinned = e
		snap := e.chain.OpenSnapshot()
		merged := snap.Merged()
		snap.Close()
		if merged.IsEmpty() {
			r.unpin()
			continue
		}
		r.emitter.Reset(merged, r.slice)
	}
}

func (r *entryReader) FastForwardTo(_ context.Context, rng model.KeyRange) error {
	r.rng = rng
	r.lastKey = nil
	r.unpin()
	r.emitter.Reset(nil, r.slice)
	return nil
}

func (r *entryReader) Close() error {
	r.unpin()
	return nil
}

func (r *entryReader) unpin() {
	if r.pinned != nil {
		r.pinned.unpin()
		r.pinned = nil
	}
}

// cacheReader is the populating read path. Per partition position it
// serves a continuously cached entry without touching the underlying
// source, and otherwise consults the underlying stream through the
// auto-updating reader, committing what it read into the cache when the
// phase it read at is still current.
type cacheReader struct {
	c      *Cache
	schema *model.Schema
	rng    model.KeyRange
	slice  model.Slice

	singular bool
	lastKey  *model.Key
	emitter  stream.Emitter
	pinned   *Entry

	under     *autoUpdatingReader
	pending   *model.Mutation
	underDone bool

	// prevFromScan records that the previous position was consumed from
	// the sequential underlying scan, which proves the gap up to the
	// next underlying partition holds nothing.
	prevFromScan bool

	closed bool
}

func (r *cacheReader) Next(ctx context.Context) (stream.Fragment, error) {
	for {
		if f, ok := r.emitter.Next(); ok {
			return f, nil
		}
		r.unpin()

		m, e, err := r.advance(ctx)
		if err != nil {
			return stream.Fragment{}, err
		}
		if m == nil {
			return stream.Fragment{}, io.EOF
		}
		if e != nil {
			e.pin()
			r.pinned = e
		}
		if m.IsEmpty() {
			r.unpin()
			continue
		}
		r.emitter.Reset(m, r.slice)
	}
}

// advance resolves the next partition position. Returns the partition's
// merged content (nil at end of range) and the entry to pin while it is
// emitted, if any.
func (r *cacheReader) advance(ctx context.Context) (*model.Mutation, *Entry, error) {
	if r.lastKey != nil && r.rng.SplitAfter(*r.lastKey).IsEmpty() {
		return nil, nil, nil
	}
	nextE, prevK := r.c.nextEntry(r.lastKey, r.rng)

	// Cache hit: complete entry whose gap back to our position is
	// known to hold nothing. A buffered underlying partition at or
	// before the entry still takes the consult path so it is consumed.
	if nextE != nil && nextE.complete && r.gapCovered(nextE, prevK) &&
		(r.pending == nil || nextE.key.Less(r.pending.Key)) {
		r.c.tracker.hits.Add(1)
		r.c.touch(nextE)
		k := nextE.key
		r.lastKey = &k
		r.prevFromScan = false
		return chainContent(nextE), nextE, nil
	}

	// Consult the underlying stream, skipping it past positions the
	// cache already answered.
	if r.pending == nil && !r.underDone {
		if r.lastKey != nil && (r.under.lastKey == nil || r.under.lastKey.Less(*r.lastKey)) {
			if err := r.under.fastForwardTo(ctx, r.rng.SplitAfter(*r.lastKey)); err != nil {
				return nil, nil, err
			}
		}
		u, err := r.under.nextPartition(ctx)
		if err != nil {
			return nil, nil, err
		}
		if u == nil {
			r.underDone = true
		} else {
			r.pending = u
		}
	}

	u := r.pending
	switch {
	case u == nil && nextE == nil:
		return nil, nil, nil

	case u == nil:
		// Underlying exhausted; the rest of the range is cache-only.
		r.c.tracker.hits.Add(1)
		r.c.confirmSolo(nextE, r.under.phase())
		k := nextE.key
		r.lastKey = &k
		return chainContent(nextE), nextE, nil

	case nextE == nil || u.Key.Less(nextE.key):
		// Partition absent from the cache: populate and emit it.
		r.c.tracker.misses.Add(1)
		r.pending = nil
		r.c.commitPopulation(u, r.under.phase(), r.prevFromScan, r.slice.IsFull())
		k := u.Key
		r.lastKey = &k
		r.prevFromScan = true
		return u, nil, nil

	case u.Key.Equal(nextE.key):
		// Incomplete entry: merge the underlying partition in.
		r.c.tracker.misses.Add(1)
		r.pending = nil
		merged := chainContent(nextE)
		merged.Apply(u)
		r.c.commitPopulation(u, r.under.phase(), r.prevFromScan, r.slice.IsFull())
		k := u.Key
		r.lastKey = &k
		r.prevFromScan = true
		return merged, nextE, nil

	default:
		// The cached partition no longer exists underneath; its chain
		// is the complete answer. pending stays for the next position.
		r.c.tracker.hits.Add(1)
		r.c.confirmSolo(nextE, r.under.phase())
		k := nextE.key
		r.lastKey = &k
		return chainContent(nextE), nextE, nil
	}
}

// gapCovered reports whether nextE.contPrev is anchored at the reader's
// current position: either the read is singular, or the entry's index
// predecessor is exactly the partition we just emitted.
func (r *cacheReader) gapCovered(nextE *Entry, prevK *model.Key) bool {
	if r.singular {
		return true
	}
	if !nextE.contPrev {
		return false
	}
	return r.lastKey != nil && prevK != nil && prevK.Equal(*r.lastKey)
}

func (r *cacheReader) FastForwardTo(ctx context.Context, rng model.KeyRange) error {
	r.rng = rng
	r.singular = rng.IsSingular()
	r.lastKey = nil
	r.pending = nil
	r.underDone = false
	r.prevFromScan = false
	r.unpin()
	r.emitter.Reset(nil, r.slice)
	return r.under.fastForwardTo(ctx, rng)
}

func (r *cacheReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.unpin()
	return r.under.Close()
}

func (r *cacheReader) unpin() {
	if r.pinned != nil {
		r.pinned.unpin()
		r.pinned = nil
	}
}

// chainContent returns the entry's merged partition.
func chainContent(e *Entry) *model.Mutation {
	snap := e.chain.OpenSnapshot()
	defer snap.Close()
	return snap.Merged()
}
