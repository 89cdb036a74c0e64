package cache

import (
	"container/list"
	"sync/atomic"
)

// TrackerStats is a point-in-time snapshot of cache counters.
type TrackerStats struct {
	Hits               int64
	Misses             int64
	Populations        int64
	PopulationsDropped int64
	Evictions          int64
	Removals           int64

	UnderlyingRecreations    int64
	UnderlyingPartitionSkips int64
}

// Tracker owns eviction order and counters for one cache. Structural
// methods require the cache mutex; counters are atomic so readers bump
// them without it.
type Tracker struct {
	capacity  int64
	size      int64
	evictList *list.List

	// onEvict unlinks the entry from the cache index and clears the
	// successor's continuity.
	onEvict func(*Entry)

	hits               atomic.Int64
	misses             atomic.Int64
	populations        atomic.Int64
	populationsDropped atomic.Int64
	evictions          atomic.Int64
	removals           atomic.Int64
	recreations        atomic.Int64
	partitionSkips     atomic.Int64
}

func newTracker(capacity int64, onEvict func(*Entry)) *Tracker {
	return &Tracker{
		capacity:  capacity,
		evictList: list.New(),
		onEvict:   onEvict,
	}
}

// insert links a freshly populated entry at the front of the eviction
// order and evicts colder entries to fit.
func (t *Tracker) insert(e *Entry) {
	e.elem = t.evictList.PushFront(e)
	t.size += e.size
	t.populations.Add(1)
	t.evict()
}

// touch marks the entry most recently used.
func (t *Tracker) touch(e *Entry) {
	if e.elem != nil {
		t.evictList.MoveToFront(e.elem)
	}
}

// resize adjusts accounting after an entry's chain changed.
func (t *Tracker) resize(e *Entry, newSize int64) {
	t.size += newSize - e.size
	e.size = newSize
	t.evict()
}

// remove unlinks an entry explicitly (invalidation).
func (t *Tracker) remove(e *Entry) {
	if e.elem == nil {
		return
	}
	t.evictList.Remove(e.elem)
	e.elem = nil
	t.size -= e.size
	t.removals.Add(1)
}

// evict drops oldest-unused entries until size fits capacity, skipping
// entries with pinned readers. capacity <= 0 means unbounded.
func (t *Tracker) evict() {
	if t.capacity <= 0 {
		return
	}
	for elem := t.evictList.Back(); elem != nil && t.size > t.capacity; {
		e := elem.Value.(*Entry)
		prev := elem.Prev()
		if e.pinned() {
			elem = prev
			continue
		}
		t.evictList.Remove(elem)
		e.elem = nil
		t.size -= e.size
		t.evictions.Add(1)
		t.onEvict(e)
		elem = prev
	}
}

// Size returns the tracked bytes.
func (t *Tracker) Size() int64 { return t.size }

// Stats returns current counter values.
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		Hits:                     t.hits.Load(),
		Misses:                   t.misses.Load(),
		Populations:              t.populations.Load(),
		PopulationsDropped:       t.populationsDropped.Load(),
		Evictions:                t.evictions.Load(),
		Removals:                 t.removals.Load(),
		UnderlyingRecreations:    t.recreations.Load(),
		UnderlyingPartitionSkips: t.partitionSkips.Load(),
	}
}
