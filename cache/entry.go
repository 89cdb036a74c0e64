package cache

import (
	"container/list"
	"sync/atomic"

	"github.com/okrasa/strata/internal/chain"
	"github.com/okrasa/strata/model"
)

// Entry is one cached partition. complete means the chain holds the
// partition's full content for the current phase; contPrev means the
// underlying source holds no partitions between this entry and its
// predecessor in the index. A scan may serve an entry without consulting
// the underlying source only when both hold.
type Entry struct {
	key   model.Key
	chain *chain.Chain

	complete bool
	contPrev bool

	// pins counts readers currently emitting this partition. The
	// tracker never evicts a pinned entry.
	pins atomic.Int64

	elem *list.Element
	size int64
}

func lessEntry(a, b *Entry) bool { return a.key.Less(b.key) }

func (e *Entry) pin()   { e.pins.Add(1) }
func (e *Entry) unpin() { e.pins.Add(-1) }

func (e *Entry) pinned() bool { return e.pins.Load() > 0 }
