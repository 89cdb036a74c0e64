package memtable

import (
	"sync"
	"time"

	"github.com/okrasa/strata/model"
)

// EncodingStats summarize the data applied to a memtable. Flush writers
// use the minima to pick delta-encoding bases.
type EncodingStats struct {
	// MinTimestamp is the smallest write timestamp applied.
	MinTimestamp model.Timestamp
	// MinDeletedAt is the earliest tombstone deletion time applied;
	// zero when no tombstone was applied.
	MinDeletedAt time.Time
}

type encodingTracker struct {
	mu    sync.Mutex
	seen  bool
	stats EncodingStats
}

func (t *encodingTracker) note(m *model.Mutation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.noteTombstone(m.PartitionTombstone)
	for _, rt := range m.RangeTombstones {
		t.noteTombstone(rt.Tombstone)
	}
	for _, r := range m.Rows {
		t.noteTombstone(r.Tombstone)
		for _, c := range r.Cells {
			t.noteTimestamp(c.Timestamp)
		}
	}
}

func (t *encodingTracker) noteTombstone(ts model.Tombstone) {
	if !ts.IsSet() {
		return
	}
	t.noteTimestamp(ts.Timestamp)
	if t.stats.MinDeletedAt.IsZero() || ts.DeletedAt.Before(t.stats.MinDeletedAt) {
		t.stats.MinDeletedAt = ts.DeletedAt
	}
}

func (t *encodingTracker) noteTimestamp(ts model.Timestamp) {
	if !t.seen || ts < t.stats.MinTimestamp {
		t.stats.MinTimestamp = ts
	}
	t.seen = true
}

func (t *encodingTracker) snapshot() EncodingStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
