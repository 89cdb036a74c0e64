package model

import "time"

// Timestamp is a write timestamp in microseconds since the Unix epoch.
// Higher timestamps win during merge.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}

// Tombstone marks data written at or before Timestamp as deleted.
// DeletedAt records wall-clock deletion time and drives GC-grace expiry.
// The zero value means "no tombstone".
type Tombstone struct {
	Timestamp Timestamp
	DeletedAt time.Time
}

// IsSet reports whether the tombstone marks a deletion.
func (t Tombstone) IsSet() bool {
	return !t.DeletedAt.IsZero()
}

// Covers reports whether data written at ts is shadowed by the tombstone.
func (t Tombstone) Covers(ts Timestamp) bool {
	return t.IsSet() && ts <= t.Timestamp
}

// Merge combines two tombstones, keeping the more recent deletion.
func (t Tombstone) Merge(o Tombstone) Tombstone {
	if !t.IsSet() {
		return o
	}
	if !o.IsSet() {
		return t
	}
	if o.Timestamp > t.Timestamp {
		return o
	}
	if o.Timestamp == t.Timestamp && o.DeletedAt.After(t.DeletedAt) {
		return o
	}
	return t
}

// ExpiredBefore reports whether the tombstone's GC grace has passed
// relative to the given horizon and it may be purged by a compaction
// that covers every source.
func (t Tombstone) ExpiredBefore(gcBefore time.Time) bool {
	return t.IsSet() && !gcBefore.IsZero() && t.DeletedAt.Before(gcBefore)
}
