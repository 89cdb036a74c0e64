package model

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ClusteringKey is the position of a row within its partition.
// Rows order by bytewise comparison; the empty key sorts first.
type ClusteringKey []byte

// CompareClustering orders two clustering keys.
func CompareClustering(a, b ClusteringKey) int {
	return bytes.Compare(a, b)
}

// RangeTombstone deletes every row in [Start, End] (inclusive both ends)
// written at or before its timestamp.
type RangeTombstone struct {
	Start ClusteringKey
	End   ClusteringKey
	Tombstone
}

// Covers reports whether ck falls inside the tombstone's clustering range.
func (rt RangeTombstone) Covers(ck ClusteringKey) bool {
	return CompareClustering(rt.Start, ck) <= 0 && CompareClustering(ck, rt.End) <= 0
}

// Row is a clustering position with its cells and row tombstone.
type Row struct {
	Key       ClusteringKey
	Tombstone Tombstone
	Cells     []Cell // sorted by column

	digest    uint64
	hasDigest bool
}

// Digest returns a 64-bit content digest of the row, computed lazily and
// cached. Rows produced by a merge start with an unset digest.
func (r *Row) Digest() uint64 {
	if r.hasDigest {
		return r.digest
	}
	h := xxhash.New()
	var scratch [8]byte
	_, _ = h.Write(r.Key)
	binary.LittleEndian.PutUint64(scratch[:], uint64(r.Tombstone.Timestamp))
	_, _ = h.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(r.Tombstone.DeletedAt.UnixMicro()))
	_, _ = h.Write(scratch[:])
	for _, c := range r.Cells {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(c.Column))
		_, _ = h.Write(scratch[:4])
		binary.LittleEndian.PutUint64(scratch[:], uint64(c.Timestamp))
		_, _ = h.Write(scratch[:])
		if c.Live {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write(c.Value)
	}
	r.digest = h.Sum64()
	r.hasDigest = true
	return r.digest
}

// Merge combines r with o (same clustering key), returning a new row with
// the winning cell per column and the more recent row tombstone. Cells
// shadowed by the merged row tombstone are dropped.
func (r *Row) Merge(o *Row) *Row {
	out := &Row{
		Key:       r.Key,
		Tombstone: r.Tombstone.Merge(o.Tombstone),
		Cells:     mergeCells(r.Cells, o.Cells),
	}
	out.dropShadowed()
	return out
}

func (r *Row) dropShadowed() {
	if !r.Tombstone.IsSet() {
		return
	}
	kept := r.Cells[:0]
	for _, c := range r.Cells {
		if !r.Tombstone.Covers(c.Timestamp) {
			kept = append(kept, c)
		}
	}
	r.Cells = kept
}

// IsEmpty reports whether the row carries no cells and no tombstone.
func (r *Row) IsEmpty() bool {
	return len(r.Cells) == 0 && !r.Tombstone.IsSet()
}

// Size estimates the heap footprint of the row in bytes.
func (r *Row) Size() int64 {
	size := int64(len(r.Key)) + 48
	for _, c := range r.Cells {
		size += c.Size()
	}
	return size
}

// Clone returns a shallow-cell copy of the row with an unset digest.
func (r *Row) Clone() *Row {
	cells := make([]Cell, len(r.Cells))
	copy(cells, r.Cells)
	return &Row{Key: r.Key, Tombstone: r.Tombstone, Cells: cells}
}
