// Package memtable implements the mutable in-memory write buffer: a
// btree of partition version chains that absorbs applies without
// blocking, serves reads as a mutation source, and streams itself out
// in key order at flush time.
//
// A flush does not stop writes. The flush reader snapshots each
// partition as the stream reaches it, so an apply racing the flush is
// either captured by the snapshot or stays layered in the memtable
// until the table retires it. Virtual dirty accounting shrinks as each
// partition streams; a failed flush reverts it and leaves the memtable
// fully readable.
package memtable
