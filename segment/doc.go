// Package segment implements the immutable on-disk mutation store that
// memtable flushes write and reads fall back to.
//
// A segment is one blob: a header, blocks of framed partition records
// compressed with zstd or lz4 (or stored raw when compression does not
// pay), and a footer holding the partition index plus a roaring bitmap
// of the tokens present. Point reads consult the bitmap first and skip
// segments that cannot contain the token; range reads binary-search the
// index for the first partition in range.
//
// Store tracks the live segment set through a JSON manifest with an
// atomically swapped CURRENT pointer, serves immutable Snapshot views
// for readers, and rewrites the set through full compaction.
package segment
