// Package stream defines the mutation-source contract: lazy, restartable,
// forward-only sequences of partition fragments in partition-key order.
//
// A Source produces a Reader for a schema, key range, row slice, and
// resource permit. Readers emit Fragments: PartitionStart, then rows and
// range tombstones in clustering order, then PartitionEnd, for each
// partition in key order. Next returns io.EOF after the last fragment.
//
// The memtable, the row cache, and the segment store all implement Source;
// Merge stitches any number of readers into one timestamp-convergent
// stream, which is how layered reads (memtable over cache over segments)
// and compactions are built.
package stream
