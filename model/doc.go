// Package model defines the partition/row mutation data model shared by the
// memtable, the row cache, and the segment store.
//
// # Identity Types
//
//   - Token: ring position of a partition key (xxhash64 of the raw key)
//   - Key: a raw partition key decorated with its token
//   - ClusteringKey: position of a row within a partition
//   - ColumnID: stable column identifier within a schema
//
// # Data Types
//
//   - Cell: a single column value with a write timestamp
//   - Row: a clustering position with its cells and row tombstone
//   - RangeTombstone: a deletion covering a clustering range
//   - Mutation: a partition's worth of writes; both the unit applied to a
//     memtable and the merged payload produced by reads and flushes
//   - Schema: column layout and GC grace for one table
//
// Merging is timestamp-convergent: applying the same logical writes twice,
// or in any order, converges to the same state via per-cell timestamp
// comparison.
package model
