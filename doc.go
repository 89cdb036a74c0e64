// Package strata is an embedded mutation-caching storage layer for Go.
//
// A Table buffers writes in a memtable, keeps hot partitions in a row
// cache and persists flushed data as immutable segments in a blob
// store. Reads merge all three layers into a single ordered stream that
// always reflects every acknowledged write.
//
// # Quick Start
//
//	ctx := context.Background()
//	schema := model.NewSchema("ks", "events", model.Column{ID: 1, Name: "v"})
//	tbl, _ := strata.New(schema, strata.WithCacheCapacity(64<<20))
//
//	m := model.NewMutation(schema, model.NewKey([]byte("k1")))
//	m.SetCell(model.ClusteringKey("r1"), 1, ts, []byte("x"))
//	tbl.Apply(m)
//
//	r, _ := tbl.NewReader(ctx, model.FullRange(), model.FullSlice(), nil)
//	defer r.Close()
//
// # Write Model
//
// Mutations merge convergently: for each cell the higher timestamp wins,
// so replaying or reordering the same writes always reaches the same
// state. Deletes are tombstones that shadow older data until compaction
// purges them past the schema's GC grace.
//
// # Durability Model
//
//	tbl.Apply(m)    // buffered in memory
//	tbl.Flush(ctx)  // durable after this
//
// Flush streams the memtable into a new segment and folds its content
// into the cache without a window where a written mutation is
// unreadable. A failed flush leaves the memtable sealed for retry.
//
// # Key Features
//
//   - Row cache with continuity tracking: repeat reads of cached
//     partitions and ranges never touch storage
//   - Phase-based read isolation: compaction and invalidation run
//     concurrently with open readers without changing what they see
//   - Dirty accounting with a high-water callback for flush scheduling
//   - Pluggable blob stores (memory, local disk, S3/MinIO)
package strata
