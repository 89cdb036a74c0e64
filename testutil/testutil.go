package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/stream"
	"github.com/stretchr/testify/require"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Timestamp returns a pseudo-random write timestamp in [1, 1<<40).
func (r *RNG) Timestamp() model.Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.Timestamp(1 + r.rand.Int63n(1<<40))
}

// GenerateMutations produces n random single-partition mutations against
// the schema. Keys and clustering positions are drawn from small pools so
// the workload exercises convergent merging: repeated keys, overwrites at
// higher timestamps, and a sprinkling of cell, row and range deletions.
// Locks only once per call.
func GenerateMutations(r *RNG, schema *model.Schema, n int) []*model.Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()

	deletedAt := time.Unix(1700000000, 0)
	muts := make([]*model.Mutation, 0, n)
	for i := 0; i < n; i++ {
		key := model.NewKey([]byte(fmt.Sprintf("p%02d", r.rand.Intn(12))))
		m := model.NewMutation(schema, key)
		ck := model.ClusteringKey(fmt.Sprintf("r%02d", r.rand.Intn(8)))
		ts := model.Timestamp(1 + r.rand.Int63n(1<<40))

		switch r.rand.Intn(10) {
		case 0:
			m.DeleteRow(ck, ts, deletedAt)
		case 1:
			m.DeleteCell(ck, schema.Columns[r.rand.Intn(len(schema.Columns))].ID, ts)
		case 2:
			end := model.ClusteringKey(fmt.Sprintf("r%02d", r.rand.Intn(8)))
			if model.CompareClustering(ck, end) > 0 {
				ck, end = end, ck
			}
			m.DeleteRange(ck, end, ts, deletedAt)
		default:
			col := schema.Columns[r.rand.Intn(len(schema.Columns))].ID
			val := fmt.Sprintf("v%d-%d", i, r.rand.Intn(1000))
			m.SetCell(ck, col, ts, []byte(val))
		}
		muts = append(muts, m)
	}
	return muts
}

// ReferenceMerge folds the mutations into the state they converge to:
// one merged mutation per partition key, in key order, empty partitions
// dropped. This is the ground truth a conforming mutation source must
// reproduce regardless of how the writes were split across memtable,
// cache and segments.
func ReferenceMerge(schema *model.Schema, muts []*model.Mutation) []*model.Mutation {
	merged := make(map[string]*model.Mutation)
	var order []string
	for _, m := range muts {
		raw := string(m.Key.Raw)
		if acc, ok := merged[raw]; ok {
			acc.Apply(m)
			continue
		}
		c := m.Clone()
		c.Schema = schema
		merged[raw] = c
		order = append(order, raw)
	}

	out := make([]*model.Mutation, 0, len(merged))
	for _, k := range order {
		if m := merged[k]; !m.IsEmpty() {
			out = append(out, m)
		}
	}
	sortByKey(out)
	return out
}

func sortByKey(muts []*model.Mutation) {
	for i := 1; i < len(muts); i++ {
		for j := i; j > 0 && muts[j].Key.Less(muts[j-1].Key); j-- {
			muts[j], muts[j-1] = muts[j-1], muts[j]
		}
	}
}

// AssertSourceConforms reads the source over the full range and requires
// its output to match the expected partitions exactly: same keys in the
// same order, same tombstones, same row content.
func AssertSourceConforms(t *testing.T, src stream.Source, schema *model.Schema, expected []*model.Mutation) {
	t.Helper()
	AssertReadConforms(t, src, schema, model.FullRange(), model.FullSlice(), expected)
}

// AssertReadConforms reads the source over rng and slice and requires the
// output to match the reference partitions projected through the same
// restriction.
func AssertReadConforms(t *testing.T, src stream.Source, schema *model.Schema, rng model.KeyRange, slice model.Slice, expected []*model.Mutation) {
	t.Helper()
	want := ProjectSlice(FilterRange(expected, rng), slice)
	got, err := stream.Collect(context.Background(), src, schema, rng, slice, nil)
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i, w := range want {
		g := got[i]
		require.True(t, g.Key.Equal(w.Key), "partition %d: got key %s, want %s", i, g.Key, w.Key)
		RequireSamePartition(t, w, g)
	}
}

// FilterRange keeps the reference partitions whose key falls inside rng.
func FilterRange(muts []*model.Mutation, rng model.KeyRange) []*model.Mutation {
	out := make([]*model.Mutation, 0, len(muts))
	for _, m := range muts {
		if rng.Contains(m.Key) {
			out = append(out, m)
		}
	}
	return out
}

// ProjectSlice projects reference partitions through a read restriction
// the way a conforming reader emits them: rows outside the clustering
// ranges are skipped, columns outside the column set are dropped, and
// tombstones pass through untouched. The input is left unmodified.
func ProjectSlice(muts []*model.Mutation, slice model.Slice) []*model.Mutation {
	if slice.IsFull() {
		return muts
	}
	out := make([]*model.Mutation, 0, len(muts))
	for _, m := range muts {
		p := &model.Mutation{
			Schema:             m.Schema,
			Key:                m.Key,
			PartitionTombstone: m.PartitionTombstone,
			RangeTombstones:    m.RangeTombstones,
		}
		for _, r := range m.Rows {
			if slice.SelectsRow(r.Key) {
				p.Rows = append(p.Rows, slice.FilterRow(r))
			}
		}
		out = append(out, p)
	}
	return out
}

// RequireSamePartition fails unless the two mutations carry identical
// logical content for the same partition.
func RequireSamePartition(t *testing.T, want, got *model.Mutation) {
	t.Helper()
	require.Equal(t, want.PartitionTombstone, got.PartitionTombstone, "partition %s: tombstone", want.Key)
	require.Equal(t, want.RangeTombstones, got.RangeTombstones, "partition %s: range tombstones", want.Key)
	require.Len(t, got.Rows, len(want.Rows), "partition %s: row count", want.Key)
	for i, wr := range want.Rows {
		gr := got.Rows[i]
		require.Equal(t, wr.Key, gr.Key, "partition %s: row %d key", want.Key, i)
		require.Equal(t, wr.Digest(), gr.Digest(), "partition %s: row %s content", want.Key, wr.Key)
	}
}
