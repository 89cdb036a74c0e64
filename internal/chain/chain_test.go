package chain

import (
	"testing"
	"time"

	"github.com/okrasa/strata/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = model.NewSchema("ks", "t",
	model.Column{ID: 1, Name: "a"},
	model.Column{ID: 2, Name: "b"},
)

var testKey = model.NewKey([]byte("p"))

func write(row string, col model.ColumnID, ts model.Timestamp, val string) *model.Mutation {
	m := model.NewMutation(testSchema, testKey)
	m.SetCell(model.ClusteringKey(row), col, ts, []byte(val))
	return m
}

func rowValues(c *Chain, seqSlice model.Slice) map[string]string {
	snap := c.OpenSnapshot()
	defer snap.Close()
	out := map[string]string{}
	cur := snap.Cursor(seqSlice)
	for {
		r, ok := cur.Next()
		if !ok {
			return out
		}
		for _, cell := range r.Cells {
			if cell.Live {
				out[string(r.Key)] = string(cell.Value)
			}
		}
	}
}

func TestApplyMergesIntoUnpinnedHead(t *testing.T) {
	c := New(testSchema, testKey)

	d1 := c.Apply(write("r1", 1, 100, "a"))
	assert.Positive(t, d1)
	assert.Equal(t, 1, c.Versions())

	// No snapshot pins the head: the second write merges in place.
	c.Apply(write("r2", 1, 100, "b"))
	assert.Equal(t, 1, c.Versions())
	assert.Equal(t, map[string]string{"r1": "a", "r2": "b"}, rowValues(c, model.FullSlice()))
}

func TestApplyPrependsWhenHeadPinned(t *testing.T) {
	c := New(testSchema, testKey)
	c.Apply(write("r1", 1, 100, "a"))

	snap := c.OpenSnapshot()
	defer snap.Close()

	c.Apply(write("r2", 1, 100, "b"))
	assert.Equal(t, 2, c.Versions())

	// The snapshot keeps its pre-write view.
	assert.Len(t, snap.Merged().Rows, 1)
	// A fresh snapshot sees both writes.
	assert.Equal(t, map[string]string{"r1": "a", "r2": "b"}, rowValues(c, model.FullSlice()))
}

func TestApplyNegativeDeltaOnShrinkingOverwrite(t *testing.T) {
	c := New(testSchema, testKey)
	c.Apply(write("r1", 1, 100, "a long initial value that takes space"))

	delta := c.Apply(write("r1", 1, 200, "x"))
	assert.Negative(t, delta)
}

func TestSnapshotIsolationAcrossApplies(t *testing.T) {
	c := New(testSchema, testKey)
	c.Apply(write("r1", 1, 100, "old"))

	snap := c.OpenSnapshot()
	defer snap.Close()

	c.Apply(write("r1", 1, 200, "new"))

	merged := snap.Merged()
	require.Len(t, merged.Rows, 1)
	assert.Equal(t, []byte("old"), merged.Rows[0].Cells[0].Value)
}

func TestCompactPreservesLogicalContent(t *testing.T) {
	c := New(testSchema, testKey)

	// Force multiple versions by pinning between writes.
	for _, w := range []*model.Mutation{
		write("r1", 1, 100, "a"),
		write("r2", 1, 100, "b"),
		write("r1", 1, 200, "a2"),
	} {
		snap := c.OpenSnapshot()
		c.Apply(w)
		snap.Close()
	}
	require.Equal(t, 3, c.Versions())

	before := rowValues(c, model.FullSlice())
	c.Compact()
	assert.Equal(t, 1, c.Versions())
	assert.Equal(t, before, rowValues(c, model.FullSlice()))
	assert.Equal(t, map[string]string{"r1": "a2", "r2": "b"}, before)
}

func TestCompactNeverMergesAcrossLiveSnapshot(t *testing.T) {
	c := New(testSchema, testKey)
	c.Apply(write("r1", 1, 100, "a"))

	snap := c.OpenSnapshot()
	defer func() {
		snap.Close()
	}()

	c.Apply(write("r1", 1, 200, "b"))
	pin2 := c.OpenSnapshot()
	c.Apply(write("r1", 1, 300, "c"))
	pin2.Close()
	require.Equal(t, 3, c.Versions())

	c.Compact()
	// The two versions above the live snapshot may merge; the snapshot's
	// version may not merge with them.
	assert.Equal(t, 2, c.Versions())

	merged := snap.Merged()
	require.Len(t, merged.Rows, 1)
	assert.Equal(t, []byte("a"), merged.Rows[0].Cells[0].Value)

	snap.Close()
	c.Compact()
	assert.Equal(t, 1, c.Versions())
	assert.Equal(t, map[string]string{"r1": "c"}, rowValues(c, model.FullSlice()))
}

func TestCursorSurvivesConcurrentCompaction(t *testing.T) {
	c := New(testSchema, testKey)

	rows := []string{"r1", "r2", "r3", "r4"}
	for i, r := range rows {
		snap := c.OpenSnapshot()
		c.Apply(write(r, 1, model.Timestamp(100+i), "v-"+r))
		snap.Close()
	}
	require.Equal(t, len(rows), c.Versions())

	snap := c.OpenSnapshot()
	defer snap.Close()
	cur := snap.Cursor(model.FullSlice())

	var got []string
	for {
		r, ok := cur.Next()
		if !ok {
			break
		}
		got = append(got, string(r.Key))
		// Interleave a full compaction between every fetched row.
		c.Compact()
	}
	assert.Equal(t, rows, got)
}

func TestCursorAppliesTombstoneShadowing(t *testing.T) {
	c := New(testSchema, testKey)
	c.Apply(write("r1", 1, 100, "dead"))
	c.Apply(write("r2", 1, 300, "alive"))

	del := model.NewMutation(testSchema, testKey)
	del.DeleteRange(model.ClusteringKey("r1"), model.ClusteringKey("r2"), 200, time.Unix(5, 0))
	c.Apply(del)

	snap := c.OpenSnapshot()
	defer snap.Close()
	cur := snap.Cursor(model.FullSlice())

	r, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, "r2", string(r.Key))
	require.Len(t, r.Cells, 1)
	assert.Equal(t, []byte("alive"), r.Cells[0].Value)

	_, ok = cur.Next()
	assert.False(t, ok)

	assert.Len(t, cur.RangeTombstones(), 1)
}

func TestEmptyChainIsKnownEmpty(t *testing.T) {
	c := New(testSchema, testKey)
	assert.Equal(t, 0, c.Versions())
	assert.Zero(t, c.Size())

	snap := c.OpenSnapshot()
	defer snap.Close()
	assert.True(t, snap.Merged().IsEmpty())

	_, ok := snap.Cursor(model.FullSlice()).Next()
	assert.False(t, ok)
}

func TestSnapshotSizeCoversVisibleVersionsOnly(t *testing.T) {
	c := New(testSchema, testKey)
	c.Apply(write("r1", 1, 100, "aaaa"))

	snap := c.OpenSnapshot()
	defer snap.Close()
	sizeBefore := snap.Size()

	c.Apply(write("r2", 1, 100, "bbbb"))
	assert.Equal(t, sizeBefore, snap.Size())
	assert.Greater(t, c.Size(), sizeBefore)
}
