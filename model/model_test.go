package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return NewSchema("ks", "t",
		Column{ID: 1, Name: "a"},
		Column{ID: 2, Name: "b"},
	)
}

func TestKeyOrdering(t *testing.T) {
	a := NewKey([]byte("alpha"))
	b := NewKey([]byte("beta"))

	if a.Token == b.Token {
		t.Skip("token collision")
	}

	lo, hi := a, b
	if b.Less(a) {
		lo, hi = b, a
	}

	assert.True(t, lo.Less(hi))
	assert.False(t, hi.Less(lo))
	assert.True(t, a.Equal(NewKey([]byte("alpha"))))

	// Same token, different raw bytes: raw bytes break the tie.
	x := Key{Token: 42, Raw: []byte("x")}
	y := Key{Token: 42, Raw: []byte("y")}
	assert.True(t, x.Less(y))
}

func TestKeyRangeContains(t *testing.T) {
	a := Key{Token: 10, Raw: []byte("a")}
	b := Key{Token: 20, Raw: []byte("b")}
	c := Key{Token: 30, Raw: []byte("c")}

	full := FullRange()
	assert.True(t, full.Contains(a))
	assert.True(t, full.Contains(c))

	r := KeyRange{
		Start: &Bound{Key: a, Inclusive: false},
		End:   &Bound{Key: c, Inclusive: true},
	}
	assert.False(t, r.Contains(a))
	assert.True(t, r.Contains(b))
	assert.True(t, r.Contains(c))

	sing := SingularRange(b)
	assert.True(t, sing.IsSingular())
	assert.True(t, sing.Contains(b))
	assert.False(t, sing.Contains(a))

	k, ok := sing.SingularKey()
	require.True(t, ok)
	assert.True(t, k.Equal(b))
}

func TestKeyRangeSplitAfter(t *testing.T) {
	a := Key{Token: 10, Raw: []byte("a")}
	b := Key{Token: 20, Raw: []byte("b")}
	c := Key{Token: 30, Raw: []byte("c")}

	rest := FullRange().SplitAfter(b)
	assert.False(t, rest.Contains(a))
	assert.False(t, rest.Contains(b))
	assert.True(t, rest.Contains(c))

	bounded := KeyRange{End: &Bound{Key: b, Inclusive: true}}.SplitAfter(b)
	assert.True(t, bounded.IsEmpty())
}

func TestTombstoneMergeAndCovers(t *testing.T) {
	var none Tombstone
	assert.False(t, none.IsSet())
	assert.False(t, none.Covers(0))

	older := Tombstone{Timestamp: 100, DeletedAt: time.Unix(1, 0)}
	newer := Tombstone{Timestamp: 200, DeletedAt: time.Unix(2, 0)}

	assert.Equal(t, newer, older.Merge(newer))
	assert.Equal(t, newer, newer.Merge(older))
	assert.Equal(t, older, none.Merge(older))

	assert.True(t, newer.Covers(200))
	assert.True(t, newer.Covers(150))
	assert.False(t, newer.Covers(201))
}

func TestCellSupersedesIsDeterministic(t *testing.T) {
	live := Cell{Column: 1, Timestamp: 100, Value: []byte("x"), Live: true}
	dead := Cell{Column: 1, Timestamp: 100, Live: false}
	newer := Cell{Column: 1, Timestamp: 200, Value: []byte("y"), Live: true}

	assert.True(t, newer.Supersedes(live))
	assert.False(t, live.Supersedes(newer))

	// Equal timestamps: dead beats live, never the other way.
	assert.True(t, dead.Supersedes(live))
	assert.False(t, live.Supersedes(dead))

	// Equal timestamps, both live: larger value wins from either side.
	bigger := Cell{Column: 1, Timestamp: 100, Value: []byte("z"), Live: true}
	assert.True(t, bigger.Supersedes(live))
	assert.False(t, live.Supersedes(bigger))
}

func TestRowMergeNewestWins(t *testing.T) {
	a := &Row{Key: ClusteringKey("r1"), Cells: []Cell{
		{Column: 1, Timestamp: 100, Value: []byte("old"), Live: true},
		{Column: 2, Timestamp: 100, Value: []byte("keep"), Live: true},
	}}
	b := &Row{Key: ClusteringKey("r1"), Cells: []Cell{
		{Column: 1, Timestamp: 200, Value: []byte("new"), Live: true},
	}}

	merged := a.Merge(b)
	require.Len(t, merged.Cells, 2)
	assert.Equal(t, []byte("new"), merged.Cells[0].Value)
	assert.Equal(t, []byte("keep"), merged.Cells[1].Value)
}

func TestRowMergeTombstoneDominates(t *testing.T) {
	data := &Row{Key: ClusteringKey("r1"), Cells: []Cell{
		{Column: 1, Timestamp: 100, Value: []byte("x"), Live: true},
		{Column: 2, Timestamp: 300, Value: []byte("survivor"), Live: true},
	}}
	del := &Row{Key: ClusteringKey("r1"), Tombstone: Tombstone{Timestamp: 200, DeletedAt: time.Unix(5, 0)}}

	// Tombstone dominates covered cells regardless of merge order.
	for _, merged := range []*Row{data.Merge(del), del.Merge(data)} {
		require.Len(t, merged.Cells, 1)
		assert.Equal(t, []byte("survivor"), merged.Cells[0].Value)
		assert.True(t, merged.Tombstone.IsSet())
	}
}

func TestRowMergeLeavesInputsIntact(t *testing.T) {
	del := &Row{Key: ClusteringKey("r1"), Tombstone: Tombstone{Timestamp: 100, DeletedAt: time.Unix(5, 0)}}
	data := &Row{Key: ClusteringKey("r1"), Cells: []Cell{
		{Column: 1, Timestamp: 50, Value: []byte("covered"), Live: true},
		{Column: 2, Timestamp: 200, Value: []byte("new"), Live: true},
	}}
	want := data.Clone()

	merged := del.Merge(data)
	require.Len(t, merged.Cells, 1)
	assert.Equal(t, ColumnID(2), merged.Cells[0].Column)

	// Dropping the covered cell must not write through to the input slice.
	assert.Equal(t, want.Cells, data.Cells)

	// The merged row owns its cells outright.
	merged.Cells[0].Value = []byte("scribbled")
	assert.Equal(t, want.Cells, data.Cells)
}

func TestRowDigestCachedAndInvalidated(t *testing.T) {
	m := NewMutation(testSchema(), NewKey([]byte("p")))
	m.SetCell(ClusteringKey("r"), 1, 100, []byte("v"))

	r := m.Row(ClusteringKey("r"))
	require.NotNil(t, r)
	d1 := r.Digest()
	assert.Equal(t, d1, r.Digest())

	m.SetCell(ClusteringKey("r"), 1, 200, []byte("w"))
	d2 := m.Row(ClusteringKey("r")).Digest()
	assert.NotEqual(t, d1, d2)

	// Merged rows start with an unset digest but hash identically.
	clone := r.Clone()
	assert.Equal(t, d2, clone.Digest())
}

func TestMutationApplyOrderIndependence(t *testing.T) {
	schema := testSchema()
	key := NewKey([]byte("p"))

	build := func() []*Mutation {
		m1 := NewMutation(schema, key)
		m1.SetCell(ClusteringKey("r1"), 1, 100, []byte("a"))
		m1.SetCell(ClusteringKey("r2"), 2, 100, []byte("b"))

		m2 := NewMutation(schema, key)
		m2.SetCell(ClusteringKey("r1"), 1, 300, []byte("c"))
		m2.DeleteRow(ClusteringKey("r2"), 200, time.Unix(9, 0))

		m3 := NewMutation(schema, key)
		m3.DeleteRange(ClusteringKey("r0"), ClusteringKey("r1"), 150, time.Unix(8, 0))
		m3.SetCell(ClusteringKey("r3"), 1, 120, []byte("d"))
		return []*Mutation{m1, m2, m3}
	}

	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}}
	var first *Mutation
	for _, order := range orders {
		ms := build()
		acc := NewMutation(schema, key)
		for _, i := range order {
			acc.Apply(ms[i])
		}
		if first == nil {
			first = acc
			continue
		}
		require.Equal(t, len(first.Rows), len(acc.Rows), "order %v", order)
		for i := range first.Rows {
			assert.Equal(t, first.Rows[i].Digest(), acc.Rows[i].Digest(), "order %v row %d", order, i)
		}
		assert.Equal(t, first.PartitionTombstone, acc.PartitionTombstone)
		assert.Equal(t, first.RangeTombstones, acc.RangeTombstones)
	}

	// r1 cell written above the range tombstone survives; r2 is shadowed.
	r1 := first.Row(ClusteringKey("r1"))
	require.NotNil(t, r1)
	require.Len(t, r1.Cells, 1)
	assert.Equal(t, []byte("c"), r1.Cells[0].Value)

	r2 := first.Row(ClusteringKey("r2"))
	require.NotNil(t, r2)
	assert.Empty(t, r2.Cells)
	assert.True(t, r2.Tombstone.IsSet())
}

func TestMutationApplyIdempotent(t *testing.T) {
	schema := testSchema()
	key := NewKey([]byte("p"))

	m := NewMutation(schema, key)
	m.SetCell(ClusteringKey("r"), 1, 100, []byte("v"))

	acc := NewMutation(schema, key)
	acc.Apply(m)
	once := acc.Clone()
	acc.Apply(m)

	require.Len(t, acc.Rows, 1)
	assert.Equal(t, once.Rows[0].Digest(), acc.Rows[0].Digest())
}

func TestMutationApplyLeavesArgumentIntact(t *testing.T) {
	schema := testSchema()
	key := NewKey([]byte("p"))

	// A buffered row deletion, then a later multi-cell write for the same
	// clustering key: the write is applied to the buffer and then reused
	// (the table hands the same mutation to the cache afterwards).
	base := NewMutation(schema, key)
	base.DeleteRow(ClusteringKey("r"), 100, time.Unix(5, 0))

	incoming := NewMutation(schema, key)
	incoming.SetCell(ClusteringKey("r"), 1, 50, []byte("shadowed"))
	incoming.SetCell(ClusteringKey("r"), 2, 200, []byte("survivor"))
	want := incoming.Clone()

	base.Apply(incoming)

	require.Len(t, base.Rows, 1)
	require.Len(t, base.Rows[0].Cells, 1)
	assert.Equal(t, []byte("survivor"), base.Rows[0].Cells[0].Value)

	require.Len(t, incoming.Rows, 1)
	assert.Equal(t, want.Rows[0].Cells, incoming.Rows[0].Cells)
}

func TestMutationCompactToPurgesExpiredTombstones(t *testing.T) {
	schema := testSchema()
	m := NewMutation(schema, NewKey([]byte("p")))
	m.SetCell(ClusteringKey("r1"), 1, 100, []byte("v"))
	m.DeleteRow(ClusteringKey("r1"), 200, time.Unix(10, 0))
	m.DeleteRange(ClusteringKey("r2"), ClusteringKey("r3"), 200, time.Unix(10, 0))

	// Zero horizon: tombstones stay.
	m.CompactTo(time.Time{})
	require.Len(t, m.Rows, 1)
	assert.True(t, m.Rows[0].Tombstone.IsSet())
	assert.Len(t, m.RangeTombstones, 1)

	// Horizon past the deletion time: tombstones purge, covered data is
	// already gone and never comes back.
	m.CompactTo(time.Unix(100, 0))
	assert.Empty(t, m.Rows)
	assert.Empty(t, m.RangeTombstones)
	assert.True(t, m.IsEmpty())
}

func TestSchemaValidateRejectsUnknownColumn(t *testing.T) {
	schema := testSchema()
	m := NewMutation(schema, NewKey([]byte("p")))
	m.SetCell(ClusteringKey("r"), 99, 100, []byte("v"))

	err := schema.Validate(m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	var sme *SchemaMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, ColumnID(99), sme.Column)
}

func TestSchemaWithColumnsDerivesNextVersion(t *testing.T) {
	s1 := testSchema()
	s2 := s1.WithColumns(Column{ID: 3, Name: "c"})

	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, s1.Version+1, s2.Version)
	assert.Len(t, s1.Columns, 2)
	assert.Len(t, s2.Columns, 3)

	// Old schema still rejects the new column.
	m := NewMutation(s2, NewKey([]byte("p")))
	m.SetCell(ClusteringKey("r"), 3, 100, []byte("v"))
	assert.Error(t, s1.Validate(m))
	assert.NoError(t, s2.Validate(m))
}

func TestSliceFiltering(t *testing.T) {
	full := FullSlice()
	assert.True(t, full.IsFull())
	assert.True(t, full.SelectsRow(ClusteringKey("anything")))

	s := Slice{
		ClusteringRanges: []ClusteringRange{{Start: ClusteringKey("b"), End: ClusteringKey("d")}},
		Columns:          []ColumnID{2},
	}
	assert.False(t, s.SelectsRow(ClusteringKey("a")))
	assert.True(t, s.SelectsRow(ClusteringKey("c")))
	assert.False(t, s.SelectsRow(ClusteringKey("e")))

	r := &Row{Key: ClusteringKey("c"), Cells: []Cell{
		{Column: 1, Timestamp: 1, Value: []byte("x"), Live: true},
		{Column: 2, Timestamp: 1, Value: []byte("y"), Live: true},
	}}
	filtered := s.FilterRow(r)
	require.Len(t, filtered.Cells, 1)
	assert.Equal(t, ColumnID(2), filtered.Cells[0].Column)
}
