package stream

import (
	"context"
	"io"
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

func mut(key string, rows ...string) *model.Mutation {
	m := model.NewMutation(testSchema, model.NewKey([]byte(key)))
	for _, r := range rows {
		m.SetCell(model.ClusteringKey(r), 1, 100, []byte("v-"+key+"-"+r))
	}
	return m
}

func keysOf(ms []*model.Mutation) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m.Key.Raw)
	}
	return out
}

func sortedKeys(keys ...string) []string {
	ms := make([]*model.Mutation, len(keys))
	for i, k := range keys {
		ms[i] = mut(k)
	}
	s := NewMemSource(ms...)
	got, err := Collect(context.Background(), s, testSchema, model.FullRange(), model.FullSlice(), nil)
	if err != nil {
		panic(err)
	}
	return keysOf(got)
}

func TestMemSourceEmitsWellFormedStream(t *testing.T) {
	ctx := context.Background()
	s := NewMemSource(mut("p1", "r1", "r2"), mut("p2", "r1", "r2"))

	r, err := s.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	defer r.Close()

	var kinds []Kind
	for {
		f, err := r.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []Kind{
		KindPartitionStart, KindRow, KindRow, KindPartitionEnd,
		KindPartitionStart, KindRow, KindRow, KindPartitionEnd,
	}, kinds)
}

func TestMemSourceRangeRestriction(t *testing.T) {
	ctx := context.Background()
	s := NewMemSource(mut("a"), mut("b"), mut("c"))

	order := sortedKeys("a", "b", "c")
	midKey := model.NewKey([]byte(order[1]))

	got, err := Collect(ctx, s, testSchema, model.SingularRange(midKey), model.FullSlice(), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, order[1], string(got[0].Key.Raw))

	got, err = Collect(ctx, s, testSchema, model.FullRange().SplitAfter(midKey), model.FullSlice(), nil)
	require.NoError(t, err)
	assert.Equal(t, order[2:], keysOf(got))
}

func TestMemSourceFastForward(t *testing.T) {
	ctx := context.Background()
	s := NewMemSource(mut("a"), mut("b"), mut("c"))
	order := sortedKeys("a", "b", "c")

	r, err := s.NewReader(ctx, testSchema, model.SingularRange(model.NewKey([]byte(order[0]))), model.FullSlice(), nil)
	require.NoError(t, err)
	defer r.Close()

	first, err := NextPartition(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, order[0], string(first.Key.Raw))

	_, err = NextPartition(ctx, r)
	assert.ErrorIs(t, err, io.EOF)

	// Fast-forward past the exhausted range: the reader resumes.
	require.NoError(t, r.FastForwardTo(ctx, model.SingularRange(model.NewKey([]byte(order[2])))))
	third, err := NextPartition(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, order[2], string(third.Key.Raw))
}

func TestMergeCombinesDisjointPartitions(t *testing.T) {
	ctx := context.Background()
	s1 := NewMemSource(mut("a"), mut("c"))
	s2 := NewMemSource(mut("b"))

	r1, err := s1.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	r2, err := s2.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)

	merged := Merge(r1, r2)
	defer merged.Close()

	got, err := ReadAll(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, sortedKeys("a", "b", "c"), keysOf(got))
}

func TestMergeConvergesEqualKeys(t *testing.T) {
	ctx := context.Background()

	older := model.NewMutation(testSchema, model.NewKey([]byte("p")))
	older.SetCell(model.ClusteringKey("r"), 1, 100, []byte("old"))
	older.SetCell(model.ClusteringKey("r"), 2, 100, []byte("keep"))

	newer := model.NewMutation(testSchema, model.NewKey([]byte("p")))
	newer.SetCell(model.ClusteringKey("r"), 1, 200, []byte("new"))

	deleted := model.NewMutation(testSchema, model.NewKey([]byte("p")))
	deleted.DeleteCell(model.ClusteringKey("r"), 2, 300)

	open := func(m *model.Mutation) Reader {
		r, err := NewMemSource(m).NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
		require.NoError(t, err)
		return r
	}

	got, err := ReadAll(ctx, Merge(open(older), open(newer), open(deleted)))
	require.NoError(t, err)
	require.Len(t, got, 1)

	row := got[0].Row(model.ClusteringKey("r"))
	require.NotNil(t, row)
	require.Len(t, row.Cells, 2)
	assert.Equal(t, []byte("new"), row.Cells[0].Value)
	assert.False(t, row.Cells[1].Live)
}

func TestMergeFastForward(t *testing.T) {
	ctx := context.Background()
	order := sortedKeys("a", "b", "c", "d")

	s1 := NewMemSource(mut(order[0]), mut(order[2]))
	s2 := NewMemSource(mut(order[1]), mut(order[3]))

	r1, err := s1.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	r2, err := s2.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)

	merged := Merge(r1, r2)
	defer merged.Close()

	first, err := NextPartition(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, order[0], string(first.Key.Raw))

	rest := model.FullRange().SplitAfter(model.NewKey([]byte(order[1])))
	require.NoError(t, merged.FastForwardTo(ctx, rest))

	got, err := ReadAll(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, order[2:], keysOf(got))
}

func TestMergedStreamCarriesTombstones(t *testing.T) {
	ctx := context.Background()

	data := mut("p", "r1", "r2")
	del := model.NewMutation(testSchema, model.NewKey([]byte("p")))
	del.DeleteRange(model.ClusteringKey("r1"), model.ClusteringKey("r1"), 500, time.Unix(10, 0))

	open := func(m *model.Mutation) Reader {
		r, err := NewMemSource(m).NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
		require.NoError(t, err)
		return r
	}

	got, err := ReadAll(ctx, Merge(open(data), open(del)))
	require.NoError(t, err)
	require.Len(t, got, 1)

	// r1 shadowed by the range tombstone, r2 intact, tombstone preserved.
	assert.Len(t, got[0].RangeTombstones, 1)
	r2 := got[0].Row(model.ClusteringKey("r2"))
	require.NotNil(t, r2)
	assert.Len(t, r2.Cells, 1)
	r1 := got[0].Row(model.ClusteringKey("r1"))
	if r1 != nil {
		assert.Empty(t, r1.Cells)
	}
}

func TestSliceProjection(t *testing.T) {
	ctx := context.Background()
	m := model.NewMutation(testSchema, model.NewKey([]byte("p")))
	m.SetCell(model.ClusteringKey("r1"), 1, 100, []byte("x"))
	m.SetCell(model.ClusteringKey("r1"), 2, 100, []byte("y"))
	m.SetCell(model.ClusteringKey("r2"), 1, 100, []byte("z"))

	s := NewMemSource(m)
	slice := model.Slice{
		ClusteringRanges: []model.ClusteringRange{{Start: model.ClusteringKey("r1"), End: model.ClusteringKey("r1")}},
		Columns:          []model.ColumnID{2},
	}

	got, err := Collect(ctx, s, testSchema, model.FullRange(), slice, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Rows, 1)
	require.Len(t, got[0].Rows[0].Cells, 1)
	assert.Equal(t, model.ColumnID(2), got[0].Rows[0].Cells[0].Column)
}
