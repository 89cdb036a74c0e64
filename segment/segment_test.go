package segment

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/okrasa/strata/blobstore"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/stream"
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

// byToken sorts mutations the way they must enter a segment.
func byToken(ms ...*model.Mutation) []*model.Mutation {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Key.Less(ms[j].Key) })
	return ms
}

func writeTestSegment(t *testing.T, blobs blobstore.Store, name string, opts WriterOptions, ms ...*model.Mutation) *Segment {
	t.Helper()
	ctx := context.Background()

	blob, err := blobs.Create(ctx, name)
	require.NoError(t, err)
	w := NewWriter(blob, opts)
	for _, m := range byToken(ms...) {
		require.NoError(t, w.Append(ctx, m))
	}
	_, err = w.Finish(ctx)
	require.NoError(t, err)
	require.NoError(t, blob.Close())

	rb, err := blobs.Open(ctx, name)
	require.NoError(t, err)
	seg, err := Open(ctx, rb)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })
	return seg
}

func TestSegmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	in := []*model.Mutation{mut("p1", "r1", "r2"), mut("p2", "r1"), mut("p3")}
	in[2].DeleteRow(model.ClusteringKey("gone"), 200, time.Now())
	seg := writeTestSegment(t, blobs, "seg-000001.seg", WriterOptions{}, in...)

	require.Equal(t, 3, seg.PartitionCount())

	got, err := stream.Collect(ctx, seg, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, keysOf(byToken(in...)), keysOf(got))

	for i, m := range byToken(in...) {
		assert.Equal(t, len(m.Rows), len(got[i].Rows), "partition %s", m.Key)
		for j, r := range m.Rows {
			assert.Equal(t, r.Digest(), got[i].Rows[j].Digest())
		}
	}
}

func TestSegmentCompressionCodecs(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			ctx := context.Background()
			blobs := blobstore.NewMemoryStore()

			// Repetitive values so the codecs actually engage.
			var in []*model.Mutation
			for i := 0; i < 20; i++ {
				in = append(in, mut(string(rune('a'+i)), "r1", "r2", "r3"))
			}
			seg := writeTestSegment(t, blobs, "seg-000001.seg", WriterOptions{Compression: c}, in...)

			got, err := stream.Collect(ctx, seg, testSchema, model.FullRange(), model.FullSlice(), nil)
			require.NoError(t, err)
			assert.Len(t, got, 20)
		})
	}
}

func TestSegmentSmallBlocksSpanManyPartitions(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	var in []*model.Mutation
	for i := 0; i < 50; i++ {
		in = append(in, mut(string(rune('A'+i)), "r1", "r2"))
	}
	// Tiny blocks force one partition per block and many index entries.
	seg := writeTestSegment(t, blobs, "seg-000001.seg", WriterOptions{BlockSize: 64}, in...)

	got, err := stream.Collect(ctx, seg, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	assert.Equal(t, keysOf(byToken(in...)), keysOf(got))
}

func TestSegmentMayContain(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	seg := writeTestSegment(t, blobs, "seg-000001.seg", WriterOptions{}, mut("present", "r1"))

	assert.True(t, seg.MayContain(model.TokenOf([]byte("present"))))
	assert.False(t, seg.MayContain(model.TokenOf([]byte("absent"))))
}

func TestSegmentReaderFastForward(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	in := byToken(mut("a", "r"), mut("b", "r"), mut("c", "r"), mut("d", "r"))
	seg := writeTestSegment(t, blobs, "seg-000001.seg", WriterOptions{}, in...)

	r, err := seg.NewReader(ctx, testSchema, model.SingularRange(in[0].Key), model.FullSlice(), nil)
	require.NoError(t, err)
	defer r.Close()

	got, err := stream.NextPartition(ctx, r)
	require.NoError(t, err)
	assert.True(t, got.Key.Equal(in[0].Key))

	// Jump over in[1] straight to in[2].
	require.NoError(t, r.FastForwardTo(ctx, model.SingularRange(in[2].Key)))
	got, err = stream.NextPartition(ctx, r)
	require.NoError(t, err)
	assert.True(t, got.Key.Equal(in[2].Key))

	_, err = stream.NextPartition(ctx, r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSegmentRangeReads(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	in := byToken(mut("a"), mut("b"), mut("c"), mut("d"), mut("e"))
	seg := writeTestSegment(t, blobs, "seg-000001.seg", WriterOptions{}, in...)

	rng := model.KeyRange{
		Start: &model.Bound{Key: in[1].Key, Inclusive: true},
		End:   &model.Bound{Key: in[3].Key, Inclusive: false},
	}
	got, err := stream.Collect(ctx, seg, testSchema, rng, model.FullSlice(), nil)
	require.NoError(t, err)
	assert.Equal(t, keysOf(in[1:3]), keysOf(got))
}

func TestOpenRejectsCorruptBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	require.NoError(t, blobs.Put(ctx, "junk", []byte("definitely not a segment, but long enough to try")))

	blob, err := blobs.Open(ctx, "junk")
	require.NoError(t, err)
	defer blob.Close()

	_, err = Open(ctx, blob)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestManifestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	ms := NewManifestStore(blobs)

	m, err := ms.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, m.Segments)

	m.NextSegmentID = 3
	m.Segments = []SegmentInfo{{ID: 2, Name: "seg-000002.seg", Partitions: 7}}
	require.NoError(t, ms.Save(ctx, m))

	got, err := ms.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, uint64(3), got.NextSegmentID)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, "seg-000002.seg", got.Segments[0].Name)
}

func TestStoreFlushAndSnapshot(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	s, err := NewStore(ctx, blobs, StoreOptions{})
	require.NoError(t, err)
	defer s.Close()

	src := stream.NewMemSource(mut("p1", "r1"), mut("p2", "r1"))
	r, err := src.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	info, err := s.AddSegment(ctx, r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, int64(2), info.Partitions)
	assert.Equal(t, 1, s.SegmentCount())

	view := s.Snapshot()
	defer view.Close()
	got, err := stream.Collect(ctx, view, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// The store reopens from the manifest alone.
	s2, err := NewStore(ctx, blobs, StoreOptions{})
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 1, s2.SegmentCount())
}

func TestStoreSnapshotSurvivesCompaction(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	s, err := NewStore(ctx, blobs, StoreOptions{})
	require.NoError(t, err)
	defer s.Close()

	addOne := func(m *model.Mutation) {
		src := stream.NewMemSource(m)
		r, err := src.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
		require.NoError(t, err)
		_, err = s.AddSegment(ctx, r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
	}
	addOne(mut("p1", "r1"))
	addOne(mut("p2", "r1"))

	view := s.Snapshot()
	defer view.Close()

	require.NoError(t, s.CompactAll(ctx, time.Time{}))
	assert.Equal(t, 1, s.SegmentCount())

	// The pre-compaction view still reads both retired segments.
	got, err := stream.Collect(ctx, view, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCompactAllMergesAndPurges(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	s, err := NewStore(ctx, blobs, StoreOptions{})
	require.NoError(t, err)
	defer s.Close()

	// Segment 1: live data plus a row deleted long ago.
	old := mut("p1", "keep")
	old.DeleteRow(model.ClusteringKey("dead"), 50, time.Now().Add(-48*time.Hour))
	src := stream.NewMemSource(old, mut("p2", "r1"))
	r, err := src.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	_, err = s.AddSegment(ctx, r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// Segment 2: a newer cell for p2.
	upd := model.NewMutation(testSchema, model.NewKey([]byte("p2")))
	upd.SetCell(model.ClusteringKey("r1"), 1, 500, []byte("newer"))
	src2 := stream.NewMemSource(upd)
	r2, err := src2.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	_, err = s.AddSegment(ctx, r2)
	require.NoError(t, err)
	require.NoError(t, r2.Close())
	require.Equal(t, 2, s.SegmentCount())

	// Purge horizon after the old deletion, before now.
	require.NoError(t, s.CompactAll(ctx, time.Now().Add(-time.Hour)))
	require.Equal(t, 1, s.SegmentCount())

	view := s.Snapshot()
	defer view.Close()
	got, err := stream.Collect(ctx, view, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for _, m := range got {
		switch string(m.Key.Raw) {
		case "p1":
			// The expired row tombstone is purged.
			require.Len(t, m.Rows, 1)
			assert.Equal(t, model.ClusteringKey("keep"), m.Rows[0].Key)
			assert.False(t, m.Rows[0].Tombstone.IsSet())
		case "p2":
			require.Len(t, m.Rows, 1)
			require.Len(t, m.Rows[0].Cells, 1)
			assert.Equal(t, []byte("newer"), m.Rows[0].Cells[0].Value)
			assert.Equal(t, model.Timestamp(500), m.Rows[0].Cells[0].Timestamp)
		}
	}
}

func TestVacuumReclaimsRetiredBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	s, err := NewStore(ctx, blobs, StoreOptions{})
	require.NoError(t, err)
	defer s.Close()

	src := stream.NewMemSource(mut("p1", "r1"))
	r, err := src.NewReader(ctx, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	_, err = s.AddSegment(ctx, r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	require.NoError(t, s.CompactAll(ctx, time.Time{}))
	require.NoError(t, s.Vacuum(ctx))

	names, err := blobs.List(ctx, "")
	require.NoError(t, err)
	// CURRENT, the live manifest, and the compacted segment remain.
	assert.Len(t, names, 3)
	assert.Contains(t, names, "CURRENT")
	assert.NotContains(t, names, "seg-000001.seg")

	// Everything still reads after vacuum and reopen.
	s2, err := NewStore(ctx, blobs, StoreOptions{})
	require.NoError(t, err)
	defer s2.Close()
	view := s2.Snapshot()
	defer view.Close()
	got, err := stream.Collect(ctx, view, testSchema, model.FullRange(), model.FullSlice(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
