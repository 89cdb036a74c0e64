package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okrasa/strata/blobstore"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
	"github.com/okrasa/strata/stream"
)

const segmentPrefix = "seg-"

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("segment: store closed")

// StoreOptions configures a segment store.
type StoreOptions struct {
	// Compression selects the block codec for new segments.
	Compression Compression
	// BlockSize is the target uncompressed block size for new segments.
	BlockSize int
	// Controller paces segment IO. May be nil.
	Controller *permit.Controller
	// Logger receives flush and compaction events. May be nil.
	Logger *slog.Logger
}

// openSegment is a refcounted live segment. The store holds one
// reference; views hold one each. The blob closes when the last
// reference drains.
type openSegment struct {
	info SegmentInfo
	seg  *Segment
	refs atomic.Int64
}

func (o *openSegment) acquire() { o.refs.Add(1) }

func (o *openSegment) release() {
	if o.refs.Add(-1) == 0 {
		_ = o.seg.Close()
	}
}

// Store is the persistent side of a shard: an ordered set of immutable
// segments tracked by a manifest. Writers (flush, compaction) serialize
// on the store; readers go through immutable Views and never block them.
type Store struct {
	blobs    blobstore.Store
	manifest *ManifestStore
	opts     StoreOptions

	wmu sync.Mutex // serializes AddSegment/CompactAll

	mu       sync.Mutex
	m        *Manifest
	segments []*openSegment
	closed   bool
}

// NewStore opens the segment store, loading the manifest and every live
// segment it names.
func NewStore(ctx context.Context, blobs blobstore.Store, opts StoreOptions) (*Store, error) {
	s := &Store{
		blobs:    blobs,
		manifest: NewManifestStore(blobs),
		opts:     opts,
	}
	m, err := s.manifest.Load(ctx)
	if err != nil {
		return nil, err
	}
	if m.NextSegmentID == 0 {
		m.NextSegmentID = 1
	}
	s.m = m
	for _, info := range m.Segments {
		os, err := s.openInfo(ctx, info)
		if err != nil {
			for _, prev := range s.segments {
				prev.release()
			}
			return nil, fmt.Errorf("segment: open %s: %w", info.Name, err)
		}
		s.segments = append(s.segments, os)
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Info("segment store opened", "segments", len(s.segments), "manifest_id", m.ID)
	}
	return s, nil
}

func (s *Store) openInfo(ctx context.Context, info SegmentInfo) (*openSegment, error) {
	blob, err := s.blobs.Open(ctx, info.Name)
	if err != nil {
		return nil, err
	}
	seg, err := Open(ctx, blob)
	if err != nil {
		blob.Close()
		return nil, err
	}
	os := &openSegment{info: info, seg: seg}
	os.acquire()
	return os, nil
}

// AddSegment drains the reader into a new segment and commits it to the
// manifest. This is the flush target.
func (s *Store) AddSegment(ctx context.Context, r stream.Reader) (SegmentInfo, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SegmentInfo{}, ErrStoreClosed
	}
	id := s.m.NextSegmentID
	s.mu.Unlock()

	// A flush never purges tombstones: the memtable is not the only
	// holder of the data they shadow.
	info, os, err := s.writeSegment(ctx, id, r, time.Time{})
	if err != nil {
		return SegmentInfo{}, err
	}
	if os == nil {
		// Nothing to persist; an empty flush still succeeds.
		return SegmentInfo{}, nil
	}

	s.mu.Lock()
	s.m.NextSegmentID = id + 1
	s.m.Segments = append(s.m.Segments, info)
	manifest := *s.m
	s.mu.Unlock()

	if err := s.manifest.Save(ctx, &manifest); err != nil {
		os.release()
		_ = s.blobs.Delete(ctx, info.Name)
		return SegmentInfo{}, err
	}

	s.mu.Lock()
	s.m.ID = manifest.ID
	s.segments = append(s.segments, os)
	s.mu.Unlock()

	if s.opts.Logger != nil {
		s.opts.Logger.Info("segment added", "name", info.Name, "partitions", info.Partitions, "bytes", info.Size)
	}
	return info, nil
}

// writeSegment streams the reader into blob seg-<id>, purging tombstones
// expired before gcBefore (zero purges nothing). Returns a nil
// openSegment when nothing survived.
func (s *Store) writeSegment(ctx context.Context, id uint64, r stream.Reader, gcBefore time.Time) (SegmentInfo, *openSegment, error) {
	name := fmt.Sprintf("%s%06d.seg", segmentPrefix, id)
	blob, err := s.blobs.Create(ctx, name)
	if err != nil {
		return SegmentInfo{}, nil, err
	}
	w := NewWriter(blob, WriterOptions{
		Compression: s.opts.Compression,
		BlockSize:   s.opts.BlockSize,
		Controller:  s.opts.Controller,
	})

	for {
		m, err := stream.NextPartition(ctx, r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			blob.Close()
			_ = s.blobs.Delete(ctx, name)
			return SegmentInfo{}, nil, err
		}
		m.CompactTo(gcBefore)
		if err := w.Append(ctx, m); err != nil {
			blob.Close()
			_ = s.blobs.Delete(ctx, name)
			return SegmentInfo{}, nil, err
		}
	}

	stats, err := w.Finish(ctx)
	if err != nil {
		blob.Close()
		_ = s.blobs.Delete(ctx, name)
		return SegmentInfo{}, nil, err
	}
	if err := blob.Close(); err != nil {
		_ = s.blobs.Delete(ctx, name)
		return SegmentInfo{}, nil, err
	}
	if stats.Partitions == 0 {
		_ = s.blobs.Delete(ctx, name)
		return SegmentInfo{}, nil, nil
	}

	info := SegmentInfo{ID: id, Name: name, Partitions: stats.Partitions, Size: stats.FileBytes}
	os, err := s.openInfo(ctx, info)
	if err != nil {
		_ = s.blobs.Delete(ctx, name)
		return SegmentInfo{}, nil, err
	}
	return info, os, nil
}

// Snapshot returns an immutable view over the current segment set. The
// view must be closed when no longer needed.
func (s *Store) Snapshot() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	segments := make([]*openSegment, len(s.segments))
	copy(segments, s.segments)
	for _, os := range segments {
		os.acquire()
	}
	return &View{segments: segments}
}

// SegmentCount returns the number of live segments.
func (s *Store) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// Vacuum deletes blobs no longer referenced by the manifest: retired
// segments and superseded manifest files. Callers must ensure no reader
// still needs the retired segments on stores where deletion breaks open
// handles.
func (s *Store) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	live := make(map[string]bool, len(s.m.Segments)+2)
	for _, info := range s.m.Segments {
		live[info.Name] = true
	}
	currentManifest := fmt.Sprintf("%s-%06d.json", manifestPrefix, s.m.ID)
	s.mu.Unlock()

	names, err := s.blobs.List(ctx, "")
	if err != nil {
		return err
	}
	for _, name := range names {
		switch {
		case name == currentName || live[name] || name == currentManifest:
			continue
		case strings.HasPrefix(name, segmentPrefix) || strings.HasPrefix(name, manifestPrefix):
			if err := s.blobs.Delete(ctx, name); err != nil {
				return err
			}
			if s.opts.Logger != nil {
				s.opts.Logger.Info("vacuumed blob", "name", name)
			}
		}
	}
	return nil
}

// Close releases the store's segment references. Outstanding views keep
// their segments alive until closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, os := range s.segments {
		os.release()
	}
	s.segments = nil
	return nil
}

// View is an immutable snapshot of the segment set. It implements
// stream.Source; readers created from it see exactly the segments that
// were live when the snapshot was taken.
type View struct {
	segments []*openSegment
	closed   atomic.Bool
}

// NewReader merges the view's segments over the range. Singular-range
// reads skip segments whose token bitmap excludes the key.
func (v *View) NewReader(ctx context.Context, schema *model.Schema, rng model.KeyRange, slice model.Slice, p *permit.Permit) (stream.Reader, error) {
	if v.closed.Load() {
		return nil, ErrStoreClosed
	}
	singleKey, singular := rng.SingularKey()
	readers := make([]stream.Reader, 0, len(v.segments))
	for _, os := range v.segments {
		if singular && !os.seg.MayContain(singleKey.Token) {
			continue
		}
		r, err := os.seg.NewReader(ctx, schema, rng, slice, p)
		if err != nil {
			for _, prev := range readers {
				prev.Close()
			}
			return nil, err
		}
		readers = append(readers, r)
	}
	return stream.Merge(readers...), nil
}

// SegmentCount returns the number of segments in the view.
func (v *View) SegmentCount() int {
	return len(v.segments)
}

// Close releases the view's segment references. Idempotent.
func (v *View) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, os := range v.segments {
		os.release()
	}
	return nil
}
