package segment

import (
	"context"
	"time"

	"github.com/okrasa/strata/model"
)

// CompactAll rewrites every live segment into one, dropping shadowed
// data. Tombstones whose GC grace expired before gcBefore are purged
// together with everything they cover; a non-zero gcBefore is safe here
// because the rewrite covers every persistent source, so nothing the
// tombstones shadow can resurface. Old segments retire and are
// reclaimed by Vacuum.
func (s *Store) CompactAll(ctx context.Context, gcBefore time.Time) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	view := s.Snapshot()
	defer view.Close()
	if view.SegmentCount() == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	id := s.m.NextSegmentID
	s.mu.Unlock()

	r, err := view.NewReader(ctx, nil, model.FullRange(), model.FullSlice(), nil)
	if err != nil {
		return err
	}
	defer r.Close()

	info, os, err := s.writeSegment(ctx, id, r, gcBefore)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.m.NextSegmentID = id + 1
	if os != nil {
		s.m.Segments = []SegmentInfo{info}
	} else {
		s.m.Segments = nil
	}
	manifest := *s.m
	s.mu.Unlock()

	if err := s.manifest.Save(ctx, &manifest); err != nil {
		if os != nil {
			os.release()
			_ = s.blobs.Delete(ctx, info.Name)
		}
		return err
	}

	s.mu.Lock()
	s.m.ID = manifest.ID
	retired := s.segments
	if os != nil {
		s.segments = []*openSegment{os}
	} else {
		s.segments = nil
	}
	s.mu.Unlock()

	for _, old := range retired {
		old.release()
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Info("segments compacted",
			"retired", len(retired), "live_partitions", info.Partitions, "bytes", info.Size)
	}
	return nil
}
