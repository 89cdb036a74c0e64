package memtable

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/stream"
)

// FlushReader streams the whole memtable for persistence. Each partition
// is snapshotted when the scan reaches it, so applies that land behind
// the cursor stay buffered for the next flush while applies ahead of it
// ride along. Virtual dirty drops by a partition's snapshot size once
// that partition has been fully emitted; Abort restores everything
// released so far.
type FlushReader struct {
	mt       *Memtable
	gcBefore time.Time

	lastKey *model.Key
	emitter stream.Emitter

	pending  int64
	released int64
	done     bool
}

var errFlushSeek = errors.New("memtable: flush reader does not support fast-forward")

// NewFlushReader starts a flush scan. gcBefore is the tombstone purge
// horizon; a flush normally passes the zero time because the target
// segment does not cover the older sources a tombstone may still shadow.
func (m *Memtable) NewFlushReader(_ context.Context, gcBefore time.Time) *FlushReader {
	return &FlushReader{mt: m, gcBefore: gcBefore}
}

func (f *FlushReader) Next(ctx context.Context) (stream.Fragment, error) {
	for {
		if frag, ok := f.emitter.Next(); ok {
			return frag, nil
		}
		f.settle()

		e := f.mt.nextEntry(f.lastKey, model.FullRange())
		if e == nil {
			f.done = true
			return stream.Fragment{}, io.EOF
		}
		k := e.key
		f.lastKey = &k

		snap := e.chain.OpenSnapshot()
		f.pending = snap.Size()
		merged := snap.Merged()
		snap.Close()

		merged.CompactTo(f.gcBefore)
		if merged.IsEmpty() {
			continue
		}
		f.emitter.Reset(merged, model.FullSlice())
	}
}

// settle releases the virtual dirty of the previously streamed partition.
func (f *FlushReader) settle() {
	if f.pending == 0 {
		return
	}
	if f.mt.dirty != nil {
		f.mt.dirty.AddVirtual(-f.pending)
	}
	f.released += f.pending
	f.pending = 0
}

func (f *FlushReader) FastForwardTo(_ context.Context, _ model.KeyRange) error {
	return errFlushSeek
}

// Abort restores the virtual dirty released by this scan. Call it when
// the flush fails before the data became durable.
func (f *FlushReader) Abort() {
	f.pending = 0
	if f.released == 0 {
		return
	}
	if f.mt.dirty != nil {
		f.mt.dirty.AddVirtual(f.released)
	}
	f.released = 0
}

func (f *FlushReader) Close() error {
	if f.done {
		f.settle()
	}
	return nil
}
