package cache

import (
	"context"
	"errors"
	"io"

	"github.com/okrasa/strata/internal/barrier"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
	"github.com/okrasa/strata/stream"
)

// autoUpdatingReader reads the underlying source while surviving phase
// transitions that happen mid-read. Whenever the phase governing its
// position no longer matches the phase its reader was created in, the
// reader is torn down and recreated against a fresh snapshot restricted
// to the remaining range, re-anchored just past the last fully emitted
// partition. The caller observes identical output regardless of how many
// recreations occur.
type autoUpdatingReader struct {
	c      *Cache
	schema *model.Schema
	slice  model.Slice
	permit *permit.Permit

	rng     model.KeyRange
	lastKey *model.Key

	reader stream.Reader
	op     *barrier.Op
	done   bool

	// emitter serves the fragment-level Reader interface for bypass
	// reads; partition-level consumers use nextPartition directly.
	emitter stream.Emitter
	closed  bool
}

func (c *Cache) newAutoUpdatingReader(schema *model.Schema, rng model.KeyRange, slice model.Slice, p *permit.Permit) *autoUpdatingReader {
	return &autoUpdatingReader{c: c, schema: schema, slice: slice, permit: p, rng: rng}
}

// remaining returns the unread part of the range.
func (a *autoUpdatingReader) remaining() model.KeyRange {
	if a.lastKey == nil {
		return a.rng
	}
	return a.rng.SplitAfter(*a.lastKey)
}

func (a *autoUpdatingReader) remainingStart() *model.Key {
	if a.lastKey != nil {
		return a.lastKey
	}
	if a.rng.Start != nil {
		return &a.rng.Start.Key
	}
	return nil
}

// phase returns the phase the current reader was created in.
func (a *autoUpdatingReader) phase() uint64 {
	if a.op == nil {
		return 0
	}
	return a.op.Phase()
}

// ensureReader recreates the underlying reader when its creation phase
// no longer governs the read position.
func (a *autoUpdatingReader) ensureReader(ctx context.Context) error {
	start := a.remainingStart()

	c := a.c
	c.mu.Lock()
	want := c.phaseForStart(start)
	snap := c.snap
	if c.cursorOn && c.prevSnap != nil && want == c.barrier.Phase()-1 {
		snap = c.prevSnap
	}
	if a.reader != nil && a.phase() == want {
		c.mu.Unlock()
		return nil
	}
	op := c.barrier.EnterAt(want)
	c.mu.Unlock()

	if a.reader != nil {
		a.reader.Close()
		a.op.Leave()
		a.reader = nil
		c.tracker.recreations.Add(1)
	}

	r, err := snap.NewReader(ctx, a.schema, a.remaining(), a.slice, a.permit)
	if err != nil {
		op.Leave()
		return err
	}
	a.reader = r
	a.op = op
	return nil
}

// nextPartition returns the next underlying partition, or nil at the end
// of the range. The end is sticky: once observed at some phase, later
// phases cannot extend this read.
func (a *autoUpdatingReader) nextPartition(ctx context.Context) (*model.Mutation, error) {
	if a.done {
		return nil, nil
	}
	if err := a.ensureReader(ctx); err != nil {
		return nil, err
	}
	m, err := stream.NextPartition(ctx, a.reader)
	if errors.Is(err, io.EOF) {
		// Exhausted readers stop depending on their snapshot; leaving
		// here keeps an idle drained reader from blocking quiescence.
		a.done = true
		a.reader.Close()
		a.op.Leave()
		a.reader = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k := m.Key
	a.lastKey = &k
	return m, nil
}

// fastForwardTo moves the read to a new range, reusing the existing
// reader natively when its creation phase still matches.
func (a *autoUpdatingReader) fastForwardTo(ctx context.Context, rng model.KeyRange) error {
	a.rng = rng
	a.lastKey = nil
	a.done = false
	a.emitter.Reset(nil, a.slice)

	if a.reader == nil {
		return nil
	}
	c := a.c
	c.mu.Lock()
	want := c.phaseForStart(a.remainingStart())
	match := a.phase() == want
	c.mu.Unlock()

	if match {
		c.tracker.partitionSkips.Add(1)
		return a.reader.FastForwardTo(ctx, rng)
	}
	a.reader.Close()
	a.op.Leave()
	a.reader = nil
	return nil
}

// Next serves the fragment-level Reader contract for bypass reads.
func (a *autoUpdatingReader) Next(ctx context.Context) (stream.Fragment, error) {
	for {
		if f, ok := a.emitter.Next(); ok {
			return f, nil
		}
		m, err := a.nextPartition(ctx)
		if err != nil {
			return stream.Fragment{}, err
		}
		if m == nil {
			return stream.Fragment{}, io.EOF
		}
		if m.IsEmpty() {
			continue
		}
		a.emitter.Reset(m, a.slice)
	}
}

func (a *autoUpdatingReader) FastForwardTo(ctx context.Context, rng model.KeyRange) error {
	return a.fastForwardTo(ctx, rng)
}

func (a *autoUpdatingReader) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.reader != nil {
		a.reader.Close()
		a.reader = nil
	}
	a.op.Leave()
	return nil
}
