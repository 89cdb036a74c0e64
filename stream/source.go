package stream

import (
	"context"

	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
)

// Reader is a lazy, forward-only mutation stream. Next returns io.EOF
// after the last fragment. Readers are single-goroutine; Close must be
// called on every exit path and is idempotent.
type Reader interface {
	// Next returns the next fragment.
	Next(ctx context.Context) (Fragment, error)

	// FastForwardTo narrows or moves the read to a new range. The new
	// range must not start before the reader's current position. Any
	// partially emitted partition is abandoned.
	FastForwardTo(ctx context.Context, r model.KeyRange) error

	// Close releases the reader's resources.
	Close() error
}

// Source produces mutation streams over a key range. This is the contract
// consumed from underlying persistent storage and implemented toward the
// query layer by both the memtable and the row cache.
type Source interface {
	NewReader(ctx context.Context, schema *model.Schema, r model.KeyRange, slice model.Slice, p *permit.Permit) (Reader, error)
}
