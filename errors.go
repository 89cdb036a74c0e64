package strata

import (
	"errors"
	"fmt"

	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
	"github.com/okrasa/strata/segment"
)

var (
	// ErrClosed is returned by operations on a closed table.
	ErrClosed = errors.New("table closed")

	// ErrInvalidRange is returned when a read range can match no key.
	ErrInvalidRange = errors.New("invalid key range")
)

// Re-exported sentinels so callers can match errors without importing the
// inner packages.
var (
	ErrSchemaMismatch  = model.ErrSchemaMismatch
	ErrMemoryExhausted = permit.ErrMemoryExhausted
)

// CorruptSegmentError indicates an unreadable segment blob.
//
// The original underlying error can be accessed via errors.Unwrap.
type CorruptSegmentError struct {
	cause error
}

func (e *CorruptSegmentError) Error() string {
	return fmt.Sprintf("corrupt segment: %v", e.cause)
}

func (e *CorruptSegmentError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, segment.ErrStoreClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, segment.ErrInvalidMagic) || errors.Is(err, segment.ErrInvalidVersion) {
		return &CorruptSegmentError{cause: err}
	}

	return err
}
