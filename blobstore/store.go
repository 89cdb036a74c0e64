package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error satisfying
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is the byte-level persistence abstraction under the segment layer.
type Store interface {
	// Open opens an existing blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create creates a blob for streaming writes. The blob becomes
	// visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a small blob atomically (manifests, pointers).
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to an immutable blob.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a streaming write handle. Data is durable and visible
// only after Close returns nil.
type WritableBlob interface {
	io.Writer
	io.Closer
	// Sync flushes written data to stable storage where supported.
	Sync() error
}

// Mappable is an optional interface for Blobs backed by memory that can be
// accessed without copying. The slice is valid until the blob is closed.
type Mappable interface {
	Bytes() ([]byte, error)
}
