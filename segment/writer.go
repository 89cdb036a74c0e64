package segment

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/okrasa/strata/blobstore"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
)

const (
	// MagicNumber is "STR1" as the first four bytes of the file.
	MagicNumber = 0x31525453
	// Version of the segment format.
	Version = 1

	headerSize  = 12 // magic u32, version u32, compression u32
	trailerSize = 12 // footer length u64, magic u32

	// DefaultBlockSize is the target uncompressed block size.
	DefaultBlockSize = 64 * 1024
)

var (
	// ErrInvalidMagic is returned when a blob is not a segment.
	ErrInvalidMagic = errors.New("segment: invalid magic number")
	// ErrInvalidVersion is returned for unsupported format versions.
	ErrInvalidVersion = errors.New("segment: unsupported version")
)

type indexEntry struct {
	key          model.Key
	blockOffset  uint64
	recordOffset uint32
}

// WriterOptions tunes segment construction.
type WriterOptions struct {
	// Compression selects the block codec. Default: zstd.
	Compression Compression
	// BlockSize is the target uncompressed block size in bytes.
	BlockSize int
	// Controller paces blob writes. May be nil.
	Controller *permit.Controller
}

// WriterStats summarizes a finished segment.
type WriterStats struct {
	Partitions int64
	DataBytes  int64 // uncompressed record bytes
	FileBytes  int64
}

// Writer streams key-ordered partitions into a segment blob. Partitions
// must arrive in strictly increasing key order; Finish writes the footer.
type Writer struct {
	w    blobstore.WritableBlob
	opts WriterOptions

	block   bytes.Buffer // current uncompressed block
	pending []indexEntry // entries for the current block, recordOffset set
	index   []indexEntry
	bitmap  *roaring64.Bitmap
	offset  uint64 // bytes written to the blob
	started bool
	lastKey model.Key
	stats   WriterStats
}

// NewWriter creates a writer over the blob. The header is written on the
// first append.
func NewWriter(w blobstore.WritableBlob, opts WriterOptions) *Writer {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return &Writer{
		w:      w,
		opts:   opts,
		bitmap: roaring64.New(),
	}
}

// Append encodes one partition into the current block.
func (w *Writer) Append(ctx context.Context, m *model.Mutation) error {
	if m.IsEmpty() {
		return nil
	}
	if !w.started {
		if err := w.writeHeader(ctx); err != nil {
			return err
		}
	} else if m.Key.Compare(w.lastKey) <= 0 {
		return fmt.Errorf("segment: partition %s out of order after %s", m.Key, w.lastKey)
	}
	w.lastKey = m.Key

	w.pending = append(w.pending, indexEntry{
		key:          m.Key,
		recordOffset: uint32(w.block.Len()),
	})
	encodeMutation(&w.block, m)
	w.bitmap.Add(uint64(m.Key.Token))
	w.stats.Partitions++

	if w.block.Len() >= w.opts.BlockSize {
		return w.flushBlock(ctx)
	}
	return nil
}

// Finish flushes the last block and writes the footer. The caller still
// owns the blob and must Close it to make the segment visible.
func (w *Writer) Finish(ctx context.Context) (WriterStats, error) {
	if !w.started {
		if err := w.writeHeader(ctx); err != nil {
			return WriterStats{}, err
		}
	}
	if err := w.flushBlock(ctx); err != nil {
		return WriterStats{}, err
	}

	var footer bytes.Buffer
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(w.index)))
	footer.Write(scratch[:4])
	for _, e := range w.index {
		binary.LittleEndian.PutUint64(scratch[:], uint64(e.key.Token))
		footer.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(e.key.Raw)))
		footer.Write(scratch[:4])
		footer.Write(e.key.Raw)
		binary.LittleEndian.PutUint64(scratch[:], e.blockOffset)
		footer.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:4], e.recordOffset)
		footer.Write(scratch[:4])
	}

	bitmapBytes, err := w.bitmap.ToBytes()
	if err != nil {
		return WriterStats{}, err
	}
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(bitmapBytes)))
	footer.Write(scratch[:4])
	footer.Write(bitmapBytes)

	footerLen := uint64(footer.Len())
	binary.LittleEndian.PutUint64(scratch[:], footerLen)
	footer.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:4], MagicNumber)
	footer.Write(scratch[:4])

	if err := w.write(ctx, footer.Bytes()); err != nil {
		return WriterStats{}, err
	}
	w.stats.FileBytes = int64(w.offset)
	return w.stats, nil
}

func (w *Writer) writeHeader(ctx context.Context) error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], MagicNumber)
	binary.LittleEndian.PutUint32(hdr[4:], Version)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(w.opts.Compression))
	if err := w.write(ctx, hdr[:]); err != nil {
		return err
	}
	w.started = true
	return nil
}

func (w *Writer) flushBlock(ctx context.Context) error {
	if w.block.Len() == 0 {
		return nil
	}
	w.stats.DataBytes += int64(w.block.Len())

	compressed, err := compressBlock(w.block.Bytes(), w.opts.Compression)
	if err != nil {
		return err
	}
	blockOffset := w.offset
	if err := w.write(ctx, compressed); err != nil {
		return err
	}
	for _, e := range w.pending {
		e.blockOffset = blockOffset
		w.index = append(w.index, e)
	}
	w.pending = w.pending[:0]
	w.block.Reset()
	return nil
}

func (w *Writer) write(ctx context.Context, p []byte) error {
	if err := w.opts.Controller.WaitIO(ctx, len(p)); err != nil {
		return err
	}
	n, err := w.w.Write(p)
	w.offset += uint64(n)
	return err
}
