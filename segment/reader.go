package segment

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/okrasa/strata/blobstore"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
	"github.com/okrasa/strata/stream"
)

// Segment is an open, immutable segment. It is safe for concurrent
// readers and implements stream.Source.
type Segment struct {
	blob        blobstore.Blob
	data        []byte // set when the blob is memory-mapped
	size        int64
	compression Compression
	index       []indexEntry
	bitmap      *roaring64.Bitmap
	closed      atomic.Bool
}

// Open parses the footer of a segment blob. The segment owns the blob
// and closes it on Close.
func Open(ctx context.Context, blob blobstore.Blob) (*Segment, error) {
	s := &Segment{blob: blob, size: blob.Size()}
	if m, ok := blob.(blobstore.Mappable); ok {
		if b, err := m.Bytes(); err == nil {
			s.data = b
		}
	}
	if s.size < headerSize+trailerSize {
		return nil, ErrInvalidMagic
	}

	hdr, err := s.read(0, headerSize)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != MagicNumber {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(hdr[4:]) != Version {
		return nil, ErrInvalidVersion
	}
	s.compression = Compression(binary.LittleEndian.Uint32(hdr[8:]))

	trailer, err := s.read(s.size-trailerSize, trailerSize)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(trailer[8:]) != MagicNumber {
		return nil, ErrInvalidMagic
	}
	footerLen := int64(binary.LittleEndian.Uint64(trailer[0:]))
	if footerLen <= 0 || footerLen > s.size-headerSize-trailerSize {
		return nil, errors.New("segment: corrupt footer length")
	}
	footer, err := s.read(s.size-trailerSize-footerLen, footerLen)
	if err != nil {
		return nil, err
	}
	if err := s.parseFooter(footer); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Segment) parseFooter(footer []byte) error {
	r := &recordReader{data: footer}

	count := int(r.u32())
	s.index = make([]indexEntry, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		token := model.Token(r.u64())
		raw := r.bytes()
		s.index = append(s.index, indexEntry{
			key:          model.Key{Token: token, Raw: raw},
			blockOffset:  r.u64(),
			recordOffset: r.u32(),
		})
	}

	bitmapBytes := r.bytes()
	if r.err != nil {
		return errors.New("segment: corrupt footer")
	}
	s.bitmap = roaring64.New()
	if _, err := s.bitmap.ReadFrom(bytes.NewReader(bitmapBytes)); err != nil {
		return err
	}
	return nil
}

// MayContain reports whether the segment may hold the token. False
// negatives never occur.
func (s *Segment) MayContain(t model.Token) bool {
	return s.bitmap.Contains(uint64(t))
}

// PartitionCount returns the number of partitions in the segment.
func (s *Segment) PartitionCount() int {
	return len(s.index)
}

// Size returns the segment file size in bytes.
func (s *Segment) Size() int64 {
	return s.size
}

// Close releases the underlying blob. Idempotent.
func (s *Segment) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.blob.Close()
}

// NewReader streams the segment's partitions within the range.
func (s *Segment) NewReader(_ context.Context, _ *model.Schema, rng model.KeyRange, slice model.Slice, _ *permit.Permit) (stream.Reader, error) {
	r := &segReader{seg: s, rng: rng, slice: slice}
	r.seek(rng)
	return r, nil
}

// read returns length bytes at off, from the mapping when available.
func (s *Segment) read(off, length int64) ([]byte, error) {
	if s.data != nil {
		if off+length > int64(len(s.data)) {
			return nil, io.ErrUnexpectedEOF
		}
		return s.data[off : off+length], nil
	}
	buf := make([]byte, length)
	n, err := s.blob.ReadAt(buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		return nil, err
	}
	if int64(n) < length {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

// loadBlock reads and decompresses the block starting at off.
func (s *Segment) loadBlock(off uint64) ([]byte, error) {
	hdr, err := s.read(int64(off), blockHeaderSize)
	if err != nil {
		return nil, err
	}
	uncompressedSize := binary.LittleEndian.Uint32(hdr[0:])
	compressedSize := binary.LittleEndian.Uint32(hdr[4:])
	payloadSize := int64(compressedSize)
	if compressedSize == 0 {
		payloadSize = int64(uncompressedSize)
	}
	block, err := s.read(int64(off), blockHeaderSize+payloadSize)
	if err != nil {
		return nil, err
	}
	return decompressBlock(block, s.compression)
}

type segReader struct {
	seg   *Segment
	rng   model.KeyRange
	slice model.Slice

	idx     int // next index entry to emit
	emitter stream.Emitter

	blockOffset uint64
	blockData   []byte
}

func (r *segReader) Next(ctx context.Context) (stream.Fragment, error) {
	for {
		if f, ok := r.emitter.Next(); ok {
			return f, nil
		}
		if r.idx >= len(r.seg.index) {
			return stream.Fragment{}, io.EOF
		}
		entry := r.seg.index[r.idx]
		if beyondEnd(r.rng, entry.key) {
			return stream.Fragment{}, io.EOF
		}
		r.idx++
		if !r.rng.Contains(entry.key) {
			continue
		}
		m, err := r.loadPartition(entry)
		if err != nil {
			return stream.Fragment{}, err
		}
		r.emitter.Reset(m, r.slice)
	}
}

func (r *segReader) FastForwardTo(_ context.Context, rng model.KeyRange) error {
	r.rng = rng
	r.emitter.Reset(nil, r.slice)
	r.seek(rng)
	return nil
}

func (r *segReader) Close() error {
	r.blockData = nil
	return nil
}

// seek positions idx at the first entry that can fall in rng, never
// moving backwards.
func (r *segReader) seek(rng model.KeyRange) {
	if rng.Start == nil {
		return
	}
	start := rng.Start
	i := sort.Search(len(r.seg.index), func(i int) bool {
		c := r.seg.index[i].key.Compare(start.Key)
		if start.Inclusive {
			return c >= 0
		}
		return c > 0
	})
	if i > r.idx {
		r.idx = i
	}
}

func (r *segReader) loadPartition(entry indexEntry) (*model.Mutation, error) {
	if r.blockData == nil || r.blockOffset != entry.blockOffset {
		block, err := r.seg.loadBlock(entry.blockOffset)
		if err != nil {
			return nil, err
		}
		r.blockOffset = entry.blockOffset
		r.blockData = block
	}
	m, _, err := decodeMutation(r.blockData, int(entry.recordOffset))
	return m, err
}

func beyondEnd(rng model.KeyRange, k model.Key) bool {
	if rng.End == nil {
		return false
	}
	c := k.Compare(rng.End.Key)
	return c > 0 || (c == 0 && !rng.End.Inclusive)
}
