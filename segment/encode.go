package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/okrasa/strata/model"
)

// Partition records are framed little-endian:
//
//	token u64, keyLen u32, key,
//	partition tombstone (ts i64, deletedAt unix-micro i64, 0 = unset),
//	rtCount u32 { startLen u32, start, endLen u32, end, ts i64, at i64 },
//	rowCount u32 { ckLen u32, ck, ts i64, at i64,
//	               cellCount u32 { column u32, ts i64, live u8, valLen u32, val } }

var errTruncatedRecord = errors.New("segment: truncated partition record")

func encodeMutation(buf *bytes.Buffer, m *model.Mutation) {
	var scratch [8]byte

	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		buf.Write(scratch[:])
	}
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		buf.Write(scratch[:4])
	}
	putBytes := func(b []byte) {
		putU32(uint32(len(b)))
		buf.Write(b)
	}
	putTombstone := func(t model.Tombstone) {
		putU64(uint64(t.Timestamp))
		if t.IsSet() {
			putU64(uint64(t.DeletedAt.UnixMicro()))
		} else {
			putU64(0)
		}
	}

	putU64(uint64(m.Key.Token))
	putBytes(m.Key.Raw)
	putTombstone(m.PartitionTombstone)

	putU32(uint32(len(m.RangeTombstones)))
	for _, rt := range m.RangeTombstones {
		putBytes(rt.Start)
		putBytes(rt.End)
		putTombstone(rt.Tombstone)
	}

	putU32(uint32(len(m.Rows)))
	for _, r := range m.Rows {
		putBytes(r.Key)
		putTombstone(r.Tombstone)
		putU32(uint32(len(r.Cells)))
		for _, c := range r.Cells {
			putU32(uint32(c.Column))
			putU64(uint64(c.Timestamp))
			if c.Live {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
			putBytes(c.Value)
		}
	}
}

// recordReader decodes framed fields from a byte slice.
type recordReader struct {
	data []byte
	off  int
	err  error
}

func (r *recordReader) u64() uint64 {
	if r.err != nil || r.off+8 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *recordReader) u32() uint32 {
	if r.err != nil || r.off+4 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *recordReader) u8() uint8 {
	if r.err != nil || r.off+1 > len(r.data) {
		r.fail()
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *recordReader) bytes() []byte {
	n := int(r.u32())
	if r.err != nil || r.off+n > len(r.data) {
		r.fail()
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:])
	r.off += n
	return out
}

func (r *recordReader) tombstone() model.Tombstone {
	ts := model.Timestamp(r.u64())
	micro := int64(r.u64())
	if micro == 0 {
		return model.Tombstone{}
	}
	return model.Tombstone{Timestamp: ts, DeletedAt: time.UnixMicro(micro)}
}

func (r *recordReader) fail() {
	if r.err == nil {
		r.err = errTruncatedRecord
	}
}

// decodeMutation decodes one partition record starting at off, returning
// the mutation and the offset past the record.
func decodeMutation(data []byte, off int) (*model.Mutation, int, error) {
	r := &recordReader{data: data, off: off}

	token := model.Token(r.u64())
	raw := r.bytes()
	m := &model.Mutation{
		Key:                model.Key{Token: token, Raw: raw},
		PartitionTombstone: r.tombstone(),
	}

	rtCount := int(r.u32())
	if r.err == nil && rtCount > 0 {
		m.RangeTombstones = make([]model.RangeTombstone, 0, rtCount)
		for i := 0; i < rtCount && r.err == nil; i++ {
			m.RangeTombstones = append(m.RangeTombstones, model.RangeTombstone{
				Start:     r.bytes(),
				End:       r.bytes(),
				Tombstone: r.tombstone(),
			})
		}
	}

	rowCount := int(r.u32())
	if r.err == nil && rowCount > 0 {
		m.Rows = make([]*model.Row, 0, rowCount)
		for i := 0; i < rowCount && r.err == nil; i++ {
			row := &model.Row{
				Key:       r.bytes(),
				Tombstone: r.tombstone(),
			}
			cellCount := int(r.u32())
			if r.err == nil && cellCount > 0 {
				row.Cells = make([]model.Cell, 0, cellCount)
				for j := 0; j < cellCount && r.err == nil; j++ {
					row.Cells = append(row.Cells, model.Cell{
						Column:    model.ColumnID(r.u32()),
						Timestamp: model.Timestamp(r.u64()),
						Live:      r.u8() == 1,
						Value:     r.bytes(),
					})
				}
			}
			m.Rows = append(m.Rows, row)
		}
	}

	if r.err != nil {
		return nil, 0, r.err
	}
	return m, r.off, nil
}
