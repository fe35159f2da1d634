package archive

import (
	"bytes"
	"encoding/binary"

	"github.com/logcask/logcask/kit/errors"
)

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	buf.Write(scratch[:n])
}

// byteReader decodes little-endian values from an in-memory buffer,
// remembering the first overrun instead of panicking so callers can check
// once at the end.
type byteReader struct {
	data []byte
	pos  int
	op   string
	err  error
}

func newByteReader(data []byte, op string) *byteReader {
	return &byteReader{data: data, op: op}
}

func (r *byteReader) fail() {
	if r.err == nil {
		r.err = errors.New(errors.ETruncated, r.op, "buffer too short")
	}
}

func (r *byteReader) remaining() int { return len(r.data) - r.pos }

func (r *byteReader) byte() byte {
	if r.remaining() < 1 {
		r.fail()
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *byteReader) uint32() uint32 {
	if r.remaining() < 4 {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) uint64() uint64 {
	if r.remaining() < 8 {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *byteReader) int64() int64 { return int64(r.uint64()) }

func (r *byteReader) uvarint() uint64 {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		r.fail()
		return 0
	}
	r.pos += n
	return v
}

func (r *byteReader) str(n int) string {
	if n < 0 || r.remaining() < n {
		r.fail()
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *byteReader) int64s(n int) []int64 {
	if n < 0 || r.remaining() < 8*n {
		r.fail()
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(r.data[r.pos:]))
		r.pos += 8
	}
	return out
}

func (r *byteReader) uint64s(n int) []uint64 {
	if n < 0 || r.remaining() < 8*n {
		r.fail()
		return nil
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(r.data[r.pos:])
		r.pos += 8
	}
	return out
}

func (r *byteReader) uint32s(n int) []uint32 {
	if n < 0 || r.remaining() < 4*n {
		r.fail()
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(r.data[r.pos:])
		r.pos += 4
	}
	return out
}

func (r *byteReader) bytes(n int) []byte {
	if n < 0 || r.remaining() < n {
		r.fail()
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// byteWriter is the matching little-endian encoder.
type byteWriter struct {
	buf bytes.Buffer
}

func (w *byteWriter) byte(b byte)  { w.buf.WriteByte(b) }
func (w *byteWriter) str(s string) { w.buf.WriteString(s) }

func (w *byteWriter) uint32(v uint32) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], v)
	w.buf.Write(scratch[:])
}

func (w *byteWriter) uint64(v uint64) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], v)
	w.buf.Write(scratch[:])
}

func (w *byteWriter) int64(v int64) { w.uint64(uint64(v)) }

func (w *byteWriter) uvarint(v uint64) { writeUvarint(&w.buf, v) }

func (w *byteWriter) int64s(vs []int64) {
	for _, v := range vs {
		w.int64(v)
	}
}

func (w *byteWriter) uint64s(vs []uint64) {
	for _, v := range vs {
		w.uint64(v)
	}
}

func (w *byteWriter) uint32s(vs []uint32) {
	for _, v := range vs {
		w.uint32(v)
	}
}
