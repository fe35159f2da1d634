package archive

import (
	"github.com/logcask/logcask"
)

// ColumnWriter accumulates the values of one (schema, node) pair in
// record-insertion order. Columns serialize into a table block when their
// segment seals. The tag dispatch happens here at the column boundary, never
// per row.
type ColumnWriter interface {
	NodeID() logcask.NodeID
	Type() NodeType

	// Size returns the accumulated uncompressed byte size.
	Size() int

	// writeTo serializes the column's values.
	writeTo(w *byteWriter)

	// Rows returns the number of appended values.
	Rows() int
}

// newColumnWriter returns the writer for a node type, or nil for types with
// no per-row storage (NullValue and Object leaves).
func newColumnWriter(id logcask.NodeID, typ NodeType) ColumnWriter {
	switch typ {
	case NodeInteger:
		return &int64ColumnWriter{id: id}
	case NodeFloat:
		return &floatColumnWriter{id: id}
	case NodeBoolean:
		return &booleanColumnWriter{id: id}
	case NodeClpString:
		return &clpStringColumnWriter{id: id, typ: NodeClpString}
	case NodeUnstructuredArray:
		return &clpStringColumnWriter{id: id, typ: NodeUnstructuredArray}
	case NodeVarString:
		return &varStringColumnWriter{id: id}
	case NodeDateString:
		return &dateStringColumnWriter{id: id}
	default:
		return nil
	}
}

type int64ColumnWriter struct {
	id     logcask.NodeID
	values []int64
}

func (c *int64ColumnWriter) NodeID() logcask.NodeID { return c.id }
func (c *int64ColumnWriter) Type() NodeType         { return NodeInteger }
func (c *int64ColumnWriter) Size() int              { return 8 * len(c.values) }
func (c *int64ColumnWriter) Rows() int              { return len(c.values) }

func (c *int64ColumnWriter) Add(v int64) { c.values = append(c.values, v) }

func (c *int64ColumnWriter) writeTo(w *byteWriter) { w.int64s(c.values) }

type floatColumnWriter struct {
	id   logcask.NodeID
	bits []uint64
}

func (c *floatColumnWriter) NodeID() logcask.NodeID { return c.id }
func (c *floatColumnWriter) Type() NodeType         { return NodeFloat }
func (c *floatColumnWriter) Size() int              { return 8 * len(c.bits) }
func (c *floatColumnWriter) Rows() int              { return len(c.bits) }

func (c *floatColumnWriter) Add(bits uint64) { c.bits = append(c.bits, bits) }

func (c *floatColumnWriter) writeTo(w *byteWriter) { w.uint64s(c.bits) }

type booleanColumnWriter struct {
	id     logcask.NodeID
	values []byte
}

func (c *booleanColumnWriter) NodeID() logcask.NodeID { return c.id }
func (c *booleanColumnWriter) Type() NodeType         { return NodeBoolean }
func (c *booleanColumnWriter) Size() int              { return len(c.values) }
func (c *booleanColumnWriter) Rows() int              { return len(c.values) }

func (c *booleanColumnWriter) Add(v bool) {
	if v {
		c.values = append(c.values, 1)
	} else {
		c.values = append(c.values, 0)
	}
}

func (c *booleanColumnWriter) writeTo(w *byteWriter) {
	w.buf.Write(c.values)
}

// clpStringColumnWriter stores one logtype dictionary id per row plus the
// row's span within a flat encoded-variable array. Dictionary variable ids
// ride inline in the span and are consumed per placeholder kind on decode.
type clpStringColumnWriter struct {
	id      logcask.NodeID
	typ     NodeType
	ids     []uint64
	offsets []uint32
	vars    []int64
}

func (c *clpStringColumnWriter) NodeID() logcask.NodeID { return c.id }
func (c *clpStringColumnWriter) Type() NodeType         { return c.typ }
func (c *clpStringColumnWriter) Rows() int              { return len(c.ids) }

func (c *clpStringColumnWriter) Size() int {
	return 8*len(c.ids) + 4*len(c.offsets) + 8*len(c.vars)
}

func (c *clpStringColumnWriter) Add(logtypeID uint64, vars []int64) {
	c.ids = append(c.ids, logtypeID)
	c.offsets = append(c.offsets, uint32(len(c.vars)))
	c.vars = append(c.vars, vars...)
}

func (c *clpStringColumnWriter) writeTo(w *byteWriter) {
	w.uint64s(c.ids)
	w.uint32s(c.offsets)
	w.uint64(uint64(len(c.vars)))
	w.int64s(c.vars)
}

type varStringColumnWriter struct {
	id  logcask.NodeID
	ids []uint64
}

func (c *varStringColumnWriter) NodeID() logcask.NodeID { return c.id }
func (c *varStringColumnWriter) Type() NodeType         { return NodeVarString }
func (c *varStringColumnWriter) Size() int              { return 8 * len(c.ids) }
func (c *varStringColumnWriter) Rows() int              { return len(c.ids) }

func (c *varStringColumnWriter) Add(id uint64) { c.ids = append(c.ids, id) }

func (c *varStringColumnWriter) writeTo(w *byteWriter) { w.uint64s(c.ids) }

// dateStringColumnWriter stores a pattern id and the encoded epoch per row.
type dateStringColumnWriter struct {
	id         logcask.NodeID
	patternIDs []int64
	epochs     []int64
}

func (c *dateStringColumnWriter) NodeID() logcask.NodeID { return c.id }
func (c *dateStringColumnWriter) Type() NodeType         { return NodeDateString }
func (c *dateStringColumnWriter) Size() int              { return 16 * len(c.epochs) }
func (c *dateStringColumnWriter) Rows() int              { return len(c.epochs) }

func (c *dateStringColumnWriter) Add(patternID int64, epochMs int64) {
	c.patternIDs = append(c.patternIDs, patternID)
	c.epochs = append(c.epochs, epochMs)
}

func (c *dateStringColumnWriter) writeTo(w *byteWriter) {
	w.int64s(c.patternIDs)
	w.int64s(c.epochs)
}
