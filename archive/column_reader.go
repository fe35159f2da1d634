package archive

import (
	"math"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

// ColumnReader exposes the values of one loaded column. The decompressed
// buffer backing a reader belongs to its schema's read session.
type ColumnReader interface {
	NodeID() logcask.NodeID
	Key() string
	Type() NodeType

	// load appends numMessages rows from a table block. A schema's rows may
	// arrive in several blocks, one per segment.
	load(br *byteReader, numMessages int) error

	// Value extracts the row's value for template-driven marshalling.
	Value(row int) (Value, error)
}

// newColumnReader returns the reader for a node, or nil for types with no
// per-row storage.
func (r *Reader) newColumnReader(node *SchemaTreeNode) ColumnReader {
	base := baseColumnReader{id: node.ID, key: node.Key}
	switch node.Type {
	case NodeInteger:
		return &int64ColumnReader{baseColumnReader: base}
	case NodeFloat:
		return &floatColumnReader{baseColumnReader: base}
	case NodeBoolean:
		return &booleanColumnReader{baseColumnReader: base}
	case NodeClpString:
		return &clpStringColumnReader{baseColumnReader: base, typ: NodeClpString, reader: r}
	case NodeUnstructuredArray:
		return &clpStringColumnReader{baseColumnReader: base, typ: NodeUnstructuredArray, reader: r}
	case NodeVarString:
		return &varStringColumnReader{baseColumnReader: base, reader: r}
	case NodeDateString:
		return &dateStringColumnReader{baseColumnReader: base, reader: r}
	default:
		return nil
	}
}

type baseColumnReader struct {
	id  logcask.NodeID
	key string
}

func (c *baseColumnReader) NodeID() logcask.NodeID { return c.id }
func (c *baseColumnReader) Key() string            { return c.key }

type int64ColumnReader struct {
	baseColumnReader
	values []int64
}

func (c *int64ColumnReader) Type() NodeType { return NodeInteger }

func (c *int64ColumnReader) load(br *byteReader, numMessages int) error {
	c.values = append(c.values, br.int64s(numMessages)...)
	return br.err
}

func (c *int64ColumnReader) Value(row int) (Value, error) {
	return Value{Kind: ValueInt, Int: c.values[row]}, nil
}

type floatColumnReader struct {
	baseColumnReader
	bits []uint64
}

func (c *floatColumnReader) Type() NodeType { return NodeFloat }

func (c *floatColumnReader) load(br *byteReader, numMessages int) error {
	c.bits = append(c.bits, br.uint64s(numMessages)...)
	return br.err
}

func (c *floatColumnReader) Value(row int) (Value, error) {
	return Value{Kind: ValueFloat, Float: float64FromBits(c.bits[row])}, nil
}

type booleanColumnReader struct {
	baseColumnReader
	values []byte
}

func (c *booleanColumnReader) Type() NodeType { return NodeBoolean }

func (c *booleanColumnReader) load(br *byteReader, numMessages int) error {
	c.values = append(c.values, br.bytes(numMessages)...)
	return br.err
}

func (c *booleanColumnReader) Value(row int) (Value, error) {
	return Value{Kind: ValueBool, Bool: c.values[row] != 0}, nil
}

// clpStringColumnReader resolves logtype ids against the logtype dictionary
// and decodes each row's encoded-variable span back to text.
type clpStringColumnReader struct {
	baseColumnReader
	typ     NodeType
	reader  *Reader
	ids     []uint64
	offsets []uint32
	vars    []int64
}

func (c *clpStringColumnReader) Type() NodeType { return c.typ }

func (c *clpStringColumnReader) load(br *byteReader, numMessages int) error {
	c.ids = append(c.ids, br.uint64s(numMessages)...)
	// Offsets are block-relative; rebase them onto the accumulated variable
	// array.
	base := uint32(len(c.vars))
	for _, o := range br.uint32s(numMessages) {
		c.offsets = append(c.offsets, o+base)
	}
	c.vars = append(c.vars, br.int64s(int(br.uint64()))...)
	return br.err
}

// span returns the encoded-variable slice for a row.
func (c *clpStringColumnReader) span(row int) []int64 {
	begin := c.offsets[row]
	end := uint32(len(c.vars))
	if row+1 < len(c.offsets) {
		end = c.offsets[row+1]
	}
	return c.vars[begin:end]
}

// LogtypeID returns the row's logtype dictionary id.
func (c *clpStringColumnReader) LogtypeID(row int) uint64 { return c.ids[row] }

func (c *clpStringColumnReader) decode(row int) (string, error) {
	const op = "archive.clpStringColumnReader.decode"

	logtype, err := c.reader.logtypeDict.Value(c.ids[row])
	if err != nil {
		return "", errors.Wrap(err, errors.ECorruptedArchive, op)
	}

	span := c.span(row)
	var vars []int64
	var dictVars []string
	varIx := 0
	for i := 0; i < len(logtype); i++ {
		switch logtype[i] {
		case logcask.PlaceholderEscape:
			i++
		case logcask.PlaceholderInteger, logcask.PlaceholderFloat:
			if varIx >= len(span) {
				return "", errors.New(errors.ECorruptedArchive, op, "variable span shorter than logtype")
			}
			vars = append(vars, span[varIx])
			varIx++
		case logcask.PlaceholderDictionary:
			if varIx >= len(span) {
				return "", errors.New(errors.ECorruptedArchive, op, "variable span shorter than logtype")
			}
			value, err := c.reader.varDict.Value(uint64(span[varIx]))
			if err != nil {
				return "", errors.Wrap(err, errors.ECorruptedArchive, op)
			}
			dictVars = append(dictVars, value)
			varIx++
		}
	}
	return c.reader.encoding.DecodeMessage(logtype, vars, dictVars)
}

func (c *clpStringColumnReader) Value(row int) (Value, error) {
	s, err := c.decode(row)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: ValueEncodedText, Str: s}, nil
}

type varStringColumnReader struct {
	baseColumnReader
	reader *Reader
	ids    []uint64
}

func (c *varStringColumnReader) Type() NodeType { return NodeVarString }

func (c *varStringColumnReader) load(br *byteReader, numMessages int) error {
	c.ids = append(c.ids, br.uint64s(numMessages)...)
	return br.err
}

func (c *varStringColumnReader) Value(row int) (Value, error) {
	s, err := c.reader.varDict.Value(c.ids[row])
	if err != nil {
		return Value{}, errors.Wrap(err, errors.ECorruptedArchive, "archive.varStringColumnReader.Value")
	}
	return Value{Kind: ValueString, Str: s}, nil
}

type dateStringColumnReader struct {
	baseColumnReader
	reader     *Reader
	patternIDs []int64
	epochs     []int64
}

func (c *dateStringColumnReader) Type() NodeType { return NodeDateString }

func (c *dateStringColumnReader) load(br *byteReader, numMessages int) error {
	c.patternIDs = append(c.patternIDs, br.int64s(numMessages)...)
	c.epochs = append(c.epochs, br.int64s(numMessages)...)
	return br.err
}

// EncodedTime returns the row's epoch milliseconds.
func (c *dateStringColumnReader) EncodedTime(row int) int64 { return c.epochs[row] }

func (c *dateStringColumnReader) Value(row int) (Value, error) {
	s, err := c.reader.timestampDict.Render(uint64(c.patternIDs[row]), c.epochs[row])
	if err != nil {
		return Value{}, errors.Wrap(err, errors.ECorruptedArchive, "archive.dateStringColumnReader.Value")
	}
	return Value{Kind: ValueString, Str: s}, nil
}

func float64FromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}
