package archive

import (
	"bytes"
	"strconv"
)

// Op is one step of a precomputed JSON marshalling template. A schema's
// template is generated once per read session; per record the reader walks
// the op list and pulls the next value from each pointed column, emitting
// straight into a byte buffer with no intermediate document.
type Op uint8

const (
	OpBeginObject Op = iota
	OpEndObject
	OpBeginDocument
	OpBeginArray
	OpEndArray
	OpBeginArrayDocument
	OpAddIntField
	OpAddFloatField
	OpAddBoolField
	OpAddStringField
	OpAddArrayField
	OpAddNullField
	OpAddNullValue
)

// jsonTemplate is the flat op list plus the keys consumed by ops that don't
// point at a column.
type jsonTemplate struct {
	ops         []Op
	specialKeys []string
}

func (t *jsonTemplate) addOp(op Op) { t.ops = append(t.ops, op) }

func (t *jsonTemplate) addSpecialKey(key string) {
	t.specialKeys = append(t.specialKeys, key)
}

// jsonEmitter writes JSON tokens into a buffer, inserting commas between
// siblings.
type jsonEmitter struct {
	buf bytes.Buffer
}

func (e *jsonEmitter) reset() { e.buf.Reset() }

func (e *jsonEmitter) bytes() []byte { return e.buf.Bytes() }

// maybeComma separates this token from a preceding sibling value.
func (e *jsonEmitter) maybeComma() {
	if n := e.buf.Len(); n > 0 {
		switch e.buf.Bytes()[n-1] {
		case '{', '[', ':', ',':
		default:
			e.buf.WriteByte(',')
		}
	}
}

func (e *jsonEmitter) beginDocument() {
	e.maybeComma()
	e.buf.WriteByte('{')
}

func (e *jsonEmitter) endDocument() { e.buf.WriteByte('}') }

func (e *jsonEmitter) beginArrayDocument() {
	e.maybeComma()
	e.buf.WriteByte('[')
}

func (e *jsonEmitter) key(k string) {
	e.maybeComma()
	appendJSONString(&e.buf, k)
	e.buf.WriteByte(':')
}

func (e *jsonEmitter) beginObject(key string) {
	e.maybeComma()
	if key != "" {
		appendJSONString(&e.buf, key)
		e.buf.WriteByte(':')
	}
	e.buf.WriteByte('{')
}

func (e *jsonEmitter) endObject() { e.buf.WriteByte('}') }

func (e *jsonEmitter) beginArray(key string) {
	e.maybeComma()
	if key != "" {
		appendJSONString(&e.buf, key)
		e.buf.WriteByte(':')
	}
	e.buf.WriteByte('[')
}

func (e *jsonEmitter) endArray() { e.buf.WriteByte(']') }

// value writes a column value, keyed when key is non-empty.
func (e *jsonEmitter) value(key string, v Value) {
	e.maybeComma()
	if key != "" {
		appendJSONString(&e.buf, key)
		e.buf.WriteByte(':')
	}
	switch v.Kind {
	case ValueNull:
		e.buf.WriteString("null")
	case ValueInt:
		e.buf.Write(strconv.AppendInt(nil, v.Int, 10))
	case ValueFloat:
		e.buf.Write(strconv.AppendFloat(nil, v.Float, 'g', -1, 64))
	case ValueBool:
		e.buf.Write(strconv.AppendBool(nil, v.Bool))
	case ValueString, ValueEncodedText:
		appendJSONString(&e.buf, v.Str)
	case ValueEmptyObject:
		e.buf.WriteString("{}")
	}
}

// raw writes pre-serialized JSON text, keyed when key is non-empty.
func (e *jsonEmitter) raw(key string, text string) {
	e.maybeComma()
	if key != "" {
		appendJSONString(&e.buf, key)
		e.buf.WriteByte(':')
	}
	e.buf.WriteString(text)
}
