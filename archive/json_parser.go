package archive

import (
	"github.com/buger/jsonparser"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

// parsedValue is one leaf value extracted from a record, tagged with enough
// to append into its column without re-walking the document.
type parsedValue struct {
	nodeID logcask.NodeID
	typ    NodeType
	kind   ValueKind

	i int64
	f float64
	b bool
	s string

	// DateString leaves carry the encoded form.
	patternID uint64
	epochMs   int64
}

// parsedRecord is a record decomposed against the schema tree: its signature
// plus the leaf values for the ordered region (keyed by node id) and the
// unordered region (in entry order).
type parsedRecord struct {
	schema    *Schema
	ordered   map[logcask.NodeID]parsedValue
	unordered []parsedValue
}

// parseRecord decomposes one JSON record, inserting new schema tree nodes as
// needed. Duplicate keys under a parent fail with ProtocolNotSupported.
func (w *Writer) parseRecord(data []byte) (*parsedRecord, error) {
	rec := &parsedRecord{
		schema:  NewSchema(),
		ordered: make(map[logcask.NodeID]parsedValue),
	}
	if err := w.parseObject(data, logcask.RootNodeID, "", rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (w *Writer) parseObject(data []byte, parentID logcask.NodeID, path string, rec *parsedRecord) error {
	const op = "archive.Writer.parseObject"

	seen := make(map[string]struct{})
	return jsonparser.ObjectEach(data, func(rawKey, value []byte, dataType jsonparser.ValueType, _ int) error {
		key, err := jsonparser.ParseString(rawKey)
		if err != nil {
			return errors.Wrap(err, errors.EBadParam, op)
		}
		if _, dup := seen[key]; dup {
			return errors.Newf(errors.EProtocolNotSupported, op, "duplicate key %q", key)
		}
		seen[key] = struct{}{}

		keyPath := key
		if path != "" {
			keyPath = path + "." + key
		}

		switch dataType {
		case jsonparser.Object:
			if objectIsEmpty(value) {
				_, err := w.addOrderedLeaf(rec, parentID, NodeObject, key, parsedValue{kind: ValueEmptyObject})
				return err
			}
			childID, err := w.tree.AddNode(parentID, NodeObject, key)
			if err != nil {
				return err
			}
			return w.parseObject(value, childID, keyPath, rec)

		case jsonparser.Array:
			if w.cfg.StructurizeArrays {
				return w.parseStructuredArray(value, parentID, key, rec)
			}
			_, err := w.addOrderedLeaf(rec, parentID, NodeUnstructuredArray, key,
				parsedValue{kind: ValueEncodedText, s: string(value)})
			return err

		case jsonparser.String:
			s, err := jsonparser.ParseString(value)
			if err != nil {
				return errors.Wrap(err, errors.EBadParam, op)
			}
			return w.parseStringLeaf(rec, parentID, key, keyPath, s)

		case jsonparser.Number:
			if i, err := jsonparser.ParseInt(value); err == nil {
				id, err := w.addOrderedLeaf(rec, parentID, NodeInteger, key, parsedValue{kind: ValueInt, i: i})
				if err == nil && w.isTimestampKey(keyPath) {
					w.tsDict.IngestInt(keyPath, int32(id), i)
				}
				return err
			}
			f, err := jsonparser.ParseFloat(value)
			if err != nil {
				return errors.Wrap(err, errors.EBadParam, op)
			}
			id, err := w.addOrderedLeaf(rec, parentID, NodeFloat, key, parsedValue{kind: ValueFloat, f: f})
			if err == nil && w.isTimestampKey(keyPath) {
				w.tsDict.IngestFloat(keyPath, int32(id), f)
			}
			return err

		case jsonparser.Boolean:
			b, err := jsonparser.ParseBoolean(value)
			if err != nil {
				return errors.Wrap(err, errors.EBadParam, op)
			}
			_, err = w.addOrderedLeaf(rec, parentID, NodeBoolean, key, parsedValue{kind: ValueBool, b: b})
			return err

		case jsonparser.Null:
			_, err := w.addOrderedLeaf(rec, parentID, NodeNullValue, key, parsedValue{kind: ValueNull})
			return err

		default:
			return errors.Newf(errors.EProtocolError, op, "unsupported value type for key %q", key)
		}
	})
}

// parseStringLeaf types a string value: a recognized timestamp on the
// configured key becomes a DateString, text with spaces becomes a
// CLP-encoded string, and everything else a dictionary string.
func (w *Writer) parseStringLeaf(rec *parsedRecord, parentID logcask.NodeID, key, keyPath, s string) error {
	if w.isTimestampKey(keyPath) {
		if epoch, patternID, ok := w.tsDict.ParseTimestamp(s); ok {
			id, err := w.addOrderedLeaf(rec, parentID, NodeDateString, key,
				parsedValue{kind: ValueString, s: s, patternID: patternID, epochMs: epoch})
			if err == nil {
				w.tsDict.IngestInt(keyPath, int32(id), epoch)
			}
			return err
		}
	}
	typ := NodeVarString
	if stringNeedsClpEncoding(s) {
		typ = NodeClpString
	}
	_, err := w.addOrderedLeaf(rec, parentID, typ, key, parsedValue{kind: ValueString, s: s})
	return err
}

// stringNeedsClpEncoding decides between the logtype-encoded and
// whole-string dictionary columns. Message-like text carries spaces; short
// identifiers do not.
func stringNeedsClpEncoding(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return true
		}
	}
	return false
}

func (w *Writer) addOrderedLeaf(rec *parsedRecord, parentID logcask.NodeID, typ NodeType, key string, pv parsedValue) (logcask.NodeID, error) {
	id, err := w.tree.AddNode(parentID, typ, key)
	if err != nil {
		return 0, err
	}
	pv.nodeID = id
	pv.typ = typ
	rec.schema.InsertOrdered(id)
	rec.ordered[id] = pv
	return id, nil
}

// parseStructuredArray lays an array out as marker entries in the unordered
// region: an array-open marker followed by the flattened sub-schema, with
// object elements introducing object-open markers of their own.
func (w *Writer) parseStructuredArray(data []byte, parentID logcask.NodeID, key string, rec *parsedRecord) error {
	arrayID, err := w.tree.AddNode(parentID, NodeStructuredArray, key)
	if err != nil {
		return err
	}

	// The array node id leads its span so readers can locate the subtree
	// root even when the array is empty.
	sub := NewSchema()
	sub.InsertUnordered(int32(arrayID))
	var values []parsedValue
	if err := w.parseArrayElements(data, arrayID, sub, &values); err != nil {
		return err
	}

	rec.schema.InsertUnordered(MarkerStructuredArray(sub.Len()))
	rec.schema.InsertUnorderedSchema(sub)
	rec.unordered = append(rec.unordered, values...)
	return nil
}

func (w *Writer) parseArrayElements(data []byte, arrayID logcask.NodeID, sub *Schema, values *[]parsedValue) error {
	const op = "archive.Writer.parseArrayElements"

	var cbErr error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if cbErr != nil {
			return
		}
		cbErr = w.parseArrayElement(value, dataType, arrayID, sub, values)
	})
	if err != nil {
		return errors.Wrap(err, errors.EBadParam, op)
	}
	return cbErr
}

func (w *Writer) parseArrayElement(value []byte, dataType jsonparser.ValueType, arrayID logcask.NodeID, sub *Schema, values *[]parsedValue) error {
	const op = "archive.Writer.parseArrayElement"

	switch dataType {
	case jsonparser.Object:
		objID, err := w.tree.AddNode(arrayID, NodeObject, "")
		if err != nil {
			return err
		}
		objSchema := NewSchema()
		if err := w.parseObjectElement(value, objID, objSchema, values); err != nil {
			return err
		}
		sub.InsertUnordered(MarkerObject(objSchema.Len()))
		sub.InsertUnorderedSchema(objSchema)
		return nil

	case jsonparser.Array:
		nestedID, err := w.tree.AddNode(arrayID, NodeStructuredArray, "")
		if err != nil {
			return err
		}
		nested := NewSchema()
		nested.InsertUnordered(int32(nestedID))
		if err := w.parseArrayElements(value, nestedID, nested, values); err != nil {
			return err
		}
		sub.InsertUnordered(MarkerStructuredArray(nested.Len()))
		sub.InsertUnorderedSchema(nested)
		return nil

	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return errors.Wrap(err, errors.EBadParam, op)
		}
		typ := NodeVarString
		if stringNeedsClpEncoding(s) {
			typ = NodeClpString
		}
		return w.addUnorderedLeaf(arrayID, typ, "", sub, values, parsedValue{kind: ValueString, s: s})

	case jsonparser.Number:
		if i, err := jsonparser.ParseInt(value); err == nil {
			return w.addUnorderedLeaf(arrayID, NodeInteger, "", sub, values, parsedValue{kind: ValueInt, i: i})
		}
		f, err := jsonparser.ParseFloat(value)
		if err != nil {
			return errors.Wrap(err, errors.EBadParam, op)
		}
		return w.addUnorderedLeaf(arrayID, NodeFloat, "", sub, values, parsedValue{kind: ValueFloat, f: f})

	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return errors.Wrap(err, errors.EBadParam, op)
		}
		return w.addUnorderedLeaf(arrayID, NodeBoolean, "", sub, values, parsedValue{kind: ValueBool, b: b})

	case jsonparser.Null:
		id, err := w.tree.AddNode(arrayID, NodeNullValue, "")
		if err != nil {
			return err
		}
		sub.InsertUnordered(int32(id))
		return nil

	default:
		return errors.New(errors.EProtocolError, op, "unsupported array element type")
	}
}

// parseObjectElement flattens an object inside a structured array. Leaves
// nest under the object node; nested objects extend the path.
func (w *Writer) parseObjectElement(data []byte, objID logcask.NodeID, objSchema *Schema, values *[]parsedValue) error {
	const op = "archive.Writer.parseObjectElement"

	seen := make(map[string]struct{})
	return jsonparser.ObjectEach(data, func(rawKey, value []byte, dataType jsonparser.ValueType, _ int) error {
		key, err := jsonparser.ParseString(rawKey)
		if err != nil {
			return errors.Wrap(err, errors.EBadParam, op)
		}
		if _, dup := seen[key]; dup {
			return errors.Newf(errors.EProtocolNotSupported, op, "duplicate key %q", key)
		}
		seen[key] = struct{}{}

		switch dataType {
		case jsonparser.Object:
			childID, err := w.tree.AddNode(objID, NodeObject, key)
			if err != nil {
				return err
			}
			return w.parseObjectElement(value, childID, objSchema, values)

		case jsonparser.Array:
			nestedID, err := w.tree.AddNode(objID, NodeStructuredArray, key)
			if err != nil {
				return err
			}
			nested := NewSchema()
			nested.InsertUnordered(int32(nestedID))
			if err := w.parseArrayElements(value, nestedID, nested, values); err != nil {
				return err
			}
			objSchema.InsertUnordered(MarkerStructuredArray(nested.Len()))
			objSchema.InsertUnorderedSchema(nested)
			return nil

		case jsonparser.String:
			s, err := jsonparser.ParseString(value)
			if err != nil {
				return errors.Wrap(err, errors.EBadParam, op)
			}
			typ := NodeVarString
			if stringNeedsClpEncoding(s) {
				typ = NodeClpString
			}
			return w.addUnorderedLeaf(objID, typ, key, objSchema, values, parsedValue{kind: ValueString, s: s})

		case jsonparser.Number:
			if i, err := jsonparser.ParseInt(value); err == nil {
				return w.addUnorderedLeaf(objID, NodeInteger, key, objSchema, values, parsedValue{kind: ValueInt, i: i})
			}
			f, err := jsonparser.ParseFloat(value)
			if err != nil {
				return errors.Wrap(err, errors.EBadParam, op)
			}
			return w.addUnorderedLeaf(objID, NodeFloat, key, objSchema, values, parsedValue{kind: ValueFloat, f: f})

		case jsonparser.Boolean:
			b, err := jsonparser.ParseBoolean(value)
			if err != nil {
				return errors.Wrap(err, errors.EBadParam, op)
			}
			return w.addUnorderedLeaf(objID, NodeBoolean, key, objSchema, values, parsedValue{kind: ValueBool, b: b})

		case jsonparser.Null:
			id, err := w.tree.AddNode(objID, NodeNullValue, key)
			if err != nil {
				return err
			}
			objSchema.InsertUnordered(int32(id))
			return nil

		default:
			return errors.Newf(errors.EProtocolError, op, "unsupported value type for key %q", key)
		}
	})
}

func (w *Writer) addUnorderedLeaf(parentID logcask.NodeID, typ NodeType, key string, sub *Schema, values *[]parsedValue, pv parsedValue) error {
	id, err := w.tree.AddNode(parentID, typ, key)
	if err != nil {
		return err
	}
	pv.nodeID = id
	pv.typ = typ
	sub.InsertUnordered(int32(id))
	*values = append(*values, pv)
	return nil
}

// isTimestampKey reports whether the dotted key path is the configured
// timestamp column.
func (w *Writer) isTimestampKey(keyPath string) bool {
	return w.cfg.TimestampKey != "" && w.cfg.TimestampKey == keyPath
}

func objectIsEmpty(data []byte) bool {
	empty := true
	jsonparser.ObjectEach(data, func([]byte, []byte, jsonparser.ValueType, int) error {
		empty = false
		return errStopIteration
	})
	return empty
}

var errStopIteration = errors.New(errors.EInternal, "archive.objectIsEmpty", "stop")
