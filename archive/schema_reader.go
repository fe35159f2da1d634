package archive

import (
	"math"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

// unorderedObject remembers where a structured array's columns start and the
// marker-tagged sub-schema describing its layout.
type unorderedObject struct {
	columnStart int
	schema      []int32
}

// SchemaReader materializes the records of one schema signature. For JSON
// output it precomputes a flat op-list template by walking the local
// projection of the global schema tree, then walks the template once per
// record, pulling the next value from each pointed column.
type SchemaReader struct {
	reader      *Reader
	schema      *Schema
	numMessages int
	curMessage  int
	marshal     bool

	columns   []ColumnReader
	columnMap map[int32]ColumnReader
	reordered []ColumnReader
	eventIdxs []int64

	localTree     *SchemaTree
	globalToLocal map[int32]int32
	localToGlobal map[int32]int32

	template jsonTemplate
	emitter  jsonEmitter

	unorderedObjects map[int32]unorderedObject

	tsColumn     ColumnReader
	getTimestamp func(row int) int64

	filter func(row int) bool
}

func newSchemaReader(r *Reader, schema *Schema, numMessages int, marshal bool) *SchemaReader {
	sr := &SchemaReader{
		reader:           r,
		schema:           schema,
		numMessages:      numMessages,
		marshal:          marshal,
		columnMap:        make(map[int32]ColumnReader),
		localTree:        NewSchemaTree(),
		globalToLocal:    map[int32]int32{int32(logcask.RootNodeID): int32(logcask.RootNodeID)},
		localToGlobal:    map[int32]int32{int32(logcask.RootNodeID): int32(logcask.RootNodeID)},
		unorderedObjects: make(map[int32]unorderedObject),
	}
	sr.getTimestamp = func(int) int64 { return 0 }
	return sr
}

// SchemaID returns the schema this reader materializes.
func (sr *SchemaReader) SchemaID() int32 { return sr.schema.ID }

// NumMessages returns the number of records in the table.
func (sr *SchemaReader) NumMessages() int { return sr.numMessages }

// SetFilter installs a per-row predicate consulted before marshalling.
func (sr *SchemaReader) SetFilter(filter func(row int) bool) { sr.filter = filter }

// Columns returns the loaded storage columns in signature order.
func (sr *SchemaReader) Columns() []ColumnReader { return sr.columns }

// buildStructure creates the column readers for the signature, builds the
// local tree projection and records where each structured array's columns
// start. Blocks load afterwards via loadBlock.
func (sr *SchemaReader) buildStructure() error {
	const op = "archive.SchemaReader.buildStructure"

	// Ordered region: columns are addressable by global node id.
	for _, entry := range sr.schema.Ordered() {
		node, err := sr.reader.tree.Node(logcask.NodeID(entry))
		if err != nil {
			return errors.Wrap(err, errors.ECorruptedArchive, op)
		}
		cr := sr.reader.newColumnReader(node)
		if cr != nil {
			sr.columns = append(sr.columns, cr)
			sr.columnMap[entry] = cr
		}
		if sr.marshal {
			if err := sr.generateLocalTree(entry); err != nil {
				return err
			}
		}
	}

	// Unordered region: columns are positional; each top-level array marker
	// records where its columns start.
	unordered := sr.schema.Unordered()
	for i := 0; i < len(unordered); {
		entry := unordered[i]
		if !EntryIsMarker(entry) {
			return errors.New(errors.ECorruptedArchive, op, "unordered region must start with a marker")
		}
		length := MarkerLength(entry)
		if i+1+length > len(unordered) {
			return errors.New(errors.ECorruptedArchive, op, "marker length exceeds schema")
		}
		span := unordered[i+1 : i+1+length]
		columnStart := len(sr.columns)
		for _, e := range span {
			if EntryIsMarker(e) {
				continue
			}
			node, err := sr.reader.tree.Node(logcask.NodeID(e))
			if err != nil {
				return errors.Wrap(err, errors.ECorruptedArchive, op)
			}
			cr := sr.reader.newColumnReader(node)
			if cr != nil {
				sr.columns = append(sr.columns, cr)
			}
			if sr.marshal {
				if err := sr.generateLocalTree(e); err != nil {
					return err
				}
			}
		}
		if first := firstColumnInSpan(span); first >= 0 {
			root := sr.reader.tree.FindMatchingSubtreeRootInSubtree(
				logcask.RootNodeID, logcask.NodeID(first), NodeStructuredArray)
			if root >= 0 {
				sr.unorderedObjects[int32(root)] = unorderedObject{columnStart: columnStart, schema: span}
			}
		}
		i += 1 + length
	}
	return nil
}

// loadBlock appends one table block's rows to every column.
func (sr *SchemaReader) loadBlock(data []byte, numMessages int) error {
	const op = "archive.SchemaReader.loadBlock"

	br := newByteReader(data, op)
	sr.eventIdxs = append(sr.eventIdxs, br.int64s(numMessages)...)
	if br.err != nil {
		return br.err
	}
	for _, cr := range sr.columns {
		if err := cr.load(br, numMessages); err != nil {
			return err
		}
	}
	return nil
}

// finish wires the timestamp getter and generates the marshalling template
// once every block is loaded.
func (sr *SchemaReader) finish(extractTimestamp bool) error {
	if len(sr.eventIdxs) != sr.numMessages {
		return errors.Newf(errors.ECorruptedArchive, "archive.SchemaReader.finish",
			"loaded %d rows, expected %d", len(sr.eventIdxs), sr.numMessages)
	}
	if extractTimestamp {
		sr.markTimestampColumn()
	}
	if sr.marshal {
		sr.generateJSONTemplate(int32(logcask.RootNodeID))
	}
	return nil
}

// firstColumnInSpan returns the first non-marker entry, or -1 if the span
// contains no columns.
func firstColumnInSpan(span []int32) int32 {
	for _, e := range span {
		if !EntryIsMarker(e) {
			return e
		}
	}
	return -1
}

// markTimestampColumn wires the timestamp getter to the column the timestamp
// dictionary tracks.
func (sr *SchemaReader) markTimestampColumn() {
	for _, col := range sr.columns {
		if !sr.reader.timestampDict.TimestampColumn(int32(col.NodeID())) {
			continue
		}
		sr.tsColumn = col
		switch c := col.(type) {
		case *dateStringColumnReader:
			sr.getTimestamp = func(row int) int64 { return c.EncodedTime(row) }
		case *int64ColumnReader:
			sr.getTimestamp = func(row int) int64 { return c.values[row] }
		case *floatColumnReader:
			sr.getTimestamp = func(row int) int64 { return int64(float64FromBits(c.bits[row])) }
		}
		return
	}
}

// generateLocalTree merges the path from the global root to globalID into
// the local schema tree.
func (sr *SchemaReader) generateLocalTree(globalID int32) error {
	if _, ok := sr.globalToLocal[globalID]; ok {
		return nil
	}
	stack := []int32{globalID}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		node, err := sr.reader.tree.Node(logcask.NodeID(top))
		if err != nil {
			return err
		}
		parent := int32(node.ParentID)
		if _, ok := sr.globalToLocal[parent]; !ok {
			stack = append(stack, parent)
			continue
		}
		localID, err := sr.localTree.AddNode(logcask.NodeID(sr.globalToLocal[parent]), node.Type, node.Key)
		if err != nil {
			return err
		}
		sr.globalToLocal[top] = int32(localID)
		sr.localToGlobal[int32(localID)] = top
		stack = stack[:len(stack)-1]
	}
	return nil
}

// generateJSONTemplate walks the local tree and emits the op list for the
// ordered region, delegating structured arrays to the marker-driven
// generators.
func (sr *SchemaReader) generateJSONTemplate(localID int32) {
	for _, childLocal := range sr.localTree.ChildrenOf(logcask.NodeID(localID)) {
		childGlobal := sr.localToGlobal[int32(childLocal)]
		child, _ := sr.localTree.Node(childLocal)
		key := child.Key

		switch child.Type {
		case NodeObject:
			sr.template.addOp(OpBeginObject)
			sr.template.addSpecialKey(key)
			sr.generateJSONTemplate(int32(childLocal))
			sr.template.addOp(OpEndObject)
		case NodeUnstructuredArray:
			sr.template.addOp(OpAddArrayField)
			sr.reordered = append(sr.reordered, sr.columnMap[childGlobal])
		case NodeStructuredArray:
			sr.template.addOp(OpBeginArray)
			sr.template.addSpecialKey(key)
			if uo, ok := sr.unorderedObjects[childGlobal]; ok {
				sr.generateStructuredArrayTemplate(childGlobal, uo.columnStart, uo.schema)
			}
			sr.template.addOp(OpEndArray)
		case NodeInteger:
			sr.template.addOp(OpAddIntField)
			sr.reordered = append(sr.reordered, sr.columnMap[childGlobal])
		case NodeFloat:
			sr.template.addOp(OpAddFloatField)
			sr.reordered = append(sr.reordered, sr.columnMap[childGlobal])
		case NodeBoolean:
			sr.template.addOp(OpAddBoolField)
			sr.reordered = append(sr.reordered, sr.columnMap[childGlobal])
		case NodeClpString, NodeVarString, NodeDateString:
			sr.template.addOp(OpAddStringField)
			sr.reordered = append(sr.reordered, sr.columnMap[childGlobal])
		case NodeNullValue:
			sr.template.addOp(OpAddNullField)
			sr.template.addSpecialKey(key)
		}
	}
}

// generateStructuredArrayTemplate emits ops for the elements of a structured
// array, consuming columns positionally from columnStart.
func (sr *SchemaReader) generateStructuredArrayTemplate(arrayRoot int32, columnStart int, schema []int32) int {
	columnIx := columnStart
	var pathToIntersection []int32
	rootNode, _ := sr.reader.tree.Node(logcask.NodeID(arrayRoot))
	depth := rootNode.Depth

	for i := 0; i < len(schema); i++ {
		entry := schema[i]
		if entry == arrayRoot {
			// The span leads with the array's own node id.
			continue
		}
		if EntryIsMarker(entry) {
			length := MarkerLength(entry)
			sub := schema[i+1 : i+1+length]
			if MarkerIsStructuredArray(entry) {
				subRoot := sr.reader.tree.FindMatchingSubtreeRootInSubtree(
					logcask.NodeID(arrayRoot), logcask.NodeID(firstColumnInSpan(sub)), NodeStructuredArray)
				sr.template.addOp(OpBeginArrayDocument)
				columnIx = sr.generateStructuredArrayTemplate(int32(subRoot), columnIx, sub)
				sr.template.addOp(OpEndArray)
			} else if MarkerIsObject(entry) {
				sr.template.addOp(OpBeginDocument)
				if length > 0 {
					objRoot := sr.reader.tree.FindMatchingSubtreeRootInSubtree(
						logcask.NodeID(arrayRoot), logcask.NodeID(firstColumnInSpan(sub)), NodeObject)
					columnIx = sr.generateStructuredObjectTemplate(int32(objRoot), columnIx, sub)
				}
				sr.template.addOp(OpEndObject)
			}
			i += length
			continue
		}

		node, _ := sr.reader.tree.Node(logcask.NodeID(entry))
		switch node.Type {
		case NodeObject:
			sr.findIntersectionAndFixBrackets(arrayRoot, entry, &pathToIntersection)
			for j := int32(0); j < node.Depth-depth; j++ {
				sr.template.addOp(OpEndObject)
			}
		case NodeStructuredArray:
			sr.template.addOp(OpBeginArrayDocument)
			sr.template.addOp(OpEndArray)
		case NodeInteger:
			sr.template.addOp(OpAddIntField)
			sr.reordered = append(sr.reordered, sr.columns[columnIx])
			columnIx++
		case NodeFloat:
			sr.template.addOp(OpAddFloatField)
			sr.reordered = append(sr.reordered, sr.columns[columnIx])
			columnIx++
		case NodeBoolean:
			sr.template.addOp(OpAddBoolField)
			sr.reordered = append(sr.reordered, sr.columns[columnIx])
			columnIx++
		case NodeClpString, NodeVarString:
			sr.template.addOp(OpAddStringField)
			sr.reordered = append(sr.reordered, sr.columns[columnIx])
			columnIx++
		case NodeNullValue:
			sr.template.addOp(OpAddNullValue)
		}
	}
	return columnIx
}

// generateStructuredObjectTemplate emits ops for one object element,
// fixing brackets between leaves that sit at different depths.
func (sr *SchemaReader) generateStructuredObjectTemplate(objectRoot int32, columnStart int, schema []int32) int {
	root := objectRoot
	columnIx := columnStart
	var pathToIntersection []int32

	for i := 0; i < len(schema); i++ {
		entry := schema[i]
		if EntryIsMarker(entry) {
			// Only arrays can nest inside structured objects.
			length := MarkerLength(entry)
			sub := schema[i+1 : i+1+length]
			arrayRoot := sr.reader.tree.FindMatchingSubtreeRootInSubtree(
				logcask.NodeID(objectRoot), logcask.NodeID(firstColumnInSpan(sub)), NodeStructuredArray)
			sr.findIntersectionAndFixBrackets(root, int32(arrayRoot), &pathToIntersection)
			columnIx = sr.generateStructuredArrayTemplate(int32(arrayRoot), columnIx, sub)
			sr.template.addOp(OpEndArray)
			i += length
			node, _ := sr.reader.tree.Node(arrayRoot)
			root = int32(node.ParentID)
			continue
		}

		node, _ := sr.reader.tree.Node(logcask.NodeID(entry))
		nextRoot := int32(node.ParentID)
		sr.findIntersectionAndFixBrackets(root, nextRoot, &pathToIntersection)
		root = nextRoot
		switch node.Type {
		case NodeObject:
			sr.template.addOp(OpBeginObject)
			sr.template.addSpecialKey(node.Key)
			sr.template.addOp(OpEndObject)
		case NodeStructuredArray:
			sr.template.addOp(OpBeginArray)
			sr.template.addSpecialKey(node.Key)
			sr.template.addOp(OpEndArray)
		case NodeInteger:
			sr.template.addOp(OpAddIntField)
			sr.reordered = append(sr.reordered, sr.columns[columnIx])
			columnIx++
		case NodeFloat:
			sr.template.addOp(OpAddFloatField)
			sr.reordered = append(sr.reordered, sr.columns[columnIx])
			columnIx++
		case NodeBoolean:
			sr.template.addOp(OpAddBoolField)
			sr.reordered = append(sr.reordered, sr.columns[columnIx])
			columnIx++
		case NodeClpString, NodeVarString:
			sr.template.addOp(OpAddStringField)
			sr.reordered = append(sr.reordered, sr.columns[columnIx])
			columnIx++
		case NodeNullValue:
			sr.template.addOp(OpAddNullField)
			sr.template.addSpecialKey(node.Key)
		}
	}
	sr.findIntersectionAndFixBrackets(root, objectRoot, &pathToIntersection)
	return columnIx
}

// findIntersectionAndFixBrackets walks both paths toward their nearest
// common ancestor, emitting EndObject for every level left and
// BeginObject/BeginArray for every level entered.
func (sr *SchemaReader) findIntersectionAndFixBrackets(curRoot, nextRoot int32, pathToIntersection *[]int32) {
	curNode, _ := sr.reader.tree.Node(logcask.NodeID(curRoot))
	nextNode, _ := sr.reader.tree.Node(logcask.NodeID(nextRoot))
	for curNode.ParentID != nextNode.ParentID {
		if curNode.Depth > nextNode.Depth {
			curRoot = int32(curNode.ParentID)
			curNode, _ = sr.reader.tree.Node(logcask.NodeID(curRoot))
			sr.template.addOp(OpEndObject)
		} else if curNode.Depth < nextNode.Depth {
			*pathToIntersection = append(*pathToIntersection, nextRoot)
			nextRoot = int32(nextNode.ParentID)
			nextNode, _ = sr.reader.tree.Node(logcask.NodeID(nextRoot))
		} else {
			curRoot = int32(curNode.ParentID)
			curNode, _ = sr.reader.tree.Node(logcask.NodeID(curRoot))
			sr.template.addOp(OpEndObject)
			*pathToIntersection = append(*pathToIntersection, nextRoot)
			nextRoot = int32(nextNode.ParentID)
			nextNode, _ = sr.reader.tree.Node(logcask.NodeID(nextRoot))
		}
	}

	for i := len(*pathToIntersection) - 1; i >= 0; i-- {
		node, _ := sr.reader.tree.Node(logcask.NodeID((*pathToIntersection)[i]))
		noName := node.Key == ""
		if !noName {
			sr.template.addSpecialKey(node.Key)
		}
		if node.Type == NodeObject {
			if noName {
				sr.template.addOp(OpBeginDocument)
			} else {
				sr.template.addOp(OpBeginObject)
			}
		} else if node.Type == NodeStructuredArray {
			if noName {
				sr.template.addOp(OpBeginArrayDocument)
			} else {
				sr.template.addOp(OpBeginArray)
			}
		}
	}
	*pathToIntersection = (*pathToIntersection)[:0]
}

// generateJSONString walks the template once, pulling the next value from
// each pointed column.
func (sr *SchemaReader) generateJSONString() error {
	sr.emitter.reset()
	sr.emitter.beginDocument()

	columnIx := 0
	keyIx := 0
	nextKey := func() string {
		k := sr.template.specialKeys[keyIx]
		keyIx++
		return k
	}

	for _, op := range sr.template.ops {
		switch op {
		case OpBeginObject:
			sr.emitter.beginObject(nextKey())
		case OpEndObject:
			sr.emitter.endObject()
		case OpBeginDocument:
			sr.emitter.beginDocument()
		case OpBeginArray:
			sr.emitter.beginArray(nextKey())
		case OpEndArray:
			sr.emitter.endArray()
		case OpBeginArrayDocument:
			sr.emitter.beginArrayDocument()
		case OpAddIntField, OpAddFloatField, OpAddBoolField, OpAddStringField:
			col := sr.reordered[columnIx]
			columnIx++
			v, err := col.Value(sr.curMessage)
			if err != nil {
				return err
			}
			sr.emitter.value(col.Key(), v)
		case OpAddArrayField:
			col := sr.reordered[columnIx]
			columnIx++
			v, err := col.Value(sr.curMessage)
			if err != nil {
				return err
			}
			sr.emitter.raw(col.Key(), v.Str)
		case OpAddNullField:
			sr.emitter.value(nextKey(), Value{Kind: ValueNull})
		case OpAddNullValue:
			sr.emitter.value("", Value{Kind: ValueNull})
		}
	}

	sr.emitter.endDocument()
	return nil
}

// Done reports whether every record has been read.
func (sr *SchemaReader) Done() bool { return sr.curMessage >= sr.numMessages }

// NextLogEventIdx returns the log-event index of the smallest unread record,
// or MaxInt64 when the reader is drained.
func (sr *SchemaReader) NextLogEventIdx() int64 {
	if sr.Done() {
		return math.MaxInt64
	}
	return sr.eventIdxs[sr.curMessage]
}

// NextMessage marshals the next record that passes the filter. It returns
// the message text (with a trailing newline), its timestamp, and false when
// the table is drained.
func (sr *SchemaReader) NextMessage() (string, int64, bool, error) {
	for sr.curMessage < sr.numMessages {
		if sr.filter != nil && !sr.filter(sr.curMessage) {
			sr.curMessage++
			continue
		}

		var msg string
		if sr.marshal {
			if err := sr.generateJSONString(); err != nil {
				return "", 0, false, err
			}
			msg = string(sr.emitter.bytes())
			if len(msg) == 0 || msg[len(msg)-1] != '\n' {
				msg += "\n"
			}
		}
		ts := sr.getTimestamp(sr.curMessage)

		sr.curMessage++
		return msg, ts, true, nil
	}
	return "", 0, false, nil
}
