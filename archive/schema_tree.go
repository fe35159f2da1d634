package archive

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"strconv"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

// NodeType classifies a schema tree node. The numeric values are part of the
// on-disk format.
type NodeType uint8

const (
	NodeObject NodeType = iota
	NodeInteger
	NodeFloat
	NodeBoolean
	NodeClpString
	NodeVarString
	NodeDateString
	NodeUnstructuredArray
	NodeStructuredArray
	NodeNullValue
	NodeMetadata
	NodeUnknown
)

func (t NodeType) String() string {
	switch t {
	case NodeObject:
		return "object"
	case NodeInteger:
		return "integer"
	case NodeFloat:
		return "float"
	case NodeBoolean:
		return "boolean"
	case NodeClpString:
		return "clp-string"
	case NodeVarString:
		return "var-string"
	case NodeDateString:
		return "date-string"
	case NodeUnstructuredArray:
		return "unstructured-array"
	case NodeStructuredArray:
		return "structured-array"
	case NodeNullValue:
		return "null"
	case NodeMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// canHaveChildren reports whether values may nest under this node type.
func (t NodeType) canHaveChildren() bool {
	switch t {
	case NodeObject, NodeStructuredArray, NodeMetadata, NodeUnknown:
		return true
	default:
		return false
	}
}

// SchemaTreeNode is one (parent, key, type) tuple observed during ingestion.
type SchemaTreeNode struct {
	ID       logcask.NodeID
	ParentID logcask.NodeID
	Key      string
	Type     NodeType
	Depth    int32
	Children []logcask.NodeID
}

type nodeKey struct {
	parent logcask.NodeID
	typ    NodeType
	key    string
}

// SchemaTree tracks every (parent, key, type) tuple observed across ingested
// records. Node ids are dense and never reused; the tree is append-only
// within an archive.
type SchemaTree struct {
	nodes []SchemaTreeNode
	index map[nodeKey]logcask.NodeID
}

// NewSchemaTree returns a tree holding only the root, which has id 0, an
// empty key and type Object.
func NewSchemaTree() *SchemaTree {
	t := &SchemaTree{index: make(map[nodeKey]logcask.NodeID)}
	t.nodes = append(t.nodes, SchemaTreeNode{ID: logcask.RootNodeID, ParentID: -1, Type: NodeObject})
	return t
}

// Size returns the number of nodes including the root.
func (t *SchemaTree) Size() int { return len(t.nodes) }

// Node returns the node with the given id.
func (t *SchemaTree) Node(id logcask.NodeID) (*SchemaTreeNode, error) {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil, errors.Newf(errors.ENotPermitted, "archive.SchemaTree.Node", "no node with id %d", id)
	}
	return &t.nodes[id], nil
}

// AddNode finds or creates the node for (parent, type, key). Adding an
// existing tuple returns its id. Nesting under a parent that cannot hold
// children fails with ConflictingNodeType.
func (t *SchemaTree) AddNode(parent logcask.NodeID, typ NodeType, key string) (logcask.NodeID, error) {
	const op = "archive.SchemaTree.AddNode"

	if parent < 0 || int(parent) >= len(t.nodes) {
		return 0, errors.Newf(errors.EOutOfRange, op, "parent id %d does not exist", parent)
	}
	k := nodeKey{parent: parent, typ: typ, key: key}
	if id, ok := t.index[k]; ok {
		return id, nil
	}

	parentType := t.nodes[parent].Type
	if !parentType.canHaveChildren() {
		return 0, errors.Newf(errors.EConflictingNodeType, op,
			"cannot nest %q under %s node %d", key, parentType, parent)
	}

	id := logcask.NodeID(len(t.nodes))
	t.nodes = append(t.nodes, SchemaTreeNode{
		ID:       id,
		ParentID: parent,
		Key:      key,
		Type:     typ,
		Depth:    t.nodes[parent].Depth + 1,
	})
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	t.index[k] = id
	return id, nil
}

// ChildrenOf returns the ids of the node's children in insertion order.
func (t *SchemaTree) ChildrenOf(id logcask.NodeID) []logcask.NodeID {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id].Children
}

// FindMatchingSubtreeRootInSubtree walks from node up to subtreeRoot and
// returns the id of the highest node of the given type strictly below
// subtreeRoot, or -1 if none exists on the path.
func (t *SchemaTree) FindMatchingSubtreeRootInSubtree(subtreeRoot, node logcask.NodeID, typ NodeType) logcask.NodeID {
	match := logcask.NodeID(-1)
	for node != subtreeRoot && node >= 0 {
		n := &t.nodes[node]
		if n.Type == typ {
			match = node
		}
		node = n.ParentID
	}
	return match
}

// ValueKind classifies a parsed record value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueInt
	ValueFloat
	ValueBool
	ValueString
	ValueEncodedText
	ValueEmptyObject
)

// Value is a parsed record value paired with a leaf node id.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

// nodeTypeMatchesValue reports whether a node of the given type may carry
// the value.
func nodeTypeMatchesValue(typ NodeType, v Value) bool {
	switch typ {
	case NodeObject:
		return v.Kind == ValueNull || v.Kind == ValueEmptyObject
	case NodeNullValue:
		return v.Kind == ValueNull
	case NodeInteger:
		return v.Kind == ValueInt
	case NodeFloat:
		return v.Kind == ValueFloat
	case NodeBoolean:
		return v.Kind == ValueBool
	case NodeClpString, NodeVarString, NodeDateString:
		return v.Kind == ValueString || v.Kind == ValueEncodedText
	case NodeUnstructuredArray:
		return v.Kind == ValueEncodedText || v.Kind == ValueString
	default:
		return false
	}
}

// ValidateNodeValues checks a record's (leaf id -> value) map against the
// tree:
//   - the root is never a leaf (OperationNotPermitted)
//   - every node type must be compatible with its value (ProtocolError)
//   - an Object node may carry null or {} only if none of its descendants
//     appears in the map (OperationNotPermitted)
//   - a key appears at most once under a parent (ProtocolNotSupported)
func (t *SchemaTree) ValidateNodeValues(values map[logcask.NodeID]Value) error {
	const op = "archive.SchemaTree.ValidateNodeValues"

	keysByParent := make(map[logcask.NodeID]map[string]struct{})
	for id, v := range values {
		if id == logcask.RootNodeID {
			return errors.New(errors.ENotPermitted, op, "root node paired with a value")
		}
		node, err := t.Node(id)
		if err != nil {
			return errors.Wrap(err, errors.ENotPermitted, op)
		}

		if !nodeTypeMatchesValue(node.Type, v) {
			return errors.Newf(errors.EProtocolError, op,
				"%s node %d cannot carry value of kind %d", node.Type, id, v.Kind)
		}

		if node.Type == NodeObject && !t.isLeafIn(id, values) {
			return errors.Newf(errors.ENotPermitted, op,
				"object node %d has descendants in the same record", id)
		}

		keys, ok := keysByParent[node.ParentID]
		if !ok {
			keys = make(map[string]struct{})
			keysByParent[node.ParentID] = keys
		}
		if _, dup := keys[node.Key]; dup {
			return errors.Newf(errors.EProtocolNotSupported, op,
				"key %q appears more than once under node %d", node.Key, node.ParentID)
		}
		keys[node.Key] = struct{}{}
	}
	return nil
}

// isLeafIn reports whether none of the node's descendants appears in values.
func (t *SchemaTree) isLeafIn(id logcask.NodeID, values map[logcask.NodeID]Value) bool {
	for _, child := range t.nodes[id].Children {
		if _, ok := values[child]; ok {
			return false
		}
		if !t.isLeafIn(child, values) {
			return false
		}
	}
	return true
}

// SubtreeBitmap returns a bitmap over node ids where the set bits are the
// nodes on any path from the root to a leaf in values. A leaf id beyond the
// tree fails with OutOfRange.
func (t *SchemaTree) SubtreeBitmap(values map[logcask.NodeID]Value) ([]bool, error) {
	const op = "archive.SchemaTree.SubtreeBitmap"

	bitmap := make([]bool, len(t.nodes))
	for id := range values {
		if id < 0 || int(id) >= len(t.nodes) {
			return nil, errors.Newf(errors.EOutOfRange, op, "leaf id %d exceeds tree size %d", id, len(t.nodes))
		}
		for cur := id; cur >= 0 && !bitmap[cur]; cur = t.nodes[cur].ParentID {
			bitmap[cur] = true
		}
	}
	return bitmap, nil
}

// SerializeToJSON renders a validated (leaf id -> value) map as a JSON
// document, traversing the tree depth-first through the subtree bitmap and
// emitting directly into a byte buffer.
func (t *SchemaTree) SerializeToJSON(values map[logcask.NodeID]Value) ([]byte, error) {
	if err := t.ValidateNodeValues(values); err != nil {
		return nil, err
	}
	bitmap, err := t.SubtreeBitmap(values)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	t.serializeNode(&buf, logcask.RootNodeID, bitmap, values)
	return buf.Bytes(), nil
}

func (t *SchemaTree) serializeNode(buf *bytes.Buffer, id logcask.NodeID, bitmap []bool, values map[logcask.NodeID]Value) {
	buf.WriteByte('{')
	first := true
	for _, child := range t.nodes[id].Children {
		if !bitmap[child] {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		node := &t.nodes[child]
		appendJSONString(buf, node.Key)
		buf.WriteByte(':')

		if v, ok := values[child]; ok {
			appendJSONValue(buf, node.Type, v)
			continue
		}
		t.serializeNode(buf, child, bitmap, values)
	}
	buf.WriteByte('}')
}

func appendJSONValue(buf *bytes.Buffer, typ NodeType, v Value) {
	switch v.Kind {
	case ValueNull:
		buf.WriteString("null")
	case ValueEmptyObject:
		buf.WriteString("{}")
	case ValueInt:
		buf.Write(strconv.AppendInt(nil, v.Int, 10))
	case ValueFloat:
		buf.Write(strconv.AppendFloat(nil, v.Float, 'g', -1, 64))
	case ValueBool:
		buf.Write(strconv.AppendBool(nil, v.Bool))
	case ValueString, ValueEncodedText:
		if typ == NodeUnstructuredArray {
			// Unstructured arrays store their JSON text verbatim.
			buf.WriteString(v.Str)
			return
		}
		appendJSONString(buf, v.Str)
	}
}

const hexDigits = "0123456789abcdef"

// appendJSONString writes s as a quoted, escaped JSON string.
func appendJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xF])
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

// writeTo serializes the tree (without the implicit root) followed by the
// schema map into a single compressed block.
func (t *SchemaTree) writeTo(w io.Writer, codec Codec, schemas []*Schema) error {
	var buf bytes.Buffer

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(t.nodes)-1))
	buf.Write(scratch[:4])
	for _, node := range t.nodes[1:] {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(node.ParentID))
		buf.Write(scratch[:4])
		buf.WriteByte(byte(node.Type))
		writeUvarint(&buf, uint64(len(node.Key)))
		buf.WriteString(node.Key)
	}

	sorted := make([]*Schema, len(schemas))
	copy(sorted, schemas)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(sorted)))
	buf.Write(scratch[:4])
	for _, s := range sorted {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(s.ID))
		buf.Write(scratch[:4])
		binary.LittleEndian.PutUint32(scratch[:4], uint32(s.NumOrdered()))
		buf.Write(scratch[:4])
		binary.LittleEndian.PutUint32(scratch[:4], uint32(s.Len()))
		buf.Write(scratch[:4])
		for _, entry := range s.Entries() {
			binary.LittleEndian.PutUint32(scratch[:4], uint32(entry))
			buf.Write(scratch[:4])
		}
	}

	_, err := writeBlock(w, codec, buf.Bytes())
	return err
}

// readSchemaTree loads a tree and its schema map written by writeTo.
func readSchemaTree(r io.Reader, codec Codec) (*SchemaTree, []*Schema, error) {
	const op = "archive.readSchemaTree"

	data, err := readBlock(r, codec)
	if err != nil {
		return nil, nil, err
	}
	br := newByteReader(data, op)

	tree := NewSchemaTree()
	numNodes := int(br.uint32())
	for i := 0; i < numNodes; i++ {
		parent := logcask.NodeID(int32(br.uint32()))
		typ := NodeType(br.byte())
		key := br.str(int(br.uvarint()))
		if br.err != nil {
			return nil, nil, br.err
		}
		if _, err := tree.AddNode(parent, typ, key); err != nil {
			return nil, nil, errors.Wrap(err, errors.ECorruptedArchive, op)
		}
	}

	numSchemas := int(br.uint32())
	schemas := make([]*Schema, 0, numSchemas)
	for i := 0; i < numSchemas; i++ {
		id := int32(br.uint32())
		numOrdered := int(br.uint32())
		numEntries := int(br.uint32())
		entries := make([]int32, numEntries)
		for j := range entries {
			entries[j] = int32(br.uint32())
		}
		if br.err != nil {
			return nil, nil, br.err
		}
		schemas = append(schemas, restoreSchema(id, entries, numOrdered))
	}
	if br.err != nil {
		return nil, nil, br.err
	}
	return tree, schemas, nil
}
