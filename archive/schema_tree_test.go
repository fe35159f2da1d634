package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

func TestSchemaTree_AddNodeIdempotent(t *testing.T) {
	tree := NewSchemaTree()

	a, err := tree.AddNode(logcask.RootNodeID, NodeObject, "a")
	require.NoError(t, err)
	b, err := tree.AddNode(a, NodeInteger, "b")
	require.NoError(t, err)

	again, err := tree.AddNode(logcask.RootNodeID, NodeObject, "a")
	require.NoError(t, err)
	assert.Equal(t, a, again)
	again, err = tree.AddNode(a, NodeInteger, "b")
	require.NoError(t, err)
	assert.Equal(t, b, again)
	assert.Equal(t, 3, tree.Size())

	// The same key with a different type is a distinct node.
	c, err := tree.AddNode(a, NodeFloat, "b")
	require.NoError(t, err)
	assert.NotEqual(t, b, c)
}

func TestSchemaTree_ConflictingNodeType(t *testing.T) {
	tree := NewSchemaTree()
	leaf, err := tree.AddNode(logcask.RootNodeID, NodeInteger, "n")
	require.NoError(t, err)

	_, err = tree.AddNode(leaf, NodeInteger, "child")
	require.Error(t, err)
	assert.Equal(t, errors.EConflictingNodeType, errors.ErrorCode(err))

	_, err = tree.AddNode(1234, NodeInteger, "x")
	require.Error(t, err)
	assert.Equal(t, errors.EOutOfRange, errors.ErrorCode(err))
}

func TestSchemaTree_FindMatchingSubtreeRootInSubtree(t *testing.T) {
	tree := NewSchemaTree()
	arr, _ := tree.AddNode(logcask.RootNodeID, NodeStructuredArray, "tags")
	obj, _ := tree.AddNode(arr, NodeObject, "")
	leaf, _ := tree.AddNode(obj, NodeInteger, "n")

	assert.Equal(t, arr, tree.FindMatchingSubtreeRootInSubtree(logcask.RootNodeID, leaf, NodeStructuredArray))
	assert.Equal(t, obj, tree.FindMatchingSubtreeRootInSubtree(arr, leaf, NodeObject))
	assert.Equal(t, logcask.NodeID(-1), tree.FindMatchingSubtreeRootInSubtree(arr, leaf, NodeBoolean))
}

func TestSchemaTree_ValidateNodeValues(t *testing.T) {
	tree := NewSchemaTree()
	a, _ := tree.AddNode(logcask.RootNodeID, NodeObject, "a")
	b, _ := tree.AddNode(a, NodeInteger, "b")

	// An object with a descendant in the same record cannot carry a value.
	err := tree.ValidateNodeValues(map[logcask.NodeID]Value{
		a: {Kind: ValueNull},
		b: {Kind: ValueInt, Int: 7},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ENotPermitted, errors.ErrorCode(err))

	// The root is never a leaf.
	err = tree.ValidateNodeValues(map[logcask.NodeID]Value{
		logcask.RootNodeID: {Kind: ValueNull},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ENotPermitted, errors.ErrorCode(err))

	// Type mismatch.
	err = tree.ValidateNodeValues(map[logcask.NodeID]Value{
		b: {Kind: ValueBool, Bool: true},
	})
	require.Error(t, err)
	assert.Equal(t, errors.EProtocolError, errors.ErrorCode(err))

	// A key may appear at most once under a parent: two nodes sharing
	// (parent, key) with different types cannot both carry values.
	bFloat, _ := tree.AddNode(a, NodeFloat, "b")
	err = tree.ValidateNodeValues(map[logcask.NodeID]Value{
		b:      {Kind: ValueInt, Int: 1},
		bFloat: {Kind: ValueFloat, Float: 2.5},
	})
	require.Error(t, err)
	assert.Equal(t, errors.EProtocolNotSupported, errors.ErrorCode(err))

	// A valid map passes.
	err = tree.ValidateNodeValues(map[logcask.NodeID]Value{
		b: {Kind: ValueInt, Int: 7},
	})
	assert.NoError(t, err)
}

func TestSchemaTree_SubtreeBitmapOutOfRange(t *testing.T) {
	tree := NewSchemaTree()
	_, err := tree.SubtreeBitmap(map[logcask.NodeID]Value{99: {Kind: ValueInt}})
	require.Error(t, err)
	assert.Equal(t, errors.EOutOfRange, errors.ErrorCode(err))
}

func TestSchemaTree_SerializeToJSON(t *testing.T) {
	tree := NewSchemaTree()
	a, _ := tree.AddNode(logcask.RootNodeID, NodeObject, "a")
	b, _ := tree.AddNode(a, NodeInteger, "b")
	c, _ := tree.AddNode(a, NodeVarString, "c")
	d, _ := tree.AddNode(logcask.RootNodeID, NodeBoolean, "d")
	n, _ := tree.AddNode(logcask.RootNodeID, NodeNullValue, "n")

	out, err := tree.SerializeToJSON(map[logcask.NodeID]Value{
		b: {Kind: ValueInt, Int: 7},
		c: {Kind: ValueString, Str: `say "hi"`},
		d: {Kind: ValueBool, Bool: true},
		n: {Kind: ValueNull},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"b":7,"c":"say \"hi\""},"d":true,"n":null}`, string(out))
}

func TestSchema_Markers(t *testing.T) {
	m := MarkerStructuredArray(5)
	assert.True(t, EntryIsMarker(m))
	assert.True(t, MarkerIsStructuredArray(m))
	assert.False(t, MarkerIsObject(m))
	assert.Equal(t, 5, MarkerLength(m))

	o := MarkerObject(3)
	assert.True(t, EntryIsMarker(o))
	assert.True(t, MarkerIsObject(o))
	assert.Equal(t, 3, MarkerLength(o))

	assert.False(t, EntryIsMarker(42))
}

func TestSchema_OrderedRegionSorted(t *testing.T) {
	s := NewSchema()
	s.InsertOrdered(5)
	s.InsertOrdered(2)
	s.InsertOrdered(9)
	s.InsertOrdered(3)
	assert.Equal(t, []int32{2, 3, 5, 9}, s.Ordered())

	s.InsertUnordered(MarkerStructuredArray(1))
	s.InsertUnordered(7)
	assert.Equal(t, 4, s.NumOrdered())
	assert.Equal(t, 6, s.Len())

	// Equal signatures share a key; different ones do not.
	s2 := NewSchema()
	for _, id := range []logcask.NodeID{2, 3, 5, 9} {
		s2.InsertOrdered(id)
	}
	s2.InsertUnordered(MarkerStructuredArray(1))
	s2.InsertUnordered(7)
	assert.Equal(t, s.Key(), s2.Key())
	s2.InsertUnordered(8)
	assert.NotEqual(t, s.Key(), s2.Key())
}
