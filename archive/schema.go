package archive

import (
	"encoding/binary"

	"github.com/logcask/logcask"
)

// A Schema is the signature of a record: the ordered sequence of schema tree
// node ids identifying exactly the leaves the record touched. The first
// NumOrdered entries are sorted ascending by node id; the remainder belongs
// to unordered objects and arrays and is interleaved with marker entries
// describing their boundaries.
//
// A marker entry packs a tag into the top two bits of the 32-bit slot and
// the length of the sub-range it introduces into the low 30 bits. Real node
// ids are non-negative, so any negative entry is a marker.
type Schema struct {
	ID         int32
	entries    []int32
	numOrdered int
}

const (
	schemaMarkerTagShift = 30
	schemaMarkerLenMask  = 1<<30 - 1

	markerTagStructuredArray = 0x2
	markerTagObject          = 0x3
)

// MarkerStructuredArray returns the marker entry opening a structured array
// whose sub-schema spans the next length entries.
func MarkerStructuredArray(length int) int32 {
	return int32(uint32(markerTagStructuredArray)<<schemaMarkerTagShift | uint32(length)&schemaMarkerLenMask)
}

// MarkerObject returns the marker entry opening an unordered object whose
// sub-schema spans the next length entries.
func MarkerObject(length int) int32 {
	return int32(uint32(markerTagObject)<<schemaMarkerTagShift | uint32(length)&schemaMarkerLenMask)
}

// EntryIsMarker reports whether a schema entry is a marker rather than a
// node id.
func EntryIsMarker(entry int32) bool { return entry < 0 }

// MarkerIsStructuredArray reports whether the marker opens a structured
// array.
func MarkerIsStructuredArray(entry int32) bool {
	return uint32(entry)>>schemaMarkerTagShift == markerTagStructuredArray
}

// MarkerIsObject reports whether the marker opens an unordered object.
func MarkerIsObject(entry int32) bool {
	return uint32(entry)>>schemaMarkerTagShift == markerTagObject
}

// MarkerLength returns the number of following entries the marker's
// sub-schema spans.
func MarkerLength(entry int32) int {
	return int(uint32(entry) & schemaMarkerLenMask)
}

// NewSchema returns an empty schema with an unassigned id.
func NewSchema() *Schema { return &Schema{ID: -1} }

func restoreSchema(id int32, entries []int32, numOrdered int) *Schema {
	return &Schema{ID: id, entries: entries, numOrdered: numOrdered}
}

// InsertOrdered inserts a node id into the ordered region, keeping it
// sorted.
func (s *Schema) InsertOrdered(id logcask.NodeID) {
	v := int32(id)
	ix := s.numOrdered
	for ix > 0 && s.entries[ix-1] > v {
		ix--
	}
	s.entries = append(s.entries, 0)
	copy(s.entries[ix+1:], s.entries[ix:])
	s.entries[ix] = v
	s.numOrdered++
}

// InsertUnordered appends an entry (node id or marker) to the unordered
// region.
func (s *Schema) InsertUnordered(entry int32) {
	s.entries = append(s.entries, entry)
}

// InsertUnorderedSchema appends another schema's entries to the unordered
// region, preserving that schema's order.
func (s *Schema) InsertUnorderedSchema(sub *Schema) {
	s.entries = append(s.entries, sub.entries...)
}

// Clear resets the schema for reuse without reallocating.
func (s *Schema) Clear() {
	s.ID = -1
	s.entries = s.entries[:0]
	s.numOrdered = 0
}

// Len returns the number of entries including markers.
func (s *Schema) Len() int { return len(s.entries) }

// NumOrdered returns the length of the ordered region.
func (s *Schema) NumOrdered() int { return s.numOrdered }

// Entries returns the underlying entry slice.
func (s *Schema) Entries() []int32 { return s.entries }

// Ordered returns the ordered region.
func (s *Schema) Ordered() []int32 { return s.entries[:s.numOrdered] }

// Unordered returns the unordered region including markers.
func (s *Schema) Unordered() []int32 { return s.entries[s.numOrdered:] }

// Key returns the signature as a byte string usable as a map key. Two
// records with equal keys share column storage.
func (s *Schema) Key() string {
	buf := make([]byte, 4*len(s.entries)+4)
	binary.LittleEndian.PutUint32(buf, uint32(s.numOrdered))
	for i, e := range s.entries {
		binary.LittleEndian.PutUint32(buf[4+4*i:], uint32(e))
	}
	return string(buf)
}

// Copy returns an independent copy of the schema.
func (s *Schema) Copy() *Schema {
	entries := make([]int32, len(s.entries))
	copy(entries, s.entries)
	return &Schema{ID: s.ID, entries: entries, numOrdered: s.numOrdered}
}

// NumColumns counts the entries that carry per-row storage, skipping
// markers.
func (s *Schema) NumColumns() int {
	n := 0
	for _, e := range s.entries {
		if !EntryIsMarker(e) {
			n++
		}
	}
	return n
}
