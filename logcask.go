// Package logcask implements a compressed, columnar archive engine for
// semi-structured (JSON) and unstructured log events. Log messages are split
// into a logtype template plus encoded and dictionary variables; JSON records
// are decomposed against a per-archive schema tree and stored as
// type-specialized columns grouped by schema signature.
package logcask

// Format is the archive format name.
const Format = "logcask"

// FormatVersion is checked exactly when an archive is opened. Unknown
// versions fail with UnsupportedVersion.
const FormatVersion uint32 = 1

// Variable placeholder bytes embedded in logtype templates. These values are
// part of the wire format and must be identical across all writers and
// readers.
const (
	PlaceholderInteger    byte = 0x11
	PlaceholderDictionary byte = 0x12
	PlaceholderFloat      byte = 0x13
	PlaceholderEscape     byte = 0x5c
)

// IsPlaceholder returns true if c is one of the variable placeholder bytes.
func IsPlaceholder(c byte) bool {
	return PlaceholderInteger == c || PlaceholderDictionary == c || PlaceholderFloat == c
}

// LogtypeID identifies an entry in the logtype dictionary. IDs are assigned
// monotonically starting at FirstDictID.
type LogtypeID uint64

// VarID identifies an entry in the variable dictionary.
type VarID uint64

// NodeID identifies a schema tree node. The root is RootNodeID; real nodes
// are numbered monotonically from 1. Negative values tag schema-signature
// marker entries.
type NodeID int32

// SegmentID identifies a sealed segment within an archive. Segment ids are
// dense and monotonic, so segment-membership indices pack into bitmaps.
type SegmentID uint32

const (
	// RootNodeID is the id of the schema tree root.
	RootNodeID NodeID = 0

	// FirstDictID is the first id handed out by either dictionary. ID zero
	// is reserved as the invalid id.
	FirstDictID uint64 = 1

	// MaxLogtypeID and MaxVarID bound the dictionary id spaces. Both fit in
	// 32 bits so id sets stay packable.
	MaxLogtypeID LogtypeID = 1<<32 - 1
	MaxVarID     VarID     = 1<<32 - 1
)

// Names of the files and directories inside an archive directory.
const (
	MetadataFileName            = "metadata"
	LogtypeDictFileName         = "logtype.dict"
	LogtypeSegmentIndexFileName = "logtype.segindex"
	VarDictFileName             = "var.dict"
	VarSegmentIndexFileName     = "var.segindex"
	SchemaTreeFileName          = "schema_tree"
	TimestampDictFileName       = "timestamp.dict"
	LogsDirName                 = "logs"
	SegmentsDirName             = "segments"
)
