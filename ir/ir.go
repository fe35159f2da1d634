// Package ir implements the self-describing byte stream for unstructured log
// events. A stream carries a magic number selecting the four- or eight-byte
// variable encoding, a JSON metadata block, and a sequence of encoded
// messages, each framed as variables, logtype and timestamp with the writer
// always choosing the smallest valid variant.
package ir

// Magic numbers distinguishing the two stream variants. Fixed wire-format
// constants.
var (
	MagicNumberFourByte  = [4]byte{0xFD, 0x2F, 0xB5, 0x29}
	MagicNumberEightByte = [4]byte{0xFD, 0x2F, 0xB5, 0x30}
)

// Version is the only metadata version this implementation understands.
const Version = "0.0.1"

// Metadata encoding and length tags for the preamble.
const (
	metadataJSONEncoding byte = 0x1
	metadataLenUByte     byte = 0x11
	metadataLenUShort    byte = 0x12
)

// Payload tags. The low nibble orders length variants from smallest to
// largest; readers accept all variants regardless of the value's magnitude.
const (
	tagEndOfStream byte = 0x00

	tagDictVarLenUByte  byte = 0x11
	tagDictVarLenUShort byte = 0x12
	tagDictVarLenInt    byte = 0x13

	tagVarFourByte  byte = 0x18
	tagVarEightByte byte = 0x19

	tagLogtypeLenUByte  byte = 0x21
	tagLogtypeLenUShort byte = 0x22
	tagLogtypeLenInt    byte = 0x23

	tagTimestamp           byte = 0x30
	tagTimestampDeltaByte  byte = 0x31
	tagTimestampDeltaShort byte = 0x32
	tagTimestampDeltaInt   byte = 0x33
	tagTimestampDeltaLong  byte = 0x34
)

// Metadata is the JSON block following the magic number. The reference
// timestamp is only present in four-byte streams, where per-message
// timestamps are deltas against the running timestamp that starts at the
// reference.
type Metadata struct {
	Version                string `json:"VERSION"`
	TimestampPattern       string `json:"TIMESTAMP_PATTERN"`
	TimestampPatternSyntax string `json:"TIMESTAMP_PATTERN_SYNTAX"`
	TimeZoneID             string `json:"TZ_ID"`
	ReferenceTimestamp     int64  `json:"REFERENCE_TIMESTAMP,omitempty"`
}

// LogEvent is one decoded message from a stream.
type LogEvent struct {
	// Timestamp is the absolute epoch-ms timestamp. For four-byte streams
	// the reader accumulates deltas on the caller's behalf.
	Timestamp int64
	Message   string
}
