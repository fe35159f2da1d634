package archive

import (
	"math"

	"github.com/google/uuid"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

// fileState tracks an unstructured log file through its lifecycle. Writes
// are only legal before the file's contents are handed to a segment.
type fileState uint8

const (
	fileOpen fileState = iota
	fileAppendingToSegment
	fileInSealedSegment
	fileMetadataClean
)

// File buffers the encoded messages of one unstructured log file until the
// file is appended to a segment. Messages are stored columnar: timestamps,
// logtype ids and a flat variable array with per-message offsets, dictionary
// variable ids riding inline in placeholder order.
type File struct {
	id         uuid.UUID
	origFileID uuid.UUID
	path       string
	splitIx    int64
	state      fileState

	timestamps []int64
	logtypes   []uint64
	offsets    []uint32
	vars       []int64

	beginTs int64
	endTs   int64

	numUncompressedBytes uint64

	segmentID      logcask.SegmentID
	segmentTableIx int64
}

// newFile returns an open file for the original log at path.
func newFile(id, origFileID uuid.UUID, path string, splitIx int64) *File {
	return &File{
		id:         id,
		origFileID: origFileID,
		path:       path,
		splitIx:    splitIx,
		beginTs:    math.MaxInt64,
		endTs:      math.MinInt64,
	}
}

// ID returns the file's unique id.
func (f *File) ID() uuid.UUID { return f.id }

// Path returns the original log file path.
func (f *File) Path() string { return f.path }

// NumMessages returns the number of buffered messages.
func (f *File) NumMessages() uint64 { return uint64(len(f.timestamps)) }

// NumUncompressedBytes returns the total size of the original text written
// into this file.
func (f *File) NumUncompressedBytes() uint64 { return f.numUncompressedBytes }

// writeEncodedMsg appends an encoded message. It fails with Unsupported once
// the file has been handed to a segment.
func (f *File) writeEncodedMsg(ts int64, logtypeID uint64, vars []int64, numUncompressedBytes uint64) error {
	const op = "archive.File.writeEncodedMsg"

	if f.state != fileOpen {
		return errors.New(errors.EUnsupported, op, "file already appended to a segment")
	}
	f.timestamps = append(f.timestamps, ts)
	f.logtypes = append(f.logtypes, logtypeID)
	f.offsets = append(f.offsets, uint32(len(f.vars)))
	f.vars = append(f.vars, vars...)
	f.numUncompressedBytes += numUncompressedBytes
	if ts < f.beginTs {
		f.beginTs = ts
	}
	if ts > f.endTs {
		f.endTs = ts
	}
	return nil
}

// uncompressedSize returns the columnar byte size of the buffered messages.
func (f *File) uncompressedSize() uint64 {
	return uint64(8*len(f.timestamps) + 8*len(f.logtypes) + 4*len(f.offsets) + 8*len(f.vars))
}

// appendToSegment serializes the file's columns into the segment builder and
// advances the file's state.
func (f *File) appendToSegment(b *segmentBuilder) error {
	const op = "archive.File.appendToSegment"

	if f.state != fileOpen {
		return errors.New(errors.EUnsupported, op, "file already appended to a segment")
	}

	var bw byteWriter
	bw.uint64(uint64(len(f.timestamps)))
	bw.int64s(f.timestamps)
	bw.uint64s(f.logtypes)
	bw.uint32s(f.offsets)
	bw.uint64(uint64(len(f.vars)))
	bw.int64s(f.vars)

	f.segmentID = b.id
	f.segmentTableIx = int64(len(b.toc))
	if err := b.appendTable(tableKindFile, f.segmentTableIx, uint64(len(f.timestamps)), bw.buf.Bytes()); err != nil {
		return err
	}
	f.state = fileAppendingToSegment
	return nil
}

func (f *File) markInSealedSegment() { f.state = fileInSealedSegment }
func (f *File) markMetadataClean()   { f.state = fileMetadataClean }

func (f *File) metadata() FileMetadata {
	begin, end := f.beginTs, f.endTs
	if len(f.timestamps) == 0 {
		begin, end = 0, 0
	}
	return FileMetadata{
		ID:             f.id.String(),
		OrigFileID:     f.origFileID.String(),
		Path:           f.path,
		SplitIx:        f.splitIx,
		BeginTs:        begin,
		EndTs:          end,
		NumMessages:    uint64(len(f.timestamps)),
		SegmentID:      f.segmentID,
		SegmentTableIx: f.segmentTableIx,
	}
}

// FileTable is the decoded columnar form of one file, loaded from a
// segment.
type FileTable struct {
	timestamps []int64
	logtypes   []uint64
	offsets    []uint32
	vars       []int64
}

func decodeFileTable(data []byte) (*FileTable, error) {
	const op = "archive.decodeFileTable"

	br := newByteReader(data, op)
	n := int(br.uint64())
	t := &FileTable{
		timestamps: br.int64s(n),
		logtypes:   br.uint64s(n),
		offsets:    br.uint32s(n),
	}
	t.vars = br.int64s(int(br.uint64()))
	if br.err != nil {
		return nil, br.err
	}
	return t, nil
}

// Message is one encoded message drawn from a file table.
type Message struct {
	Ix        int
	Timestamp int64
	LogtypeID uint64
	Vars      []int64
}

// NumMessages returns the number of messages in the file.
func (t *FileTable) NumMessages() int { return len(t.timestamps) }

// Message returns the encoded message at index ix.
func (t *FileTable) Message(ix int) Message {
	end := uint32(len(t.vars))
	if ix+1 < len(t.offsets) {
		end = t.offsets[ix+1]
	}
	return Message{
		Ix:        ix,
		Timestamp: t.timestamps[ix],
		LogtypeID: t.logtypes[ix],
		Vars:      t.vars[t.offsets[ix]:end],
	}
}
