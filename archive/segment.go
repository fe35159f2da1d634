package archive

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

// segmentMagic terminates every segment file.
const segmentMagic uint32 = 0x4753434c

// segmentFooterSize is the fixed trailer: table-of-contents offset, table
// count and magic.
const segmentFooterSize = 8 + 4 + 4

// tableKind distinguishes the blocks inside a segment.
type tableKind uint8

const (
	// tableKindSchema blocks hold the columns of one schema signature.
	tableKindSchema tableKind = iota

	// tableKindFile blocks hold the encoded messages of one unstructured
	// log file.
	tableKindFile
)

// tocEntry locates one table inside a segment file.
type tocEntry struct {
	Kind        tableKind
	ID          int64
	Offset      uint64
	Length      uint64
	NumMessages uint64
}

// segmentBuilder accumulates compressed table blocks for the segment being
// written. A segment is immutable once sealed: the builder writes the whole
// file, including the table of contents and footer, in one shot.
type segmentBuilder struct {
	id    logcask.SegmentID
	codec Codec

	buf              bytes.Buffer
	toc              []tocEntry
	uncompressedSize uint64
}

func newSegmentBuilder(id logcask.SegmentID, codec Codec) *segmentBuilder {
	return &segmentBuilder{id: id, codec: codec}
}

// appendTable compresses payload and records its table-of-contents entry.
func (b *segmentBuilder) appendTable(kind tableKind, id int64, numMessages uint64, payload []byte) error {
	offset := uint64(b.buf.Len())
	n, err := writeBlock(&b.buf, b.codec, payload)
	if err != nil {
		return err
	}
	b.toc = append(b.toc, tocEntry{
		Kind:        kind,
		ID:          id,
		Offset:      offset,
		Length:      uint64(n),
		NumMessages: numMessages,
	})
	b.uncompressedSize += uint64(len(payload))
	return nil
}

func (b *segmentBuilder) empty() bool { return len(b.toc) == 0 }

// seal writes the segment file and syncs it. The file only becomes visible
// to readers once its metadata row commits.
func (b *segmentBuilder) seal(segmentsDir string) (compressedSize uint64, err error) {
	const op = "archive.segmentBuilder.seal"

	var bw byteWriter
	tocOffset := uint64(b.buf.Len())
	for _, e := range b.toc {
		bw.byte(byte(e.Kind))
		bw.int64(e.ID)
		bw.uint64(e.Offset)
		bw.uint64(e.Length)
		bw.uint64(e.NumMessages)
	}
	bw.uint64(tocOffset)
	bw.uint32(uint32(len(b.toc)))
	bw.uint32(segmentMagic)

	path := filepath.Join(segmentsDir, strconv.FormatUint(uint64(b.id), 10))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return 0, errors.Wrap(err, errors.EAlreadyOpen, op)
		}
		return 0, errors.Wrap(err, errors.EIoErrno, op)
	}
	defer f.Close()

	if _, err := f.Write(b.buf.Bytes()); err != nil {
		return 0, errors.Wrap(err, errors.EIoErrno, op)
	}
	if _, err := f.Write(bw.buf.Bytes()); err != nil {
		return 0, errors.Wrap(err, errors.EIoErrno, op)
	}
	if err := f.Sync(); err != nil {
		return 0, errors.Wrap(err, errors.EIoErrno, op)
	}
	return uint64(b.buf.Len()) + uint64(bw.buf.Len()), nil
}

// segmentReader reads tables back out of a sealed segment.
type segmentReader struct {
	id    logcask.SegmentID
	f     *os.File
	codec Codec
	toc   []tocEntry
}

// openSegment opens a sealed segment and parses its table of contents. The
// entries come back in file order, so walking them sequentially avoids
// seeking.
func openSegment(segmentsDir string, id logcask.SegmentID, codec Codec) (*segmentReader, error) {
	const op = "archive.openSegment"

	path := filepath.Join(segmentsDir, strconv.FormatUint(uint64(id), 10))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.EFileNotFound, op)
		}
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	if fi.Size() < segmentFooterSize {
		f.Close()
		return nil, errors.New(errors.ECorruptedArchive, op, "segment smaller than footer")
	}

	var footer [segmentFooterSize]byte
	if _, err := f.ReadAt(footer[:], fi.Size()-segmentFooterSize); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	tocOffset := binary.LittleEndian.Uint64(footer[0:8])
	numTables := binary.LittleEndian.Uint32(footer[8:12])
	if binary.LittleEndian.Uint32(footer[12:16]) != segmentMagic {
		f.Close()
		return nil, errors.New(errors.ECorruptedArchive, op, "bad segment magic")
	}

	tocLen := fi.Size() - segmentFooterSize - int64(tocOffset)
	if tocLen < 0 {
		f.Close()
		return nil, errors.New(errors.ECorruptedArchive, op, "table of contents offset beyond file")
	}
	tocBytes := make([]byte, tocLen)
	if _, err := f.ReadAt(tocBytes, int64(tocOffset)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}

	br := newByteReader(tocBytes, op)
	toc := make([]tocEntry, 0, numTables)
	for i := uint32(0); i < numTables; i++ {
		toc = append(toc, tocEntry{
			Kind:        tableKind(br.byte()),
			ID:          br.int64(),
			Offset:      br.uint64(),
			Length:      br.uint64(),
			NumMessages: br.uint64(),
		})
	}
	if br.err != nil {
		f.Close()
		return nil, errors.Wrap(br.err, errors.ECorruptedArchive, op)
	}

	return &segmentReader{id: id, f: f, codec: codec, toc: toc}, nil
}

// readTable returns the decompressed payload of the table at toc index ix.
func (s *segmentReader) readTable(ix int) ([]byte, error) {
	const op = "archive.segmentReader.readTable"

	if ix < 0 || ix >= len(s.toc) {
		return nil, errors.Newf(errors.EOutOfRange, op, "no table at index %d", ix)
	}
	e := s.toc[ix]
	if _, err := s.f.Seek(int64(e.Offset), io.SeekStart); err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	return readBlock(s.f, s.codec)
}

func (s *segmentReader) Close() error {
	return s.f.Close()
}
