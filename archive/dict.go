package archive

import (
	"encoding/binary"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/pkg/wildcard"
)

// dictHeaderSize is the plain (uncompressed) header at the start of a
// dictionary or segment-index file: the entry count and the byte length of
// the block region that follows.
const dictHeaderSize = 16

// DictEntry is one dictionary entry: a stable id, the original string and
// the set of segment ids in which the value occurs.
type DictEntry struct {
	ID       uint64
	Value    string
	Segments *roaring.Bitmap
}

// DictWriter assigns ids to strings in insertion order and persists the
// id/value pairs plus a per-segment membership index. The dictionary stream
// is append-only during ingestion; entries referenced by a segment are
// always flushed before that segment seals.
type DictWriter struct {
	file    *os.File
	segFile *os.File
	codec   Codec

	maxID     uint64
	nextID    uint64
	valueToID map[string]uint64

	pendingEntries []string
	pendingSegs    []pendingSegIndex

	entriesFlushed uint64
	dataLen        uint64
	segsFlushed    uint64
	segDataLen     uint64
}

type pendingSegIndex struct {
	segment logcask.SegmentID
	ids     []uint64
}

// NewDictWriter opens (or creates) the dictionary at path for appending. An
// existing dictionary is preloaded so resumed ingestion reuses assigned ids.
func NewDictWriter(path, segIndexPath string, maxID uint64, codec Codec) (*DictWriter, error) {
	const op = "archive.NewDictWriter"

	w := &DictWriter{
		codec:     codec,
		maxID:     maxID,
		nextID:    logcask.FirstDictID,
		valueToID: make(map[string]uint64),
	}

	if _, err := os.Stat(path); err == nil {
		existing, err := LoadDict(path, segIndexPath, codec)
		if err != nil {
			return nil, err
		}
		for _, e := range existing.entries {
			w.valueToID[e.Value] = e.ID
		}
		w.nextID = logcask.FirstDictID + uint64(len(existing.entries))
		w.entriesFlushed = uint64(len(existing.entries))
	}

	var err error
	if w.file, err = openDictStream(path, w.entriesFlushed == 0); err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	if w.segFile, err = openDictStream(segIndexPath, w.entriesFlushed == 0); err != nil {
		w.file.Close()
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}

	if w.entriesFlushed > 0 {
		if w.dataLen, err = dataLenFromHeader(w.file); err != nil {
			return nil, err
		}
		if w.segDataLen, err = dataLenFromHeader(w.segFile); err != nil {
			return nil, err
		}
		var hdr [dictHeaderSize]byte
		if _, err := w.segFile.ReadAt(hdr[:], 0); err == nil {
			w.segsFlushed = binary.LittleEndian.Uint64(hdr[0:8])
		}
	}
	return w, nil
}

func openDictStream(path string, fresh bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if fresh {
		var hdr [dictHeaderSize]byte
		if _, err := f.WriteAt(hdr[:], 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func dataLenFromHeader(f *os.File) (uint64, error) {
	var hdr [dictHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return 0, errors.Wrap(err, errors.ECorruptedArchive, "archive.dataLenFromHeader")
	}
	return binary.LittleEndian.Uint64(hdr[8:16]), nil
}

// AddOccurrence returns the id for value, assigning the next id if the
// value is new. Assigning past the id space fails with OutOfRange.
func (w *DictWriter) AddOccurrence(value string) (uint64, bool, error) {
	const op = "archive.DictWriter.AddOccurrence"

	if id, ok := w.valueToID[value]; ok {
		return id, false, nil
	}
	if w.nextID > w.maxID {
		return 0, false, errors.New(errors.EOutOfRange, op, "dictionary ran out of ids")
	}
	id := w.nextID
	w.nextID++
	w.valueToID[value] = id
	w.pendingEntries = append(w.pendingEntries, value)
	return id, true, nil
}

// IndexSegment records that the given ids occur in segment.
func (w *DictWriter) IndexSegment(segment logcask.SegmentID, ids []uint64) {
	if len(ids) == 0 {
		return
	}
	sorted := make([]uint64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	w.pendingSegs = append(w.pendingSegs, pendingSegIndex{segment: segment, ids: sorted})
}

// Size returns the number of assigned entries.
func (w *DictWriter) Size() int { return len(w.valueToID) }

// Flush appends all pending entries and segment-index records as compressed
// blocks, rewrites the headers and syncs both files. Callers invoke this
// before sealing any segment that references new entries.
func (w *DictWriter) Flush() error {
	const op = "archive.DictWriter.Flush"

	if len(w.pendingEntries) > 0 {
		var bw byteWriter
		for _, v := range w.pendingEntries {
			bw.uvarint(uint64(len(v)))
			bw.str(v)
		}
		n, err := w.appendBlock(w.file, bw.buf.Bytes(), w.dataLen)
		if err != nil {
			return err
		}
		w.dataLen += uint64(n)
		w.entriesFlushed += uint64(len(w.pendingEntries))
		w.pendingEntries = w.pendingEntries[:0]
	}
	if err := writeDictHeader(w.file, w.entriesFlushed, w.dataLen); err != nil {
		return err
	}

	if len(w.pendingSegs) > 0 {
		var bw byteWriter
		for _, ps := range w.pendingSegs {
			bw.uint32(uint32(ps.segment))
			bw.uint32(uint32(len(ps.ids)))
			for _, id := range ps.ids {
				bw.uint32(uint32(id))
			}
		}
		n, err := w.appendBlock(w.segFile, bw.buf.Bytes(), w.segDataLen)
		if err != nil {
			return err
		}
		w.segDataLen += uint64(n)
		w.segsFlushed += uint64(len(w.pendingSegs))
		w.pendingSegs = w.pendingSegs[:0]
	}
	if err := writeDictHeader(w.segFile, w.segsFlushed, w.segDataLen); err != nil {
		return err
	}

	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	if err := w.segFile.Sync(); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	return nil
}

func (w *DictWriter) appendBlock(f *os.File, data []byte, dataLen uint64) (int64, error) {
	if _, err := f.Seek(int64(dictHeaderSize+dataLen), io.SeekStart); err != nil {
		return 0, errors.Wrap(err, errors.EIoErrno, "archive.DictWriter.appendBlock")
	}
	return writeBlock(f, w.codec, data)
}

func writeDictHeader(f *os.File, count, dataLen uint64) error {
	var hdr [dictHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], count)
	binary.LittleEndian.PutUint64(hdr[8:16], dataLen)
	if _, err := f.WriteAt(hdr[:], 0); err != nil {
		return errors.Wrap(err, errors.EIoErrno, "archive.writeDictHeader")
	}
	return nil
}

// OnDiskSize returns the flushed byte size of both streams.
func (w *DictWriter) OnDiskSize() uint64 {
	return 2*dictHeaderSize + w.dataLen + w.segDataLen
}

// Close flushes and closes both streams.
func (w *DictWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, errors.EIoErrno, "archive.DictWriter.Close")
	}
	if err := w.segFile.Close(); err != nil {
		return errors.Wrap(err, errors.EIoErrno, "archive.DictWriter.Close")
	}
	return nil
}

// Dict is a read-only dictionary.
type Dict struct {
	entries   []DictEntry
	valueToID map[string]uint64
}

// LoadDict reads a dictionary and its segment index from disk.
func LoadDict(path, segIndexPath string, codec Codec) (*Dict, error) {
	const op = "archive.LoadDict"

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.EFileNotFound, op)
		}
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	defer f.Close()

	count, dataLen, err := readDictHeader(f)
	if err != nil {
		return nil, err
	}
	d := &Dict{
		entries:   make([]DictEntry, 0, count),
		valueToID: make(map[string]uint64, count),
	}

	nextID := logcask.FirstDictID
	var consumed uint64
	for consumed < dataLen {
		data, err := readBlock(f, codec)
		if err != nil {
			return nil, errors.Wrap(err, errors.ECorruptedArchive, op)
		}
		br := newByteReader(data, op)
		for br.remaining() > 0 {
			v := br.str(int(br.uvarint()))
			if br.err != nil {
				return nil, br.err
			}
			d.entries = append(d.entries, DictEntry{ID: nextID, Value: v, Segments: roaring.New()})
			d.valueToID[v] = nextID
			nextID++
		}
		consumed = blockEnd(f)
	}
	if uint64(len(d.entries)) != count {
		return nil, errors.Newf(errors.ECorruptedArchive, op,
			"dictionary header promises %d entries, found %d", count, len(d.entries))
	}

	if err := d.loadSegmentIndex(segIndexPath, codec); err != nil {
		return nil, err
	}
	return d, nil
}

func blockEnd(f *os.File) uint64 {
	pos, _ := f.Seek(0, io.SeekCurrent)
	return uint64(pos) - dictHeaderSize
}

func readDictHeader(f *os.File) (count, dataLen uint64, err error) {
	const op = "archive.readDictHeader"

	var hdr [dictHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, 0, errors.Wrap(err, errors.ECorruptedArchive, op)
	}
	count = binary.LittleEndian.Uint64(hdr[0:8])
	dataLen = binary.LittleEndian.Uint64(hdr[8:16])

	if fi, serr := f.Stat(); serr == nil && dataLen > uint64(fi.Size()) {
		return 0, 0, errors.New(errors.ECorruptedArchive, op, "dictionary header length exceeds file size")
	}
	return count, dataLen, nil
}

func (d *Dict) loadSegmentIndex(path string, codec Codec) error {
	const op = "archive.Dict.loadSegmentIndex"

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	defer f.Close()

	count, dataLen, err := readDictHeader(f)
	if err != nil {
		return err
	}
	var seen uint64
	var consumed uint64
	for consumed < dataLen {
		data, err := readBlock(f, codec)
		if err != nil {
			return errors.Wrap(err, errors.ECorruptedArchive, op)
		}
		br := newByteReader(data, op)
		for br.remaining() > 0 {
			segID := br.uint32()
			n := int(br.uint32())
			for i := 0; i < n; i++ {
				id := uint64(br.uint32())
				if br.err != nil {
					return br.err
				}
				entry, err := d.EntryByID(id)
				if err != nil {
					return errors.Wrap(err, errors.ECorruptedArchive, op)
				}
				entry.Segments.Add(segID)
			}
			seen++
		}
		consumed = blockEnd(f)
	}
	if seen != count {
		return errors.Newf(errors.ECorruptedArchive, op,
			"segment index header promises %d records, found %d", count, seen)
	}
	return nil
}

// Size returns the number of entries.
func (d *Dict) Size() int { return len(d.entries) }

// EntryByID returns the entry with the given id.
func (d *Dict) EntryByID(id uint64) (*DictEntry, error) {
	ix := id - logcask.FirstDictID
	if id < logcask.FirstDictID || ix >= uint64(len(d.entries)) {
		return nil, errors.Newf(errors.EOutOfRange, "archive.Dict.EntryByID", "no entry with id %d", id)
	}
	return &d.entries[ix], nil
}

// Value returns the string for the given id.
func (d *Dict) Value(id uint64) (string, error) {
	e, err := d.EntryByID(id)
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// IDByValue returns the id assigned to value, if any.
func (d *Dict) IDByValue(value string) (uint64, bool) {
	id, ok := d.valueToID[value]
	return id, ok
}

// EntryMatchingValue returns the entry whose value equals value. With
// ignoreCase, comparison lowercases both sides; the first match in id order
// wins.
func (d *Dict) EntryMatchingValue(value string, ignoreCase bool) *DictEntry {
	if !ignoreCase {
		if id, ok := d.valueToID[value]; ok {
			e, _ := d.EntryByID(id)
			return e
		}
		return nil
	}
	lowered := strings.ToLower(value)
	for i := range d.entries {
		if strings.ToLower(d.entries[i].Value) == lowered {
			return &d.entries[i]
		}
	}
	return nil
}

// EntriesMatchingWildcard returns all entries whose value matches the
// wildcard pattern.
func (d *Dict) EntriesMatchingWildcard(pattern string, ignoreCase bool) []*DictEntry {
	var out []*DictEntry
	for i := range d.entries {
		var ok bool
		if ignoreCase {
			ok = wildcard.MatchIgnoreCase(d.entries[i].Value, pattern)
		} else {
			ok = wildcard.Match(d.entries[i].Value, pattern)
		}
		if ok {
			out = append(out, &d.entries[i])
		}
	}
	return out
}
