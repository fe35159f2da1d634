package archive

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/varenc"
)

// tableLoc locates one schema table within the archive's segments.
type tableLoc struct {
	segment     logcask.SegmentID
	tocIx       int
	numMessages int
}

// A ReaderOption is a functional option for changing the configuration of a
// Reader.
type ReaderOption func(*Reader)

// WithReaderLogger sets the logger on the reader.
func WithReaderLogger(log *zap.Logger) ReaderOption {
	return func(r *Reader) { r.logger = log }
}

// Reader materializes records back out of a sealed archive. Multiple readers
// may open the same archive concurrently; a reader never mutates it.
type Reader struct {
	path   string
	logger *zap.Logger

	meta     Metadata
	codec    Codec
	encoding varenc.Encoding

	tree          *SchemaTree
	schemas       []*Schema
	schemasByID   map[int32]*Schema
	logtypeDict   *Dict
	varDict       *Dict
	timestampDict *TimestampDict
	files         []FileMetadata

	segments    []logcask.SegmentID
	segReaders  map[logcask.SegmentID]*segmentReader
	tableLocs   map[int32][]tableLoc
	schemaOrder []int32

	loaded bool
}

// OpenReader opens the archive directory and validates its metadata. The
// dictionaries and schema map load on ReadDictionariesAndMetadata.
func OpenReader(archiveDir string, opts ...ReaderOption) (*Reader, error) {
	const op = "archive.OpenReader"

	meta, err := readMetadataFile(filepath.Join(archiveDir, logcask.MetadataFileName))
	if err != nil {
		return nil, err
	}
	codec, err := CodecByName(meta.Codec)
	if err != nil {
		return nil, err
	}
	enc := varenc.EightByte
	if meta.FourByteEncoding {
		enc = varenc.FourByte
	}

	r := &Reader{
		path:       archiveDir,
		logger:     zap.NewNop(),
		meta:       meta,
		codec:      codec,
		encoding:   enc,
		segReaders: make(map[logcask.SegmentID]*segmentReader),
		tableLocs:  make(map[int32][]tableLoc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Metadata returns the archive metadata.
func (r *Reader) Metadata() Metadata { return r.meta }

// Encoding returns the archive's encoded-variable width.
func (r *Reader) Encoding() varenc.Encoding { return r.encoding }

// ReadDictionariesAndMetadata materializes the schema tree, both
// dictionaries, the timestamp dictionary, the schema signatures and the
// per-schema table locations.
func (r *Reader) ReadDictionariesAndMetadata() error {
	const op = "archive.Reader.ReadDictionariesAndMetadata"

	if r.loaded {
		return nil
	}

	treeFile, err := os.Open(filepath.Join(r.path, logcask.SchemaTreeFileName))
	if err != nil {
		return errors.Wrap(err, errors.EFileNotFound, op)
	}
	tree, schemas, err := readSchemaTree(treeFile, r.codec)
	treeFile.Close()
	if err != nil {
		return err
	}
	r.tree = tree
	r.schemas = schemas
	r.schemasByID = make(map[int32]*Schema, len(schemas))
	for _, s := range schemas {
		r.schemasByID[s.ID] = s
	}

	if r.logtypeDict, err = LoadDict(
		filepath.Join(r.path, logcask.LogtypeDictFileName),
		filepath.Join(r.path, logcask.LogtypeSegmentIndexFileName), r.codec); err != nil {
		return err
	}
	if r.varDict, err = LoadDict(
		filepath.Join(r.path, logcask.VarDictFileName),
		filepath.Join(r.path, logcask.VarSegmentIndexFileName), r.codec); err != nil {
		return err
	}

	tsFile, err := os.Open(filepath.Join(r.path, logcask.TimestampDictFileName))
	if err == nil {
		r.timestampDict, err = readTimestampDict(tsFile, r.codec)
		tsFile.Close()
		if err != nil {
			return err
		}
	} else if os.IsNotExist(err) {
		r.timestampDict = NewTimestampDict()
	} else {
		return errors.Wrap(err, errors.EIoErrno, op)
	}

	fileDB, err := openFileMetadataDB(filepath.Join(r.path, logcask.LogsDirName, "files.db"))
	if err == nil {
		r.files, err = fileDB.listFiles()
		fileDB.Close()
		if err != nil {
			return err
		}
	}

	if err := r.scanSegments(); err != nil {
		return err
	}

	r.loaded = true
	return nil
}

// scanSegments enumerates the sealed segment files and indexes their tables
// of contents. Schema ids come back in (segment, offset) order so sequential
// reads avoid seeking.
func (r *Reader) scanSegments() error {
	const op = "archive.Reader.scanSegments"

	dir := filepath.Join(r.path, logcask.SegmentsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	for _, e := range entries {
		id, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		r.segments = append(r.segments, logcask.SegmentID(id))
	}
	sort.Slice(r.segments, func(i, j int) bool { return r.segments[i] < r.segments[j] })

	for _, segID := range r.segments {
		seg, err := r.openSegment(segID)
		if err != nil {
			return err
		}
		for ix, entry := range seg.toc {
			if entry.Kind != tableKindSchema {
				continue
			}
			schemaID := int32(entry.ID)
			if len(r.tableLocs[schemaID]) == 0 {
				r.schemaOrder = append(r.schemaOrder, schemaID)
			}
			r.tableLocs[schemaID] = append(r.tableLocs[schemaID], tableLoc{
				segment:     segID,
				tocIx:       ix,
				numMessages: int(entry.NumMessages),
			})
		}
	}
	return nil
}

func (r *Reader) openSegment(id logcask.SegmentID) (*segmentReader, error) {
	if seg, ok := r.segReaders[id]; ok {
		return seg, nil
	}
	seg, err := openSegment(filepath.Join(r.path, logcask.SegmentsDirName), id, r.codec)
	if err != nil {
		return nil, err
	}
	r.segReaders[id] = seg
	return seg, nil
}

// Schemas returns the schema ids with stored tables, in storage order.
func (r *Reader) Schemas() []int32 { return r.schemaOrder }

// Segments returns the sealed segment ids in order.
func (r *Reader) Segments() []logcask.SegmentID { return r.segments }

// Files returns the committed unstructured files in storage order.
func (r *Reader) Files() []FileMetadata { return r.files }

// Tree returns the archive's schema tree.
func (r *Reader) Tree() *SchemaTree { return r.tree }

// LogtypeDict returns the logtype dictionary.
func (r *Reader) LogtypeDict() *Dict { return r.logtypeDict }

// VarDict returns the variable dictionary.
func (r *Reader) VarDict() *Dict { return r.varDict }

// TimestampDict returns the timestamp dictionary.
func (r *Reader) TimestampDict() *TimestampDict { return r.timestampDict }

// ReadSchemaTable loads the columns of one schema signature and returns a
// SchemaReader over its rows.
func (r *Reader) ReadSchemaTable(schemaID int32, extractTimestamp, marshalRecords bool) (*SchemaReader, error) {
	const op = "archive.Reader.ReadSchemaTable"

	if !r.loaded {
		return nil, errors.New(errors.ENotInitialized, op, "dictionaries not read")
	}
	schema, ok := r.schemasByID[schemaID]
	if !ok {
		return nil, errors.Newf(errors.EOutOfRange, op, "no schema with id %d", schemaID)
	}
	locs := r.tableLocs[schemaID]
	if len(locs) == 0 {
		return nil, errors.Newf(errors.EOutOfRange, op, "schema %d has no stored table", schemaID)
	}

	total := 0
	for _, loc := range locs {
		total += loc.numMessages
	}
	sr := newSchemaReader(r, schema, total, marshalRecords)
	if err := sr.buildStructure(); err != nil {
		return nil, err
	}

	// A schema's rows may span several segments; blocks chain in segment
	// order so row indices stay in insertion order.
	for _, loc := range locs {
		seg, err := r.openSegment(loc.segment)
		if err != nil {
			return nil, err
		}
		data, err := seg.readTable(loc.tocIx)
		if err != nil {
			return nil, err
		}
		if err := sr.loadBlock(data, loc.numMessages); err != nil {
			return nil, err
		}
	}

	if err := sr.finish(extractTimestamp); err != nil {
		return nil, err
	}
	return sr, nil
}

// ReadAllTables returns a SchemaReader for every stored table, ready for
// log-order merging.
func (r *Reader) ReadAllTables(extractTimestamp, marshalRecords bool) ([]*SchemaReader, error) {
	readers := make([]*SchemaReader, 0, len(r.schemaOrder))
	for _, schemaID := range r.schemaOrder {
		sr, err := r.ReadSchemaTable(schemaID, extractTimestamp, marshalRecords)
		if err != nil {
			return nil, err
		}
		readers = append(readers, sr)
	}
	return readers, nil
}

// OpenFileTable loads the encoded messages of one unstructured file.
func (r *Reader) OpenFileTable(meta FileMetadata) (*FileTable, error) {
	seg, err := r.openSegment(meta.SegmentID)
	if err != nil {
		return nil, err
	}
	data, err := seg.readTable(int(meta.SegmentTableIx))
	if err != nil {
		return nil, err
	}
	return decodeFileTable(data)
}

// DecodeMessage reconstructs the text of one unstructured message.
func (r *Reader) DecodeMessage(msg Message) (string, error) {
	const op = "archive.Reader.DecodeMessage"

	logtype, err := r.logtypeDict.Value(msg.LogtypeID)
	if err != nil {
		return "", errors.Wrap(err, errors.ECorruptedArchive, op)
	}
	var vars []int64
	var dictVars []string
	varIx := 0
	for i := 0; i < len(logtype); i++ {
		switch logtype[i] {
		case logcask.PlaceholderEscape:
			i++
		case logcask.PlaceholderInteger, logcask.PlaceholderFloat:
			if varIx >= len(msg.Vars) {
				return "", errors.New(errors.ECorruptedArchive, op, "variable span shorter than logtype")
			}
			vars = append(vars, msg.Vars[varIx])
			varIx++
		case logcask.PlaceholderDictionary:
			if varIx >= len(msg.Vars) {
				return "", errors.New(errors.ECorruptedArchive, op, "variable span shorter than logtype")
			}
			value, err := r.varDict.Value(uint64(msg.Vars[varIx]))
			if err != nil {
				return "", errors.Wrap(err, errors.ECorruptedArchive, op)
			}
			dictVars = append(dictVars, value)
			varIx++
		}
	}
	return r.encoding.DecodeMessage(logtype, vars, dictVars)
}

// Close releases every open segment handle.
func (r *Reader) Close() error {
	var firstErr error
	for _, seg := range r.segReaders {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.segReaders = make(map[logcask.SegmentID]*segmentReader)
	return firstErr
}
