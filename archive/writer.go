package archive

import (
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/pkg/utf8filter"
	"github.com/logcask/logcask/varenc"
)

// DefaultTargetSegmentUncompressedSize is the open-segment size at which the
// writer seals.
const DefaultTargetSegmentUncompressedSize = 256 * 1024 * 1024

// Config holds the writer's tunables.
type Config struct {
	OutputDir                     string `toml:"output-dir"`
	TargetSegmentUncompressedSize uint64 `toml:"target-segment-uncompressed-size"`
	Codec                         string `toml:"codec"`
	TimestampKey                  string `toml:"timestamp-key"`
	StructurizeArrays             bool   `toml:"structurize-arrays"`
	FourByteEncoding              bool   `toml:"four-byte-encoding"`
}

// NewConfig returns a new instance of Config with defaults.
func NewConfig() Config {
	return Config{
		TargetSegmentUncompressedSize: DefaultTargetSegmentUncompressedSize,
		Codec:                         DefaultCodec,
	}
}

func (c Config) encoding() varenc.Encoding {
	if c.FourByteEncoding {
		return varenc.FourByte
	}
	return varenc.EightByte
}

// A WriterOption is a functional option for changing the configuration of a
// Writer.
type WriterOption func(*Writer)

// WithLogger sets the logger on the writer.
func WithLogger(log *zap.Logger) WriterOption {
	return func(w *Writer) { w.logger = log }
}

// WithClock sets the clock used for archive timestamps.
func WithClock(c clock.Clock) WriterOption {
	return func(w *Writer) { w.clock = c }
}

// WithGlobalMetadataDB sets the global metadata store the writer reports to.
func WithGlobalMetadataDB(g GlobalMetadataDB) WriterOption {
	return func(w *Writer) { w.global = g }
}

// WithArchiveID pins the archive id instead of generating one.
func WithArchiveID(id uuid.UUID) WriterOption {
	return func(w *Writer) { w.id = id }
}

// WithCreator sets the creator id and creation counter recorded in the
// global metadata store.
func WithCreator(creatorID uuid.UUID, creationNum uint64) WriterOption {
	return func(w *Writer) {
		w.creatorID = creatorID
		w.creationNum = creationNum
	}
}

// WithUtf8Policy sets the UTF-8 policy applied to unstructured messages.
func WithUtf8Policy(p utf8filter.Policy) WriterOption {
	return func(w *Writer) { w.utf8 = utf8filter.New(p) }
}

// schemaTable accumulates the open columns of one schema signature.
type schemaTable struct {
	schema  *Schema
	columns []ColumnWriter

	// eventIdxs is the implicit per-row log-event index column used for
	// log-order decompression.
	eventIdxs []int64
}

func (t *schemaTable) rows() int { return len(t.eventIdxs) }

func (t *schemaTable) size() uint64 {
	n := uint64(8 * len(t.eventIdxs))
	for _, c := range t.columns {
		if c != nil {
			n += uint64(c.Size())
		}
	}
	return n
}

// Writer ingests records into one archive. A single writer owns the archive
// directory exclusively; concurrent open attempts fail.
type Writer struct {
	cfg    Config
	logger *zap.Logger
	clock  clock.Clock
	utf8   *utf8filter.Filter

	codec    Codec
	encoding varenc.Encoding

	id          uuid.UUID
	creatorID   uuid.UUID
	creationNum uint64
	path        string

	tree        *SchemaTree
	logtypeDict *DictWriter
	varDict     *DictWriter
	tsDict      *TimestampDict

	tables       map[string]*schemaTable
	allSchemas   []*Schema
	nextSchemaID int32

	segment        *segmentBuilder
	nextSegmentID  logcask.SegmentID
	filesInSegment []*File
	curFile        *File

	logtypeIDsInSegment map[uint64]struct{}
	varIDsInSegment     map[uint64]struct{}

	openSize          uint64
	totalUncompressed uint64
	totalCompressed   uint64

	beginTs int64
	endTs   int64

	nextEventIdx int64

	metadataFile *os.File
	fileDB       *fileMetadataDB
	global       GlobalMetadataDB

	metrics *writerMetrics
	opened  bool
}

// NewWriter returns a writer for a new archive under cfg.OutputDir. Call
// Open before ingesting.
func NewWriter(cfg Config, opts ...WriterOption) (*Writer, error) {
	if cfg.TargetSegmentUncompressedSize == 0 {
		cfg.TargetSegmentUncompressedSize = DefaultTargetSegmentUncompressedSize
	}
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		cfg:      cfg,
		logger:   zap.NewNop(),
		clock:    clock.New(),
		utf8:     utf8filter.New(utf8filter.SubstituteReplacementCharacter),
		codec:    codec,
		encoding: cfg.encoding(),
		id:       uuid.New(),
		global:   NopGlobalMetadataDB{},

		tree:   NewSchemaTree(),
		tsDict: NewTimestampDict(),
		tables: make(map[string]*schemaTable),

		logtypeIDsInSegment: make(map[uint64]struct{}),
		varIDsInSegment:     make(map[uint64]struct{}),

		beginTs: math.MaxInt64,
		endTs:   math.MinInt64,

		metrics: newWriterMetrics(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// ID returns the archive id.
func (w *Writer) ID() uuid.UUID { return w.id }

// Path returns the archive directory, valid after Open.
func (w *Writer) Path() string { return w.path }

// Metrics returns the writer's prometheus collectors.
func (w *Writer) Metrics() *writerMetrics { return w.metrics }

// Open creates the archive directory, its metadata stores and its
// dictionaries. The directory must not already exist: exclusive directory
// ownership is how the single-writer rule is enforced.
func (w *Writer) Open() error {
	const op = "archive.Writer.Open"

	if w.opened {
		return errors.New(errors.EAlreadyOpen, op, "")
	}

	w.path = filepath.Join(w.cfg.OutputDir, w.id.String())
	if err := os.Mkdir(w.path, 0o750); err != nil {
		if os.IsExist(err) {
			return errors.Wrap(err, errors.EAlreadyOpen, op)
		}
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	for _, sub := range []string{logcask.LogsDirName, logcask.SegmentsDirName} {
		if err := os.Mkdir(filepath.Join(w.path, sub), 0o750); err != nil {
			return errors.Wrap(err, errors.EIoErrno, op)
		}
	}

	f, err := os.OpenFile(filepath.Join(w.path, logcask.MetadataFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	w.metadataFile = f
	if err := writeMetadataFile(f, w.metadata()); err != nil {
		return err
	}

	if w.fileDB, err = openFileMetadataDB(filepath.Join(w.path, logcask.LogsDirName, "files.db")); err != nil {
		return err
	}

	if w.logtypeDict, err = NewDictWriter(
		filepath.Join(w.path, logcask.LogtypeDictFileName),
		filepath.Join(w.path, logcask.LogtypeSegmentIndexFileName),
		uint64(logcask.MaxLogtypeID), w.codec); err != nil {
		return err
	}
	if w.varDict, err = NewDictWriter(
		filepath.Join(w.path, logcask.VarDictFileName),
		filepath.Join(w.path, logcask.VarSegmentIndexFileName),
		uint64(logcask.MaxVarID), w.codec); err != nil {
		return err
	}

	if err := w.global.Open(); err != nil {
		return err
	}
	if err := w.global.AddArchive(w.id.String(), w.creatorID.String(), w.creationNum); err != nil {
		return err
	}

	w.opened = true
	w.logger.Info("archive opened",
		zap.String("id", w.id.String()),
		zap.String("path", w.path),
		zap.Time("created_at", w.clock.Now()))
	return nil
}

// IngestRecord decomposes one JSON record against the schema tree and
// appends its values to the columns of its signature, sealing the open
// segment when the size threshold is met.
func (w *Writer) IngestRecord(data []byte) error {
	const op = "archive.Writer.IngestRecord"

	if !w.opened {
		return errors.New(errors.ENotInitialized, op, "")
	}

	rec, err := w.parseRecord(data)
	if err != nil {
		return err
	}

	table, err := w.tableFor(rec.schema)
	if err != nil {
		return err
	}
	if err := w.appendRecord(table, rec); err != nil {
		return err
	}

	w.openSize += uint64(len(data))
	w.totalUncompressed += uint64(len(data))
	w.metrics.RecordsIngested.Inc()
	w.metrics.BytesIn.Add(float64(len(data)))

	if w.openSize >= w.cfg.TargetSegmentUncompressedSize {
		return w.sealSegment()
	}
	return nil
}

// tableFor finds or creates the column set keyed by the record's signature.
func (w *Writer) tableFor(schema *Schema) (*schemaTable, error) {
	key := schema.Key()
	if t, ok := w.tables[key]; ok {
		return t, nil
	}

	s := schema.Copy()
	s.ID = w.nextSchemaID
	w.nextSchemaID++
	w.allSchemas = append(w.allSchemas, s)

	t := &schemaTable{schema: s}
	if err := w.buildColumns(t); err != nil {
		return nil, err
	}
	w.tables[key] = t
	return t, nil
}

func (w *Writer) buildColumns(t *schemaTable) error {
	t.columns = t.columns[:0]
	for _, entry := range t.schema.Entries() {
		if EntryIsMarker(entry) {
			continue
		}
		node, err := w.tree.Node(logcask.NodeID(entry))
		if err != nil {
			return err
		}
		t.columns = append(t.columns, newColumnWriter(node.ID, node.Type))
	}
	return nil
}

// appendRecord routes each leaf value into its column in signature order.
func (w *Writer) appendRecord(t *schemaTable, rec *parsedRecord) error {
	const op = "archive.Writer.appendRecord"

	colIx := 0
	unorderedIx := 0
	for i, entry := range t.schema.Entries() {
		if EntryIsMarker(entry) {
			continue
		}
		var pv parsedValue
		if i < t.schema.NumOrdered() {
			var ok bool
			pv, ok = rec.ordered[logcask.NodeID(entry)]
			if !ok {
				return errors.Newf(errors.EInternal, op, "record missing value for node %d", entry)
			}
		} else {
			col := t.columns[colIx]
			if col != nil {
				if unorderedIx >= len(rec.unordered) {
					return errors.New(errors.EInternal, op, "record missing unordered value")
				}
				pv = rec.unordered[unorderedIx]
				unorderedIx++
			}
		}
		if err := w.appendValue(t.columns[colIx], pv); err != nil {
			return err
		}
		colIx++
	}

	t.eventIdxs = append(t.eventIdxs, w.nextEventIdx)
	w.nextEventIdx++
	return nil
}

func (w *Writer) appendValue(col ColumnWriter, pv parsedValue) error {
	switch c := col.(type) {
	case nil:
		// NullValue and empty-object leaves have no per-row storage.
		return nil
	case *int64ColumnWriter:
		c.Add(pv.i)
	case *floatColumnWriter:
		c.Add(math.Float64bits(pv.f))
	case *booleanColumnWriter:
		c.Add(pv.b)
	case *varStringColumnWriter:
		id, _, err := w.varDict.AddOccurrence(pv.s)
		if err != nil {
			return err
		}
		w.varIDsInSegment[id] = struct{}{}
		c.Add(id)
	case *dateStringColumnWriter:
		c.Add(int64(pv.patternID), pv.epochMs)
	case *clpStringColumnWriter:
		logtypeID, span, err := w.encodeClpValue(pv.s)
		if err != nil {
			return err
		}
		c.Add(logtypeID, span)
	default:
		return errors.Newf(errors.EInternal, "archive.Writer.appendValue", "unhandled column type %T", col)
	}
	return nil
}

// encodeClpValue runs the variable encoder over s and resolves its parts
// against both dictionaries, returning the logtype id and the encoded
// variable span with dictionary ids inline.
func (w *Writer) encodeClpValue(s string) (uint64, []int64, error) {
	m := w.encoding.EncodeMessage(s)

	logtypeID, _, err := w.logtypeDict.AddOccurrence(m.Logtype)
	if err != nil {
		return 0, nil, err
	}
	w.logtypeIDsInSegment[logtypeID] = struct{}{}

	span := make([]int64, 0, len(m.Vars)+len(m.DictVars))
	varIx, dictIx := 0, 0
	for i := 0; i < len(m.Logtype); i++ {
		switch m.Logtype[i] {
		case logcask.PlaceholderEscape:
			i++
		case logcask.PlaceholderInteger, logcask.PlaceholderFloat:
			span = append(span, m.Vars[varIx])
			varIx++
		case logcask.PlaceholderDictionary:
			id, _, err := w.varDict.AddOccurrence(m.DictVars[dictIx])
			if err != nil {
				return 0, nil, err
			}
			w.varIDsInSegment[id] = struct{}{}
			span = append(span, int64(id))
			dictIx++
		}
	}
	return logtypeID, span, nil
}

// CreateAndOpenFile starts a new unstructured log file. Only one file may be
// open at a time.
func (w *Writer) CreateAndOpenFile(path string, origFileID uuid.UUID, splitIx int64) error {
	const op = "archive.Writer.CreateAndOpenFile"

	if !w.opened {
		return errors.New(errors.ENotInitialized, op, "")
	}
	if w.curFile != nil {
		return errors.New(errors.EAlreadyOpen, op, "a file is already open")
	}
	w.curFile = newFile(uuid.New(), origFileID, path, splitIx)
	return nil
}

// WriteMsg encodes one unstructured log message into the open file.
func (w *Writer) WriteMsg(ts int64, msg string) error {
	const op = "archive.Writer.WriteMsg"

	if w.curFile == nil {
		return errors.New(errors.ENotInitialized, op, "no open file")
	}

	msg, err := w.utf8.Validate(msg)
	if err != nil {
		return err
	}

	logtypeID, span, err := w.encodeClpValue(msg)
	if err != nil {
		return err
	}
	if err := w.curFile.writeEncodedMsg(ts, logtypeID, span, uint64(len(msg))); err != nil {
		return err
	}

	w.observeTimestamp(ts)
	w.totalUncompressed += uint64(len(msg))
	w.metrics.MessagesIngested.Inc()
	w.metrics.BytesIn.Add(float64(len(msg)))
	return nil
}

// CloseFile appends the open file's contents to the current segment and
// seals the segment if it crossed the size threshold.
func (w *Writer) CloseFile() error {
	const op = "archive.Writer.CloseFile"

	if w.curFile == nil {
		return errors.New(errors.ENotInitialized, op, "no open file")
	}

	w.openSize += w.curFile.uncompressedSize()
	if err := w.curFile.appendToSegment(w.openSegmentBuilder()); err != nil {
		return err
	}
	w.filesInSegment = append(w.filesInSegment, w.curFile)
	w.curFile = nil

	if w.openSize >= w.cfg.TargetSegmentUncompressedSize {
		return w.sealSegment()
	}
	return nil
}

func (w *Writer) openSegmentBuilder() *segmentBuilder {
	if w.segment == nil {
		w.segment = newSegmentBuilder(w.nextSegmentID, w.codec)
	}
	return w.segment
}

func (w *Writer) observeTimestamp(ts int64) {
	if ts < w.beginTs {
		w.beginTs = ts
	}
	if ts > w.endTs {
		w.endTs = ts
	}
}

// sealSegment closes all open columns into the current segment, flushes the
// dictionaries, writes the segment file, and only then persists the file and
// archive metadata rows. A segment that never reaches the metadata step is
// invisible to readers.
func (w *Writer) sealSegment() error {
	hasRows := false
	for _, t := range w.tables {
		if t.rows() > 0 {
			hasRows = true
			break
		}
	}
	if !hasRows && len(w.filesInSegment) == 0 && w.segment == nil {
		return nil
	}

	b := w.openSegmentBuilder()

	tables := make([]*schemaTable, 0, len(w.tables))
	for _, t := range w.tables {
		if t.rows() > 0 {
			tables = append(tables, t)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].schema.ID < tables[j].schema.ID })

	for _, t := range tables {
		var bw byteWriter
		bw.int64s(t.eventIdxs)
		for _, c := range t.columns {
			if c != nil {
				c.writeTo(&bw)
			}
		}
		if err := b.appendTable(tableKindSchema, int64(t.schema.ID), uint64(t.rows()), bw.buf.Bytes()); err != nil {
			return err
		}
		t.eventIdxs = t.eventIdxs[:0]
		if err := w.buildColumns(t); err != nil {
			return err
		}
	}

	// Dictionary entries referenced by this segment must be durable before
	// the segment becomes visible.
	w.logtypeDict.IndexSegment(b.id, setToSlice(w.logtypeIDsInSegment))
	w.varDict.IndexSegment(b.id, setToSlice(w.varIDsInSegment))
	if err := w.logtypeDict.Flush(); err != nil {
		return err
	}
	if err := w.varDict.Flush(); err != nil {
		return err
	}

	compressedSize, err := b.seal(filepath.Join(w.path, logcask.SegmentsDirName))
	if err != nil {
		return err
	}
	w.totalCompressed += compressedSize

	for _, f := range w.filesInSegment {
		f.markInSealedSegment()
	}
	if len(w.filesInSegment) > 0 {
		metas := make([]FileMetadata, 0, len(w.filesInSegment))
		for _, f := range w.filesInSegment {
			metas = append(metas, f.metadata())
		}
		if err := w.fileDB.addFiles(metas); err != nil {
			return err
		}
		if err := w.global.AddFiles(w.id.String(), metas); err != nil {
			return err
		}
		for _, f := range w.filesInSegment {
			f.markMetadataClean()
		}
	}

	if err := w.updateMetadata(); err != nil {
		return err
	}

	w.logger.Info("segment sealed",
		zap.Uint32("segment", uint32(b.id)),
		zap.Uint64("compressed_bytes", compressedSize))
	w.metrics.SegmentsSealed.Inc()
	w.metrics.BytesOut.Add(float64(compressedSize))

	w.segment = nil
	w.nextSegmentID++
	w.filesInSegment = w.filesInSegment[:0]
	w.logtypeIDsInSegment = make(map[uint64]struct{})
	w.varIDsInSegment = make(map[uint64]struct{})
	w.openSize = 0
	return nil
}

func (w *Writer) metadata() Metadata {
	var dictSize uint64
	if w.logtypeDict != nil {
		dictSize += w.logtypeDict.OnDiskSize()
	}
	if w.varDict != nil {
		dictSize += w.varDict.OnDiskSize()
	}
	return Metadata{
		Version:          logcask.FormatVersion,
		UncompressedSize: w.totalUncompressed,
		CompressedSize:   w.totalCompressed + dictSize,
		Codec:            w.codec.Name(),
		FourByteEncoding: w.encoding == varenc.FourByte,
	}
}

func (w *Writer) updateMetadata() error {
	m := w.metadata()
	if err := writeMetadataFile(w.metadataFile, m); err != nil {
		return err
	}
	return w.global.UpdateArchiveSize(w.id.String(), m.UncompressedSize, m.CompressedSize)
}

// Close seals any open segment, persists the schema tree, schema map and
// timestamp dictionary, and releases every store. The file should have been
// closed before closing the archive.
func (w *Writer) Close() error {
	const op = "archive.Writer.Close"

	if !w.opened {
		return errors.New(errors.ENotInitialized, op, "")
	}
	if w.curFile != nil {
		return errors.New(errors.EUnsupported, op, "a file is still open")
	}

	var result *multierror.Error

	if err := w.sealSegment(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := w.writeSchemaTreeFile(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.writeTimestampDictFile(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := w.logtypeDict.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.varDict.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	begin, end := w.archiveTimestamps()
	if err := w.global.UpdateArchiveTimestamps(w.id.String(), begin, end); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.updateMetadata(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.metadataFile.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.fileDB.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.global.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	w.opened = false
	w.logger.Info("archive closed",
		zap.String("id", w.id.String()),
		zap.Uint64("uncompressed_bytes", w.totalUncompressed))
	return result.ErrorOrNil()
}

func (w *Writer) archiveTimestamps() (int64, int64) {
	begin, end := w.beginTs, w.endTs
	if b := w.tsDict.BeginTimestamp(); b != 0 && b < begin {
		begin = b
	}
	if e := w.tsDict.EndTimestamp(); e != 0 && e > end {
		end = e
	}
	if begin == math.MaxInt64 {
		begin, end = 0, 0
	}
	return begin, end
}

func (w *Writer) writeSchemaTreeFile() error {
	f, err := os.Create(filepath.Join(w.path, logcask.SchemaTreeFileName))
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, "archive.Writer.writeSchemaTreeFile")
	}
	defer f.Close()
	if err := w.tree.writeTo(f, w.codec, w.allSchemas); err != nil {
		return err
	}
	return f.Sync()
}

func (w *Writer) writeTimestampDictFile() error {
	f, err := os.Create(filepath.Join(w.path, logcask.TimestampDictFileName))
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, "archive.Writer.writeTimestampDictFile")
	}
	defer f.Close()
	if err := w.tsDict.writeTo(f, w.codec); err != nil {
		return err
	}
	return f.Sync()
}

func setToSlice(set map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
