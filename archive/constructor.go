package archive

import (
	"container/heap"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/logcask/logcask/kit/errors"
)

// ChunkDocument describes one finished output chunk of an ordered
// decompression session.
type ChunkDocument struct {
	Path        string
	OrigFileID  string
	BeginMsgIx  int64
	EndMsgIx    int64
	IsLastChunk bool
}

// RecordStore receives the chunk documents of an ordered decompression. A
// store failure is fatal to the session but leaves the archive intact.
type RecordStore interface {
	InsertMany(docs []ChunkDocument) error
}

// SQLiteRecordStore persists chunk documents to a sqlite database.
type SQLiteRecordStore struct {
	Path string
}

// InsertMany writes all documents in one transaction.
func (s *SQLiteRecordStore) InsertMany(docs []ChunkDocument) error {
	const op = "archive.SQLiteRecordStore.InsertMany"

	db, err := sql.Open("sqlite3", s.Path)
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	defer db.Close()

	const schema = `
CREATE TABLE IF NOT EXISTS decompression_chunks (
	path TEXT NOT NULL,
	orig_file_id TEXT NOT NULL,
	begin_msg_ix INTEGER NOT NULL,
	end_msg_ix INTEGER NOT NULL,
	is_last_chunk INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	for _, d := range docs {
		isLast := 0
		if d.IsLastChunk {
			isLast = 1
		}
		if _, err := tx.Exec(`INSERT INTO decompression_chunks
			(path, orig_file_id, begin_msg_ix, end_msg_ix, is_last_chunk) VALUES (?, ?, ?, ?, ?)`,
			d.Path, d.OrigFileID, d.BeginMsgIx, d.EndMsgIx, isLast); err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.EDbBulkWrite, op)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	return nil
}

// ConstructorOption configures a decompression session.
type ConstructorOption struct {
	OutputDir        string
	Ordered          bool
	OrderedChunkSize uint64
	Store            RecordStore
}

// Constructor turns an archive back into JSON lines, either unordered (one
// pass over the tables) or in log-event order via a min-heap over the
// per-schema readers.
type Constructor struct {
	opt    ConstructorOption
	reader *Reader
	logger *zap.Logger
}

// NewConstructor returns a constructor writing into opt.OutputDir.
func NewConstructor(reader *Reader, opt ConstructorOption, log *zap.Logger) (*Constructor, error) {
	const op = "archive.NewConstructor"

	if err := os.MkdirAll(opt.OutputDir, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.EIoErrno, op)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Constructor{opt: opt, reader: reader, logger: log}, nil
}

// Store materializes every record.
func (c *Constructor) Store() error {
	if err := c.reader.ReadDictionariesAndMetadata(); err != nil {
		return err
	}
	if c.opt.Ordered {
		return c.constructInOrder()
	}
	return c.constructUnordered()
}

func (c *Constructor) constructUnordered() error {
	const op = "archive.Constructor.constructUnordered"

	f, err := os.Create(filepath.Join(c.opt.OutputDir, "original"))
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	defer f.Close()

	for _, schemaID := range c.reader.Schemas() {
		sr, err := c.reader.ReadSchemaTable(schemaID, false, true)
		if err != nil {
			return err
		}
		for {
			msg, _, ok, err := sr.NextMessage()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if _, err := f.WriteString(msg); err != nil {
				return errors.Wrap(err, errors.EIoErrno, op)
			}
		}
	}
	return f.Sync()
}

// readerHeap orders schema readers by their next unread log-event index.
type readerHeap []*SchemaReader

func (h readerHeap) Len() int            { return len(h) }
func (h readerHeap) Less(i, j int) bool  { return h[i].NextLogEventIdx() < h[j].NextLogEventIdx() }
func (h readerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readerHeap) Push(x interface{}) { *h = append(*h, x.(*SchemaReader)) }
func (h *readerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// constructInOrder merges every table by log-event index and rolls the
// output over every OrderedChunkSize records. Each finished chunk is renamed
// to <archive>_<begin>_<end>.jsonl with an exclusive end index; every
// record, including the last chunk's final one, ends with a newline.
func (c *Constructor) constructInOrder() error {
	const op = "archive.Constructor.constructInOrder"

	tables, err := c.reader.ReadAllTables(false, true)
	if err != nil {
		return err
	}
	h := make(readerHeap, 0, len(tables))
	for _, t := range tables {
		if !t.Done() {
			h = append(h, t)
		}
	}
	heap.Init(&h)

	archiveID := filepath.Base(c.reader.path)
	srcPath := filepath.Join(c.opt.OutputDir, archiveID)
	out, err := os.Create(srcPath)
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}

	var (
		firstIdx, lastIdx    int64
		numRecordsMarshalled uint64
		docs                 []ChunkDocument
	)

	finalizeChunk := func(openNewWriter bool) error {
		// The end index is exclusive.
		endIdx := lastIdx + 1
		if err := out.Close(); err != nil {
			return errors.Wrap(err, errors.EIoErrno, op)
		}
		newPath := fmt.Sprintf("%s_%d_%d.jsonl", srcPath, firstIdx, endIdx)
		if err := os.Rename(srcPath, newPath); err != nil {
			return errors.Wrap(err, errors.EIoErrno, op)
		}
		docs = append(docs, ChunkDocument{
			Path:        filepath.Base(newPath),
			OrigFileID:  archiveID,
			BeginMsgIx:  firstIdx,
			EndMsgIx:    endIdx,
			IsLastChunk: !openNewWriter,
		})
		if openNewWriter {
			out, err = os.Create(srcPath)
			if err != nil {
				return errors.Wrap(err, errors.EIoErrno, op)
			}
		}
		return nil
	}

	for h.Len() > 0 {
		next := heap.Pop(&h).(*SchemaReader)
		lastIdx = next.NextLogEventIdx()
		if numRecordsMarshalled == 0 {
			firstIdx = lastIdx
		}
		msg, _, ok, err := next.NextMessage()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !next.Done() {
			heap.Push(&h, next)
		}
		if _, err := out.WriteString(msg); err != nil {
			return errors.Wrap(err, errors.EIoErrno, op)
		}
		numRecordsMarshalled++

		if c.opt.OrderedChunkSize != 0 && numRecordsMarshalled >= c.opt.OrderedChunkSize {
			if err := finalizeChunk(true); err != nil {
				return err
			}
			numRecordsMarshalled = 0
		}
	}

	if numRecordsMarshalled > 0 {
		if err := finalizeChunk(false); err != nil {
			return err
		}
	} else {
		out.Close()
		if err := os.Remove(srcPath); err != nil {
			return errors.Wrap(err, errors.EIoErrno, op)
		}
	}

	if c.opt.Store != nil && len(docs) > 0 {
		if err := c.opt.Store.InsertMany(docs); err != nil {
			return errors.Wrap(err, errors.EDbBulkWrite, op)
		}
	}
	c.logger.Info("ordered decompression finished",
		zap.String("archive", archiveID),
		zap.Int("chunks", len(docs)))
	return nil
}
