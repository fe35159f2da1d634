package query

import (
	"bufio"
	"database/sql"
	"fmt"
	"io"

	// Registers the sqlite3 driver used by the batched cache handler.
	_ "github.com/mattn/go-sqlite3"

	"github.com/logcask/logcask/archive"
	"github.com/logcask/logcask/kit/errors"
)

// StreamingHandler writes matches to a stream as they arrive.
type StreamingHandler struct {
	w          *bufio.Writer
	showPath   bool
	numResults uint64
}

// NewStreamingHandler returns a handler writing to w, optionally prefixing
// each match with its original file path.
func NewStreamingHandler(w io.Writer, showPath bool) *StreamingHandler {
	return &StreamingHandler{w: bufio.NewWriter(w), showPath: showPath}
}

func (h *StreamingHandler) AddResult(origPath, message string, _ int64) error {
	const op = "query.StreamingHandler.AddResult"

	if h.showPath {
		if _, err := h.w.WriteString(origPath + ": "); err != nil {
			return errors.Wrap(err, errors.EIoErrno, op)
		}
	}
	if _, err := h.w.WriteString(message); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	if err := h.w.WriteByte('\n'); err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	h.numResults++
	return nil
}

func (h *StreamingHandler) CanSkipFile(archive.FileMetadata) bool { return false }

func (h *StreamingHandler) Flush() error {
	if err := h.w.Flush(); err != nil {
		return errors.Wrap(err, errors.EIoErrno, "query.StreamingHandler.Flush")
	}
	return nil
}

// NumResults returns the number of matches written.
func (h *StreamingHandler) NumResults() uint64 { return h.numResults }

// CountAggregationHandler reduces matches to per-file counts instead of
// emitting message text.
type CountAggregationHandler struct {
	counts map[string]uint64
}

// NewCountAggregationHandler returns an empty aggregation.
func NewCountAggregationHandler() *CountAggregationHandler {
	return &CountAggregationHandler{counts: make(map[string]uint64)}
}

func (h *CountAggregationHandler) AddResult(origPath, _ string, _ int64) error {
	h.counts[origPath]++
	return nil
}

func (h *CountAggregationHandler) CanSkipFile(archive.FileMetadata) bool { return false }

func (h *CountAggregationHandler) Flush() error { return nil }

// Counts returns the per-file match counts.
func (h *CountAggregationHandler) Counts() map[string]uint64 { return h.counts }

// CacheHandler batches matches into a sqlite results cache.
type CacheHandler struct {
	path      string
	batchSize int
	pending   []cachedResult
}

type cachedResult struct {
	path    string
	message string
	ts      int64
}

// NewCacheHandler returns a handler writing result rows to the sqlite
// database at path, flushing every batchSize results.
func NewCacheHandler(path string, batchSize int) *CacheHandler {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &CacheHandler{path: path, batchSize: batchSize}
}

func (h *CacheHandler) AddResult(origPath, message string, ts int64) error {
	h.pending = append(h.pending, cachedResult{path: origPath, message: message, ts: ts})
	if len(h.pending) >= h.batchSize {
		return h.Flush()
	}
	return nil
}

func (h *CacheHandler) CanSkipFile(archive.FileMetadata) bool { return false }

func (h *CacheHandler) Flush() error {
	const op = "query.CacheHandler.Flush"

	if len(h.pending) == 0 {
		return nil
	}
	db, err := sql.Open("sqlite3", h.path)
	if err != nil {
		return errors.Wrap(err, errors.EIoErrno, op)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS results (
		path TEXT NOT NULL, message TEXT NOT NULL, timestamp_ms INTEGER NOT NULL)`); err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	for _, r := range h.pending {
		if _, err := tx.Exec(`INSERT INTO results (path, message, timestamp_ms) VALUES (?, ?, ?)`,
			r.path, r.message, r.ts); err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.EDbBulkWrite, op)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	h.pending = h.pending[:0]
	return nil
}

var _ ResultHandler = (*StreamingHandler)(nil)
var _ ResultHandler = (*CountAggregationHandler)(nil)
var _ ResultHandler = (*CacheHandler)(nil)

// String renders per-file counts for CLI display.
func (h *CountAggregationHandler) String() string {
	out := ""
	for path, n := range h.counts {
		out += fmt.Sprintf("%s: %d\n", path, n)
	}
	return out
}
