package query

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/logcask/logcask/archive"
	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/pkg/wildcard"
)

// ResultHandler receives matches. A handler failure is terminal for the
// search session.
type ResultHandler interface {
	AddResult(origPath string, message string, timestampMs int64) error
	CanSkipFile(meta archive.FileMetadata) bool
	Flush() error
}

// Executor runs a planned query over one archive's unstructured files,
// confirming candidates against the encoded form before decoding anything.
type Executor struct {
	reader *archive.Reader
	query  *Query
	logger *zap.Logger

	cancelled atomic.Bool
	metrics   *executorMetrics
}

// NewExecutor returns an executor for the query over the reader's archive.
func NewExecutor(reader *archive.Reader, q *Query, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		reader:  reader,
		query:   q,
		logger:  log,
		metrics: newExecutorMetrics(),
	}
}

// Metrics returns the executor's prometheus collectors.
func (e *Executor) Metrics() *executorMetrics { return e.metrics }

// Cancel requests cooperative cancellation; the executor checks the flag
// between messages and between files.
func (e *Executor) Cancel() { e.cancelled.Store(true) }

// Search iterates candidate files and messages, emitting every match to the
// handler. Per-file open failures are logged and skipped; a handler failure
// ends the session.
func (e *Executor) Search(handler ResultHandler) (uint64, error) {
	const op = "query.Executor.Search"

	if err := e.reader.ReadDictionariesAndMetadata(); err != nil {
		return 0, err
	}

	var numMatches uint64
	for _, meta := range e.reader.Files() {
		if e.cancelled.Load() {
			break
		}
		if !e.fileInTimeRange(meta) {
			continue
		}
		if handler.CanSkipFile(meta) {
			continue
		}

		subQueries := e.query.SubQueries()
		if e.query.ContainsSubQueries() {
			subQueries = e.query.RelevantSubQueries(meta.SegmentID)
			if len(subQueries) == 0 {
				continue
			}
		}

		table, err := e.reader.OpenFileTable(meta)
		if err != nil {
			// A single unreadable file doesn't end the search.
			e.logger.Warn("skipping unreadable file",
				zap.String("path", meta.Path),
				zap.Error(err))
			continue
		}

		n, err := e.searchFile(meta, table, subQueries, handler)
		numMatches += n
		if err != nil {
			return numMatches, err
		}
	}

	if err := handler.Flush(); err != nil {
		return numMatches, errors.Wrap(err, errors.EDbBulkWrite, op)
	}
	return numMatches, nil
}

func (e *Executor) searchFile(meta archive.FileMetadata, table *archive.FileTable, subQueries []*SubQuery, handler ResultHandler) (uint64, error) {
	var numMatches uint64
	for ix := 0; ix < table.NumMessages(); ix++ {
		if e.cancelled.Load() {
			break
		}
		msg := table.Message(ix)
		e.metrics.MessagesScanned.Inc()

		if !e.query.TimestampIsInSearchRange(msg.Timestamp) {
			continue
		}

		matching := e.matchingSubQuery(msg, subQueries)
		if e.query.ContainsSubQueries() && matching == nil {
			continue
		}

		// Confirm by decoding when a wildcard-residual match is required, or
		// when no subqueries exist and the search string isn't match-all.
		needDecode := (matching != nil && matching.WildcardMatchRequired()) ||
			(!e.query.ContainsSubQueries() && !e.query.SearchStringMatchesAll())
		decoded, err := e.reader.DecodeMessage(msg)
		if err != nil {
			return numMatches, err
		}
		if needDecode && !e.residualMatch(decoded) {
			continue
		}

		if err := handler.AddResult(meta.Path, decoded, msg.Timestamp); err != nil {
			return numMatches, errors.Wrap(err, errors.EDbBulkWrite, "query.Executor.searchFile")
		}
		numMatches++
		e.metrics.Matches.Inc()
	}
	return numMatches, nil
}

func (e *Executor) matchingSubQuery(msg archive.Message, subQueries []*SubQuery) *SubQuery {
	for _, s := range subQueries {
		if s.MatchesLogtype(msg.LogtypeID) && s.MatchesVars(msg.Vars) {
			return s
		}
	}
	return nil
}

func (e *Executor) residualMatch(decoded string) bool {
	if e.query.IgnoreCase {
		return wildcard.MatchIgnoreCase(decoded, e.query.SearchString)
	}
	return wildcard.Match(decoded, e.query.SearchString)
}

func (e *Executor) fileInTimeRange(meta archive.FileMetadata) bool {
	if meta.NumMessages == 0 {
		return false
	}
	return meta.BeginTs <= e.query.EndTimestamp && meta.EndTs >= e.query.BeginTimestamp
}
