package query_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/archive"
	"github.com/logcask/logcask/query"
)

// buildTestArchive compresses a fixed set of unstructured messages and
// returns a reader over the sealed archive.
func buildTestArchive(t *testing.T) *archive.Reader {
	t.Helper()

	cfg := archive.NewConfig()
	cfg.OutputDir = t.TempDir()
	w, err := archive.NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Open())

	messages := []struct {
		ts  int64
		msg string
	}{
		{1000, " INFO opened bin/python2.7.3 with pid 4938"},
		{2000, " INFO opened bin/python3.4.6 with pid 4939"},
		{3000, " WARN listing usr/bin/ls took 12.5 ms"},
		{4000, " ERROR job failed with code -17"},
	}
	require.NoError(t, w.CreateAndOpenFile("/var/log/app.log", uuid.New(), 0))
	for _, m := range messages {
		require.NoError(t, w.WriteMsg(m.ts, m.msg))
	}
	require.NoError(t, w.CloseFile())
	path := w.Path()
	require.NoError(t, w.Close())

	reader, err := archive.OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })
	require.NoError(t, reader.ReadDictionariesAndMetadata())
	return reader
}

func search(t *testing.T, reader *archive.Reader, expression string, beginTs, endTs int64, ignoreCase bool) []string {
	t.Helper()

	q, mayMatch, err := query.ProcessRawQuery(reader, expression, beginTs, endTs, ignoreCase, nil)
	require.NoError(t, err)
	if !mayMatch {
		return nil
	}

	var buf bytes.Buffer
	handler := query.NewStreamingHandler(&buf, false)
	executor := query.NewExecutor(reader, q, nil)
	_, err = executor.Search(handler)
	require.NoError(t, err)

	out := strings.TrimRight(buf.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestSearch_MatchAll(t *testing.T) {
	reader := buildTestArchive(t)
	results := search(t, reader, "*", query.EpochTimeMin, query.EpochTimeMax, false)
	assert.Len(t, results, 4)
}

func TestSearch_DictionaryWildcard(t *testing.T) {
	reader := buildTestArchive(t)

	results := search(t, reader, "*bin/python?.*", query.EpochTimeMin, query.EpochTimeMax, false)
	require.Len(t, results, 2)
	assert.Contains(t, results[0], "bin/python2.7.3")
	assert.Contains(t, results[1], "bin/python3.4.6")

	// The message with "usr/bin/ls" in its static text must not match.
	for _, r := range results {
		assert.NotContains(t, r, "usr/bin/ls")
	}
}

func TestSearch_ExactVariable(t *testing.T) {
	reader := buildTestArchive(t)

	results := search(t, reader, "*pid 4938*", query.EpochTimeMin, query.EpochTimeMax, false)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "bin/python2.7.3")

	// A value absent from every dictionary and column prunes to nothing.
	results = search(t, reader, "*pid 999777*", query.EpochTimeMin, query.EpochTimeMax, false)
	assert.Empty(t, results)
}

func TestSearch_NegativeIntAndFloat(t *testing.T) {
	reader := buildTestArchive(t)

	results := search(t, reader, "*code -17*", query.EpochTimeMin, query.EpochTimeMax, false)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "job failed")

	results = search(t, reader, "*took 12.5 ms*", query.EpochTimeMin, query.EpochTimeMax, false)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "usr/bin/ls")
}

func TestSearch_MissingStaticText(t *testing.T) {
	reader := buildTestArchive(t)
	results := search(t, reader, "*no such text anywhere*", query.EpochTimeMin, query.EpochTimeMax, false)
	assert.Empty(t, results)
}

func TestSearch_IgnoreCase(t *testing.T) {
	reader := buildTestArchive(t)

	results := search(t, reader, "*BIN/PYTHON?.*", query.EpochTimeMin, query.EpochTimeMax, false)
	assert.Empty(t, results)

	results = search(t, reader, "*BIN/PYTHON?.*", query.EpochTimeMin, query.EpochTimeMax, true)
	assert.Len(t, results, 2)
}

func TestSearch_TimeRange(t *testing.T) {
	reader := buildTestArchive(t)

	results := search(t, reader, "*", 1500, 3500, false)
	require.Len(t, results, 2)
	assert.Contains(t, results[0], "bin/python3.4.6")
	assert.Contains(t, results[1], "usr/bin/ls")
}

func TestSearch_MiddleWildcardForcesResidualMatch(t *testing.T) {
	reader := buildTestArchive(t)

	q, mayMatch, err := query.ProcessRawQuery(reader, "opened*4938", query.EpochTimeMin, query.EpochTimeMax, false, nil)
	require.NoError(t, err)
	require.True(t, mayMatch)
	for _, sub := range q.SubQueries() {
		assert.True(t, sub.WildcardMatchRequired())
	}

	results := search(t, reader, "opened*4938", query.EpochTimeMin, query.EpochTimeMax, false)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "bin/python2.7.3")
}

func TestSearch_CountAggregation(t *testing.T) {
	reader := buildTestArchive(t)

	q, mayMatch, err := query.ProcessRawQuery(reader, "*opened*", query.EpochTimeMin, query.EpochTimeMax, false, nil)
	require.NoError(t, err)
	require.True(t, mayMatch)

	handler := query.NewCountAggregationHandler()
	executor := query.NewExecutor(reader, q, nil)
	n, err := executor.Search(handler)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, uint64(2), handler.Counts()["/var/log/app.log"])
}

func TestSearch_Cancellation(t *testing.T) {
	reader := buildTestArchive(t)

	q, _, err := query.ProcessRawQuery(reader, "*", query.EpochTimeMin, query.EpochTimeMax, false, nil)
	require.NoError(t, err)

	executor := query.NewExecutor(reader, q, nil)
	executor.Cancel()
	n, err := executor.Search(query.NewCountAggregationHandler())
	require.NoError(t, err)
	assert.Zero(t, n)
}
