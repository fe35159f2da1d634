package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask"
	"github.com/logcask/logcask/kit/errors"
)

func newTestWriter(t *testing.T, mutate func(*Config)) *Writer {
	t.Helper()
	cfg := NewConfig()
	cfg.OutputDir = t.TempDir()
	cfg.TimestampKey = "ts"
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Open())
	return w
}

// decompressOrdered round-trips the archive through the ordered constructor
// and returns the output lines.
func decompressOrdered(t *testing.T, archiveDir string) []string {
	t.Helper()
	reader, err := OpenReader(archiveDir)
	require.NoError(t, err)
	defer reader.Close()

	outDir := t.TempDir()
	c, err := NewConstructor(reader, ConstructorOption{OutputDir: outDir, Ordered: true}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Store())

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	return lines
}

func TestWriterReader_JSONRoundTrip(t *testing.T) {
	records := []string{
		`{"ts":"2023-01-30T21:00:00.000Z","level":"INFO","msg":"job 42 finished in 12.5 ms","pid":4938}`,
		`{"ts":"2023-01-30T21:00:01.000Z","level":"WARN","msg":"retrying shard 7","meta":{"attempt":2,"backoff":0.5}}`,
		`{"ts":"2023-01-30T21:00:02.000Z","level":"INFO","msg":"job 43 finished in 9.1 ms","pid":4938}`,
		`{"level":"ERROR","failed":true,"err":null,"ctx":{}}`,
		`{"tags":["a","b",1],"level":"DEBUG"}`,
	}

	w := newTestWriter(t, nil)
	for _, r := range records {
		require.NoError(t, w.IngestRecord([]byte(r)))
	}
	path := w.Path()
	require.NoError(t, w.Close())

	lines := decompressOrdered(t, path)
	require.Len(t, lines, len(records))
	for i, r := range records {
		assert.JSONEq(t, r, lines[i], "record %d", i)
	}
}

func TestWriterReader_StructurizedArrays(t *testing.T) {
	records := []string{
		`{"name":"run1","tags":[{"key":"env","value":"prod"},{"key":"zone","value":"us-1"}]}`,
		`{"name":"run2","tags":[1,2.5,"three",null,true]}`,
		`{"name":"run3","tags":[]}`,
		`{"name":"run4","tags":[{"nested":{"deep":9}},[1,2]]}`,
	}

	w := newTestWriter(t, func(cfg *Config) { cfg.StructurizeArrays = true })
	for _, r := range records {
		require.NoError(t, w.IngestRecord([]byte(r)))
	}
	path := w.Path()
	require.NoError(t, w.Close())

	lines := decompressOrdered(t, path)
	require.Len(t, lines, len(records))
	for i, r := range records {
		assert.JSONEq(t, r, lines[i], "record %d", i)
	}
}

func TestWriterReader_SchemaGrouping(t *testing.T) {
	w := newTestWriter(t, nil)
	// Two records with the same signature share column storage; the third
	// has its own schema.
	require.NoError(t, w.IngestRecord([]byte(`{"a":1,"b":"x"}`)))
	require.NoError(t, w.IngestRecord([]byte(`{"a":2,"b":"y"}`)))
	require.NoError(t, w.IngestRecord([]byte(`{"a":3}`)))
	path := w.Path()
	require.NoError(t, w.Close())

	reader, err := OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.ReadDictionariesAndMetadata())

	require.Len(t, reader.Schemas(), 2)
	sr, err := reader.ReadSchemaTable(reader.Schemas()[0], false, true)
	require.NoError(t, err)
	assert.Equal(t, 2, sr.NumMessages())
}

func TestWriter_SmallSegments(t *testing.T) {
	w := newTestWriter(t, func(cfg *Config) { cfg.TargetSegmentUncompressedSize = 1 })
	records := []string{
		`{"a":1}`,
		`{"a":2}`,
		`{"a":3}`,
	}
	for _, r := range records {
		require.NoError(t, w.IngestRecord([]byte(r)))
	}
	path := w.Path()
	require.NoError(t, w.Close())

	reader, err := OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.ReadDictionariesAndMetadata())
	assert.Len(t, reader.Segments(), 3)

	lines := decompressOrdered(t, path)
	require.Len(t, lines, 3)
	for i, r := range records {
		assert.JSONEq(t, r, lines[i])
	}
}

func TestWriter_ExclusiveDirectoryOwnership(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	cfg := NewConfig()
	cfg.OutputDir = dir
	w1, err := NewWriter(cfg, WithArchiveID(id))
	require.NoError(t, err)
	require.NoError(t, w1.Open())
	defer w1.Close()

	w2, err := NewWriter(cfg, WithArchiveID(id))
	require.NoError(t, err)
	err = w2.Open()
	require.Error(t, err)
	assert.Equal(t, errors.EAlreadyOpen, errors.ErrorCode(err))
}

func TestWriter_NotOpened(t *testing.T) {
	cfg := NewConfig()
	cfg.OutputDir = t.TempDir()
	w, err := NewWriter(cfg)
	require.NoError(t, err)

	err = w.IngestRecord([]byte(`{"a":1}`))
	require.Error(t, err)
	assert.Equal(t, errors.ENotInitialized, errors.ErrorCode(err))
}

func TestWriter_DuplicateKeyRejected(t *testing.T) {
	w := newTestWriter(t, nil)
	defer w.Close()

	err := w.IngestRecord([]byte(`{"a":1,"a":2}`))
	require.Error(t, err)
	assert.Equal(t, errors.EProtocolNotSupported, errors.ErrorCode(err))
}

func TestReader_UnsupportedVersion(t *testing.T) {
	w := newTestWriter(t, nil)
	require.NoError(t, w.IngestRecord([]byte(`{"a":1}`)))
	path := w.Path()
	require.NoError(t, w.Close())

	metaPath := filepath.Join(path, logcask.MetadataFileName)
	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	data[0] = 99
	require.NoError(t, os.WriteFile(metaPath, data, 0o644))

	_, err = OpenReader(path)
	require.Error(t, err)
	assert.Equal(t, errors.EUnsupportedVersion, errors.ErrorCode(err))
}

func TestWriter_UnstructuredFileLifecycle(t *testing.T) {
	w := newTestWriter(t, nil)

	require.NoError(t, w.CreateAndOpenFile("/var/log/app.log", uuid.New(), 0))

	// Only one file may be open at a time.
	err := w.CreateAndOpenFile("/var/log/other.log", uuid.New(), 0)
	require.Error(t, err)
	assert.Equal(t, errors.EAlreadyOpen, errors.ErrorCode(err))

	require.NoError(t, w.WriteMsg(1000, " INFO started worker 1"))
	require.NoError(t, w.WriteMsg(2000, " INFO started worker 2"))

	// The archive cannot close with an open file.
	err = w.Close()
	require.Error(t, err)
	assert.Equal(t, errors.EUnsupported, errors.ErrorCode(err))

	require.NoError(t, w.CloseFile())
	path := w.Path()
	require.NoError(t, w.Close())

	reader, err := OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.ReadDictionariesAndMetadata())

	files := reader.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "/var/log/app.log", files[0].Path)
	assert.Equal(t, uint64(2), files[0].NumMessages)
	assert.Equal(t, int64(1000), files[0].BeginTs)
	assert.Equal(t, int64(2000), files[0].EndTs)

	table, err := reader.OpenFileTable(files[0])
	require.NoError(t, err)
	require.Equal(t, 2, table.NumMessages())

	msg := table.Message(0)
	decoded, err := reader.DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, " INFO started worker 1", decoded)
}

func TestFile_WriteAfterAppendFails(t *testing.T) {
	f := newFile(uuid.New(), uuid.New(), "a.log", 0)
	require.NoError(t, f.writeEncodedMsg(1, 1, []int64{7}, 10))

	codec := testCodec(t)
	b := newSegmentBuilder(0, codec)
	require.NoError(t, f.appendToSegment(b))

	err := f.writeEncodedMsg(2, 1, nil, 5)
	require.Error(t, err)
	assert.Equal(t, errors.EUnsupported, errors.ErrorCode(err))

	err = f.appendToSegment(b)
	require.Error(t, err)
	assert.Equal(t, errors.EUnsupported, errors.ErrorCode(err))
}
