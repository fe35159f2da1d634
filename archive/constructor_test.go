package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingRecordStore struct {
	docs []ChunkDocument
}

func (s *capturingRecordStore) InsertMany(docs []ChunkDocument) error {
	s.docs = append(s.docs, docs...)
	return nil
}

func TestConstructor_OrderedChunking(t *testing.T) {
	w := newTestWriter(t, nil)
	const numRecords = 5000
	for i := 0; i < numRecords; i++ {
		record := fmt.Sprintf(`{"seq":%d,"msg":"event number %d"}`, i, i)
		require.NoError(t, w.IngestRecord([]byte(record)))
	}
	path := w.Path()
	archiveID := filepath.Base(path)
	require.NoError(t, w.Close())

	reader, err := OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()

	outDir := t.TempDir()
	store := &capturingRecordStore{}
	c, err := NewConstructor(reader, ConstructorOption{
		OutputDir:        outDir,
		Ordered:          true,
		OrderedChunkSize: 2000,
		Store:            store,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Store())

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		archiveID + "_0_2000.jsonl",
		archiveID + "_2000_4000.jsonl",
		archiveID + "_4000_5000.jsonl",
	}, names)

	require.Len(t, store.docs, 3)
	assert.False(t, store.docs[0].IsLastChunk)
	assert.False(t, store.docs[1].IsLastChunk)
	assert.True(t, store.docs[2].IsLastChunk)
	assert.Equal(t, int64(0), store.docs[0].BeginMsgIx)
	assert.Equal(t, int64(2000), store.docs[0].EndMsgIx)
	assert.Equal(t, int64(4000), store.docs[2].BeginMsgIx)
	assert.Equal(t, int64(5000), store.docs[2].EndMsgIx)

	// Records come back in log-event order, every one newline-terminated.
	data, err := os.ReadFile(filepath.Join(outDir, names[0]))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(data), "\n"))
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2000)
	assert.JSONEq(t, `{"seq":0,"msg":"event number 0"}`, lines[0])
	assert.JSONEq(t, `{"seq":1999,"msg":"event number 1999"}`, lines[1999])

	// The last chunk keeps its trailing newline too.
	data, err = os.ReadFile(filepath.Join(outDir, names[2]))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestConstructor_OrderedInterleavesSchemas(t *testing.T) {
	w := newTestWriter(t, nil)
	// Alternate between two schemas so ordered output must merge tables.
	for i := 0; i < 10; i++ {
		var record string
		if i%2 == 0 {
			record = fmt.Sprintf(`{"seq":%d,"a":true}`, i)
		} else {
			record = fmt.Sprintf(`{"seq":%d,"b":"x"}`, i)
		}
		require.NoError(t, w.IngestRecord([]byte(record)))
	}
	path := w.Path()
	require.NoError(t, w.Close())

	lines := decompressOrdered(t, path)
	require.Len(t, lines, 10)
	for i, line := range lines {
		assert.Contains(t, line, fmt.Sprintf(`"seq":%d`, i))
	}
}

func TestConstructor_Unordered(t *testing.T) {
	w := newTestWriter(t, nil)
	require.NoError(t, w.IngestRecord([]byte(`{"a":1}`)))
	require.NoError(t, w.IngestRecord([]byte(`{"b":2}`)))
	path := w.Path()
	require.NoError(t, w.Close())

	reader, err := OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()

	outDir := t.TempDir()
	c, err := NewConstructor(reader, ConstructorOption{OutputDir: outDir}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Store())

	data, err := os.ReadFile(filepath.Join(outDir, "original"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
}
