package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/kit/errors"
)

func testCodec(t *testing.T) Codec {
	t.Helper()
	codec, err := CodecByName(DefaultCodec)
	require.NoError(t, err)
	return codec
}

func TestDictWriter_AddOccurrenceIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDictWriter(filepath.Join(dir, "var.dict"), filepath.Join(dir, "var.segindex"), 100, testCodec(t))
	require.NoError(t, err)

	id1, isNew, err := w.AddOccurrence("bin/python2.7.3")
	require.NoError(t, err)
	assert.True(t, isNew)
	id2, isNew, err := w.AddOccurrence("bin/python2.7.3")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, id1, id2)

	id3, _, err := w.AddOccurrence("usr/bin/ls")
	require.NoError(t, err)
	assert.Equal(t, id1+1, id3)
	require.NoError(t, w.Close())
}

func TestDictWriter_OutOfIDs(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDictWriter(filepath.Join(dir, "var.dict"), filepath.Join(dir, "var.segindex"), 2, testCodec(t))
	require.NoError(t, err)
	defer w.Close()

	_, _, err = w.AddOccurrence("one")
	require.NoError(t, err)
	_, _, err = w.AddOccurrence("two")
	require.NoError(t, err)
	_, _, err = w.AddOccurrence("three")
	require.Error(t, err)
	assert.Equal(t, errors.EOutOfRange, errors.ErrorCode(err))
}

func TestDict_DiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	codec := testCodec(t)
	dictPath := filepath.Join(dir, "var.dict")
	segPath := filepath.Join(dir, "var.segindex")

	w, err := NewDictWriter(dictPath, segPath, 1000, codec)
	require.NoError(t, err)

	values := []string{"bin/python2.7.3", "bin/python3.4.6", "usr/bin/ls"}
	ids := make([]uint64, len(values))
	for i, v := range values {
		ids[i], _, err = w.AddOccurrence(v)
		require.NoError(t, err)
	}
	w.IndexSegment(0, []uint64{ids[0], ids[2]})
	w.IndexSegment(1, []uint64{ids[1]})
	require.NoError(t, w.Close())

	d, err := LoadDict(dictPath, segPath, codec)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Size())

	for i, v := range values {
		got, err := d.Value(ids[i])
		require.NoError(t, err)
		assert.Equal(t, v, got)
		id, ok := d.IDByValue(v)
		require.True(t, ok)
		assert.Equal(t, ids[i], id)
	}

	e0, err := d.EntryByID(ids[0])
	require.NoError(t, err)
	assert.True(t, e0.Segments.Contains(0))
	assert.False(t, e0.Segments.Contains(1))
	e1, err := d.EntryByID(ids[1])
	require.NoError(t, err)
	assert.True(t, e1.Segments.Contains(1))

	_, err = d.EntryByID(999)
	require.Error(t, err)
	assert.Equal(t, errors.EOutOfRange, errors.ErrorCode(err))
}

func TestDict_Preload(t *testing.T) {
	dir := t.TempDir()
	codec := testCodec(t)
	dictPath := filepath.Join(dir, "var.dict")
	segPath := filepath.Join(dir, "var.segindex")

	w, err := NewDictWriter(dictPath, segPath, 1000, codec)
	require.NoError(t, err)
	first, _, err := w.AddOccurrence("alpha")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Reopening preloads existing entries so ids stay stable.
	w2, err := NewDictWriter(dictPath, segPath, 1000, codec)
	require.NoError(t, err)
	again, isNew, err := w2.AddOccurrence("alpha")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first, again)
	second, _, err := w2.AddOccurrence("beta")
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
	require.NoError(t, w2.Close())

	d, err := LoadDict(dictPath, segPath, codec)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Size())
}

func TestDict_EntriesMatchingWildcard(t *testing.T) {
	dir := t.TempDir()
	codec := testCodec(t)
	dictPath := filepath.Join(dir, "var.dict")
	segPath := filepath.Join(dir, "var.segindex")

	w, err := NewDictWriter(dictPath, segPath, 1000, codec)
	require.NoError(t, err)
	for _, v := range []string{"bin/python2.7.3", "bin/python3.4.6", "usr/bin/ls"} {
		_, _, err = w.AddOccurrence(v)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	d, err := LoadDict(dictPath, segPath, codec)
	require.NoError(t, err)

	matches := d.EntriesMatchingWildcard("bin/python?.*", false)
	require.Len(t, matches, 2)
	assert.Equal(t, "bin/python2.7.3", matches[0].Value)
	assert.Equal(t, "bin/python3.4.6", matches[1].Value)

	assert.Empty(t, d.EntriesMatchingWildcard("BIN/PYTHON?.*", false))
	assert.Len(t, d.EntriesMatchingWildcard("BIN/PYTHON?.*", true), 2)

	entry := d.EntryMatchingValue("USR/BIN/LS", true)
	require.NotNil(t, entry)
	assert.Equal(t, "usr/bin/ls", entry.Value)
	assert.Nil(t, d.EntryMatchingValue("USR/BIN/LS", false))
}

func TestLoadDict_CorruptedHeader(t *testing.T) {
	dir := t.TempDir()
	dictPath := filepath.Join(dir, "var.dict")
	// A header promising more data than the file holds is malformed.
	require.NoError(t, os.WriteFile(dictPath, []byte{
		9, 0, 0, 0, 0, 0, 0, 0,
		0xFF, 0xFF, 0, 0, 0, 0, 0, 0,
	}, 0o644))

	_, err := LoadDict(dictPath, filepath.Join(dir, "var.segindex"), testCodec(t))
	require.Error(t, err)
	assert.Equal(t, errors.ECorruptedArchive, errors.ErrorCode(err))
}

func TestLoadDict_Missing(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadDict(filepath.Join(dir, "nope.dict"), filepath.Join(dir, "nope.segindex"), testCodec(t))
	require.Error(t, err)
	assert.Equal(t, errors.EFileNotFound, errors.ErrorCode(err))
}
