package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/kit/errors"
)

func TestSegment_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	codec := testCodec(t)

	b := newSegmentBuilder(3, codec)
	require.NoError(t, b.appendTable(tableKindSchema, 0, 10, []byte("schema zero columns")))
	require.NoError(t, b.appendTable(tableKindFile, 1, 4, []byte("file one columns")))
	require.False(t, b.empty())

	compressed, err := b.seal(dir)
	require.NoError(t, err)
	assert.Greater(t, compressed, uint64(0))

	seg, err := openSegment(dir, 3, codec)
	require.NoError(t, err)
	defer seg.Close()

	require.Len(t, seg.toc, 2)
	assert.Equal(t, tableKindSchema, seg.toc[0].Kind)
	assert.Equal(t, uint64(10), seg.toc[0].NumMessages)
	assert.Equal(t, tableKindFile, seg.toc[1].Kind)

	data, err := seg.readTable(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("schema zero columns"), data)
	data, err = seg.readTable(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("file one columns"), data)

	_, err = seg.readTable(5)
	require.Error(t, err)
	assert.Equal(t, errors.EOutOfRange, errors.ErrorCode(err))
}

func TestSegment_SealTwiceFails(t *testing.T) {
	dir := t.TempDir()
	codec := testCodec(t)

	b := newSegmentBuilder(0, codec)
	require.NoError(t, b.appendTable(tableKindSchema, 0, 1, []byte("x")))
	_, err := b.seal(dir)
	require.NoError(t, err)

	// Segments are immutable: the file must not be overwritten.
	_, err = b.seal(dir)
	require.Error(t, err)
	assert.Equal(t, errors.EAlreadyOpen, errors.ErrorCode(err))
}

func TestOpenSegment_BadMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "7"), make([]byte, 32), 0o644))

	_, err := openSegment(dir, 7, testCodec(t))
	require.Error(t, err)
	assert.Equal(t, errors.ECorruptedArchive, errors.ErrorCode(err))
}

func TestOpenSegment_Missing(t *testing.T) {
	_, err := openSegment(t.TempDir(), 1, testCodec(t))
	require.Error(t, err)
	assert.Equal(t, errors.EFileNotFound, errors.ErrorCode(err))
}
