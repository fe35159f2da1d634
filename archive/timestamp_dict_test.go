package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampDict_IngestString(t *testing.T) {
	d := NewTimestampDict()

	epoch, patternID, ok := d.IngestString("timestamp", 3, "2023-01-30T21:00:00.000Z")
	require.True(t, ok)
	assert.Equal(t, int64(1675112400000), epoch)

	// The same format reuses the pattern.
	_, patternID2, ok := d.IngestString("timestamp", 3, "2023-01-30T22:30:00.000Z")
	require.True(t, ok)
	assert.Equal(t, patternID, patternID2)

	_, _, ok = d.IngestString("timestamp", 3, "not a timestamp")
	assert.False(t, ok)

	rendered, err := d.Render(patternID, epoch)
	require.NoError(t, err)
	assert.Equal(t, "2023-01-30T21:00:00.000Z", rendered)

	assert.True(t, d.TimestampColumn(3))
	assert.False(t, d.TimestampColumn(4))
}

func TestTimestampDict_Ranges(t *testing.T) {
	d := NewTimestampDict()
	d.IngestInt("timestamp", 1, 500)
	d.IngestInt("timestamp", 1, 100)
	d.IngestInt("timestamp", 2, 900)

	assert.Equal(t, int64(100), d.BeginTimestamp())
	assert.Equal(t, int64(900), d.EndTimestamp())

	// Per-column ranges merge by key name on write.
	merged := d.Ranges()
	require.Len(t, merged, 1)
	entry := merged["timestamp"]
	assert.Equal(t, int64(100), entry.Begin)
	assert.Equal(t, int64(900), entry.End)
	assert.Len(t, entry.ColumnIDs, 2)
}

func TestTimestampDict_DiskRoundTrip(t *testing.T) {
	codec := testCodec(t)
	d := NewTimestampDict()
	epoch, patternID, ok := d.IngestString("ts", 7, "2023-01-30 21:00:00")
	require.True(t, ok)
	d.IngestInt("other", 9, 12345)

	var buf bytes.Buffer
	require.NoError(t, d.writeTo(&buf, codec))

	got, err := readTimestampDict(&buf, codec)
	require.NoError(t, err)
	assert.True(t, got.TimestampColumn(7))
	assert.True(t, got.TimestampColumn(9))

	rendered, err := got.Render(patternID, epoch)
	require.NoError(t, err)
	assert.Equal(t, "2023-01-30 21:00:00", rendered)
}
