package ir_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/ir"
	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/varenc"
)

func testMetadata() ir.Metadata {
	return ir.Metadata{
		TimestampPattern:       "yyyy-MM-dd HH:mm:ss,SSS",
		TimestampPatternSyntax: "java::SimpleDateFormat",
		TimeZoneID:             "America/Toronto",
	}
}

func roundTrip(t *testing.T, enc varenc.Encoding, meta ir.Metadata, events []ir.LogEvent) []ir.LogEvent {
	t.Helper()

	var buf bytes.Buffer
	w, err := ir.NewWriter(&buf, enc, meta)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, w.WriteMessage(ev.Timestamp, ev.Message))
	}
	require.NoError(t, w.Close())

	r, err := ir.NewReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, enc, r.Encoding())

	var got []ir.LogEvent
	for {
		ev, err := r.ReadMessage()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	return got
}

func TestRoundTrip_EightByte(t *testing.T) {
	events := []ir.LogEvent{
		{Timestamp: 1675113600000, Message: " INFO container started with id 4938"},
		{Timestamp: 1675113600123, Message: " WARN latency 12.5 ms on shard 7"},
		{Timestamp: 1675113601000, Message: " ERROR open bin/python2.7.3 failed"},
	}
	got := roundTrip(t, varenc.EightByte, testMetadata(), events)
	assert.Equal(t, events, got)
}

func TestRoundTrip_FourByte(t *testing.T) {
	meta := testMetadata()
	meta.ReferenceTimestamp = 1675113600000

	events := []ir.LogEvent{
		{Timestamp: 1675113600005, Message: "first message 1"},
		{Timestamp: 1675113600004, Message: "out of order 2"},
		{Timestamp: 1675117200000, Message: "an hour later 3"},
	}
	got := roundTrip(t, varenc.FourByte, meta, events)
	assert.Equal(t, events, got)
}

func TestRoundTrip_FourByteNegativeDelta(t *testing.T) {
	meta := testMetadata()
	meta.ReferenceTimestamp = 10_000_000

	events := []ir.LogEvent{{Timestamp: 9_999_995, Message: "five ms before the reference"}}
	got := roundTrip(t, varenc.FourByte, meta, events)

	require.Len(t, got, 1)
	assert.Equal(t, int64(9_999_995), got[0].Timestamp)
	assert.Equal(t, "five ms before the reference", got[0].Message)
}

func TestRoundTrip_LongDictVar(t *testing.T) {
	// Forces the two-byte dictionary variable length variant.
	long := "x1" + strings.Repeat("y", 300)
	events := []ir.LogEvent{{Timestamp: 1, Message: "payload " + long + " end"}}
	got := roundTrip(t, varenc.EightByte, testMetadata(), events)
	assert.Equal(t, events, got)
}

func TestReader_Metadata(t *testing.T) {
	var buf bytes.Buffer
	meta := testMetadata()
	w, err := ir.NewWriter(&buf, varenc.EightByte, meta)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := ir.NewReader(&buf)
	require.NoError(t, err)
	got := r.Metadata()
	assert.Equal(t, ir.Version, got.Version)
	assert.Equal(t, meta.TimestampPattern, got.TimestampPattern)
	assert.Equal(t, meta.TimeZoneID, got.TimeZoneID)
}

func TestReader_BadMagic(t *testing.T) {
	_, err := ir.NewReader(bytes.NewReader([]byte{0x02, 0x43, 0x24, 0x34}))
	require.Error(t, err)
	assert.Equal(t, errors.ECorruptedIR, errors.ErrorCode(err))
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	w, err := ir.NewWriter(&buf, varenc.EightByte, testMetadata())
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage(42, "message 1 here"))
	// No Close: the stream ends without the end-of-stream tag.

	// Drop the last byte as well so the final message is cut short.
	data := buf.Bytes()[:buf.Len()-1]

	r, err := ir.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, errors.ETruncated, errors.ErrorCode(err))
}

func TestReader_UnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	w, err := ir.NewWriter(&buf, varenc.EightByte, testMetadata())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data := bytes.Replace(buf.Bytes(), []byte(ir.Version), []byte("9.9.9"), 1)
	_, err = ir.NewReader(bytes.NewReader(data))
	require.Error(t, err)
	assert.Equal(t, errors.EUnsupportedVersion, errors.ErrorCode(err))
}

func TestWriter_RejectsUnknownVersion(t *testing.T) {
	meta := testMetadata()
	meta.Version = "0.9.9"
	_, err := ir.NewWriter(io.Discard, varenc.EightByte, meta)
	require.Error(t, err)
	assert.Equal(t, errors.EUnsupportedVersion, errors.ErrorCode(err))
}
