package varenc_test

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logcask/logcask/varenc"
)

func TestIsDelim(t *testing.T) {
	nonDelims := "+-./0123456789ABCXYZ\\_abcxyz"
	for i := 0; i < len(nonDelims); i++ {
		assert.False(t, varenc.IsDelim(nonDelims[i]), "%q", nonDelims[i])
	}
	delims := " \t\n=:,!;%()[]{}\"'<>\x11\x12\x13"
	for i := 0; i < len(delims); i++ {
		assert.True(t, varenc.IsDelim(delims[i]), "%q", delims[i])
	}
}

func TestNextVarBounds(t *testing.T) {
	msg := "level=error opening bin/python2.7.3 took 10.5 ms, code 0xBEEF"

	var tokens []string
	begin, end := 0, 0
	for {
		var found bool
		begin, end, found = varenc.NextVarBounds(msg, begin, end)
		if !found {
			break
		}
		tokens = append(tokens, msg[begin:end])
	}

	// "error" is a variable because it follows '='; "0xBEEF" contains a
	// digit; "ms" and the static words are not variables.
	assert.Equal(t, []string{"error", "bin/python2.7.3", "10.5", "0xBEEF"}, tokens)
}

func TestCouldBeMultiDigitHexValue(t *testing.T) {
	assert.True(t, varenc.CouldBeMultiDigitHexValue("deadBEEF"))
	assert.True(t, varenc.CouldBeMultiDigitHexValue("ff"))
	assert.False(t, varenc.CouldBeMultiDigitHexValue("f"))
	assert.False(t, varenc.CouldBeMultiDigitHexValue("fg"))
}

func TestEncodeInt(t *testing.T) {
	cases := []struct {
		in  string
		enc varenc.Encoding
		ok  bool
	}{
		{"0", varenc.EightByte, true},
		{"-1", varenc.EightByte, true},
		{"4938", varenc.EightByte, true},
		{strconv.FormatInt(math.MaxInt64, 10), varenc.EightByte, true},
		{strconv.FormatInt(math.MinInt64, 10), varenc.EightByte, true},
		{strconv.FormatInt(math.MaxInt64, 10) + "0", varenc.EightByte, false},
		{"007", varenc.EightByte, false},
		{"+5", varenc.EightByte, false},
		{"-0", varenc.EightByte, false},
		{"", varenc.EightByte, false},
		{"1.5", varenc.EightByte, false},
		{strconv.FormatInt(math.MaxInt32, 10), varenc.FourByte, true},
		{strconv.FormatInt(math.MaxInt32+1, 10), varenc.FourByte, false},
		{strconv.FormatInt(math.MaxInt64, 10), varenc.FourByte, false},
	}

	for _, tc := range cases {
		v, ok := tc.enc.EncodeInt(tc.in)
		require.Equal(t, tc.ok, ok, "in=%q enc=%v", tc.in, tc.enc)
		if ok {
			assert.Equal(t, tc.in, varenc.DecodeInt(v), "in=%q", tc.in)
		}
	}
}

func TestEncodeFloat_RoundTrip(t *testing.T) {
	values := []string{
		"0.1", "-0.1", "1.0", "-25.5196868642755", "-00.00",
		".5", "5.", "-.5", "0.00000001", "123456789.0123456",
	}
	for _, s := range values {
		v, ok := varenc.EightByte.EncodeFloat(s)
		require.True(t, ok, "s=%q", s)
		assert.Equal(t, s, varenc.EightByte.DecodeFloat(v), "s=%q", s)
	}
}

func TestEncodeFloat_Rejects(t *testing.T) {
	for _, s := range []string{"", ".", "-.", "1", "-1", "1.2.3", "1e5", "a.b", "12345678901234567.0"} {
		_, ok := varenc.EightByte.EncodeFloat(s)
		assert.False(t, ok, "s=%q", s)
	}
}

func TestEncodeFloat_FourByte(t *testing.T) {
	// Short forms fit the four-byte layout and round-trip.
	for _, s := range []string{"0.1", "-0.1", "1234.5678", "-00.00", ".5"} {
		v, ok := varenc.FourByte.EncodeFloat(s)
		require.True(t, ok, "s=%q", s)
		assert.Equal(t, s, varenc.FourByte.DecodeFloat(v), "s=%q", s)
	}

	// Needs more digits than the four-byte layout supports: demotes in
	// four-byte mode, still encodes in eight-byte mode.
	wide := "-25.5196868642755"
	_, ok := varenc.FourByte.EncodeFloat(wide)
	assert.False(t, ok)
	_, ok = varenc.EightByte.EncodeFloat(wide)
	assert.True(t, ok)

	// A trailing decimal point has position zero, which the four-byte
	// layout cannot represent.
	_, ok = varenc.FourByte.EncodeFloat("5.")
	assert.False(t, ok)
}

func TestEncodeMessage_Mixed(t *testing.T) {
	message := "here is a string with a small int 4938 and a medium int 2147483647" +
		" and a very large int 9223372036854775807 and a small double 0.1" +
		" and a weird double -25.5196868642755" +
		" and a string with numbers bin/python2.7.3" +
		" and an escape \\ and an int placeholder \x11"

	m := varenc.EightByte.EncodeMessage(message)

	wantLogtype := "here is a string with a small int \x11 and a medium int \x11" +
		" and a very large int \x11 and a small double \x13" +
		" and a weird double \x13" +
		" and a string with numbers \x12" +
		" and an escape \x5c\x5c and an int placeholder \x5c\x11"
	assert.Equal(t, wantLogtype, m.Logtype)

	require.Len(t, m.Vars, 5)
	assert.Equal(t, int64(4938), m.Vars[0])
	assert.Equal(t, int64(2147483647), m.Vars[1])
	assert.Equal(t, int64(math.MaxInt64), m.Vars[2])
	assert.Equal(t, "0.1", varenc.EightByte.DecodeFloat(m.Vars[3]))
	assert.Equal(t, "-25.5196868642755", varenc.EightByte.DecodeFloat(m.Vars[4]))
	assert.Equal(t, []string{"bin/python2.7.3"}, m.DictVars)

	decoded, err := varenc.EightByte.DecodeMessage(m.Logtype, m.Vars, m.DictVars)
	require.NoError(t, err)
	assert.Equal(t, message, decoded)
}

func TestEncodeMessage_PlaceholderCountsMatchVars(t *testing.T) {
	messages := []string{
		"connection from 10.0.0.1:8080 refused",
		"job=backup finished in 12.5s with 3 retries",
		"checksum deadbeef for file_7 ok",
		"no variables here at all",
	}
	for _, msg := range messages {
		m := varenc.EightByte.EncodeMessage(msg)
		ints, floats, dicts := varenc.PlaceholderCounts(m.Logtype)
		assert.Equal(t, len(m.Vars), ints+floats, "msg=%q", msg)
		assert.Equal(t, len(m.DictVars), dicts, "msg=%q", msg)
	}
}

func TestEncodeMessage_EscapeProtocol(t *testing.T) {
	// Mix every placeholder byte into static text; the escape protocol must
	// round-trip each combination byte-for-byte.
	specials := []string{"\x11", "\x12", "\x13", "\x5c"}
	for _, a := range specials {
		for _, b := range specials {
			msg := "prefix " + a + " mid 42 " + b + " suffix"
			m := varenc.EightByte.EncodeMessage(msg)
			decoded, err := varenc.EightByte.DecodeMessage(m.Logtype, m.Vars, m.DictVars)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded, "a=%x b=%x", a, b)
		}
	}
}

func TestEncodeMessage_FourByteDemotions(t *testing.T) {
	msg := "big 9223372036854775807 and wide -25.5196868642755 here"
	m := varenc.FourByte.EncodeMessage(msg)

	// Both variables demote to the dictionary in four-byte mode.
	assert.Empty(t, m.Vars)
	assert.Equal(t, []string{"9223372036854775807", "-25.5196868642755"}, m.DictVars)

	decoded, err := varenc.FourByte.DecodeMessage(m.Logtype, m.Vars, m.DictVars)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDecodeMessage_Corrupted(t *testing.T) {
	_, err := varenc.EightByte.DecodeMessage("\x11", nil, nil)
	assert.Error(t, err)
	_, err = varenc.EightByte.DecodeMessage("no placeholders", []int64{1}, nil)
	assert.Error(t, err)
	_, err = varenc.EightByte.DecodeMessage("\x5c", nil, nil)
	assert.Error(t, err)
}
