package wildcard_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/logcask/logcask/pkg/wildcard"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		tame string
		wild string
		want bool
	}{
		{"", "*", true},
		{"abc", "*", true},
		{"abc", "abc", true},
		{"abc", "a?c", true},
		{"abc", "a?d", false},
		{"abc", "ab", false},
		{"abc", "abcd", false},
		{"abcbcd", "a*bcd", true},
		{"abcbcbcd", "a*bc*d", true},
		{"mississippi", "*sip*", true},
		{"mississippi", "m*issip*", true},
		{"mississippi", "mississippi*", true},
		{"xyxyxyzyxyz", "x*yz", true},
		{"ab", "a*b*c", false},
		{"bin/python2.7.3", "bin/python?.*", true},
		{"usr/bin/ls", "bin/python?.*", false},
		{"a*b", `a\*b`, true},
		{"axb", `a\*b`, false},
		{"a?b", `a\?b`, true},
		{"axb", `a\?b`, false},
		{`a\b`, `a\\b`, true},
		// A dangling escape acts as a literal backslash.
		{`a\`, `a\`, true},
	}

	for _, tc := range cases {
		t.Run(tc.tame+"~"+tc.wild, func(t *testing.T) {
			assert.Equal(t, tc.want, wildcard.Match(tc.tame, tc.wild))
		})
	}
}

func TestMatchIgnoreCase(t *testing.T) {
	assert.True(t, wildcard.MatchIgnoreCase("ERROR: disk full", "error:*"))
	assert.False(t, wildcard.Match("ERROR: disk full", "error:*"))

	// Case-insensitive matching must agree with lowercasing both sides.
	tames := []string{"Foo123Bar", "BIN/Python2.7.3", "hello"}
	wilds := []string{"foo*bar", "bin/*?.?.?", "HELLO"}
	for _, tame := range tames {
		for _, wild := range wilds {
			want := wildcard.Match(strings.ToLower(tame), strings.ToLower(wild))
			assert.Equal(t, want, wildcard.MatchIgnoreCase(tame, wild),
				"tame=%q wild=%q", tame, wild)
		}
	}
}

func TestClean(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"**", "*"},
		{"a***b", "a*b"},
		{`a\bc`, "abc"},
		{`a\*c`, `a\*c`},
		{`a\\c`, `a\\c`},
		{`abc\`, "abc"},
		{"*?*", "*?*"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, wildcard.Clean(tc.in), "in=%q", tc.in)
	}
}
