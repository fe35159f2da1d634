// Package utf8filter validates message text at the environment boundary. It
// takes valid or nearly-valid UTF-8 and outputs valid UTF-8, handling invalid
// sequences according to a configurable policy.
package utf8filter

import (
	"strings"
	"unicode/utf8"

	"github.com/logcask/logcask/kit/errors"
)

// Policy selects how invalid UTF-8 sequences are handled.
type Policy int

const (
	// SubstituteReplacementCharacter replaces each invalid byte with U+FFFD.
	SubstituteReplacementCharacter Policy = iota

	// ReturnError fails the filter with an IllegalByteSequence error.
	ReturnError
)

// Filter validates UTF-8 input according to a policy. The zero value
// substitutes the replacement character.
type Filter struct {
	policy Policy
}

// New returns a filter with the given policy.
func New(policy Policy) *Filter {
	return &Filter{policy: policy}
}

// Validate returns s if it is valid UTF-8. Otherwise the behavior depends on
// the policy: substitution returns a copy with every invalid byte replaced by
// U+FFFD, and ReturnError fails with IllegalByteSequence.
func (f *Filter) Validate(s string) (string, error) {
	if utf8.ValidString(s) {
		return s, nil
	}
	if f.policy == ReturnError {
		return "", errors.New(errors.EIllegalByteSequence, "utf8filter.Validate", "invalid utf-8 sequence")
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String(), nil
}
